package vfs

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is an error that maps to an HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinels for errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrStorage       = errors.New("storage failure")
)

type (
	// ValidationError rejects input before any store is touched.
	ValidationError struct {
		Message string
	}

	// AlreadyExistsError reports a folder or name that is already taken.
	AlreadyExistsError struct {
		Path string
	}

	// NotFoundError reports a stale reference, usually an item removed by
	// another session.
	NotFoundError struct {
		What string
	}

	// StorageError wraps an object-store or metadata-store failure.
	StorageError struct {
		Op  string
		Err error
	}
)

func (e *ValidationError) Error() string    { return e.Message }
func (e *AlreadyExistsError) Error() string { return fmt.Sprintf("%s already exists", e.Path) }
func (e *NotFoundError) Error() string      { return fmt.Sprintf("%s not found", e.What) }
func (e *StorageError) Error() string       { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *ValidationError) StatusCode() int    { return http.StatusBadRequest }
func (e *AlreadyExistsError) StatusCode() int { return http.StatusConflict }
func (e *NotFoundError) StatusCode() int      { return http.StatusNotFound }
func (e *StorageError) StatusCode() int       { return http.StatusBadGateway }

func (e *ValidationError) Is(target error) bool    { return target == ErrValidation }
func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }
func (e *NotFoundError) Is(target error) bool      { return target == ErrNotFound }
func (e *StorageError) Is(target error) bool       { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// ItemFailure is one record a batch operation could not process.
type ItemFailure struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// BatchResult is the outcome of a cascading operation. Failures are data,
// not an error: the loop keeps going past them.
type BatchResult struct {
	Succeeded int           `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
}

func (r *BatchResult) ok() {
	r.Succeeded++
}

func (r *BatchResult) fail(item string, err error) {
	r.Failed = append(r.Failed, ItemFailure{Item: item, Reason: err.Error()})
}

// Partial reports whether some but not all items failed.
func (r BatchResult) Partial() bool {
	return r.Succeeded > 0 && len(r.Failed) > 0
}
