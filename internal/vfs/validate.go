package vfs

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fruitsalade/projectfiles/internal/models"
)

// MaxNameLength bounds a single path segment.
const MaxNameLength = 255

var errReservedName = errors.New("name is reserved")

// nameRules apply to every user-supplied folder or file name.
var nameRules = []validation.Rule{
	validation.Required.Error("name must not be empty"),
	validation.Length(1, MaxNameLength),
	validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if strings.ContainsAny(s, `/\`) {
			return errors.New("name must not contain a path separator")
		}
		switch s {
		case ".", "..", models.SentinelName:
			return errReservedName
		}
		return nil
	}),
}

func validateProject(projectID string) error {
	if err := validation.Validate(projectID, validation.Required.Error("project id is required")); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// ValidateName checks a new folder or file name. Surrounding whitespace is
// trimmed first, matching how paths are normalized.
func ValidateName(projectID, name string) (string, error) {
	if err := validateProject(projectID); err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, nameRules...); err != nil {
		return "", &ValidationError{Message: err.Error()}
	}
	return name, nil
}
