package api

import (
	"io"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fruitsalade/projectfiles/internal/uploads"
)

type completeUploadRequest struct {
	StorageKey string `json:"storage_key"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
}

func (r *completeUploadRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.StorageKey, validation.Required),
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Size, validation.Min(int64(0))),
	)
}

// ─── Upload ─────────────────────────────────────────────────────────────────

// handleUpload stores the raw request body as ?name= inside ?path=.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var body io.Reader = r.Body
	if s.maxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}

	rec, err := s.uploads.Upload(r.Context(), uploads.Request{
		ProjectID:  r.PathValue("project"),
		FolderPath: q.Get("path"),
		Name:       q.Get("name"),
		MimeType:   r.Header.Get("Content-Type"),
		Size:       r.ContentLength,
		Body:       body,
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUploadTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.uploads.Target(r.Context(), r.PathValue("project"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, target)
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req completeUploadRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}
	rec, err := s.uploads.Complete(r.Context(), uploads.CompleteRequest{
		ProjectID:  r.PathValue("project"),
		StorageKey: req.StorageKey,
		FolderPath: req.Path,
		Name:       req.Name,
		MimeType:   req.MimeType,
		Size:       req.Size,
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.uploads.List())
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	if !s.uploads.Cancel(r.PathValue("id")) {
		s.sendError(w, http.StatusNotFound, "no upload in flight with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
