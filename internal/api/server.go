// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/selection"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/uploads"
	"github.com/fruitsalade/projectfiles/internal/vfs"
)

// UserHeader carries the uploader identity. Authentication happens in front
// of this service.
const UserHeader = "X-User"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    int               `json:"code"`
	Details map[string]string `json:"details,omitempty"`
	// RequestID is set on server errors so a client can quote it.
	RequestID string `json:"request_id,omitempty"`
}

// Server is the HTTP server.
type Server struct {
	vfs         *vfs.Service
	backend     storage.Backend
	uploads     *uploads.Manager
	selections  *selection.Registry
	broadcaster *events.Broadcaster

	maxUploadSize int64
	corsOrigins   []string
}

// Deps bundles what the handlers need.
type Deps struct {
	VFS           *vfs.Service
	Backend       storage.Backend
	Uploads       *uploads.Manager
	Selections    *selection.Registry
	Broadcaster   *events.Broadcaster
	MaxUploadSize int64
	CORSOrigins   []string
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	return &Server{
		vfs:           d.VFS,
		backend:       d.Backend,
		uploads:       d.Uploads,
		selections:    d.Selections,
		broadcaster:   d.Broadcaster,
		maxUploadSize: d.MaxUploadSize,
		corsOrigins:   d.CORSOrigins,
	}
}

// Handler returns the HTTP handler wrapped in CORS, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Tree
	mux.HandleFunc("GET /api/v1/projects/{project}/tree", s.handleTree)
	mux.HandleFunc("GET /api/v1/projects/{project}/tree/{path...}", s.handleTree)
	mux.HandleFunc("GET /api/v1/projects/{project}/expand/{path...}", s.handleExpand)

	// Folders
	mux.HandleFunc("POST /api/v1/projects/{project}/folders", s.handleCreateFolder)
	mux.HandleFunc("POST /api/v1/projects/{project}/folders/rename", s.handleRenameFolder)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/folders/{path...}", s.handleDeleteFolder)
	mux.HandleFunc("POST /api/v1/projects/{project}/move", s.handleMove)

	// Files
	mux.HandleFunc("GET /api/v1/projects/{project}/files/{id}", s.handleGetFile)
	mux.HandleFunc("PATCH /api/v1/projects/{project}/files/{id}", s.handleRenameFile)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/files/{id}", s.handleDeleteFile)
	mux.HandleFunc("GET /api/v1/projects/{project}/files/{id}/content", s.handleContent)

	// Selections
	mux.HandleFunc("POST /api/v1/projects/{project}/selections", s.handleCreateSelection)
	mux.HandleFunc("GET /api/v1/projects/{project}/selections/{sid}", s.handleGetSelection)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/selections/{sid}", s.handleDropSelection)
	mux.HandleFunc("POST /api/v1/projects/{project}/selections/{sid}/move", s.handleMoveSelection)
	mux.HandleFunc("PUT /api/v1/projects/{project}/selections/{sid}/folders/{path...}", s.handleSelectFolder)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/selections/{sid}/folders/{path...}", s.handleDeselectFolder)
	mux.HandleFunc("PUT /api/v1/projects/{project}/selections/{sid}/files/{id}", s.handleSelectFile)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/selections/{sid}/files/{id}", s.handleDeselectFile)

	// Uploads
	mux.HandleFunc("POST /api/v1/projects/{project}/uploads", s.handleUpload)
	mux.HandleFunc("POST /api/v1/projects/{project}/uploads/target", s.handleUploadTarget)
	mux.HandleFunc("POST /api/v1/projects/{project}/uploads/complete", s.handleUploadComplete)
	mux.HandleFunc("GET /api/v1/uploads", s.handleListUploads)
	mux.HandleFunc("DELETE /api/v1/uploads/{id}", s.handleCancelUpload)

	// Metrics sits innermost so it sees the matched route pattern.
	var handler http.Handler = metrics.Middleware(mux)
	handler = actorMiddleware(handler)
	handler = logging.Middleware(handler)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Range", UserHeader, logging.RequestIDHeader, "Last-Event-ID"},
		ExposedHeaders:   []string{"Content-Range", logging.RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(handler)
}

// actorMiddleware attaches the uploader identity to the request context.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
			r = r.WithContext(vfs.WithActor(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"storage": s.backend.Type(),
	})
}

// handleEvents streams change events. ?project= narrows the stream to one
// project.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe(r.URL.Query().Get("project"))
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// decode reads a JSON body into v and runs its validation rules.
func decode(r *http.Request, v validation.Validatable) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &vfs.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return v.Validate()
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, ErrorResponse{Error: message, Code: code})
}

// sendErr maps err to a status code and writes it.
func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs   validation.Errors
		httpErr vfs.HTTPError
		tooBig  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verrs):
		details := make(map[string]string, len(verrs))
		for field, fe := range verrs {
			details[field] = fe.Error()
		}
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Code:    http.StatusBadRequest,
			Details: details,
		})
		return
	case errors.As(err, &tooBig):
		s.sendError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
		return
	case errors.Is(err, selection.ErrUnknownHandle):
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, uploads.ErrCancelled):
		s.sendError(w, http.StatusConflict, err.Error())
		return
	case errors.As(err, &httpErr):
		code := httpErr.StatusCode()
		if code >= http.StatusInternalServerError {
			s.sendServerError(w, r, code, err.Error(), err)
			return
		}
		s.sendError(w, code, err.Error())
		return
	}
	s.sendServerError(w, r, http.StatusInternalServerError, "internal error", err)
}

func (s *Server) sendServerError(w http.ResponseWriter, r *http.Request, code int, message string, err error) {
	logging.WithContext(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path), zap.Error(err))
	s.sendJSON(w, code, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: logging.RequestID(r.Context()),
	})
}

// batchStatus is 200 when every item succeeded and 207 otherwise.
func batchStatus(r vfs.BatchResult) int {
	if len(r.Failed) > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}
