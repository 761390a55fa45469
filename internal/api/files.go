package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

type renameFileRequest struct {
	Name string `json:"name"`
}

func (r *renameFileRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
	)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.vfs.GetFile(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req renameFileRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}
	rec, err := s.vfs.RenameFile(r.Context(), r.PathValue("project"), r.PathValue("id"), req.Name)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.vfs.DeleteFile(r.Context(), r.PathValue("project"), r.PathValue("id")); err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.vfs.GetFile(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	offset, length, hasRange := parseRangeHeader(r.Header.Get("Range"), rec.Size)

	reader, n, err := s.backend.GetObject(r.Context(), rec.StorageKey, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.sendError(w, http.StatusNotFound, "object missing for file "+rec.ID)
			return
		}
		s.sendErr(w, r, err)
		return
	}
	defer reader.Close()

	ct := rec.MimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": vpath.Base(rec.VirtualPath),
	}))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(n, 10))

	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, rec.Size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.Copy(w, reader); err != nil {
		logging.Warn("content transfer error", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// parseRangeHeader handles a single "bytes=start-end" range. Length 0 means
// the rest of the object.
func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" || totalSize <= 0 {
		return 0, 0, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, 0, false
	}

	startStr, endStr := matches[1], matches[2]

	if startStr == "" && endStr != "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		return offset, totalSize - offset, true
	}

	if startStr != "" {
		offset, _ = strconv.ParseInt(startStr, 10, 64)
	}
	if offset >= totalSize {
		offset = totalSize - 1
	}

	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}
	if length <= 0 || offset+length > totalSize {
		length = totalSize - offset
	}

	return offset, length, true
}
