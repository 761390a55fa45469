package api

import (
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fruitsalade/projectfiles/internal/vfs"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

type createFolderRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func (r *createFolderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
	)
}

type renameFolderRequest struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

func (r *renameFolderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.NewName, validation.Required),
	)
}

type moveRequest struct {
	FileIDs     []string `json:"file_ids"`
	FolderPaths []string `json:"folder_paths"`
	Destination string   `json:"destination"`
}

// Validate checks the item lists. An empty destination is the root.
func (r *moveRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.FileIDs, validation.Each(validation.Required)),
		validation.Field(&r.FolderPaths, validation.Each(validation.Required)),
	)
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	listing, err := s.vfs.ListDirectory(r.Context(), r.PathValue("project"), r.PathValue("path"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, listing)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	ids, err := s.vfs.ExpandFolderSelection(r.Context(), r.PathValue("project"), path)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"path":     vpath.Normalize(path),
		"file_ids": ids,
	})
}

// ─── Folders ────────────────────────────────────────────────────────────────

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}
	if err := s.vfs.CreateFolder(r.Context(), r.PathValue("project"), req.Path, req.Name); err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{
		"path": vpath.Join(vpath.Normalize(req.Path), strings.TrimSpace(req.Name)),
	})
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req renameFolderRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}
	result, err := s.vfs.RenameFolder(r.Context(), r.PathValue("project"), req.Path, req.NewName)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, batchStatus(result), result)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	result, err := s.vfs.DeleteFolder(r.Context(), r.PathValue("project"), r.PathValue("path"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, batchStatus(result), result)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}
	result, err := s.vfs.MoveEntries(r.Context(), r.PathValue("project"), vfs.MoveRequest{
		FileIDs:     req.FileIDs,
		FolderPaths: req.FolderPaths,
		Destination: req.Destination,
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, batchStatus(result), result)
}
