package api

import (
	"net/http"

	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/selection"
	"github.com/fruitsalade/projectfiles/internal/vfs"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// selectionView is the client-facing state of one selection session.
type selectionView struct {
	ID          string          `json:"id"`
	FileIDs     []string        `json:"file_ids"`
	FolderPaths []string        `json:"folder_paths"`
	Count       int             `json:"count"`
	Path        string          `json:"path,omitempty"`
	State       selection.State `json:"state,omitempty"`
}

type moveSelectionRequest struct {
	Destination string `json:"destination"`
}

// Validate accepts any destination; "", "/" and "__root__" all name the
// root and anything else must resolve to an existing folder.
func (r *moveSelectionRequest) Validate() error {
	return nil
}

// view snapshots sel. statePath, when set, also reports that folder's
// checkbox state.
func view(id string, sel *selection.Selection, records []models.FileRecord, statePath string) selectionView {
	v := selectionView{
		ID:          id,
		FileIDs:     sel.FileIDs(),
		FolderPaths: sel.FolderPaths(records),
		Count:       sel.Len(),
	}
	if v.FolderPaths == nil {
		v.FolderPaths = []string{}
	}
	if statePath != "" {
		v.Path = vpath.Normalize(statePath)
		v.State = sel.FolderState(statePath, records)
	}
	return v
}

// updateSelection runs fn on the selection and answers with its new state.
func (s *Server) updateSelection(w http.ResponseWriter, r *http.Request, statePath string, fn func(*selection.Selection, []models.FileRecord)) {
	project, sid := r.PathValue("project"), r.PathValue("sid")
	records, err := s.vfs.Records(r.Context(), project, "")
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	var out selectionView
	err = s.selections.With(sid, project, func(sel *selection.Selection) {
		if fn != nil {
			fn(sel, records)
		}
		out = view(sid, sel, records, statePath)
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSelection(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if project == "" {
		s.sendError(w, http.StatusBadRequest, "project id is required")
		return
	}
	id := s.selections.Create(project)
	s.sendJSON(w, http.StatusCreated, selectionView{
		ID:          id,
		FileIDs:     []string{},
		FolderPaths: []string{},
	})
}

// handleGetSelection returns the selection. ?path= adds the checkbox state of
// that folder.
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	s.updateSelection(w, r, r.URL.Query().Get("path"), nil)
}

func (s *Server) handleDropSelection(w http.ResponseWriter, r *http.Request) {
	s.selections.Drop(r.PathValue("sid"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectFolder(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	s.updateSelection(w, r, path, func(sel *selection.Selection, records []models.FileRecord) {
		sel.SelectFolder(path, records)
	})
}

func (s *Server) handleDeselectFolder(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	s.updateSelection(w, r, path, func(sel *selection.Selection, records []models.FileRecord) {
		sel.DeselectFolder(path, records)
	})
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.vfs.GetFile(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if rec.IsSentinel() {
		s.sendErr(w, r, &vfs.ValidationError{Message: "folder placeholders cannot be selected"})
		return
	}
	s.updateSelection(w, r, "", func(sel *selection.Selection, _ []models.FileRecord) {
		sel.SelectFile(rec.ID)
	})
}

// handleDeselectFile also accepts IDs of files that no longer exist, so a
// client can clear stale entries.
func (s *Server) handleDeselectFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.vfs.GetFile(r.Context(), r.PathValue("project"), id)
	if err != nil {
		if !vfs.IsNotFound(err) {
			s.sendErr(w, r, err)
			return
		}
		rec = &models.FileRecord{ID: id}
	}
	s.updateSelection(w, r, "", func(sel *selection.Selection, _ []models.FileRecord) {
		sel.DeselectFile(*rec)
	})
}

// handleMoveSelection moves everything selected to a destination. The
// selection is cleared when every item moved.
func (s *Server) handleMoveSelection(w http.ResponseWriter, r *http.Request) {
	var req moveSelectionRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}
	project, sid := r.PathValue("project"), r.PathValue("sid")

	records, err := s.vfs.Records(r.Context(), project, "")
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	var move vfs.MoveRequest
	err = s.selections.With(sid, project, func(sel *selection.Selection) {
		move = vfs.MoveRequest{
			FileIDs:     sel.FileIDs(),
			FolderPaths: sel.FolderPaths(records),
			Destination: req.Destination,
		}
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	result, err := s.vfs.MoveEntries(r.Context(), project, move)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if len(result.Failed) == 0 {
		s.selections.With(sid, project, func(sel *selection.Selection) { sel.Clear() })
	}
	s.sendJSON(w, batchStatus(result), result)
}
