// Package selection tracks a live multi-select over the virtual hierarchy.
//
// Only file IDs and explicitly selected folder paths are stored. A folder's
// checkbox state is always derived from its descendants, so deselecting one
// file demotes every selected ancestor without extra bookkeeping.
package selection

import (
	"sort"

	"github.com/fruitsalade/projectfiles/internal/index"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// State is the derived checkbox state of a folder.
type State string

const (
	Unchecked     State = "unchecked"
	Indeterminate State = "indeterminate"
	Checked       State = "checked"
)

// ExpandFolder returns the IDs of every non-deleted, non-sentinel file below
// path.
func ExpandFolder(path string, records []models.FileRecord) []string {
	desc := index.Descendants(path, records)
	ids := make([]string, 0, len(desc))
	for _, f := range desc {
		ids = append(ids, f.ID)
	}
	return ids
}

// Selection holds the selected file IDs and folder paths of one session.
// It is not safe for concurrent use; Registry serializes access.
type Selection struct {
	files   map[string]struct{}
	folders map[string]struct{}
}

// New returns an empty selection.
func New() *Selection {
	return &Selection{
		files:   make(map[string]struct{}),
		folders: make(map[string]struct{}),
	}
}

// SelectFolder selects path, every file below it and every empty subfolder
// below it, so those show as checked along with their parent.
func (s *Selection) SelectFolder(path string, records []models.FileRecord) {
	path = vpath.Normalize(path)
	s.folders[path] = struct{}{}
	for _, id := range ExpandFolder(path, records) {
		s.files[id] = struct{}{}
	}
	for _, f := range records {
		if f.IsSentinel() && !f.IsDeleted && vpath.IsDescendant(f.VirtualPath, path) {
			s.folders[vpath.Parent(f.VirtualPath)] = struct{}{}
		}
	}
}

// DeselectFolder clears path, every folder below it, every file below it and
// every selected ancestor folder.
func (s *Selection) DeselectFolder(path string, records []models.FileRecord) {
	path = vpath.Normalize(path)
	for p := range s.folders {
		if vpath.Within(p, path) || vpath.IsDescendant(path, p) {
			delete(s.folders, p)
		}
	}
	for _, id := range ExpandFolder(path, records) {
		delete(s.files, id)
	}
}

// SelectFile selects a single file.
func (s *Selection) SelectFile(id string) {
	s.files[id] = struct{}{}
}

// DeselectFile clears one file and drops any selected folder that contains
// it, since that folder is no longer selected as a whole.
func (s *Selection) DeselectFile(rec models.FileRecord) {
	delete(s.files, rec.ID)
	p := vpath.Normalize(rec.VirtualPath)
	for folder := range s.folders {
		if vpath.IsDescendant(p, folder) {
			delete(s.folders, folder)
		}
	}
}

// IsFileSelected reports whether id is selected.
func (s *Selection) IsFileSelected(id string) bool {
	_, ok := s.files[id]
	return ok
}

// FolderState derives the checkbox state of path from its descendants.
// An empty folder is checked only when it was selected explicitly.
func (s *Selection) FolderState(path string, records []models.FileRecord) State {
	path = vpath.Normalize(path)
	ids := ExpandFolder(path, records)
	if len(ids) == 0 {
		if _, ok := s.folders[path]; ok {
			return Checked
		}
		return Unchecked
	}

	selected := 0
	for _, id := range ids {
		if s.IsFileSelected(id) {
			selected++
		}
	}
	switch {
	case selected == 0:
		return Unchecked
	case selected == len(ids):
		return Checked
	default:
		return Indeterminate
	}
}

// FileIDs returns the selected file IDs in sorted order.
func (s *Selection) FileIDs() []string {
	return sortedKeys(s.files)
}

// FolderPaths returns the explicitly selected folders whose state is still
// checked, in sorted order. Folders nested in another selected folder are
// omitted so a bulk move does not process them twice.
func (s *Selection) FolderPaths(records []models.FileRecord) []string {
	var out []string
	for _, p := range sortedKeys(s.folders) {
		if s.FolderState(p, records) != Checked {
			continue
		}
		nested := false
		for _, other := range out {
			if vpath.IsDescendant(p, other) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, p)
		}
	}
	return out
}

// Clear drops everything.
func (s *Selection) Clear() {
	s.files = make(map[string]struct{})
	s.folders = make(map[string]struct{})
}

// Len returns the number of selected files.
func (s *Selection) Len() int {
	return len(s.files)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
