package vfs

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// RootDestination names the project root as a move destination.
const RootDestination = "__root__"

// MoveRequest selects the entries of one bulk move.
type MoveRequest struct {
	FileIDs     []string `json:"file_ids"`
	FolderPaths []string `json:"folder_paths"`
	Destination string   `json:"destination"`
}

// normalizeDestination maps the root aliases to "".
func normalizeDestination(dest string) string {
	if dest == RootDestination {
		return ""
	}
	return vpath.Normalize(dest)
}

// foldersWithin returns the folder records at or below dir, deepest first.
func foldersWithin(all []models.FolderRecord, dir string) []models.FolderRecord {
	var out []models.FolderRecord
	for _, f := range all {
		if vpath.Within(f.FolderPath, dir) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FolderPath > out[j].FolderPath })
	return out
}

// moveFolderRecords rewrites recs from oldDir to newDir. recs must be
// deepest first: when the target path is already declared the old record is
// dropped instead, and by then its children have been moved away.
func (s *Service) moveFolderRecords(ctx context.Context, projectID string, recs []models.FolderRecord, oldDir, newDir string, declared map[string]bool, r *BatchResult) {
	for _, rec := range recs {
		target := vpath.Rebase(rec.FolderPath, oldDir, newDir)
		var err error
		if declared[target] {
			_, err = s.store.DeleteFolders(ctx, projectID, rec.FolderPath)
		} else {
			err = s.store.UpdateFolderPath(ctx, projectID, rec.FolderPath, target)
		}
		if err != nil {
			r.fail("folder "+rec.FolderPath, err)
			continue
		}
		delete(declared, rec.FolderPath)
		declared[target] = true
	}
}

func declaredSet(all []models.FolderRecord) map[string]bool {
	m := make(map[string]bool, len(all))
	for _, f := range all {
		m[f.FolderPath] = true
	}
	return m
}

// RenameFolder renames the last segment of oldPath to newName. Every record
// below oldPath is rewritten one at a time; a failed record is reported and
// the rest continue. Folder records at and below oldPath follow.
func (s *Service) RenameFolder(ctx context.Context, projectID, oldPath, newName string) (BatchResult, error) {
	newName, err := ValidateName(projectID, newName)
	if err != nil {
		return BatchResult{}, err
	}
	oldPath = vpath.Normalize(oldPath)
	if oldPath == "" {
		return BatchResult{}, validationf("cannot rename the project root")
	}
	newPath := vpath.Join(vpath.Parent(oldPath), newName)
	result := newBatch()
	if newPath == oldPath {
		return result, nil
	}

	taken, err := s.FolderExists(ctx, projectID, newPath)
	if err != nil {
		return BatchResult{}, err
	}
	if taken {
		return BatchResult{}, &AlreadyExistsError{Path: newPath}
	}

	files, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{Prefix: oldPath})
	if err != nil {
		return BatchResult{}, storageErr("list files", err)
	}
	allFolders, err := s.store.ListFolders(ctx, projectID)
	if err != nil {
		return BatchResult{}, storageErr("list folders", err)
	}
	recs := foldersWithin(allFolders, oldPath)
	if len(files) == 0 && len(recs) == 0 {
		return BatchResult{}, &NotFoundError{What: "folder " + oldPath}
	}

	for _, f := range files {
		err := s.store.UpdateFilePath(ctx, projectID, f.ID, vpath.Rebase(f.VirtualPath, oldPath, newPath))
		result.record("rename_folder", f.VirtualPath, err)
	}
	s.moveFolderRecords(ctx, projectID, recs, oldPath, newPath, declaredSet(allFolders), &result)

	logBatch(ctx, "folder renamed", projectID, oldPath, result)
	s.publish(events.Event{
		Type: events.EventFolderRename, ProjectID: projectID, Path: oldPath, NewPath: newPath,
		Succeeded: result.Succeeded, Failed: len(result.Failed),
	})
	return result, nil
}

// MoveEntries moves folders and files into req.Destination.
//
// Folders go first; each keeps its base name under the destination and
// merges with a same-named folder already there. Every file, moved alone or
// carried by a folder, takes its base name or the first free "stem_N.ext"
// in its new directory. Name sets are seeded from the records and updated
// after every write so the batch cannot collide with itself.
func (s *Service) MoveEntries(ctx context.Context, projectID string, req MoveRequest) (BatchResult, error) {
	if err := validateProject(projectID); err != nil {
		return BatchResult{}, err
	}
	if len(req.FileIDs) == 0 && len(req.FolderPaths) == 0 {
		return BatchResult{}, validationf("nothing to move")
	}
	dest := normalizeDestination(req.Destination)

	// Setup. Any failure here aborts before a single record is touched.
	ok, err := s.FolderExists(ctx, projectID, dest)
	if err != nil {
		return BatchResult{}, err
	}
	if !ok {
		return BatchResult{}, &NotFoundError{What: "destination " + dest}
	}
	all, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{})
	if err != nil {
		return BatchResult{}, storageErr("list files", err)
	}
	allFolders, err := s.store.ListFolders(ctx, projectID)
	if err != nil {
		return BatchResult{}, storageErr("list folders", err)
	}
	dirs := newDirNames(all)
	declared := declaredSet(allFolders)

	result := newBatch()
	covered := make(map[string]bool)
	var moved []string

	// Shallowest first so a nested selection is carried by its ancestor.
	folders := make([]string, 0, len(req.FolderPaths))
	for _, raw := range req.FolderPaths {
		folders = append(folders, vpath.Normalize(raw))
	}
	sort.SliceStable(folders, func(i, j int) bool { return len(folders[i]) < len(folders[j]) })

	for _, fp := range folders {
		switch {
		case fp == "":
			result.record("move", "/", validationf("cannot move the project root"))
			continue
		case vpath.Within(dest, fp):
			result.record("move", fp, validationf("cannot move a folder into itself"))
			continue
		case withinAny(fp, moved):
			// Already carried along by an enclosing folder.
			continue
		}
		moved = append(moved, fp)
		target := vpath.Join(dest, vpath.Base(fp))

		var desc []models.FileRecord
		for _, f := range all {
			if vpath.IsDescendant(f.VirtualPath, fp) {
				desc = append(desc, f)
				covered[f.ID] = true
			}
		}
		recs := foldersWithin(allFolders, fp)
		if len(desc) == 0 && len(recs) == 0 {
			result.record("move", fp, &NotFoundError{What: "folder " + fp})
			continue
		}
		if target == fp {
			result.record("move", fp, nil)
			continue
		}

		for _, f := range desc {
			s.mergeRecord(ctx, projectID, f, vpath.Rebase(f.VirtualPath, fp, target), dirs, &result)
		}
		s.moveFolderRecords(ctx, projectID, recs, fp, target, declared, &result)
	}

	for _, id := range req.FileIDs {
		if covered[id] {
			continue
		}
		rec, err := s.store.GetFile(ctx, projectID, id)
		if err == nil && rec.IsDeleted {
			err = metadata.ErrNotFound
		}
		if err != nil {
			result.record("move", id, err)
			continue
		}
		if rec.IsSentinel() {
			result.record("move", id, validationf("folder placeholders cannot be moved"))
			continue
		}
		if vpath.Parent(rec.VirtualPath) == dest {
			result.record("move", rec.VirtualPath, nil)
			continue
		}

		names := dirs.of(dest)
		name := vpath.UniqueName(vpath.Base(rec.VirtualPath), names)
		err = s.store.UpdateFilePath(ctx, projectID, id, vpath.Join(dest, name))
		if err != nil {
			names.Remove(name)
		}
		result.record("move", rec.VirtualPath, err)
	}

	logBatch(ctx, "entries moved", projectID, dest, result)
	s.publish(events.Event{
		Type: events.EventMove, ProjectID: projectID, Path: dest,
		Succeeded: result.Succeeded, Failed: len(result.Failed),
	})
	return result, nil
}

// dirNames holds the taken names per directory, built on first use.
type dirNames struct {
	all  []models.FileRecord
	sets map[string]vpath.NameSet
}

func newDirNames(all []models.FileRecord) *dirNames {
	return &dirNames{all: all, sets: make(map[string]vpath.NameSet)}
}

func (d *dirNames) of(dir string) vpath.NameSet {
	if set, ok := d.sets[dir]; ok {
		return set
	}
	set := vpath.NewNameSet()
	for _, f := range d.all {
		if vpath.Parent(f.VirtualPath) == dir {
			set.Add(vpath.Base(f.VirtualPath))
		}
	}
	d.sets[dir] = set
	return set
}

// mergeRecord moves one record carried by a folder move to newPath. A file
// whose name is taken in its new directory gets a "stem_N.ext" name; a
// sentinel landing on an existing one is retired since the folder already
// has its placeholder.
func (s *Service) mergeRecord(ctx context.Context, projectID string, f models.FileRecord, newPath string, dirs *dirNames, r *BatchResult) {
	names := dirs.of(vpath.Parent(newPath))
	if f.IsSentinel() {
		var err error
		if names.Has(models.SentinelName) {
			err = s.store.SetFileDeleted(ctx, projectID, f.ID, true)
		} else {
			err = s.store.UpdateFilePath(ctx, projectID, f.ID, newPath)
			if err == nil {
				names.Add(models.SentinelName)
			}
		}
		r.record("move", f.VirtualPath, err)
		return
	}

	name := vpath.UniqueName(vpath.Base(newPath), names)
	err := s.store.UpdateFilePath(ctx, projectID, f.ID, vpath.Join(vpath.Parent(newPath), name))
	if err != nil {
		names.Remove(name)
	}
	r.record("move", f.VirtualPath, err)
}

// DeleteFolder soft-deletes every record below path, one at a time, then
// removes the folder records at and below path.
func (s *Service) DeleteFolder(ctx context.Context, projectID, path string) (BatchResult, error) {
	if err := validateProject(projectID); err != nil {
		return BatchResult{}, err
	}
	path = vpath.Normalize(path)
	if path == "" {
		return BatchResult{}, validationf("cannot delete the project root")
	}

	files, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{Prefix: path})
	if err != nil {
		return BatchResult{}, storageErr("list files", err)
	}
	allFolders, err := s.store.ListFolders(ctx, projectID)
	if err != nil {
		return BatchResult{}, storageErr("list folders", err)
	}
	if len(files) == 0 && len(foldersWithin(allFolders, path)) == 0 {
		return BatchResult{}, &NotFoundError{What: "folder " + path}
	}

	result := newBatch()
	for _, f := range files {
		err := s.store.SetFileDeleted(ctx, projectID, f.ID, true)
		result.record("delete_folder", f.VirtualPath, err)
	}
	if _, err := s.store.DeleteFolders(ctx, projectID, path); err != nil {
		result.fail("folder "+path, err)
	}

	logBatch(ctx, "folder deleted", projectID, path, result)
	s.publish(events.Event{
		Type: events.EventFolderDelete, ProjectID: projectID, Path: path,
		Succeeded: result.Succeeded, Failed: len(result.Failed),
	})
	return result, nil
}

// RenameFile changes the base name of one file, keeping its folder.
func (s *Service) RenameFile(ctx context.Context, projectID, id, newName string) (*models.FileRecord, error) {
	newName, err := ValidateName(projectID, newName)
	if err != nil {
		return nil, err
	}
	rec, err := s.GetFile(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if rec.IsSentinel() {
		return nil, validationf("folder placeholders cannot be renamed")
	}
	newPath := vpath.Join(vpath.Parent(rec.VirtualPath), newName)
	if newPath == rec.VirtualPath {
		return rec, nil
	}

	clash, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{Path: newPath})
	if err != nil {
		return nil, storageErr("list files", err)
	}
	if len(clash) > 0 {
		return nil, &AlreadyExistsError{Path: newPath}
	}

	if err := s.store.UpdateFilePath(ctx, projectID, id, newPath); err != nil {
		return nil, storeErr("rename file", "file "+id, err)
	}

	logging.WithContext(ctx).Info("file renamed",
		zap.String("project_id", projectID),
		zap.String("id", id),
		zap.String("from", rec.VirtualPath),
		zap.String("to", newPath))
	s.publish(events.Event{
		Type: events.EventFileRename, ProjectID: projectID, FileID: id,
		Path: rec.VirtualPath, NewPath: newPath,
	})
	rec.VirtualPath = newPath
	return rec, nil
}

// DeleteFile soft-deletes one file. The object stays in storage.
func (s *Service) DeleteFile(ctx context.Context, projectID, id string) error {
	rec, err := s.GetFile(ctx, projectID, id)
	if err != nil {
		return err
	}
	if rec.IsSentinel() {
		return validationf("folder placeholders are removed with their folder")
	}
	if err := s.store.SetFileDeleted(ctx, projectID, id, true); err != nil {
		return storeErr("delete file", "file "+id, err)
	}

	logging.WithContext(ctx).Info("file deleted",
		zap.String("project_id", projectID),
		zap.String("id", id),
		zap.String("path", rec.VirtualPath))
	s.publish(events.Event{
		Type: events.EventFileDelete, ProjectID: projectID, FileID: id, Path: rec.VirtualPath,
	})
	return nil
}

func withinAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if vpath.Within(p, d) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a stale-reference error from this
// package or the metadata store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, metadata.ErrNotFound)
}
