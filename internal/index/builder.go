// Package index derives one level of the virtual folder hierarchy from the
// flat file and folder record sets.
package index

import (
	"sort"
	"strings"

	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// Build returns the child folders and direct child files of currentPath.
// Deleted records are ignored and sentinels never appear as files, but a
// sentinel below currentPath still makes its folder visible. Folder
// records whose parent is currentPath contribute folders that hold no files.
func Build(currentPath string, files []models.FileRecord, folders []models.FolderRecord) models.Listing {
	currentPath = vpath.Normalize(currentPath)

	folderNames := make(map[string]struct{})
	var childFiles []models.VirtualNode

	for i := range files {
		f := &files[i]
		if f.IsDeleted {
			continue
		}
		p := vpath.Normalize(f.VirtualPath)
		if !vpath.IsDescendant(p, currentPath) {
			continue
		}

		name, _, nested := vpath.FirstSegment(vpath.Remainder(p, currentPath))
		if name == "" {
			continue
		}
		if nested {
			folderNames[name] = struct{}{}
			continue
		}
		if f.IsSentinel() {
			continue
		}

		modified := f.UploadedAt
		childFiles = append(childFiles, models.VirtualNode{
			Type:     models.NodeFile,
			Name:     name,
			Path:     p,
			ID:       f.ID,
			Size:     f.Size,
			MimeType: f.MimeType,
			Modified: &modified,
		})
	}

	for _, fr := range folders {
		if vpath.Normalize(fr.ParentPath) != currentPath {
			continue
		}
		name := fr.FolderName
		if name == "" {
			name = vpath.Base(vpath.Normalize(fr.FolderPath))
		}
		if name != "" {
			folderNames[name] = struct{}{}
		}
	}

	childFolders := make([]models.VirtualNode, 0, len(folderNames))
	for name := range folderNames {
		childFolders = append(childFolders, models.VirtualNode{
			Type: models.NodeFolder,
			Name: name,
			Path: vpath.Join(currentPath, name),
		})
	}

	sortNodes(childFolders)
	sortNodes(childFiles)
	if childFiles == nil {
		childFiles = []models.VirtualNode{}
	}

	return models.Listing{
		Path:    currentPath,
		Folders: childFolders,
		Files:   childFiles,
	}
}

// sortNodes orders case-insensitively, falling back to the exact name so the
// result is deterministic.
func sortNodes(nodes []models.VirtualNode) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := strings.ToLower(nodes[i].Name), strings.ToLower(nodes[j].Name)
		if a != b {
			return a < b
		}
		return nodes[i].Name < nodes[j].Name
	})
}

// Descendants returns the non-deleted, non-sentinel records strictly below
// dir. It uses the same guarded prefix test as Build.
func Descendants(dir string, files []models.FileRecord) []models.FileRecord {
	dir = vpath.Normalize(dir)
	var out []models.FileRecord
	for _, f := range files {
		if f.IsDeleted || f.IsSentinel() {
			continue
		}
		if vpath.IsDescendant(vpath.Normalize(f.VirtualPath), dir) {
			out = append(out, f)
		}
	}
	return out
}
