// Package models contains the record types shared by the stores, the
// directory index and the HTTP API.
package models

import "time"

// Kind distinguishes user files from folder sentinels.
type Kind string

const (
	KindNormal   Kind = "normal"
	KindSentinel Kind = "sentinel"
)

// SentinelName is the base name of the placeholder that keeps an empty
// folder discoverable.
const SentinelName = ".keeper"

// FileRecord is one metadata row per stored object. VirtualPath is the only
// field that places the object in the folder hierarchy; StorageKey never
// changes after upload.
type FileRecord struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	StorageKey  string    `json:"storage_key"`
	VirtualPath string    `json:"virtual_path"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mime_type"`
	Kind        Kind      `json:"kind"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
	IsDeleted   bool      `json:"is_deleted"`
}

// IsSentinel reports whether the record is a folder placeholder.
func (f *FileRecord) IsSentinel() bool {
	return f.Kind == KindSentinel
}

// FolderRecord declares a folder explicitly so it is listable while empty.
type FolderRecord struct {
	ProjectID  string    `json:"project_id"`
	FolderName string    `json:"folder_name"`
	FolderPath string    `json:"folder_path"`
	ParentPath string    `json:"parent_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// NodeType is the type of a VirtualNode.
type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

// VirtualNode is one entry of a directory listing. It is computed on demand
// and never persisted.
type VirtualNode struct {
	Type     NodeType   `json:"type"`
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	ID       string     `json:"id,omitempty"`
	Size     int64      `json:"size,omitempty"`
	MimeType string     `json:"mime_type,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
}

// Listing is the content of one directory level.
type Listing struct {
	Path    string        `json:"path"`
	Folders []VirtualNode `json:"folders"`
	Files   []VirtualNode `json:"files"`
}
