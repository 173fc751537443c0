// Package folders resolves per-sender destination folders in the attachment
// store and saves attachment files into them. Resolution is concurrency-safe:
// double-checked lookups under a short-lived folder lock keep parallel runs
// from creating duplicate folders for the same sender domain.
package folders

import (
	"context"
)

// Folder is a folder in the attachment store.
type Folder struct {
	ID   string
	Name string
}

// FileInfo describes a stored file.
type FileInfo struct {
	ID        string
	Name      string
	SizeBytes int64
}

// Storage is the attachment-store port. Implementations talk to a cloud
// drive or a local filesystem; the resolver only assumes folders have
// unique IDs, not unique names.
type Storage interface {
	// ChildFolderByName returns the first child folder of parentID with the
	// given name, or errors.ErrNotFound if none exists.
	ChildFolderByName(ctx context.Context, parentID, name string) (*Folder, error)

	// CreateFolder creates a child folder under parentID.
	CreateFolder(ctx context.Context, parentID, name string) (*Folder, error)

	// FilesByName lists the files named name inside folderID.
	FilesByName(ctx context.Context, folderID, name string) ([]FileInfo, error)

	// CreateFile stores content as a new file inside folderID.
	CreateFile(ctx context.Context, folderID, name string, content []byte) (*FileInfo, error)
}
