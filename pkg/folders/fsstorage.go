package folders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/petalo/mailsift/pkg/errors"
)

// FSStorage is a Storage backed by a local directory tree. Folder and file
// IDs are absolute paths.
type FSStorage struct {
	root string
}

// NewFSStorage creates a filesystem store rooted at dir, creating the root
// if needed. The returned root folder ID seeds the resolver.
func NewFSStorage(dir string) (*FSStorage, string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FSStorage{root: abs}, abs, nil
}

var _ Storage = (*FSStorage)(nil)

// ChildFolderByName returns the child directory of parentID with the given
// name, or errors.ErrNotFound.
func (s *FSStorage) ChildFolderByName(ctx context.Context, parentID, name string) (*Folder, error) {
	path := filepath.Join(parentID, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: folder %s", errors.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat folder %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: folder %s", errors.ErrNotFound, name)
	}
	return &Folder{ID: path, Name: name}, nil
}

// CreateFolder creates a child directory under parentID.
func (s *FSStorage) CreateFolder(ctx context.Context, parentID, name string) (*Folder, error) {
	path := filepath.Join(parentID, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return &Folder{ID: path, Name: name}, nil
}

// FilesByName lists the files named name inside folderID. On a filesystem
// there is at most one.
func (s *FSStorage) FilesByName(ctx context.Context, folderID, name string) ([]FileInfo, error) {
	path := filepath.Join(folderID, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, nil
	}
	return []FileInfo{{ID: path, Name: name, SizeBytes: info.Size()}}, nil
}

// CreateFile stores content as a file inside folderID. An existing file
// with the same name but different content gets a numbered sibling rather
// than being overwritten.
func (s *FSStorage) CreateFile(ctx context.Context, folderID, name string, content []byte) (*FileInfo, error) {
	path := filepath.Join(folderID, name)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(name)
		stem := name[:len(name)-len(ext)]
		path = filepath.Join(folderID, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return &FileInfo{ID: path, Name: filepath.Base(path), SizeBytes: int64(len(content))}, nil
}
