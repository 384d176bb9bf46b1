package facade

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// FileInfo describes a file or folder in the drive.
type FileInfo struct {
	// ID identifies the entry for subsequent calls. For the local drive
	// it is the slash-separated path relative to the drive root.
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsFolder bool   `json:"is_folder"`
}

// Drive is the document-storage facade used by pipeline steps. Folder
// and file IDs are opaque to callers.
type Drive interface {
	List(ctx context.Context, folderID string) ([]FileInfo, error)
	ReadDoc(ctx context.Context, id string) (string, error)
	CreateFolder(ctx context.Context, parentID, name string) (FileInfo, error)
	CreateDoc(ctx context.Context, parentID, name, content string) (FileInfo, error)
	Move(ctx context.Context, id, newParentID string) (FileInfo, error)
	Rename(ctx context.Context, id, newName string) (FileInfo, error)
	CreateShortcut(ctx context.Context, parentID, targetID, name string) (FileInfo, error)
}

// shortcutExt marks shortcut entries on filesystem-backed drives, which
// have no native shortcut concept.
const shortcutExt = ".shortcut"

// LocalDrive is a Drive rooted in an afero filesystem. It is used for
// local development and tests; entry IDs are relative paths.
type LocalDrive struct {
	fs afero.Afero
}

var _ Drive = (*LocalDrive)(nil)

// NewLocalDrive creates a Drive on the given filesystem.
func NewLocalDrive(fs afero.Fs) *LocalDrive {
	return &LocalDrive{fs: afero.Afero{Fs: fs}}
}

func (d *LocalDrive) List(ctx context.Context, folderID string) ([]FileInfo, error) {
	entries, err := d.fs.ReadDir(clean(folderID))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrStorage, folderID, err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, FileInfo{
			ID:       path.Join(clean(folderID), e.Name()),
			Name:     e.Name(),
			IsFolder: e.IsDir(),
		})
	}
	return infos, nil
}

func (d *LocalDrive) ReadDoc(ctx context.Context, id string) (string, error) {
	data, err := d.fs.ReadFile(clean(id))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrStorage, id, err)
	}
	return string(data), nil
}

func (d *LocalDrive) CreateFolder(ctx context.Context, parentID, name string) (FileInfo, error) {
	id := path.Join(clean(parentID), name)
	if err := d.fs.MkdirAll(id, 0o755); err != nil {
		return FileInfo{}, fmt.Errorf("%w: create folder %s: %v", ErrStorage, id, err)
	}
	return FileInfo{ID: id, Name: name, IsFolder: true}, nil
}

func (d *LocalDrive) CreateDoc(ctx context.Context, parentID, name, content string) (FileInfo, error) {
	id := path.Join(clean(parentID), name)
	if err := d.fs.WriteFile(id, []byte(content), 0o644); err != nil {
		return FileInfo{}, fmt.Errorf("%w: create doc %s: %v", ErrStorage, id, err)
	}
	return FileInfo{ID: id, Name: name}, nil
}

func (d *LocalDrive) Move(ctx context.Context, id, newParentID string) (FileInfo, error) {
	name := path.Base(clean(id))
	dst := path.Join(clean(newParentID), name)
	if err := d.fs.Rename(clean(id), dst); err != nil {
		return FileInfo{}, fmt.Errorf("%w: move %s to %s: %v", ErrStorage, id, newParentID, err)
	}
	isDir, _ := d.fs.IsDir(dst)
	return FileInfo{ID: dst, Name: name, IsFolder: isDir}, nil
}

func (d *LocalDrive) Rename(ctx context.Context, id, newName string) (FileInfo, error) {
	dst := path.Join(path.Dir(clean(id)), newName)
	if err := d.fs.Rename(clean(id), dst); err != nil {
		return FileInfo{}, fmt.Errorf("%w: rename %s to %s: %v", ErrStorage, id, newName, err)
	}
	isDir, _ := d.fs.IsDir(dst)
	return FileInfo{ID: dst, Name: newName, IsFolder: isDir}, nil
}

func (d *LocalDrive) CreateShortcut(ctx context.Context, parentID, targetID, name string) (FileInfo, error) {
	id := path.Join(clean(parentID), name+shortcutExt)
	if err := d.fs.WriteFile(id, []byte(clean(targetID)), 0o644); err != nil {
		return FileInfo{}, fmt.Errorf("%w: create shortcut %s: %v", ErrStorage, id, err)
	}
	return FileInfo{ID: id, Name: name}, nil
}

func clean(id string) string {
	id = strings.TrimPrefix(path.Clean("/"+id), "/")
	if id == "" {
		return "."
	}
	return id
}

// UnconfiguredDrive is a Drive placeholder for deployments where drive
// access has not been set up. Every call fails with ErrStorage, which
// fails the calling step and leaves the run resumable once storage is
// configured.
type UnconfiguredDrive struct{}

var _ Drive = UnconfiguredDrive{}

func (UnconfiguredDrive) err() error {
	return fmt.Errorf("%w: drive access not configured", ErrStorage)
}

func (u UnconfiguredDrive) List(ctx context.Context, folderID string) ([]FileInfo, error) {
	return nil, u.err()
}

func (u UnconfiguredDrive) ReadDoc(ctx context.Context, id string) (string, error) {
	return "", u.err()
}

func (u UnconfiguredDrive) CreateFolder(ctx context.Context, parentID, name string) (FileInfo, error) {
	return FileInfo{}, u.err()
}

func (u UnconfiguredDrive) CreateDoc(ctx context.Context, parentID, name, content string) (FileInfo, error) {
	return FileInfo{}, u.err()
}

func (u UnconfiguredDrive) Move(ctx context.Context, id, newParentID string) (FileInfo, error) {
	return FileInfo{}, u.err()
}

func (u UnconfiguredDrive) Rename(ctx context.Context, id, newName string) (FileInfo, error) {
	return FileInfo{}, u.err()
}

func (u UnconfiguredDrive) CreateShortcut(ctx context.Context, parentID, targetID, name string) (FileInfo, error) {
	return FileInfo{}, u.err()
}
