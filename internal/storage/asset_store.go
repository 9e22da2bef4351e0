package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrInvalidPath      = errors.New("invalid asset path")
	ErrUnknownDirectory = errors.New("unknown asset directory")
)

// AssetStore persists and removes named blobs under logical directories.
// Paths returned by Save have the form "<dir>/<name>".
type AssetStore interface {
	Save(ctx context.Context, dir, name string, data []byte) (string, error)
	Delete(ctx context.Context, assetPath string) error
	// Move renames an asset, replacing whatever is stored under to.
	Move(ctx context.Context, from, to string) error
	Exists(ctx context.Context, assetPath string) (bool, error)
}

// FSStore stores assets as files on an afero filesystem.
type FSStore struct {
	fs   afero.Fs
	dirs map[string]bool
}

// NewFSStore creates an asset store rooted at fs that accepts the given
// logical directories.
func NewFSStore(fs afero.Fs, dirs ...string) *FSStore {
	allowed := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		allowed[d] = true
	}
	return &FSStore{fs: fs, dirs: allowed}
}

// NewOSStore creates an asset store on the local disk below root.
func NewOSStore(root string, dirs ...string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset root: %w", err)
	}
	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), root), dirs...), nil
}

// Save writes data to dir/name. The file is written under a temporary name and
// renamed into place, so readers never observe a partial file.
func (s *FSStore) Save(ctx context.Context, dir, name string, data []byte) (string, error) {
	if !s.dirs[dir] {
		return "", fmt.Errorf("%w: %q", ErrUnknownDirectory, dir)
	}
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(fsPath(dir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	final := path.Join(dir, name)
	tmp := fsPath(path.Join(dir, "."+name+"."+uuid.NewString()+".tmp"))

	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := s.fs.Rename(tmp, fsPath(final)); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("failed to move asset into place: %w", err)
	}

	return final, nil
}

// Delete removes the asset at assetPath. A missing file is not an error.
func (s *FSStore) Delete(ctx context.Context, assetPath string) error {
	p, err := s.resolve(assetPath)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(fsPath(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// Move renames the asset at from to to. Both must be in known directories.
func (s *FSStore) Move(ctx context.Context, from, to string) error {
	src, err := s.resolve(from)
	if err != nil {
		return err
	}
	dst, err := s.resolve(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.fs.Rename(fsPath(src), fsPath(dst)); err != nil {
		return fmt.Errorf("failed to move asset: %w", err)
	}
	return nil
}

// Exists reports whether an asset is stored at assetPath.
func (s *FSStore) Exists(ctx context.Context, assetPath string) (bool, error) {
	p, err := s.resolve(assetPath)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, fsPath(p))
}

// Handler serves stored assets read-only.
func (s *FSStore) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(afero.NewReadOnlyFs(s.fs)).Dir("/"))
}

func (s *FSStore) resolve(assetPath string) (string, error) {
	// Paths written by older deployments carry an app-relative "~/" prefix.
	p := strings.TrimPrefix(assetPath, "~")
	p = strings.TrimPrefix(p, "/")

	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if !s.dirs[dir] || !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, assetPath)
	}
	return path.Join(dir, name), nil
}

// fsPath anchors a logical path at the filesystem root.
func fsPath(logical string) string {
	return "/" + logical
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
