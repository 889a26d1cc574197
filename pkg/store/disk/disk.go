// Package disk stores agent state documents as files below a root
// directory. The filesystem is an [afero.Fs], so the same store runs on
// the OS filesystem in production and on an in-memory filesystem in tests.
//
// Writes go to a temporary sibling first and are renamed into place, so a
// reader never observes a partially written document.
package disk

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
	tmpExt               = ".tmp"
)

// Store implements lifecycle.FileStore on an afero filesystem.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a store rooted at root on fsys. A nil fsys means the OS
// filesystem.
func New(fsys afero.Fs, root string) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, root: filepath.Clean(root)}
}

// Root returns the directory holding the documents.
func (s *Store) Root() string {
	return s.root
}

// resolve maps a slash path to a file below the root. Paths that would
// escape the root are rejected.
func (s *Store) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", sserr.Newf(sserr.CodeValidationFormat, "disk: invalid path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Exists reports whether a document is stored at p.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapError(err, "disk: exists canceled")
	}
	name, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := s.fs.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, wrapError(err, "disk: stat failed")
	}
	return !info.IsDir(), nil
}

// Get reads the document at p.
func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError(err, "disk: get canceled")
	}
	name, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, sserr.KeyNotFound(p)
	}
	if err != nil {
		return nil, wrapError(err, "disk: read failed")
	}
	return data, nil
}

// Put writes data to p, creating parent directories as needed.
func (s *Store) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return wrapError(err, "disk: put canceled")
	}
	name, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(name), dirPerm); err != nil {
		return wrapError(err, "disk: failed to create state directory")
	}

	tmp := name + tmpExt
	if err := afero.WriteFile(s.fs, tmp, data, filePerm); err != nil {
		return wrapError(err, "disk: write failed")
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		_ = s.fs.Remove(tmp)
		return wrapError(err, "disk: rename failed")
	}
	return nil
}

// Delete removes the document at p. A missing document is not an error.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return wrapError(err, "disk: delete canceled")
	}
	name, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapError(err, "disk: delete failed")
	}
	return nil
}

// List returns the sorted slash paths of regular files directly under
// prefix. Leftover temporary files are skipped, and a missing directory
// lists as empty.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError(err, "disk: list canceled")
	}
	dir := strings.Trim(path.Clean("/"+prefix), "/")
	name := s.root
	if dir != "" {
		name = filepath.Join(s.root, filepath.FromSlash(dir))
	}

	infos, err := afero.ReadDir(s.fs, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(err, "disk: list failed")
	}

	var out []string
	for _, info := range infos {
		if info.IsDir() || strings.HasSuffix(info.Name(), tmpExt) {
			continue
		}
		out = append(out, path.Join(dir, info.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func wrapError(err error, message string) *sserr.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return sserr.Wrap(err, sserr.CodeTimeoutStorage, message)
	case errors.Is(err, context.Canceled):
		return sserr.Wrap(err, sserr.CodeInternal, message)
	}
	return sserr.Wrap(err, sserr.CodePersistenceFile, message)
}
