package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for references that do not name a file under the base directory.
var ErrInvalidPath = errors.New("invalid storage path")

// Storage is the file store behind profile photos and paper documents.
// References are slash-separated paths relative to the store root (e.g. photos/abc.png).
type Storage interface {
	Open(ref string) (io.ReadCloser, error)
	Write(ref string, r io.Reader) error
	Exists(ref string) bool
	Remove(ref string) error
}

// Clean returns the canonical form of a storage reference. Leading slashes
// and parent segments are dropped, so the result never escapes the root.
func Clean(ref string) string {
	ref = strings.ReplaceAll(ref, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+ref), "/")
}

// Local stores files on the local disk (UPLOAD_BASE).
type Local struct {
	base string
}

// NewLocal returns a Local rooted at base, creating the directory if needed.
func NewLocal(base string) (*Local, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create upload base %s: %w", base, err)
	}
	return &Local{base: base}, nil
}

// Base is the root directory on disk.
func (l *Local) Base() string { return l.base }

// Path maps ref to its location on disk.
func (l *Local) Path(ref string) (string, error) {
	clean := Clean(ref)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, ref)
	}
	return filepath.Join(l.base, filepath.FromSlash(clean)), nil
}

func (l *Local) Open(ref string) (io.ReadCloser, error) {
	p, err := l.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Write replaces the file at ref with the contents of r. Data goes to a
// temporary file in the same directory first and is renamed into place, so
// readers never observe a half-written file.
func (l *Local) Write(ref string, r io.Reader) error {
	p, err := l.Path(ref)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", ref, err)
	}
	return nil
}

// Exists reports whether ref names a regular file.
func (l *Local) Exists(ref string) bool {
	p, err := l.Path(ref)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func (l *Local) Remove(ref string) error {
	p, err := l.Path(ref)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
