// Package storage keeps uploaded files on the local disk, addressed by a
// slash separated path relative to a root directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no file exists at a reference.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidRef is returned for references escaping the root.
	ErrInvalidRef = errors.New("invalid file reference")
)

type Local struct {
	root string
}

// NewLocal uses root as the base of every reference, creating it if needed.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root[%s]: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating root[%s]: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute directory backing the store.
func (l *Local) Root() string { return l.root }

// Save writes r to a fresh file under dir and returns its reference. The
// extension of name is kept, falling back to defExt.
func (l *Local) Save(dir, name, defExt string, r io.Reader) (string, error) {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" || len(ext) > 8 {
		ext = defExt
	}
	ref := path.Join(dir, uuid.NewString()+ext)

	p, err := l.path(ref)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", ref, err)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", ref, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return "", fmt.Errorf("writing %s: %w", ref, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(p)
		return "", fmt.Errorf("closing %s: %w", ref, err)
	}
	return ref, nil
}

// Open opens the file behind ref for reading.
func (l *Local) Open(ref string) (*os.File, error) {
	p, err := l.path(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return f, nil
}

// Remove deletes the file behind ref. A missing file is not an error.
func (l *Local) Remove(ref string) error {
	if ref == "" {
		return nil
	}

	p, err := l.path(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	return nil
}

func (l *Local) path(ref string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(ref, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}

	p := filepath.Join(l.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}
	return p, nil
}
