package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("file not found")

// Store is a flat namespace of immutable files.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// ValidName rejects anything that could escape the store namespace.
func ValidName(name string) bool {
	return name != "" &&
		name != "." &&
		!strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`)
}

// LocalStore keeps files in a directory on disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *LocalStore) Put(_ context.Context, name string, data []byte, _ string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	// O_EXCL so a name collision fails instead of overwriting
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
