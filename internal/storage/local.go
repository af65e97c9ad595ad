package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements the Storage interface for the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Put streams content to a temporary file while hashing it, then renames it
// to its SHA-1 hex. Storing the same bytes twice yields the same id.
func (s *LocalStorage) Put(content io.Reader) (string, error) {
	tmp, err := os.CreateTemp(s.basePath, ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha1.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	id := hex.EncodeToString(h.Sum(nil))
	if err := os.Rename(tmp.Name(), filepath.Join(s.basePath, id)); err != nil {
		return "", fmt.Errorf("failed to store content: %w", err)
	}
	return id, nil
}

// Get retrieves content from the local filesystem.
func (s *LocalStorage) Get(id string) (io.ReadCloser, error) {
	path, err := s.GetPath(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open content file: %w", err)
	}
	return file, nil
}

// GetPath returns the file path for a given identifier.
func (s *LocalStorage) GetPath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id[0] == '.' {
		return "", fmt.Errorf("invalid id %q: %w", id, ErrNotFound)
	}
	return filepath.Join(s.basePath, id), nil
}

func (s *LocalStorage) Stat(id string) (int64, error) {
	path, err := s.GetPath(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *LocalStorage) Delete(id string) error {
	path, err := s.GetPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}
