package storage

import (
	"errors"
	"io"
)

// ErrNotFound is returned for identifiers the store does not hold.
var ErrNotFound = errors.New("content not found")

// Storage defines the interface for storing and retrieving finalized uploads.
type Storage interface {
	// Put stores content and returns its identifier, the SHA-1 hex of the bytes.
	Put(content io.Reader) (string, error)
	// Get retrieves content by its identifier.
	Get(id string) (io.ReadCloser, error)
	// GetPath returns the file path backing an identifier.
	GetPath(id string) (string, error)
	// Stat returns the stored length of an identifier.
	Stat(id string) (int64, error)
	Delete(id string) error
}
