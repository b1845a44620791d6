package storage

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when no complete object is stored under a name.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidName is returned for names that could escape the storage root.
	ErrInvalidName = errors.New("invalid object name")
)

// BlobStore defines the interface for named object storage shared by the
// origin and by every replica.
// All implementations must be thread-safe for concurrent access.
type BlobStore interface {
	// Exists reports whether a complete object is stored under name.
	// Invalid names are reported as absent.
	Exists(name string) bool

	// Open returns a reader over the object's bytes.
	// Returns ErrNotFound if the object doesn't exist.
	// The caller must close the reader.
	Open(name string) (io.ReadCloser, error)

	// Write consumes r to completion and stores it under name,
	// replacing any prior content. The object only becomes visible
	// once the whole stream has been persisted.
	Write(name string, r io.Reader) (int64, error)

	// List returns the names of all complete objects, sorted.
	List() ([]string, error)

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Objects int   `json:"objects"` // Number of stored objects
	Bytes   int64 `json:"bytes"`   // Total size of all objects in bytes
}

// ValidateName checks that name addresses a single entry directly inside a
// storage root. Objects live in a flat namespace, so any separator is
// rejected along with parent/current directory segments, absolute paths,
// NUL bytes and hidden names (the dot prefix is reserved for in-progress
// writes).
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return ErrInvalidName
	}
	// Covers ".", ".." and temp files.
	if strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	return nil
}
