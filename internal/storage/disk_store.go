package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// tempPattern names in-progress writes. The leading dot keeps them out of
// the object namespace: ValidateName refuses hidden names and List skips them.
const tempPattern = ".upload-*.tmp"

// DiskStore implements BlobStore on a local directory. Each object is one
// regular file directly under Root.
//
// Writes are atomic per name: content is streamed into a uniquely named
// temp file in Root and renamed over the destination once complete. Readers
// therefore see either the previous object or the new one, and concurrent
// writers of the same name never interleave (the last rename wins).
type DiskStore struct {
	Root string
}

// NewDiskStore creates the root directory if needed and returns a store over it.
func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DiskStore{Root: abs}, nil
}

func (d *DiskStore) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(d.Root, name), nil
}

// Exists reports whether a regular file is stored under name.
func (d *DiskStore) Exists(name string) bool {
	p, err := d.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Open opens the object for streaming.
func (d *DiskStore) Open(name string) (io.ReadCloser, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Write streams r into a temp file and renames it into place.
func (d *DiskStore) Write(name string, r io.Reader) (int64, error) {
	p, err := d.path(name)
	if err != nil {
		return 0, err
	}

	tmpFile, err := os.CreateTemp(d.Root, tempPattern)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("write object: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("sync object: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, p); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("rename object: %w", err)
	}
	return n, nil
}

// List returns the names of regular, non-hidden files in Root.
func (d *DiskStore) List() ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || ValidateName(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stats walks Root and sums object sizes. Errors on individual entries
// are skipped; stats are informational.
func (d *DiskStore) Stats() StoreStats {
	var stats StoreStats
	names, err := d.List()
	if err != nil {
		return stats
	}
	for _, name := range names {
		info, err := os.Stat(filepath.Join(d.Root, name))
		if err != nil {
			continue
		}
		stats.Objects++
		stats.Bytes += info.Size()
	}
	return stats
}
