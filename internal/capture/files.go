package capture

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FileStore writes image files under a single directory.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("capture: create image dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the image directory.
func (f *FileStore) Root() string {
	return f.root
}

// Write stores data as name and returns the path relative to the root. The
// file is synced and renamed into place, so a name that exists on disk always
// holds complete data.
func (f *FileStore) Write(data []byte, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(f.root, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("capture: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("capture: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("capture: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("capture: close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("capture: chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.root, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("capture: rename %s: %w", name, err)
	}
	syncDir(f.root)

	return name, nil
}

// Checksum returns the BLAKE2b-256 digest (hex) and size of a stored file.
func (f *FileStore) Checksum(name string) (string, int64, error) {
	if err := checkName(name); err != nil {
		return "", 0, err
	}
	file, err := os.Open(filepath.Join(f.root, name))
	if err != nil {
		return "", 0, fmt.Errorf("capture: open %s: %w", name, err)
	}
	defer file.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, file)
	if err != nil {
		return "", 0, fmt.Errorf("capture: hash %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// checkName rejects names that would escape the root.
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("capture: invalid file name %q", name)
	}
	return nil
}

// syncDir makes a rename durable. Not every platform supports it, so
// failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
