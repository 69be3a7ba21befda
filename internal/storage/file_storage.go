package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage is the output sink for finished downloads.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Save writes a finished payload under a sanitized filename, atomically so a
// crash mid-write never leaves a half-saved recording that looks complete.
func (s *FileStorage) Save(filename string, data []byte) (string, error) {
	name := SanitizeFileName(filename)
	if name == "" {
		return "", fmt.Errorf("empty filename after sanitizing %q", filename)
	}
	path := filepath.Join(s.dir, name)

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize file: %w", err)
	}
	return path, nil
}

// Exists checks whether a file exists in the storage directory.
func (s *FileStorage) Exists(filename string) bool {
	_, err := os.Stat(filepath.Join(s.dir, SanitizeFileName(filename)))
	return err == nil
}

// Size returns the size of a stored file in bytes.
func (s *FileStorage) Size(filename string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.dir, SanitizeFileName(filename)))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SanitizeFileName strips path separators and characters that commonly break
// filesystems from a recording name.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name = replacer.Replace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// WithExt returns name carrying the given extension, replacing any existing
// one.
func WithExt(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = name
	}
	return base + ext
}
