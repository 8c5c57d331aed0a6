// Package fingerprint derives a content identity for the grievance dataset from its file metadata.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Compute returns the fingerprint of the file at path: hex SHA-256 of "<size>:<mtime_ns>".
// Errors from stat are wrapped, so a missing file satisfies errors.Is(err, fs.ErrNotExist).
func Compute(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat dataset: %w", err)
	}
	return FromMetadata(info.Size(), info.ModTime().UnixNano()), nil
}

// FromMetadata returns the fingerprint for a file of the given size and modification time.
func FromMetadata(size int64, mtimeNanos int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", size, mtimeNanos)))
	return hex.EncodeToString(hash[:])
}

// Matches reports whether a stored fingerprint equals a freshly computed one. Empty never matches.
func Matches(stored, current string) bool {
	return stored != "" && stored == current
}

// IsValid reports whether stored equals the current fingerprint of the dataset at path.
// An unreadable dataset is never valid.
func IsValid(stored, path string) bool {
	current, err := Compute(path)
	if err != nil {
		return false
	}
	return Matches(stored, current)
}

// ReadFile returns the fingerprint stored at path, trimmed.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteFile stores fp at path by writing a temporary sibling and renaming it into place.
func WriteFile(path, fp string) error {
	return AtomicWrite(path, []byte(fp))
}

// AtomicWrite writes data to a temporary file in path's directory, syncs it, and renames it to path.
// Readers observe either the previous content or the complete new content.
func AtomicWrite(path string, data []byte) error {
	return AtomicWriteFunc(path, func(tmp string) error {
		return writeSynced(tmp, data)
	})
}

// AtomicWriteFunc lets write produce the file at a temporary path, then renames it to path.
// The temporary file is removed when write or the rename fails.
func AtomicWriteFunc(path string, write func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()

	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
