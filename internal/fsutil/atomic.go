// Package fsutil holds small filesystem helpers shared by the file-backed stores.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/tphakala/birdid/internal/errors"
)

// WriteFileAtomic writes data to a temp file in path's directory and renames it
// over path, so readers observe either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fileError(err, "create_temp", path)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fileError(err, "write_temp", path)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fileError(err, "chmod_temp", path)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fileError(err, "sync_temp", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fileError(err, "close_temp", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fileError(err, "rename", path)
	}
	return nil
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component("fsutil").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}
