package handlers

import (
	"errors"
	"fmt"
)

var (
	errEmptyDirPath    = errors.New("dirpath is empty")
	errRelativeDirPath = errors.New("dirpath is not absolute")
)

// ValidateExportPath rejects dirpaths no export could match: empty,
// relative, or longer than MNTPATHLEN.
func ValidateExportPath(path string) error {
	switch {
	case path == "":
		return errEmptyDirPath
	case path[0] != '/':
		return fmt.Errorf("%w: %q", errRelativeDirPath, path)
	case len(path) > MaxPathLen:
		return fmt.Errorf("dirpath is %d bytes, limit is %d", len(path), MaxPathLen)
	}
	return nil
}
