// Package stage prepares the output copy that the checksum transform
// mutates, so the input store is never written to.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dbcs/internal/logging"
)

var logger = logging.For("stage")

var (
	// ErrStageFailed is wrapped by every error CopyTree returns.
	ErrStageFailed       = errors.New("staging failed")
	ErrDestinationExists = fmt.Errorf("%w: destination exists", ErrStageFailed)
	ErrUnsupportedFile   = fmt.Errorf("%w: not a directory or regular file", ErrStageFailed)
	ErrOverlappingPaths  = fmt.Errorf("%w: source and destination overlap", ErrStageFailed)
)

// RemoveIfExists deletes path and everything below it. A missing path is
// not an error.
func RemoveIfExists(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStageFailed, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrStageFailed, path, err)
	}
	logger.Info("removed existing store", "path", path)
	return nil
}

// CopyTree recursively copies src to dst. dst must not exist.
func CopyTree(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}

	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStageFailed, err)
	}

	switch {
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("%w: %v", ErrStageFailed, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStageFailed, err)
		}
		for _, e := range entries {
			if err := CopyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	case info.Mode().IsRegular():
		return copyFile(src, dst, info.Mode().Perm())
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFile, src)
	}
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStageFailed, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStageFailed, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: copying %s: %v", ErrStageFailed, src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStageFailed, err)
	}
	logger.Debug("copied file", "src", src, "dst", dst)
	return nil
}

// Overlaps reports whether a and b name the same location or one lies
// inside the other. Both are made absolute and symlinks are resolved for
// the part of each path that exists.
func Overlaps(a, b string) (bool, error) {
	ra, err := resolve(a)
	if err != nil {
		return false, err
	}
	rb, err := resolve(b)
	if err != nil {
		return false, err
	}
	return contains(ra, rb) || contains(rb, ra), nil
}

// resolve returns the absolute form of path with symlinks evaluated on its
// longest existing prefix. Missing trailing elements are appended as-is.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	var missing []string
	for p := abs; ; {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return abs, nil
		}
		missing = append([]string{filepath.Base(p)}, missing...)
		p = parent
	}
}

func contains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Prepare replaces dst with a fresh copy of src. It refuses, before
// touching either path, when one of them contains the other.
func Prepare(src, dst string) error {
	overlap, err := Overlaps(src, dst)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStageFailed, err)
	}
	if overlap {
		return fmt.Errorf("%w: %s and %s", ErrOverlappingPaths, src, dst)
	}
	if err := RemoveIfExists(dst); err != nil {
		return err
	}
	return CopyTree(src, dst)
}
