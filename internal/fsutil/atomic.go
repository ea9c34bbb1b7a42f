package fsutil

import (
	"errors"
	"fmt"
	"io"
)

// PartialSuffix marks an output that is still being written.
const PartialSuffix = ".partial"

// WriteAtomic streams write's output to name+PartialSuffix and renames it
// over name once write and Close both succeed. On failure the partial file
// is removed and name is left untouched.
func WriteAtomic(fsys FileSystem, name string, write func(io.Writer) error) (err error) {
	tmp := name + PartialSuffix
	f, err := fsys.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp)
		}
	}()

	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if s, ok := f.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("sync %s: %w", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := fsys.Rename(tmp, name); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// ErrInsufficientSpace is returned by EnsureSpace.
var ErrInsufficientSpace = errors.New("insufficient free space")

// EnsureSpace checks that dir can take need more bytes.
func EnsureSpace(fsys FileSystem, dir string, need int64) (free int64, err error) {
	free, err = fsys.FreeSpace(dir)
	if err != nil {
		return 0, fmt.Errorf("free space of %s: %w", dir, err)
	}
	if free < need {
		return free, fmt.Errorf("%w in %s: need %d bytes, have %d", ErrInsufficientSpace, dir, need, free)
	}
	return free, nil
}
