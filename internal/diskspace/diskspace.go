// Package diskspace checks free space on the file system holding a case
// directory before tools that write large meshes are started.
package diskspace

import (
	"errors"
	"fmt"
)

// ErrInsufficientSpace is wrapped by every InsufficientSpaceError.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Dir            string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space in %s: need %.0f MB, have %.0f MB available",
		e.Dir, requiredMB, availableMB)
}

func (e *InsufficientSpaceError) Unwrap() error { return ErrInsufficientSpace }

// Check returns an InsufficientSpaceError when the file system holding dir
// has less than requiredBytes available to unprivileged users. If the space
// cannot be determined (network and virtual file systems) Check returns nil
// and the tools are left to fail on their own.
func Check(dir string, requiredBytes int64) error {
	if requiredBytes <= 0 {
		return nil
	}
	available, err := Available(dir)
	if err != nil {
		return nil
	}
	if available < requiredBytes {
		return &InsufficientSpaceError{
			Dir:            dir,
			RequiredBytes:  requiredBytes,
			AvailableBytes: available,
		}
	}
	return nil
}
