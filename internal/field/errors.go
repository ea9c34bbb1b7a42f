package field

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. It is raised before
	// any numerical work begins and is never retried.
	ErrValidation = errors.New("validation error")

	// ErrResource marks a request that does not fit the available memory
	// or storage.
	ErrResource = errors.New("resource error")
)

// Invalid returns an error wrapping ErrValidation.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ResourceError reports an allocation or write that exceeds a limit.
type ResourceError struct {
	Dims  Dims
	What  string // "memory" or "storage"
	Need  int64
	Limit int64
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%v: %s for grid %s needs %d bytes, limit %d", ErrResource, e.What, e.Dims, e.Need, e.Limit)
}

func (e *ResourceError) Unwrap() error { return ErrResource }
