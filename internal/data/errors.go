package data

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a point that cannot be persisted (missing or unparseable timestamp or key).
	ErrValidation = errors.New("invalid point")
	// ErrUnknownAdapter is returned when a source names an adapter class nobody registered.
	ErrUnknownAdapter = errors.New("unknown adapter")
	// ErrDuplicateSource is returned when two adapters claim the same source name.
	ErrDuplicateSource = errors.New("duplicate source")
)

// FetchError reports a network or HTTP failure while calling an upstream.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransformError reports an upstream response whose shape is not what the adapter expects.
type TransformError struct {
	Source string
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %s", e.Source, e.Reason)
}
