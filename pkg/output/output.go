package output

import (
	"context"
	"errors"

	"github.com/ericogr/metriful-to-mqtt/pkg/payload"
)

type Output interface {
	Publish(ctx context.Context, p payload.Payload) error
	Close() error
}

// FatalError marks an output that can no longer be used. Other publish
// errors are transient.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// helper constructors are in subpackages
