package project

import (
	"context"
	"errors"

	"github.com/Samweli/GEEST/internal/model"
)

// storeIOError tags a persistence failure as model.ErrStoreIO while keeping
// the cause chain intact so transient-error classification (locked database,
// connection reset) still sees the underlying error.
type storeIOError struct {
	err error
}

func (e *storeIOError) Error() string { return e.err.Error() }

func (e *storeIOError) Unwrap() error { return e.err }

func (e *storeIOError) Is(target error) bool { return target == model.ErrStoreIO }

// storeIO wraps err as a store I/O failure. Context cancellation and path
// conflicts pass through untouched so they keep their own kinds.
func storeIO(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, model.ErrPathConflict) {
		return err
	}
	return &storeIOError{err: err}
}
