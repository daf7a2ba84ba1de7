package model

import (
	"context"
	"errors"
)

// Kind classifies terminal analysis errors for reporting to the host.
type Kind string

const (
	KindGeometry        Kind = "geometry"
	KindDataUnavailable Kind = "data_unavailable"
	KindEvaluation      Kind = "evaluation"
	KindStoreIO         Kind = "store_io"
	KindPathConflict    Kind = "path_conflict"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

// Sentinel errors for the engine's typed failure classes. Call sites wrap
// these with eris so both the kind and the context survive the chain.
var (
	// ErrGeometry marks an invalid or empty study area. Fatal to the run,
	// raised before any job is scheduled.
	ErrGeometry = errors.New("invalid study area geometry")

	// ErrDataUnavailable marks a missing source raster/vector for an
	// indicator. Resolved to no-data, never fatal.
	ErrDataUnavailable = errors.New("source data unavailable")

	// ErrEvaluation marks an evaluation method failure during computation.
	// The job fails; the run continues unless strict mode is on.
	ErrEvaluation = errors.New("indicator evaluation failed")

	// ErrStoreIO marks a persistence failure. Retried with backoff, then
	// fatal to the run if persistent.
	ErrStoreIO = errors.New("project store io failure")

	// ErrPathConflict marks a project-creation collision: the root path
	// already holds something that is not this project.
	ErrPathConflict = errors.New("project path conflict")
)

// KindOf maps an error chain to its reporting kind. Unrecognized errors
// report as internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGeometry):
		return KindGeometry
	case errors.Is(err, ErrDataUnavailable):
		return KindDataUnavailable
	case errors.Is(err, ErrEvaluation):
		return KindEvaluation
	case errors.Is(err, ErrStoreIO):
		return KindStoreIO
	case errors.Is(err, ErrPathConflict):
		return KindPathConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
