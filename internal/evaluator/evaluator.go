// Package evaluator computes normalized indicator scores for single
// features through the GIS capability. Each evaluation method maps its
// raw measurement onto the shared [0,1] scale or resolves to the
// no-data marker, so heterogeneous indicators can be aggregated
// uniformly further up the hierarchy.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
)

// DefaultCellSizeMeters is the rasterization cell size used when
// neither the indicator nor the evaluator config names one.
const DefaultCellSizeMeters = 100

// DefaultMaxDistanceMeters bounds the facility access decay when the
// indicator does not configure a horizon.
const DefaultMaxDistanceMeters = 5000

// Config tunes evaluation behavior shared across indicators.
type Config struct {
	// CellSizeMeters is the default rasterization cell size. Zero
	// selects DefaultCellSizeMeters.
	CellSizeMeters float64

	// Resolve maps an indicator source reference to a loadable path.
	// Nil passes references through unchanged.
	Resolve func(ref string) string
}

// Outcome is the result of evaluating one indicator for one feature:
// the score, an optional score grid for artifact export, and a note
// explaining a no-data resolution.
type Outcome struct {
	Score model.Score
	Grid  *gis.Grid
	Note  string
}

// Evaluator scores indicators against a GIS capability. Evaluation is
// deterministic: the same feature, indicator, and sources always
// produce the same score.
type Evaluator struct {
	cap gis.Capability
	cfg Config
}

// New returns an Evaluator over the given capability.
func New(capability gis.Capability, cfg Config) *Evaluator {
	if cfg.CellSizeMeters <= 0 {
		cfg.CellSizeMeters = DefaultCellSizeMeters
	}
	return &Evaluator{cap: capability, cfg: cfg}
}

// Evaluate computes the indicator score for one feature. Missing or
// non-intersecting source data resolves to a no-data outcome, never an
// error; method failures wrap model.ErrEvaluation and leave the run
// policy to the caller.
func (e *Evaluator) Evaluate(ctx context.Context, f geometry.Feature, ind model.Indicator) (*Outcome, error) {
	if f.Polygon == nil {
		return nil, eris.Wrapf(model.ErrEvaluation, "evaluator: feature %s has no geometry", f.ID)
	}

	var (
		out *Outcome
		err error
	)
	switch ind.Method {
	case model.MethodPointDensityBuffer:
		out, err = e.pointDensityBuffer(ctx, f, ind)
	case model.MethodRasterSampleMean:
		out, err = e.rasterSampleMean(ctx, f, ind)
	case model.MethodClassifiedLookup:
		out, err = e.classifiedLookup(ctx, f, ind)
	case model.MethodFacilityEuclidean:
		out, err = e.facilityEuclidean(ctx, f, ind)
	default:
		return nil, eris.Wrapf(model.ErrEvaluation, "evaluator: unknown method %q", ind.Method)
	}
	if err != nil {
		return nil, err
	}

	if out.Score.NoData {
		zap.L().Debug("evaluator: indicator resolved to no-data",
			zap.String("feature", f.ID),
			zap.String("indicator", ind.ID),
			zap.String("note", out.Note),
		)
	}
	return out, nil
}

// source resolves the indicator's source reference through the
// configured resolver.
func (e *Evaluator) source(ind model.Indicator) string {
	if e.cfg.Resolve == nil || ind.Source == "" {
		return ind.Source
	}
	return e.cfg.Resolve(ind.Source)
}

// cellSize returns the rasterization cell size for the indicator, in
// meters.
func (e *Evaluator) cellSize(ind model.Indicator) float64 {
	if ind.Params.CellSizeMeters > 0 {
		return ind.Params.CellSizeMeters
	}
	return e.cfg.CellSizeMeters
}

// noData builds a no-data outcome carrying the reason for the run's
// warning list.
func noData(format string, args ...any) *Outcome {
	return &Outcome{Score: model.NoDataScore(), Note: fmt.Sprintf(format, args...)}
}

// evalErr folds a capability failure into the method error policy:
// cancellation passes through untouched, anything else becomes an
// evaluation failure.
func evalErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(err, "evaluator: %s", op)
	}
	return eris.Wrapf(model.ErrEvaluation, "evaluator: %s: %v", op, err)
}
