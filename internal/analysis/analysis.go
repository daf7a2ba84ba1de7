// Package analysis is the workflow entry point the CLI and HTTP
// surfaces call: it prepares the study-area geometry, persists the
// feature set, and hands the job graph to the scheduler.
package analysis

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/evaluator"
	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
	"github.com/Samweli/GEEST/internal/scheduler"
)

// Options tune one analysis run.
type Options struct {
	// NameField is the study-area attribute carrying feature names.
	NameField string

	Workers int
	Strict  bool

	// Reporter receives scheduler progress callbacks. Optional.
	Reporter scheduler.Reporter
}

// Phase records the timing of one façade phase.
type Phase struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Summary is the outcome of one analysis run: the assembled result plus
// the phase timings that produced it.
type Summary struct {
	Result   *model.Result `json:"result,omitempty"`
	Features int           `json:"features"`
	Phases   []Phase       `json:"phases"`
}

// Analysis orchestrates preparation and scheduling for one project.
type Analysis struct {
	proj  *project.Project
	cap   gis.Capability
	sched *scheduler.Scheduler
}

// New creates an Analysis with all dependencies. The capability feeds
// both study-area reprojection and indicator evaluation.
func New(proj *project.Project, capability gis.Capability, eval *evaluator.Evaluator) *Analysis {
	return &Analysis{
		proj:  proj,
		cap:   capability,
		sched: scheduler.New(proj, eval),
	}
}

// Run executes the full analysis workflow: explode the study area into
// features, persist them, then evaluate and aggregate the hierarchy
// over every feature. The returned summary carries phase timings even
// when a phase fails.
func (a *Analysis) Run(ctx context.Context, opts Options) (*Summary, error) {
	log := zap.L().With(zap.String("project", a.proj.Desc.Name))
	log.Info("analysis: starting run")

	summary := &Summary{}

	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		duration := time.Since(start).Milliseconds()

		phase := Phase{Name: name, DurationMs: duration}
		if err != nil {
			phase.Error = err.Error()
			log.Error("analysis: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(err),
			)
		} else {
			log.Info("analysis: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		summary.Phases = append(summary.Phases, phase)
		return err
	}

	var features []geometry.Feature
	if err := trackPhase("prepare", func() error {
		var prepErr error
		features, prepErr = a.prepare(ctx, opts.NameField)
		return prepErr
	}); err != nil {
		return summary, err
	}
	summary.Features = len(features)

	var result *model.Result
	if err := trackPhase("schedule", func() error {
		var runErr error
		result, runErr = a.sched.Run(ctx, features, scheduler.Options{
			Workers: opts.Workers,
			Strict:  opts.Strict,
		}, opts.Reporter)
		return runErr
	}); err != nil {
		return summary, err
	}
	summary.Result = result

	log.Info("analysis: run complete",
		zap.String("run_id", result.RunID),
		zap.Int("features", summary.Features),
		zap.Int("warnings", len(result.Warnings)),
	)
	return summary, nil
}

// prepare explodes the imported study area into single-part features
// and persists them. A project whose container is gone falls back to
// the feature set persisted by an earlier import, so analyses keep
// working after the source shapefile moves on.
func (a *Analysis) prepare(ctx context.Context, nameField string) ([]geometry.Feature, error) {
	if _, err := os.Stat(a.proj.StudyAreaPath()); err != nil {
		feats, loadErr := a.proj.Features(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if len(feats) > 0 {
			zap.L().Debug("analysis: using persisted features", zap.Int("count", len(feats)))
			return feats, nil
		}
		return nil, eris.Wrap(model.ErrGeometry, "analysis: project has no study area")
	}

	sa, err := a.proj.ReadStudyArea(nameField)
	if err != nil {
		return nil, err
	}
	prep, err := geometry.PrepareInCRS(ctx, sa, a.proj.Desc.CRS, a.cap)
	if err != nil {
		return nil, err
	}
	if err := a.proj.PutFeatures(ctx, prep); err != nil {
		return nil, err
	}
	return prep.Features, nil
}
