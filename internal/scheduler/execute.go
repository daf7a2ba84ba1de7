package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/aggregate"
	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
)

// jobResult is what a worker sends back to the control loop. Exactly
// one result is produced per dispatched job.
type jobResult struct {
	id       string
	score    model.Score
	note     string
	version  int
	err      error
	duration time.Duration
}

// runIndicator scores one hierarchy leaf against one feature and
// persists the outcome, no-data included, as a versioned artifact.
func (r *runner) runIndicator(ctx context.Context, mj model.Job, f geometry.Feature, ind model.Indicator) jobResult {
	start := time.Now()
	res := jobResult{id: mj.ID}

	if err := ctx.Err(); err != nil {
		res.err = eris.Wrap(err, "scheduler: job dispatched after cancellation")
		return res
	}

	out, err := r.s.eval.Evaluate(ctx, f, ind)
	if err != nil {
		res.err = err
		res.duration = time.Since(start)
		return res
	}

	rec, err := r.s.proj.PutArtifact(ctx, mj, out.Score, out.Grid)
	if err != nil {
		res.err = err
	} else {
		res.score = out.Score
		res.note = out.Note
		res.version = rec.Version
	}
	res.duration = time.Since(start)
	return res
}

// runAggregate folds the child scores snapshotted at dispatch time
// into one weighted score and persists it.
func (r *runner) runAggregate(ctx context.Context, mj model.Job, children []aggregate.Weighted) jobResult {
	start := time.Now()
	res := jobResult{id: mj.ID}

	if err := ctx.Err(); err != nil {
		res.err = eris.Wrap(err, "scheduler: job dispatched after cancellation")
		return res
	}

	score := aggregate.Combine(children)
	rec, err := r.s.proj.PutArtifact(ctx, mj, score, nil)
	if err != nil {
		res.err = err
	} else {
		res.score = score
		res.version = rec.Version
	}
	res.duration = time.Since(start)
	return res
}

// childWeights snapshots the weighted child scores an aggregation job
// consumes. Called from the control loop before dispatch, when every
// dependency is already terminal, so workers never touch shared score
// state.
func (r *runner) childWeights(j *job) []aggregate.Weighted {
	scores := r.scores[j.featureID]
	switch j.kind {
	case model.KindFactor:
		return aggregate.FactorChildren(j.factor, scores)
	case model.KindDimension:
		return aggregate.DimensionChildren(j.dimension, scores)
	default:
		return aggregate.OverallChildren(r.h, scores)
	}
}

// modelJob projects the scheduler-internal job onto the wire model
// used by the artifact store and progress callbacks.
func (r *runner) modelJob(j *job) model.Job {
	mj := model.Job{
		ID:         j.id,
		RunID:      r.run.ID,
		FeatureID:  j.featureID,
		NodeID:     j.nodeID,
		Kind:       j.kind,
		State:      j.state,
		DependsOn:  j.deps,
		DurationMs: j.duration.Milliseconds(),
	}
	if j.state == model.JobSucceeded {
		score := j.score
		mj.Score = &score
	}
	if j.err != nil {
		mj.Error = j.err.Error()
		mj.ErrorKind = model.KindOf(j.err)
	}
	return mj
}
