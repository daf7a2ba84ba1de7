// Package scheduler turns one analysis request into a per-feature job
// graph and drives it to completion on a bounded worker pool. Indicator
// jobs score hierarchy leaves through the evaluator, aggregation jobs
// fold child scores upward, and every state transition is persisted so
// a run can be inspected while it executes.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Samweli/GEEST/internal/aggregate"
	"github.com/Samweli/GEEST/internal/evaluator"
	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
)

// DefaultWorkers bounds job concurrency when the caller does not.
const DefaultWorkers = 4

// terminalFlushTimeout bounds the store writes that record a run's
// terminal state. Those writes use a fresh context so they land even
// when the run context is already cancelled.
const terminalFlushTimeout = 30 * time.Second

// Options tune one run.
type Options struct {
	// Workers caps concurrently executing jobs. Zero or negative means
	// DefaultWorkers.
	Workers int

	// Strict aborts the run on the first job failure instead of
	// recording a warning and carrying the failed node as no-data.
	Strict bool
}

// Reporter receives run lifecycle callbacks. Every callback fires from
// the scheduling goroutine, never concurrently.
type Reporter interface {
	// OnProgress fires after each job reaches a terminal state. The
	// completed count never decreases within a run.
	OnProgress(completed, total int, newlyTerminal []model.Job)

	// OnComplete fires once, with the assembled result, when the run
	// succeeds.
	OnComplete(result *model.Result)

	// OnError fires once when the run ends failed or cancelled.
	OnError(kind model.Kind, message string)
}

// reporter makes a nil Reporter safe to call.
type reporter struct{ r Reporter }

func (w reporter) progress(completed, total int, newly []model.Job) {
	if w.r != nil {
		w.r.OnProgress(completed, total, newly)
	}
}

func (w reporter) complete(res *model.Result) {
	if w.r != nil {
		w.r.OnComplete(res)
	}
}

func (w reporter) fail(kind model.Kind, msg string) {
	if w.r != nil {
		w.r.OnError(kind, msg)
	}
}

// Scheduler runs analysis job graphs against one project.
type Scheduler struct {
	proj *project.Project
	eval *evaluator.Evaluator
}

// New returns a scheduler bound to a project and its evaluator.
func New(proj *project.Project, eval *evaluator.Evaluator) *Scheduler {
	return &Scheduler{proj: proj, eval: eval}
}

// Run executes the project hierarchy against the given features and
// returns the assembled result. Cancelling ctx stops new dispatches,
// lets in-flight jobs finish, marks the rest skipped, and keeps every
// artifact written so far.
func (s *Scheduler) Run(ctx context.Context, features []geometry.Feature, opts Options, rep Reporter) (*model.Result, error) {
	if len(features) == 0 {
		return nil, eris.Wrap(model.ErrGeometry, "scheduler: no features to analyze")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	h := &s.proj.Desc.Hierarchy
	g := buildGraph(features, h)

	now := time.Now().UTC()
	run := &project.RunRecord{
		ID:        uuid.New().String(),
		Status:    model.RunStatusQueued,
		Strict:    opts.Strict,
		Workers:   workers,
		TotalJobs: g.total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w := reporter{rep}
	if err := s.proj.CreateRun(ctx, run); err != nil {
		w.fail(model.KindOf(err), err.Error())
		return nil, err
	}
	if err := s.proj.RecordJobs(ctx, g.records(run.ID, now)); err != nil {
		w.fail(model.KindOf(err), err.Error())
		return nil, err
	}

	r := &runner{
		s:       s,
		h:       h,
		g:       g,
		feat:    make(map[string]geometry.Feature, len(features)),
		order:   features,
		run:     run,
		strict:  opts.Strict,
		rep:     w,
		results: make(chan jobResult, g.total),
		scores:  make(map[string]aggregate.Scores, len(features)),
	}
	for _, f := range features {
		r.feat[f.ID] = f
		r.scores[f.ID] = make(aggregate.Scores)
	}

	zap.L().Info("scheduler: run starting",
		zap.String("run_id", run.ID),
		zap.Int("features", len(features)),
		zap.Int("jobs", g.total),
		zap.Int("workers", workers),
		zap.Bool("strict", opts.Strict),
	)
	return r.loop(ctx)
}

// runner holds the mutable state of one run. Only the control loop
// goroutine touches it; workers communicate through the results channel
// and write artifacts through the store.
type runner struct {
	s      *Scheduler
	h      *model.Hierarchy
	g      *graph
	feat   map[string]geometry.Feature
	order  []geometry.Feature
	run    *project.RunRecord
	strict bool
	rep    reporter

	// results is buffered to the full job count so a worker send never
	// blocks on the control loop.
	results chan jobResult

	scores         map[string]aggregate.Scores
	warnings       []model.Warning
	completed      int
	indicatorsDone int
	superseded     bool
}

// loop dispatches ready jobs up to the worker limit and folds results
// back into the graph until every job is terminal or the run aborts.
func (r *runner) loop(ctx context.Context) (*model.Result, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	pool, poolCtx := errgroup.WithContext(runCtx)
	pool.SetLimit(r.run.Workers)

	var fatal error
	if err := r.setStatus(ctx, model.RunStatusEvaluating); err != nil {
		return nil, r.finishFailed(err)
	}

	ready := r.g.initialReady()
	inFlight := 0

	for {
		for fatal == nil && !r.superseded && runCtx.Err() == nil && len(ready) > 0 && inFlight < r.run.Workers {
			j := ready[0]
			ready = ready[1:]
			if err := r.markRunning(ctx, j); err != nil {
				if err = storeFatal(err); err != nil {
					fatal = err
				}
				cancelRun()
				break
			}
			r.dispatch(poolCtx, pool, j)
			inFlight++
		}

		if inFlight == 0 {
			break
		}

		res := <-r.results
		inFlight--
		next, err := r.apply(ctx, res)
		if err != nil && fatal == nil {
			fatal = err
			cancelRun()
		}
		if r.superseded {
			cancelRun()
		}
		ready = append(ready, next...)
	}

	_ = pool.Wait()

	if fatal == nil && !r.superseded && ctx.Err() == nil && r.completed < r.g.total {
		// A tree-shaped graph cannot stall unless bookkeeping broke.
		fatal = eris.Errorf("scheduler: %d of %d jobs unreachable", r.g.total-r.completed, r.g.total)
	}

	switch {
	case fatal != nil:
		return nil, r.finishFailed(fatal)
	case r.superseded, ctx.Err() != nil:
		return nil, r.finishCancelled(ctx)
	default:
		return r.finishSucceeded()
	}
}

// dispatch hands one ready job to the pool. Aggregation inputs are
// snapshotted here, in the control loop, so workers share nothing but
// the store.
func (r *runner) dispatch(ctx context.Context, pool *errgroup.Group, j *job) {
	mj := r.modelJob(j)
	switch j.kind {
	case model.KindIndicator:
		f := r.feat[j.featureID]
		ind := j.indicator
		pool.Go(func() error {
			r.results <- r.runIndicator(ctx, mj, f, ind)
			return nil
		})
	default:
		children := r.childWeights(j)
		pool.Go(func() error {
			r.results <- r.runAggregate(ctx, mj, children)
			return nil
		})
	}
}

// apply folds one worker result into run state: classify the outcome,
// persist the terminal job row, record scores and warnings, release
// dependents, and report progress.
func (r *runner) apply(ctx context.Context, res jobResult) ([]*job, error) {
	j := r.g.jobs[res.id]
	j.duration = res.duration
	j.err = res.err

	var fatal error
	if res.err == nil {
		j.state = model.JobSucceeded
		j.score = res.score
		j.note = res.note
		j.version = res.version
		r.scores[j.featureID][j.nodeID] = res.score
		if res.note != "" {
			r.warn(j, model.KindDataUnavailable, res.note)
		}
	} else {
		switch kind := model.KindOf(res.err); kind {
		case model.KindCancelled:
			j.state = model.JobSkipped
		case model.KindStoreIO:
			// Retries are exhausted by the time this surfaces.
			j.state = model.JobFailed
			fatal = res.err
		default:
			j.state = model.JobFailed
			if r.strict {
				fatal = res.err
			} else {
				r.scores[j.featureID][j.nodeID] = model.NoDataScore()
				r.warn(j, kind, res.err.Error())
			}
		}
	}

	r.completed++
	if j.kind == model.KindIndicator {
		r.indicatorsDone++
	}
	if err := storeFatal(r.persistJob(ctx, j)); err != nil && fatal == nil {
		fatal = err
	}
	if fatal == nil && r.indicatorsDone == r.g.indicators && r.run.Status == model.RunStatusEvaluating {
		fatal = storeFatal(r.setStatus(ctx, model.RunStatusAggregating))
	}

	// Failed jobs still release dependents in lenient mode: the parent
	// aggregates over the survivors and the failed node reads as no-data.
	var next []*job
	if j.state == model.JobSucceeded || (j.state == model.JobFailed && fatal == nil) {
		next = r.g.release(j)
	}

	r.rep.progress(r.completed, r.g.total, []model.Job{r.modelJob(j)})

	if fatal == nil {
		fatal = storeFatal(r.syncRun(ctx))
	}
	return next, fatal
}

// storeFatal filters persistence errors caused by cancellation of the
// run context; the cancelled branch records final state through a
// fresh context, so those are not run failures.
func storeFatal(err error) error {
	if err == nil || model.KindOf(err) == model.KindCancelled {
		return nil
	}
	return err
}

// syncRun persists progress on the run row and detects supersession: a
// newer run marks this one cancelled through the store, and that is the
// signal to stop dispatching.
func (r *runner) syncRun(ctx context.Context) error {
	cur, err := r.s.proj.GetRun(ctx, r.run.ID)
	if err != nil {
		return err
	}
	if cur != nil && cur.Status == model.RunStatusCancelled {
		r.superseded = true
		r.run.Error = cur.Error
		return nil
	}
	r.run.DoneJobs = r.completed
	r.run.UpdatedAt = time.Now().UTC()
	return r.s.proj.UpdateRun(ctx, r.run)
}

// markRunning persists the running transition before dispatch.
func (r *runner) markRunning(ctx context.Context, j *job) error {
	j.state = model.JobRunning
	return r.persistJob(ctx, j)
}

// persistJob writes j's current state to the index.
func (r *runner) persistJob(ctx context.Context, j *job) error {
	rec := &project.JobRecord{
		RunID:      r.run.ID,
		JobID:      j.id,
		FeatureID:  j.featureID,
		NodeID:     j.nodeID,
		Kind:       j.kind,
		State:      j.state,
		Version:    j.version,
		DurationMs: j.duration.Milliseconds(),
		UpdatedAt:  time.Now().UTC(),
	}
	if j.err != nil {
		rec.Error = j.err.Error()
		rec.ErrorKind = model.KindOf(j.err)
	}
	return r.s.proj.UpdateJob(ctx, rec)
}

func (r *runner) setStatus(ctx context.Context, status model.RunStatus) error {
	r.run.Status = status
	r.run.DoneJobs = r.completed
	r.run.UpdatedAt = time.Now().UTC()
	return r.s.proj.UpdateRun(ctx, r.run)
}

func (r *runner) warn(j *job, kind model.Kind, msg string) {
	r.warnings = append(r.warnings, model.Warning{
		FeatureID: j.featureID,
		NodeID:    j.nodeID,
		Kind:      kind,
		Message:   msg,
	})
}

// flushContext builds the context for terminal-state persistence,
// detached from the possibly-cancelled run context.
func flushContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), terminalFlushTimeout)
}

func (r *runner) finishSucceeded() (*model.Result, error) {
	ctx, cancel := flushContext()
	defer cancel()

	r.run.Status = model.RunStatusSucceeded
	r.run.DoneJobs = r.completed
	r.run.Warnings = r.warnings
	r.run.UpdatedAt = time.Now().UTC()
	if err := r.s.proj.UpdateRun(ctx, r.run); err != nil {
		return nil, r.finishFailed(err)
	}

	result := r.assemble()
	zap.L().Info("scheduler: run succeeded",
		zap.String("run_id", r.run.ID),
		zap.Int("jobs", r.completed),
		zap.Int("warnings", len(r.warnings)),
	)
	r.rep.complete(result)
	return result, nil
}

func (r *runner) finishFailed(cause error) error {
	ctx, cancel := flushContext()
	defer cancel()

	r.skipOpen(ctx)
	r.run.Status = model.RunStatusFailed
	r.run.DoneJobs = r.completed
	r.run.Error = cause.Error()
	r.run.Warnings = r.warnings
	r.run.UpdatedAt = time.Now().UTC()
	if err := r.s.proj.UpdateRun(ctx, r.run); err != nil {
		zap.L().Warn("scheduler: terminal run state not persisted",
			zap.String("run_id", r.run.ID),
			zap.Error(err),
		)
	}

	kind := model.KindOf(cause)
	zap.L().Error("scheduler: run failed",
		zap.String("run_id", r.run.ID),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)
	r.rep.fail(kind, cause.Error())
	return cause
}

func (r *runner) finishCancelled(runCtx context.Context) error {
	ctx, cancel := flushContext()
	defer cancel()

	r.skipOpen(ctx)
	r.run.Status = model.RunStatusCancelled
	r.run.DoneJobs = r.completed
	if r.run.Error == "" {
		r.run.Error = "run cancelled"
	}
	r.run.Warnings = r.warnings
	r.run.UpdatedAt = time.Now().UTC()
	if err := r.s.proj.UpdateRun(ctx, r.run); err != nil {
		zap.L().Warn("scheduler: terminal run state not persisted",
			zap.String("run_id", r.run.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("scheduler: run cancelled",
		zap.String("run_id", r.run.ID),
		zap.Int("done", r.completed),
		zap.Int("total", r.g.total),
		zap.Bool("superseded", r.superseded),
	)
	r.rep.fail(model.KindCancelled, r.run.Error)

	if err := runCtx.Err(); err != nil {
		return eris.Wrap(err, "scheduler: run cancelled")
	}
	return eris.Wrap(context.Canceled, "scheduler: run superseded")
}

// skipOpen marks every non-terminal job skipped. Runs after the pool
// has drained, so nothing else is writing job state. Artifacts already
// written stay in place.
func (r *runner) skipOpen(ctx context.Context) {
	for _, j := range r.g.nonTerminal() {
		j.state = model.JobSkipped
		if err := r.persistJob(ctx, j); err != nil {
			// Store is down; further writes would only repeat the retry cycle.
			zap.L().Warn("scheduler: skipped jobs not persisted",
				zap.String("run_id", r.run.ID),
				zap.String("job_id", j.id),
				zap.Error(err),
			)
			return
		}
	}
}

// assemble builds the run result in input feature order.
func (r *runner) assemble() *model.Result {
	res := &model.Result{
		RunID:    r.run.ID,
		Project:  r.s.proj.Desc.Name,
		Warnings: r.warnings,
	}
	for _, f := range r.order {
		fr := aggregate.Assemble(r.h, f.ID, r.scores[f.ID])
		res.Features = append(res.Features, *fr)
	}
	return res
}
