package scheduler

import (
	"time"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
)

// job is one schedulable unit bound to a (feature, hierarchy node)
// pair, together with its dependency bookkeeping and outcome.
type job struct {
	id        string
	featureID string
	nodeID    string
	kind      model.NodeKind

	// Exactly one of these is meaningful, selected by kind. Overall
	// jobs aggregate the whole hierarchy and carry none.
	indicator model.Indicator
	factor    model.Factor
	dimension model.Dimension

	deps       []string
	dependents []string
	remaining  int

	state    model.JobState
	score    model.Score
	note     string
	err      error
	version  int
	duration time.Duration
}

// graph is the per-run job set in deterministic build order: for each
// feature, its indicator jobs, then factor, dimension, and overall
// jobs. Identical analyses enumerate identical graphs.
type graph struct {
	jobs       map[string]*job
	order      []string
	total      int
	indicators int
}

// buildGraph enumerates one job per feature and hierarchy node plus a
// per-feature overall job, wiring the dependency edges: indicators
// have none, factors wait on their indicators, dimensions on their
// factors, and overall on every dimension of the same feature.
func buildGraph(features []geometry.Feature, h *model.Hierarchy) *graph {
	g := &graph{jobs: make(map[string]*job)}

	for _, f := range features {
		var dimensionIDs []string
		for _, d := range h.Dimensions {
			var factorIDs []string
			for _, fac := range d.Factors {
				var indicatorIDs []string
				for _, ind := range fac.Indicators {
					j := &job{
						id:        model.JobID(f.ID, ind.ID),
						featureID: f.ID,
						nodeID:    ind.ID,
						kind:      model.KindIndicator,
						indicator: ind,
						state:     model.JobPending,
					}
					g.add(j)
					indicatorIDs = append(indicatorIDs, j.id)
				}

				fj := &job{
					id:        model.JobID(f.ID, fac.ID),
					featureID: f.ID,
					nodeID:    fac.ID,
					kind:      model.KindFactor,
					factor:    fac,
					deps:      indicatorIDs,
					state:     model.JobPending,
				}
				g.add(fj)
				factorIDs = append(factorIDs, fj.id)
			}

			dj := &job{
				id:        model.JobID(f.ID, d.ID),
				featureID: f.ID,
				nodeID:    d.ID,
				kind:      model.KindDimension,
				dimension: d,
				deps:      factorIDs,
				state:     model.JobPending,
			}
			g.add(dj)
			dimensionIDs = append(dimensionIDs, dj.id)
		}

		oj := &job{
			id:        model.JobID(f.ID, model.OverallNodeID),
			featureID: f.ID,
			nodeID:    model.OverallNodeID,
			kind:      model.KindOverall,
			deps:      dimensionIDs,
			state:     model.JobPending,
		}
		g.add(oj)
	}

	for _, id := range g.order {
		j := g.jobs[id]
		j.remaining = len(j.deps)
		for _, dep := range j.deps {
			g.jobs[dep].dependents = append(g.jobs[dep].dependents, id)
		}
	}
	return g
}

func (g *graph) add(j *job) {
	g.jobs[j.id] = j
	g.order = append(g.order, j.id)
	g.total++
	if j.kind == model.KindIndicator {
		g.indicators++
	}
}

// initialReady marks and returns the jobs with no dependencies, in
// build order.
func (g *graph) initialReady() []*job {
	var ready []*job
	for _, id := range g.order {
		j := g.jobs[id]
		if j.remaining == 0 {
			j.state = model.JobReady
			ready = append(ready, j)
		}
	}
	return ready
}

// release decrements the dependency count of j's dependents and
// returns those that became ready.
func (g *graph) release(j *job) []*job {
	var ready []*job
	for _, id := range j.dependents {
		dep := g.jobs[id]
		dep.remaining--
		if dep.remaining == 0 && dep.state == model.JobPending {
			dep.state = model.JobReady
			ready = append(ready, dep)
		}
	}
	return ready
}

// nonTerminal returns every job not yet in a terminal state, in build
// order.
func (g *graph) nonTerminal() []*job {
	var open []*job
	for _, id := range g.order {
		if j := g.jobs[id]; !j.state.Terminal() {
			open = append(open, j)
		}
	}
	return open
}

// records builds the initial pending job rows persisted when the run
// starts.
func (g *graph) records(runID string, now time.Time) []*project.JobRecord {
	recs := make([]*project.JobRecord, 0, g.total)
	for _, id := range g.order {
		j := g.jobs[id]
		recs = append(recs, &project.JobRecord{
			RunID:     runID,
			JobID:     j.id,
			FeatureID: j.featureID,
			NodeID:    j.nodeID,
			Kind:      j.kind,
			State:     model.JobPending,
			UpdatedAt: now,
		})
	}
	return recs
}
