package analysis

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/aggregate"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
)

// Assemble reconstructs a run's result from the store: for every
// persisted feature, the scores the run wrote, mirrored into the
// hierarchy tree. Nodes the run never scored read as no-data, which is
// what distinguishes "not computed" from a zero score. Features with no
// artifacts under the run are left out entirely; a run that wrote
// nothing is an error.
func Assemble(ctx context.Context, proj *project.Project, runID string) (*model.Result, error) {
	run, err := proj.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, eris.Errorf("analysis: no run %s", runID)
	}

	feats, err := proj.Features(ctx)
	if err != nil {
		return nil, err
	}

	h := &proj.Desc.Hierarchy
	res := &model.Result{
		RunID:    run.ID,
		Project:  proj.Desc.Name,
		Warnings: run.Warnings,
	}

	var scored int
	for _, f := range feats {
		arts, err := proj.FeatureArtifacts(ctx, f.ID)
		if err != nil {
			return nil, err
		}

		// Ascending version order, so the run's latest write per node
		// wins.
		scores := make(aggregate.Scores)
		for _, a := range arts {
			if a.RunID != run.ID {
				continue
			}
			scores[a.NodeID] = a.Score()
		}
		if len(scores) == 0 {
			continue
		}
		scored += len(scores)
		res.Features = append(res.Features, *aggregate.Assemble(h, f.ID, scores))
	}

	if scored == 0 {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "analysis: run %s has no artifacts", run.ID)
	}
	return res, nil
}
