package project

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
)

// FeatureRecord is one exploded study-area feature as persisted in the
// index: identity, bounding box, and the polygon itself as EWKB.
type FeatureRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Seq       int           `json:"seq"`
	StudyArea string        `json:"study_area,omitempty"`
	BBox      geometry.BBox `json:"bbox"`
	Geom      []byte        `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewFeatureRecord converts a prepared feature into its persisted form.
func NewFeatureRecord(f geometry.Feature) (*FeatureRecord, error) {
	wkb, err := geometry.EncodeWKB(f.Polygon)
	if err != nil {
		return nil, eris.Wrapf(err, "project: encode feature %s", f.ID)
	}
	return &FeatureRecord{
		ID:        f.ID,
		Name:      f.Name,
		Seq:       f.Seq,
		StudyArea: f.StudyArea,
		BBox:      f.BBox,
		Geom:      wkb,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Feature reconstructs the in-memory feature, decoding the stored geometry.
func (r *FeatureRecord) Feature() (geometry.Feature, error) {
	f := geometry.Feature{
		ID:        r.ID,
		Name:      r.Name,
		Seq:       r.Seq,
		StudyArea: r.StudyArea,
		BBox:      r.BBox,
	}
	if len(r.Geom) == 0 {
		return f, nil
	}
	poly, err := geometry.DecodePolygonWKB(r.Geom)
	if err != nil {
		return f, eris.Wrapf(err, "project: decode feature %s", r.ID)
	}
	f.Polygon = poly
	return f, nil
}

// RunRecord is one analysis run as persisted in the index.
type RunRecord struct {
	ID        string          `json:"id"`
	Status    model.RunStatus `json:"status"`
	Strict    bool            `json:"strict"`
	Workers   int             `json:"workers"`
	TotalJobs int             `json:"total_jobs"`
	DoneJobs  int             `json:"done_jobs"`
	Error     string          `json:"error,omitempty"`
	Warnings  []model.Warning `json:"warnings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobRecord is the persisted state of one scheduled job. Failed jobs keep
// their typed error kind here, which is what distinguishes "computation
// failed" from "artifact not yet computed" when a lookup comes back empty.
type JobRecord struct {
	RunID      string         `json:"run_id"`
	JobID      string         `json:"job_id"`
	FeatureID  string         `json:"feature_id"`
	NodeID     string         `json:"node_id"`
	Kind       model.NodeKind `json:"kind"`
	State      model.JobState `json:"state"`
	ErrorKind  model.Kind     `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Version    int            `json:"version,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ArtifactRecord is one persisted score version for a (feature, node) key.
// Versions are append-only; the current artifact is the highest version.
type ArtifactRecord struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	FeatureID string         `json:"feature_id"`
	NodeID    string         `json:"node_id"`
	Kind      model.NodeKind `json:"kind"`
	Version   int            `json:"version"`
	Value     float64        `json:"value"`
	NoData    bool           `json:"no_data,omitempty"`
	Path      string         `json:"path"`
	GridPath  string         `json:"grid_path,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Score returns the artifact's score value.
func (a *ArtifactRecord) Score() model.Score {
	if a.NoData {
		return model.NoDataScore()
	}
	return model.Score{Value: a.Value}
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// IndexStats summarizes what the index holds, for status displays.
type IndexStats struct {
	Features  int `json:"features"`
	Runs      int `json:"runs"`
	Jobs      int `json:"jobs"`
	Artifacts int `json:"artifacts"`
}

// Index is the persistence interface for the project's feature, run, job,
// and artifact bookkeeping. Two implementations exist: SQLiteIndex (default,
// lives inside the project tree) and PostgresIndex (shared deployments).
type Index interface {
	// Features
	ReplaceFeatures(ctx context.Context, features []*FeatureRecord) error
	ListFeatures(ctx context.Context) ([]*FeatureRecord, error)
	GetFeature(ctx context.Context, id string) (*FeatureRecord, error)

	// Runs
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	MarkSuperseded(ctx context.Context, keepRunID string) (int64, error)

	// Jobs
	RecordJobs(ctx context.Context, jobs []*JobRecord) error
	UpdateJob(ctx context.Context, job *JobRecord) error
	ListJobs(ctx context.Context, runID string) ([]*JobRecord, error)

	// Artifacts
	NextArtifactVersion(ctx context.Context, featureID, nodeID string) (int, error)
	InsertArtifact(ctx context.Context, a *ArtifactRecord) error
	CurrentArtifact(ctx context.Context, featureID, nodeID string) (*ArtifactRecord, error)
	ArtifactVersions(ctx context.Context, featureID, nodeID string) ([]*ArtifactRecord, error)
	ListArtifacts(ctx context.Context, featureID string) ([]*ArtifactRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Stats(ctx context.Context) (*IndexStats, error)
	Close() error
}
