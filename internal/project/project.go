package project

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/resilience"
)

// Options selects the index backend and retry policy for a project handle.
// The zero value gives the sqlite index inside the project tree with the
// default store retry policy.
type Options struct {
	Driver     string // "sqlite" (default) or "postgres"
	ConnString string // postgres connection string
	Pool       *PoolConfig
	Retry      *resilience.RetryConfig
}

// Project is a handle on one on-disk project: its descriptor, study-area
// container, artifact payloads, and the index that tracks them. All index
// access goes through bounded store retries; writes to the same
// (feature, node) key are serialized.
type Project struct {
	Root string
	Desc *Descriptor

	idx   Index
	retry resilience.RetryConfig
	keys  keyedMutex
}

// Create initializes a new project at rootPath. It fails with
// model.ErrPathConflict when rootPath already holds something that is not
// this project; re-creating an existing project with the same name reopens
// it unchanged.
func Create(ctx context.Context, name, rootPath string, h model.Hierarchy, opts *Options) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, eris.New("project: empty project name")
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	existing, err := probeRoot(rootPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Name != name {
			return nil, eris.Wrapf(model.ErrPathConflict,
				"project: %s already holds project %q, not %q", rootPath, existing.Name, name)
		}
		zap.L().Info("project: reopening existing project",
			zap.String("name", name),
			zap.String("root", rootPath),
		)
		return Open(ctx, rootPath, opts)
	}

	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, storeIO(eris.Wrapf(err, "project: create root %s", rootPath))
	}

	now := time.Now().UTC()
	desc := &Descriptor{
		Schema:    descriptorSchema,
		Name:      name,
		CRS:       "EPSG:4326",
		Hierarchy: h,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := writeDescriptor(descriptorPath(rootPath), desc); err != nil {
		return nil, err
	}

	p, err := open(ctx, rootPath, desc, opts)
	if err != nil {
		return nil, err
	}
	zap.L().Info("project: created",
		zap.String("name", name),
		zap.String("root", rootPath),
	)
	return p, nil
}

// Open loads the project at rootPath.
func Open(ctx context.Context, rootPath string, opts *Options) (*Project, error) {
	desc, err := probeRoot(rootPath)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, eris.Errorf("project: no project at %s", rootPath)
	}
	return open(ctx, rootPath, desc, opts)
}

func open(ctx context.Context, rootPath string, desc *Descriptor, opts *Options) (*Project, error) {
	if opts == nil {
		opts = &Options{}
	}

	var idx Index
	var err error
	switch opts.Driver {
	case "", "sqlite":
		idx, err = NewSQLite(filepath.Join(rootPath, indexFileName))
	case "postgres":
		idx, err = NewPostgres(ctx, opts.ConnString, opts.Pool)
	default:
		return nil, eris.Errorf("project: unknown index driver %q", opts.Driver)
	}
	if err != nil {
		return nil, storeIO(err)
	}
	if err := idx.Migrate(ctx); err != nil {
		idx.Close()
		return nil, storeIO(err)
	}

	retry := resilience.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	return &Project{
		Root:  rootPath,
		Desc:  desc,
		idx:   idx,
		retry: retry,
	}, nil
}

// probeRoot inspects rootPath and returns its descriptor when it holds a
// project, nil when it is absent or an empty directory, and
// model.ErrPathConflict when it holds anything else.
func probeRoot(rootPath string) (*Descriptor, error) {
	info, err := os.Stat(rootPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeIO(eris.Wrapf(err, "project: stat %s", rootPath))
	}
	if !info.IsDir() {
		return nil, eris.Wrapf(model.ErrPathConflict, "project: %s is a file", rootPath)
	}

	if _, err := os.Stat(descriptorPath(rootPath)); err == nil {
		return readDescriptor(descriptorPath(rootPath))
	}

	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, storeIO(eris.Wrapf(err, "project: read dir %s", rootPath))
	}
	if len(entries) > 0 {
		return nil, eris.Wrapf(model.ErrPathConflict,
			"project: %s is not empty and holds no project descriptor", rootPath)
	}
	return nil, nil
}

// Close releases the index handle.
func (p *Project) Close() error {
	return p.idx.Close()
}

// Index exposes the underlying index, mainly for status displays.
func (p *Project) Index() Index {
	return p.idx
}

// Save persists descriptor edits. Never called during a run.
func (p *Project) Save() error {
	return writeDescriptor(descriptorPath(p.Root), p.Desc)
}

// StudyAreaPath returns the study-area container location.
func (p *Project) StudyAreaPath() string {
	return filepath.Join(p.Root, StudyAreaName)
}

// SourcesDir returns the directory downloaded indicator sources land in.
func (p *Project) SourcesDir() string {
	return filepath.Join(p.Root, sourcesDirName)
}

// ResolveSource maps an indicator source reference to a concrete path. A
// reference listed in the descriptor's Sources table resolves through it;
// anything else is treated as a path, made absolute against the project
// root when relative.
func (p *Project) ResolveSource(ref string) string {
	if mapped, ok := p.Desc.Sources[ref]; ok {
		ref = mapped
	}
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(p.Root, ref)
}

// ImportStudyArea copies a shapefile (with its .shx/.dbf/.prj sidecars) into
// the project as the study-area container, replacing any prior import.
func (p *Project) ImportStudyArea(srcShp string) error {
	if _, err := os.Stat(srcShp); err != nil {
		return eris.Wrapf(err, "project: study area source %s", srcShp)
	}

	srcBase := strings.TrimSuffix(srcShp, filepath.Ext(srcShp))
	dstBase := strings.TrimSuffix(p.StudyAreaPath(), ".shp")
	copied := 0
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		src := srcBase + ext
		if _, err := os.Stat(src); err != nil {
			if ext == ".shp" || ext == ".shx" || ext == ".dbf" {
				return eris.Wrapf(err, "project: study area sidecar %s", src)
			}
			continue
		}
		if err := copyFile(src, dstBase+ext); err != nil {
			return err
		}
		copied++
	}

	p.Desc.StudyArea = StudyAreaName
	if err := p.Save(); err != nil {
		return err
	}
	zap.L().Info("project: imported study area",
		zap.String("source", srcShp),
		zap.Int("files", copied),
	)
	return nil
}

// ReadStudyArea loads the project's study-area geometries.
func (p *Project) ReadStudyArea(nameField string) (*geometry.StudyArea, error) {
	return geometry.ReadStudyArea(p.StudyAreaPath(), nameField)
}

// PutFeatures replaces the feature set with the given prepared features.
func (p *Project) PutFeatures(ctx context.Context, prep *geometry.Prepared) error {
	records := make([]*FeatureRecord, 0, len(prep.Features))
	for _, f := range prep.Features {
		rec, err := NewFeatureRecord(f)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	err := resilience.DoStore(ctx, p.retry, "replace_features", func(ctx context.Context) error {
		return p.idx.ReplaceFeatures(ctx, records)
	})
	return storeIO(err)
}

// Features loads the persisted feature set in sequence order.
func (p *Project) Features(ctx context.Context) ([]geometry.Feature, error) {
	records, err := resilience.DoVal(ctx, p.storeRetry("list_features"), func(ctx context.Context) ([]*FeatureRecord, error) {
		return p.idx.ListFeatures(ctx)
	})
	if err != nil {
		return nil, storeIO(err)
	}

	features := make([]geometry.Feature, 0, len(records))
	for _, rec := range records {
		f, err := rec.Feature()
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

// CreateRun inserts a run record and marks any prior in-flight runs
// superseded, so the last-requested run wins.
func (p *Project) CreateRun(ctx context.Context, run *RunRecord) error {
	err := resilience.DoStore(ctx, p.retry, "create_run", func(ctx context.Context) error {
		return p.idx.CreateRun(ctx, run)
	})
	if err != nil {
		return storeIO(err)
	}

	n, err := resilience.DoVal(ctx, p.storeRetry("mark_superseded"), func(ctx context.Context) (int64, error) {
		return p.idx.MarkSuperseded(ctx, run.ID)
	})
	if err != nil {
		return storeIO(err)
	}
	if n > 0 {
		zap.L().Info("project: superseded stale runs",
			zap.String("run_id", run.ID),
			zap.Int64("superseded", n),
		)
	}
	return nil
}

// UpdateRun persists run status/progress changes.
func (p *Project) UpdateRun(ctx context.Context, run *RunRecord) error {
	err := resilience.DoStore(ctx, p.retry, "update_run", func(ctx context.Context) error {
		return p.idx.UpdateRun(ctx, run)
	})
	return storeIO(err)
}

// GetRun returns a run record, or nil when absent.
func (p *Project) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run, err := resilience.DoVal(ctx, p.storeRetry("get_run"), func(ctx context.Context) (*RunRecord, error) {
		return p.idx.GetRun(ctx, id)
	})
	return run, storeIO(err)
}

// ListRuns returns run records, newest first.
func (p *Project) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	runs, err := resilience.DoVal(ctx, p.storeRetry("list_runs"), func(ctx context.Context) ([]*RunRecord, error) {
		return p.idx.ListRuns(ctx, filter)
	})
	return runs, storeIO(err)
}

// RecordJobs persists the initial job set for a run.
func (p *Project) RecordJobs(ctx context.Context, jobs []*JobRecord) error {
	err := resilience.DoStore(ctx, p.retry, "record_jobs", func(ctx context.Context) error {
		return p.idx.RecordJobs(ctx, jobs)
	})
	return storeIO(err)
}

// UpdateJob persists a job state transition.
func (p *Project) UpdateJob(ctx context.Context, job *JobRecord) error {
	err := resilience.DoStore(ctx, p.retry, "update_job", func(ctx context.Context) error {
		return p.idx.UpdateJob(ctx, job)
	})
	return storeIO(err)
}

// ListJobs returns the persisted jobs of a run.
func (p *Project) ListJobs(ctx context.Context, runID string) ([]*JobRecord, error) {
	jobs, err := resilience.DoVal(ctx, p.storeRetry("list_jobs"), func(ctx context.Context) ([]*JobRecord, error) {
		return p.idx.ListJobs(ctx, runID)
	})
	return jobs, storeIO(err)
}

// GetArtifact returns the current (highest-version) artifact for a
// (feature, node) key, or nil when none has been computed yet. Absence is a
// normal state, distinct from a recorded job failure.
func (p *Project) GetArtifact(ctx context.Context, featureID, nodeID string) (*ArtifactRecord, error) {
	a, err := resilience.DoVal(ctx, p.storeRetry("get_artifact"), func(ctx context.Context) (*ArtifactRecord, error) {
		return p.idx.CurrentArtifact(ctx, featureID, nodeID)
	})
	return a, storeIO(err)
}

// FeatureArtifacts returns every artifact version recorded for a
// feature, ordered by node and ascending version.
func (p *Project) FeatureArtifacts(ctx context.Context, featureID string) ([]*ArtifactRecord, error) {
	arts, err := resilience.DoVal(ctx, p.storeRetry("feature_artifacts"), func(ctx context.Context) ([]*ArtifactRecord, error) {
		return p.idx.ListArtifacts(ctx, featureID)
	})
	return arts, storeIO(err)
}

// Stats summarizes the index contents.
func (p *Project) Stats(ctx context.Context) (*IndexStats, error) {
	stats, err := resilience.DoVal(ctx, p.storeRetry("stats"), func(ctx context.Context) (*IndexStats, error) {
		return p.idx.Stats(ctx)
	})
	return stats, storeIO(err)
}

// storeRetry builds the retry config for value-returning index reads.
func (p *Project) storeRetry(op string) resilience.RetryConfig {
	cfg := p.retry
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = resilience.IsRetryableStore
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("store", op)
	}
	return cfg
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "project: open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return storeIO(eris.Wrapf(err, "project: create %s", dst))
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return storeIO(eris.Wrapf(err, "project: copy %s", dst))
	}
	return nil
}
