package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/db"
	"github.com/Samweli/GEEST/internal/model"
)

// PostgresIndex implements Index using pgxpool, for deployments where
// several analysts share one artifact index outside the project tree.
type PostgresIndex struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot per-job store operations.
var preparedStatements = map[string]string{
	"update_job":       `UPDATE jobs SET state = $1, error_kind = $2, error = $3, version = $4, duration_ms = $5, updated_at = $6 WHERE run_id = $7 AND job_id = $8`,
	"next_version":     `SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE feature_id = $1 AND node_id = $2`,
	"insert_artifact":  `INSERT INTO artifacts (id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"current_artifact": `SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at FROM artifacts WHERE feature_id = $1 AND node_id = $2 ORDER BY version DESC LIMIT 1`,
	"update_run":       `UPDATE runs SET status = $1, total_jobs = $2, done_jobs = $3, error = $4, warnings = $5, updated_at = $6 WHERE id = $7`,
}

// NewPostgres creates a PostgresIndex with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresIndex, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresIndex{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS features (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL,
	study_area TEXT NOT NULL DEFAULT '',
	min_x      DOUBLE PRECISION NOT NULL,
	min_y      DOUBLE PRECISION NOT NULL,
	max_x      DOUBLE PRECISION NOT NULL,
	max_y      DOUBLE PRECISION NOT NULL,
	geom       BYTEA,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'queued',
	strict     BOOLEAN NOT NULL DEFAULT false,
	workers    INTEGER NOT NULL DEFAULT 0,
	total_jobs INTEGER NOT NULL DEFAULT 0,
	done_jobs  INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	warnings   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	job_id      TEXT NOT NULL,
	feature_id  TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'pending',
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	version     INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, job_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	feature_id TEXT NOT NULL,
	node_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	value      DOUBLE PRECISION NOT NULL DEFAULT 0,
	no_data    BOOLEAN NOT NULL DEFAULT false,
	path       TEXT NOT NULL,
	grid_path  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (feature_id, node_id, version)
);

CREATE INDEX IF NOT EXISTS idx_features_seq ON features(seq);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_run_id ON jobs(run_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(run_id, state);
CREATE INDEX IF NOT EXISTS idx_artifacts_key ON artifacts(feature_id, node_id, version DESC);
CREATE INDEX IF NOT EXISTS idx_artifacts_feature ON artifacts(feature_id);
`

func (s *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresIndex) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresIndex) Pool() db.Pool {
	return s.pool
}

var featureColumns = []string{"id", "name", "seq", "study_area", "min_x", "min_y", "max_x", "max_y", "geom", "created_at"}

func (s *PostgresIndex) ReplaceFeatures(ctx context.Context, features []*FeatureRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace features")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM features`); err != nil {
		return eris.Wrap(err, "postgres: clear features")
	}

	rows := make([][]any, 0, len(features))
	for _, f := range features {
		rows = append(rows, []any{
			f.ID, f.Name, f.Seq, f.StudyArea,
			f.BBox.MinX, f.BBox.MinY, f.BBox.MaxX, f.BBox.MaxY,
			f.Geom, f.CreatedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "features", featureColumns, rows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace features")
}

func (s *PostgresIndex) ListFeatures(ctx context.Context) ([]*FeatureRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, seq, study_area, min_x, min_y, max_x, max_y, geom, created_at
		 FROM features ORDER BY seq`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list features")
	}
	defer rows.Close()

	var out []*FeatureRecord
	for rows.Next() {
		f, err := scanPgFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate features")
}

func (s *PostgresIndex) GetFeature(ctx context.Context, id string) (*FeatureRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, seq, study_area, min_x, min_y, max_x, max_y, geom, created_at
		 FROM features WHERE id = $1`,
		id,
	)
	f, err := scanPgFeature(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (s *PostgresIndex) CreateRun(ctx context.Context, run *RunRecord) error {
	warningsJSON, err := warningsValue(run.Warnings)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, strict, workers, total_jobs, done_jobs, error, warnings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, string(run.Status), run.Strict, run.Workers,
		run.TotalJobs, run.DoneJobs, run.Error, warningsJSON,
		run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresIndex) UpdateRun(ctx context.Context, run *RunRecord) error {
	warningsJSON, err := warningsValue(run.Warnings)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, total_jobs = $2, done_jobs = $3, error = $4, warnings = $5, updated_at = $6 WHERE id = $7`,
		string(run.Status), run.TotalJobs, run.DoneJobs, run.Error, warningsJSON,
		run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresIndex) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, strict, workers, total_jobs, done_jobs, error, warnings, created_at, updated_at
		 FROM runs WHERE id = $1`,
		id,
	)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *PostgresIndex) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := `SELECT id, status, strict, workers, total_jobs, done_jobs, error, warnings, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresIndex) MarkSuperseded(ctx context.Context, keepRunID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = now()
		 WHERE id != $3 AND status NOT IN ($4, $5, $6)`,
		string(model.RunStatusCancelled), "superseded by run "+keepRunID,
		keepRunID,
		string(model.RunStatusSucceeded), string(model.RunStatusFailed), string(model.RunStatusCancelled),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark superseded")
	}
	return tag.RowsAffected(), nil
}

var jobColumns = []string{"run_id", "job_id", "feature_id", "node_id", "kind", "state", "error_kind", "error", "version", "duration_ms", "updated_at"}

func (s *PostgresIndex) RecordJobs(ctx context.Context, jobs []*JobRecord) error {
	rows := make([][]any, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []any{
			j.RunID, j.JobID, j.FeatureID, j.NodeID, string(j.Kind), string(j.State),
			string(j.ErrorKind), j.Error, j.Version, j.DurationMs, j.UpdatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "jobs", jobColumns, rows)
	return err
}

func (s *PostgresIndex) UpdateJob(ctx context.Context, job *JobRecord) error {
	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, error_kind = $2, error = $3, version = $4, duration_ms = $5, updated_at = $6
		 WHERE run_id = $7 AND job_id = $8`,
		string(job.State), string(job.ErrorKind), job.Error, job.Version, job.DurationMs,
		job.UpdatedAt, job.RunID, job.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.JobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", job.JobID)
	}
	return nil
}

func (s *PostgresIndex) ListJobs(ctx context.Context, runID string) ([]*JobRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, job_id, feature_id, node_id, kind, state, error_kind, error, version, duration_ms, updated_at
		 FROM jobs WHERE run_id = $1 ORDER BY job_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []*JobRecord
	for rows.Next() {
		var j JobRecord
		var kind, state, errorKind string
		err := rows.Scan(&j.RunID, &j.JobID, &j.FeatureID, &j.NodeID, &kind, &state,
			&errorKind, &j.Error, &j.Version, &j.DurationMs, &j.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		j.Kind = model.NodeKind(kind)
		j.State = model.JobState(state)
		j.ErrorKind = model.Kind(errorKind)
		out = append(out, &j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresIndex) NextArtifactVersion(ctx context.Context, featureID, nodeID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE feature_id = $1 AND node_id = $2`,
		featureID, nodeID,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: next artifact version")
	}
	return next, nil
}

func (s *PostgresIndex) InsertArtifact(ctx context.Context, a *ArtifactRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.RunID, a.FeatureID, a.NodeID, string(a.Kind), a.Version,
		a.Value, a.NoData, a.Path, a.GridPath, a.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert artifact %s/%s v%d", a.FeatureID, a.NodeID, a.Version)
}

func (s *PostgresIndex) CurrentArtifact(ctx context.Context, featureID, nodeID string) (*ArtifactRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at
		 FROM artifacts WHERE feature_id = $1 AND node_id = $2
		 ORDER BY version DESC LIMIT 1`,
		featureID, nodeID,
	)
	a, err := scanPgArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresIndex) ArtifactVersions(ctx context.Context, featureID, nodeID string) ([]*ArtifactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at
		 FROM artifacts WHERE feature_id = $1 AND node_id = $2 ORDER BY version`,
		featureID, nodeID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: artifact versions")
	}
	defer rows.Close()
	return collectPgArtifacts(rows)
}

func (s *PostgresIndex) ListArtifacts(ctx context.Context, featureID string) ([]*ArtifactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at
		 FROM artifacts WHERE feature_id = $1 ORDER BY node_id, version`,
		featureID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()
	return collectPgArtifacts(rows)
}

func (s *PostgresIndex) Stats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM features),
		        (SELECT COUNT(*) FROM runs),
		        (SELECT COUNT(*) FROM jobs),
		        (SELECT COUNT(*) FROM artifacts)`,
	).Scan(&stats.Features, &stats.Runs, &stats.Jobs, &stats.Artifacts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return stats, nil
}

// scanners

func scanPgFeature(row scannable) (*FeatureRecord, error) {
	var f FeatureRecord
	err := row.Scan(&f.ID, &f.Name, &f.Seq, &f.StudyArea,
		&f.BBox.MinX, &f.BBox.MinY, &f.BBox.MaxX, &f.BBox.MaxY,
		&f.Geom, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan feature")
	}
	return &f, nil
}

func scanPgRun(row scannable) (*RunRecord, error) {
	var r RunRecord
	var status string
	var warningsJSON []byte

	err := row.Scan(&r.ID, &status, &r.Strict, &r.Workers, &r.TotalJobs, &r.DoneJobs,
		&r.Error, &warningsJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	r.Status = model.RunStatus(status)
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &r.Warnings); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal warnings")
		}
	}
	return &r, nil
}

func scanPgArtifact(row scannable) (*ArtifactRecord, error) {
	var a ArtifactRecord
	var kind string

	err := row.Scan(&a.ID, &a.RunID, &a.FeatureID, &a.NodeID, &kind, &a.Version,
		&a.Value, &a.NoData, &a.Path, &a.GridPath, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan artifact")
	}

	a.Kind = model.NodeKind(kind)
	return &a, nil
}

func collectPgArtifacts(rows pgx.Rows) ([]*ArtifactRecord, error) {
	var out []*ArtifactRecord
	for rows.Next() {
		a, err := scanPgArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate artifacts")
}

// warningsValue marshals warnings for a JSONB column, nil when empty.
func warningsValue(ws []model.Warning) (any, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal warnings")
	}
	return data, nil
}

