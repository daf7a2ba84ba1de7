package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/Samweli/GEEST/internal/model"
)

// SQLiteIndex implements Index using modernc.org/sqlite.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteIndex{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS features (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL,
	study_area TEXT NOT NULL DEFAULT '',
	min_x      REAL NOT NULL,
	min_y      REAL NOT NULL,
	max_x      REAL NOT NULL,
	max_y      REAL NOT NULL,
	geom       BLOB,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'queued',
	strict     INTEGER NOT NULL DEFAULT 0,
	workers    INTEGER NOT NULL DEFAULT 0,
	total_jobs INTEGER NOT NULL DEFAULT 0,
	done_jobs  INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	warnings   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
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
	duration_ms INTEGER NOT NULL DEFAULT 0,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, job_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	feature_id TEXT NOT NULL,
	node_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	value      REAL NOT NULL DEFAULT 0,
	no_data    INTEGER NOT NULL DEFAULT 0,
	path       TEXT NOT NULL,
	grid_path  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (feature_id, node_id, version)
);

CREATE INDEX IF NOT EXISTS idx_features_seq ON features(seq);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_run_id ON jobs(run_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(run_id, state);
CREATE INDEX IF NOT EXISTS idx_artifacts_key ON artifacts(feature_id, node_id, version DESC);
CREATE INDEX IF NOT EXISTS idx_artifacts_feature ON artifacts(feature_id);
`

func (s *SQLiteIndex) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) ReplaceFeatures(ctx context.Context, features []*FeatureRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace features")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM features`); err != nil {
		return eris.Wrap(err, "sqlite: clear features")
	}
	for _, f := range features {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO features (id, name, seq, study_area, min_x, min_y, max_x, max_y, geom, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Name, f.Seq, f.StudyArea,
			f.BBox.MinX, f.BBox.MinY, f.BBox.MaxX, f.BBox.MaxY,
			f.Geom, f.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert feature %s", f.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace features")
}

func (s *SQLiteIndex) ListFeatures(ctx context.Context) ([]*FeatureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, seq, study_area, min_x, min_y, max_x, max_y, geom, created_at
		 FROM features ORDER BY seq`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list features")
	}
	defer rows.Close()

	var out []*FeatureRecord
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate features")
}

func (s *SQLiteIndex) GetFeature(ctx context.Context, id string) (*FeatureRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, seq, study_area, min_x, min_y, max_x, max_y, geom, created_at
		 FROM features WHERE id = ?`,
		id,
	)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *SQLiteIndex) CreateRun(ctx context.Context, run *RunRecord) error {
	warningsJSON, err := marshalWarnings(run.Warnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, strict, workers, total_jobs, done_jobs, error, warnings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), boolToInt(run.Strict), run.Workers,
		run.TotalJobs, run.DoneJobs, run.Error, warningsJSON,
		run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteIndex) UpdateRun(ctx context.Context, run *RunRecord) error {
	warningsJSON, err := marshalWarnings(run.Warnings)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, total_jobs = ?, done_jobs = ?, error = ?, warnings = ?, updated_at = ?
		 WHERE id = ?`,
		string(run.Status), run.TotalJobs, run.DoneJobs, run.Error, warningsJSON,
		run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteIndex) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, strict, workers, total_jobs, done_jobs, error, warnings, created_at, updated_at
		 FROM runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteIndex) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := `SELECT id, status, strict, workers, total_jobs, done_jobs, error, warnings, created_at, updated_at FROM runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteIndex) MarkSuperseded(ctx context.Context, keepRunID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ?
		 WHERE id != ? AND status NOT IN (?, ?, ?)`,
		string(model.RunStatusCancelled), "superseded by run "+keepRunID, time.Now().UTC(),
		keepRunID,
		string(model.RunStatusSucceeded), string(model.RunStatusFailed), string(model.RunStatusCancelled),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark superseded")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteIndex) RecordJobs(ctx context.Context, jobs []*JobRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record jobs")
	}
	defer tx.Rollback()

	for _, j := range jobs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (run_id, job_id, feature_id, node_id, kind, state, error_kind, error, version, duration_ms, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.RunID, j.JobID, j.FeatureID, j.NodeID, string(j.Kind), string(j.State),
			string(j.ErrorKind), j.Error, j.Version, j.DurationMs, j.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert job %s", j.JobID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record jobs")
}

func (s *SQLiteIndex) UpdateJob(ctx context.Context, job *JobRecord) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error_kind = ?, error = ?, version = ?, duration_ms = ?, updated_at = ?
		 WHERE run_id = ? AND job_id = ?`,
		string(job.State), string(job.ErrorKind), job.Error, job.Version, job.DurationMs,
		job.UpdatedAt, job.RunID, job.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.JobID)
	}
	return checkRowsAffected(res, "job", job.JobID)
}

func (s *SQLiteIndex) ListJobs(ctx context.Context, runID string) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, feature_id, node_id, kind, state, error_kind, error, version, duration_ms, updated_at
		 FROM jobs WHERE run_id = ? ORDER BY job_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []*JobRecord
	for rows.Next() {
		var j JobRecord
		var kind, state, errorKind string
		err := rows.Scan(&j.RunID, &j.JobID, &j.FeatureID, &j.NodeID, &kind, &state,
			&errorKind, &j.Error, &j.Version, &j.DurationMs, &j.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		j.Kind = model.NodeKind(kind)
		j.State = model.JobState(state)
		j.ErrorKind = model.Kind(errorKind)
		out = append(out, &j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteIndex) NextArtifactVersion(ctx context.Context, featureID, nodeID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE feature_id = ? AND node_id = ?`,
		featureID, nodeID,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: next artifact version")
	}
	return next, nil
}

func (s *SQLiteIndex) InsertArtifact(ctx context.Context, a *ArtifactRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, a.FeatureID, a.NodeID, string(a.Kind), a.Version,
		a.Value, boolToInt(a.NoData), a.Path, a.GridPath, a.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert artifact %s/%s v%d", a.FeatureID, a.NodeID, a.Version)
}

func (s *SQLiteIndex) CurrentArtifact(ctx context.Context, featureID, nodeID string) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at
		 FROM artifacts WHERE feature_id = ? AND node_id = ?
		 ORDER BY version DESC LIMIT 1`,
		featureID, nodeID,
	)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteIndex) ArtifactVersions(ctx context.Context, featureID, nodeID string) ([]*ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at
		 FROM artifacts WHERE feature_id = ? AND node_id = ? ORDER BY version`,
		featureID, nodeID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: artifact versions")
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (s *SQLiteIndex) ListArtifacts(ctx context.Context, featureID string) ([]*ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, feature_id, node_id, kind, version, value, no_data, path, grid_path, created_at
		 FROM artifacts WHERE feature_id = ? ORDER BY node_id, version`,
		featureID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (s *SQLiteIndex) Stats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{}
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM features`, &stats.Features},
		{`SELECT COUNT(*) FROM runs`, &stats.Runs},
		{`SELECT COUNT(*) FROM jobs`, &stats.Jobs},
		{`SELECT COUNT(*) FROM artifacts`, &stats.Artifacts},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats")
		}
	}
	return stats, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeature(row scannable) (*FeatureRecord, error) {
	var f FeatureRecord
	err := row.Scan(&f.ID, &f.Name, &f.Seq, &f.StudyArea,
		&f.BBox.MinX, &f.BBox.MinY, &f.BBox.MaxX, &f.BBox.MaxY,
		&f.Geom, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan feature")
	}
	return &f, nil
}

func scanRun(row scannable) (*RunRecord, error) {
	var r RunRecord
	var status string
	var strict int
	var warningsJSON sql.NullString

	err := row.Scan(&r.ID, &status, &strict, &r.Workers, &r.TotalJobs, &r.DoneJobs,
		&r.Error, &warningsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Status = model.RunStatus(status)
	r.Strict = strict != 0
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &r.Warnings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal warnings")
		}
	}
	return &r, nil
}

func scanArtifact(row scannable) (*ArtifactRecord, error) {
	var a ArtifactRecord
	var kind string
	var noData int

	err := row.Scan(&a.ID, &a.RunID, &a.FeatureID, &a.NodeID, &kind, &a.Version,
		&a.Value, &noData, &a.Path, &a.GridPath, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan artifact")
	}

	a.Kind = model.NodeKind(kind)
	a.NoData = noData != 0
	return &a, nil
}

func collectArtifacts(rows *sql.Rows) ([]*ArtifactRecord, error) {
	var out []*ArtifactRecord
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate artifacts")
}

func marshalWarnings(ws []model.Warning) (string, error) {
	if len(ws) == 0 {
		return "", nil
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal warnings")
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
