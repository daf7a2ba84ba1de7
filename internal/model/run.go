package model

import (
	"fmt"
	"time"
)

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusPreparing   RunStatus = "preparing"
	RunStatusEvaluating  RunStatus = "evaluating"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusSucceeded   RunStatus = "succeeded"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run is one analysis execution over a project.
type Run struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Status     RunStatus `json:"status"`
	Strict     bool      `json:"strict"`
	Workers    int       `json:"workers"`
	TotalJobs  int       `json:"total_jobs"`
	DoneJobs   int       `json:"done_jobs"`
	Warnings   []Warning `json:"warnings,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// JobState is the scheduler state machine for a single job.
//
//	Pending → Ready → Running → {Succeeded, Failed, Skipped}
type JobState string

const (
	JobPending   JobState = "pending"
	JobReady     JobState = "ready"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobSkipped   JobState = "skipped"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobSkipped:
		return true
	}
	return false
}

// Job is one unit of scheduled work bound to exactly one (feature, node)
// pair. Job IDs are deterministic so identical analyses enumerate identical
// job sets.
type Job struct {
	ID         string   `json:"id"`
	RunID      string   `json:"run_id"`
	FeatureID  string   `json:"feature_id"`
	NodeID     string   `json:"node_id"`
	Kind       NodeKind `json:"kind"`
	State      JobState `json:"state"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Score      *Score   `json:"score,omitempty"`
	Error      string   `json:"error,omitempty"`
	ErrorKind  Kind     `json:"error_kind,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
}

// JobID builds the deterministic identifier for a (feature, node) pair.
func JobID(featureID, nodeID string) string {
	return fmt.Sprintf("%s/%s", featureID, nodeID)
}
