package resilience

import (
	"sync"
	"time"

	"github.com/Samweli/GEEST/internal/model"
)

// FailureRecord captures one terminally failed job for the run report.
// No failure is silently dropped: every record stays queryable after
// the run finishes.
type FailureRecord struct {
	JobID     string     `json:"job_id"`
	FeatureID string     `json:"feature_id"`
	NodeID    string     `json:"node_id"`
	Error     string     `json:"error"`
	Kind      model.Kind `json:"kind"`
	ErrorType string     `json:"error_type"` // "transient" or "permanent"
	FailedAt  time.Time  `json:"failed_at"`
}

// Retriable reports whether a later run could plausibly succeed on
// this job without configuration changes.
func (r FailureRecord) Retriable() bool {
	return r.ErrorType == "transient"
}

// FailureLog is a concurrency-safe collector of job failures. A limit
// of 0 keeps every record.
type FailureLog struct {
	mu      sync.Mutex
	records []FailureRecord
	dropped int
	limit   int
}

// NewFailureLog creates a failure log retaining at most limit records.
func NewFailureLog(limit int) *FailureLog {
	return &FailureLog{limit: limit}
}

// Record appends a failure for the given job.
func (l *FailureLog) Record(job model.Job, err error) {
	rec := FailureRecord{
		JobID:     job.ID,
		FeatureID: job.FeatureID,
		NodeID:    job.NodeID,
		Error:     err.Error(),
		Kind:      model.KindOf(err),
		ErrorType: ClassifyError(err),
		FailedAt:  time.Now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && len(l.records) >= l.limit {
		l.dropped++
		return
	}
	l.records = append(l.records, rec)
}

// Records returns a copy of all retained failures.
func (l *FailureLog) Records() []FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FailureRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Count returns retained plus overflowed failure counts.
func (l *FailureLog) Count() (retained, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records), l.dropped
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
