package resilience

import (
	"errors"
	"sync"
	"testing"

	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/model"
)

func TestFailureLog_Record(t *testing.T) {
	log := NewFailureLog(0)

	job := model.Job{ID: "f1/ind-a", FeatureID: "f1", NodeID: "ind-a"}
	log.Record(job, eris.Wrap(model.ErrDataUnavailable, "raster missing"))

	recs := log.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].JobID != "f1/ind-a" || recs[0].NodeID != "ind-a" {
		t.Errorf("unexpected record identity: %+v", recs[0])
	}
	if recs[0].Kind != model.KindDataUnavailable {
		t.Errorf("expected data_unavailable kind, got %s", recs[0].Kind)
	}
	if recs[0].FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
}

func TestFailureLog_LimitDropsOverflow(t *testing.T) {
	log := NewFailureLog(2)
	for i := 0; i < 5; i++ {
		log.Record(model.Job{ID: "j"}, errors.New("boom"))
	}

	retained, dropped := log.Count()
	if retained != 2 {
		t.Errorf("expected 2 retained, got %d", retained)
	}
	if dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", dropped)
	}
}

func TestFailureLog_ConcurrentRecord(t *testing.T) {
	log := NewFailureLog(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Record(model.Job{ID: "j"}, errors.New("boom"))
		}()
	}
	wg.Wait()

	retained, _ := log.Count()
	if retained != 20 {
		t.Errorf("expected 20 records, got %d", retained)
	}
}

func TestFailureRecord_Retriable(t *testing.T) {
	log := NewFailureLog(0)
	log.Record(model.Job{ID: "a"}, eris.Wrap(model.ErrStoreIO, "write artifact"))
	log.Record(model.Job{ID: "b"}, errors.New("invalid parameters"))

	recs := log.Records()
	if !recs[0].Retriable() {
		t.Error("store I/O failure should be retriable")
	}
	if recs[1].Retriable() {
		t.Error("permanent failure should not be retriable")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"store io", eris.Wrap(model.ErrStoreIO, "write"), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}
