package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/resilience"
)

// ScoreDocument is the JSON payload written beside the index for each
// artifact version, kept for audit and export. The index row is
// authoritative for aggregation; the payload never changes once written.
type ScoreDocument struct {
	FeatureID string         `json:"feature_id"`
	NodeID    string         `json:"node_id"`
	Kind      model.NodeKind `json:"kind"`
	RunID     string         `json:"run_id,omitempty"`
	Version   int            `json:"version"`
	Value     float64        `json:"value"`
	NoData    bool           `json:"no_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Score returns the document's score value.
func (d *ScoreDocument) Score() model.Score {
	if d.NoData {
		return model.NoDataScore()
	}
	return model.Score{Value: d.Value}
}

// PutArtifact persists a job's score as a new artifact version: payload
// file first, then the index row. Versions only ever append; a re-run
// writes version N+1 and leaves prior versions untouched. Writes to the
// same (feature, node) key are serialized; distinct keys proceed in
// parallel.
func (p *Project) PutArtifact(ctx context.Context, job model.Job, score model.Score, grid *gis.Grid) (*ArtifactRecord, error) {
	key := model.JobID(job.FeatureID, job.NodeID)
	unlock := p.keys.lock(key)
	defer unlock()

	rec, err := resilience.DoVal(ctx, p.storeRetry("put_artifact"), func(ctx context.Context) (*ArtifactRecord, error) {
		version, err := p.idx.NextArtifactVersion(ctx, job.FeatureID, job.NodeID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		rel := artifactRelPath(job.NodeID, job.FeatureID, version)
		doc := &ScoreDocument{
			FeatureID: job.FeatureID,
			NodeID:    job.NodeID,
			Kind:      job.Kind,
			RunID:     job.RunID,
			Version:   version,
			Value:     score.Value,
			NoData:    score.NoData,
			CreatedAt: now,
		}
		if err := p.writePayload(rel, doc); err != nil {
			return nil, err
		}

		gridRel := ""
		if grid != nil {
			gridRel = gridRelPath(job.NodeID, job.FeatureID, version)
			if err := gis.WriteASCIIGrid(filepath.Join(p.Root, gridRel), grid); err != nil {
				return nil, err
			}
		}

		rec := &ArtifactRecord{
			ID:        uuid.New().String(),
			RunID:     job.RunID,
			FeatureID: job.FeatureID,
			NodeID:    job.NodeID,
			Kind:      job.Kind,
			Version:   version,
			Value:     score.Value,
			NoData:    score.NoData,
			Path:      rel,
			GridPath:  gridRel,
			CreatedAt: now,
		}
		if err := p.idx.InsertArtifact(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, storeIO(err)
	}
	return rec, nil
}

// ReadScoreDocument loads an artifact's payload file.
func (p *Project) ReadScoreDocument(rec *ArtifactRecord) (*ScoreDocument, error) {
	data, err := os.ReadFile(filepath.Join(p.Root, rec.Path))
	if err != nil {
		return nil, storeIO(eris.Wrapf(err, "project: read artifact payload %s", rec.Path))
	}
	var doc ScoreDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "project: parse artifact payload %s", rec.Path)
	}
	return &doc, nil
}

// ReadGrid loads an artifact's raster payload, or nil when it has none.
func (p *Project) ReadGrid(rec *ArtifactRecord) (*gis.Grid, error) {
	if rec.GridPath == "" {
		return nil, nil
	}
	return gis.ReadASCIIGrid(filepath.Join(p.Root, rec.GridPath))
}

func (p *Project) writePayload(rel string, doc *ScoreDocument) error {
	path := filepath.Join(p.Root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "project: create artifact dir for %s", rel)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "project: marshal artifact payload")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "project: write artifact payload %s", rel)
	}
	return nil
}

func artifactRelPath(nodeID, featureID string, version int) string {
	return filepath.Join(artifactsDirName, nodeID, fmt.Sprintf("%s_v%d.json", featureID, version))
}

func gridRelPath(nodeID, featureID string, version int) string {
	return filepath.Join(artifactsDirName, nodeID, fmt.Sprintf("%s_v%d.asc", featureID, version))
}

// keyedMutex serializes writers per (feature, node) key. The map only ever
// grows, bounded by features × hierarchy nodes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
