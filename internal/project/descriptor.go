// Package project owns the on-disk project tree: the descriptor document,
// the study-area container, versioned score artifacts, and the index that
// maps (feature, node) keys to their current artifact.
//
// Layout under a project root:
//
//	model.json          descriptor: metadata + aggregation hierarchy
//	study_area.shp      imported study-area geometries (+ .shx/.dbf/.prj)
//	artifacts.db        sqlite index (default driver)
//	artifacts/<node>/<feature>_v<N>.json   score payloads, append-only
//	sources/            downloaded indicator source data
package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/model"
)

const (
	// DescriptorName is the descriptor file name under the project root.
	DescriptorName = "model.json"

	// StudyAreaName is the study-area shapefile name under the project root.
	StudyAreaName = "study_area.shp"

	indexFileName    = "artifacts.db"
	artifactsDirName = "artifacts"
	sourcesDirName   = "sources"

	// descriptorSchema is bumped when the descriptor layout changes
	// incompatibly. Open refuses roots written by a newer schema.
	descriptorSchema = 1
)

// Descriptor is the project document persisted at <root>/model.json: the
// project's metadata plus the full hierarchy with weights and method
// identifiers. It is read at analysis start and rewritten only on explicit
// configuration edits, never during a run.
type Descriptor struct {
	Schema         int               `json:"schema"`
	Name           string            `json:"name"`
	CRS            string            `json:"crs"`
	CellSizeMeters float64           `json:"cell_size_meters,omitempty"`
	StudyArea      string            `json:"study_area,omitempty"`
	Sources        map[string]string `json:"sources,omitempty"`
	// Remotes maps source keys to download URLs (http, https, or ftp).
	// Fetching a remote stores the payload under sources/ and points the
	// Sources entry at it.
	Remotes   map[string]string `json:"remotes,omitempty"`
	Hierarchy model.Hierarchy   `json:"hierarchy"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// readDescriptor loads and validates the descriptor at path.
func readDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "project: read descriptor %s", path)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, eris.Wrapf(err, "project: parse descriptor %s", path)
	}
	if d.Schema > descriptorSchema {
		return nil, eris.Errorf("project: descriptor schema %d is newer than supported %d", d.Schema, descriptorSchema)
	}
	return &d, nil
}

// writeDescriptor persists d at path, bumping UpdatedAt.
func writeDescriptor(path string, d *Descriptor) error {
	d.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return eris.Wrap(err, "project: marshal descriptor")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return storeIO(eris.Wrapf(err, "project: write descriptor %s", path))
	}
	return nil
}

// descriptorPath returns the descriptor location under root.
func descriptorPath(root string) string {
	return filepath.Join(root, DescriptorName)
}
