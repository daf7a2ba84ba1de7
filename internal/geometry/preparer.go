package geometry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/model"
)

// Feature is one single-part polygon produced by exploding the study
// area, the unit over which indicator scores are computed. IDs are
// derived from geometry content so identical inputs reproduce
// identical IDs across runs.
type Feature struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Seq       int           `json:"seq"`
	StudyArea string        `json:"study_area"`
	Polygon   *geom.Polygon `json:"-"`
	BBox      BBox          `json:"bbox"`
}

// Prepared is the outcome of study-area preparation: the ordered
// feature sequence and the analysis-area bounding box enclosing all of
// them.
type Prepared struct {
	Features []Feature
	Area     BBox
	Skipped  int
}

// Reprojector maps a geometry into a target coordinate reference
// system. Satisfied by the GIS capability adapter.
type Reprojector interface {
	Reproject(ctx context.Context, g geom.T, targetCRS string) (geom.T, error)
}

// Prepare explodes the study area's geometries into single-part
// features, assigns content-derived identifiers, and computes each
// feature's bounding box plus the analysis-area union box. Polygon
// winding and validity are never altered, only multiplicity.
//
// An input with no valid polygon parts fails with model.ErrGeometry so
// the caller can refuse to schedule work against an empty feature set.
func Prepare(sa *StudyArea) (*Prepared, error) {
	if sa == nil || len(sa.Geoms) == 0 {
		return nil, eris.Wrap(model.ErrGeometry, "geometry: study area has no geometries")
	}

	prep := &Prepared{}
	seen := make(map[string]int)

	for gi, g := range sa.Geoms {
		name := ""
		if gi < len(sa.Names) {
			name = sa.Names[gi]
		}

		var parts []*geom.Polygon
		switch t := g.(type) {
		case *geom.Polygon:
			parts = []*geom.Polygon{t}
		case *geom.MultiPolygon:
			for i := 0; i < t.NumPolygons(); i++ {
				parts = append(parts, t.Polygon(i))
			}
		default:
			prep.Skipped++
			continue
		}

		multi := len(parts) > 1
		for pi, poly := range parts {
			if len(poly.FlatCoords()) < 8 {
				// Fewer than four vertices cannot close a ring.
				prep.Skipped++
				continue
			}

			base := featureID(poly)
			id := base
			if n := seen[base]; n > 0 {
				id = fmt.Sprintf("%s-%d", base, n+1)
			}
			seen[base]++

			fname := name
			if multi && fname != "" {
				fname = fmt.Sprintf("%s/%d", name, pi+1)
			}

			prep.Features = append(prep.Features, Feature{
				ID:        id,
				Name:      fname,
				Seq:       len(prep.Features),
				StudyArea: sa.Source,
				Polygon:   poly,
				BBox:      BBoxOf(poly),
			})
		}
	}

	if len(prep.Features) == 0 {
		return nil, eris.Wrap(model.ErrGeometry, "geometry: study area has no valid polygon parts")
	}

	prep.Area = prep.Features[0].BBox
	for _, f := range prep.Features[1:] {
		prep.Area = prep.Area.Union(f.BBox)
	}

	zap.L().Info("geometry: prepared study area",
		zap.String("source", sa.Source),
		zap.Int("features", len(prep.Features)),
		zap.Int("skipped", prep.Skipped),
	)

	return prep, nil
}

// PrepareInCRS reprojects the study area into targetCRS when it
// differs from the source CRS, then explodes it. A nil Reprojector
// skips reprojection.
func PrepareInCRS(ctx context.Context, sa *StudyArea, targetCRS string, r Reprojector) (*Prepared, error) {
	if sa == nil {
		return nil, eris.Wrap(model.ErrGeometry, "geometry: study area has no geometries")
	}
	if r == nil || targetCRS == "" || sa.CRS == targetCRS {
		return Prepare(sa)
	}

	proj := &StudyArea{Source: sa.Source, CRS: targetCRS, Names: sa.Names}
	for _, g := range sa.Geoms {
		pg, err := r.Reproject(ctx, g, targetCRS)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: reproject study area to %s", targetCRS)
		}
		proj.Geoms = append(proj.Geoms, pg)
	}
	return Prepare(proj)
}

// featureID derives a stable identifier from the polygon's coordinate
// content. Identical geometry always hashes to the same ID; duplicate
// geometries within one study area are disambiguated by the caller
// with an ordinal suffix.
func featureID(p *geom.Polygon) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range p.FlatCoords() {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("f%x", sum[:8])
}
