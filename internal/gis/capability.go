// Package gis provides the geospatial capability adapter consumed by
// the geometry preparer and the indicator evaluator: raster sampling,
// reprojection, and polygon rasterization. Implementations are treated
// as fallible, latency-bearing operations by callers.
package gis

import (
	"context"

	"github.com/twpayne/go-geom"

	"github.com/Samweli/GEEST/internal/geometry"
)

// Capability is the set of geospatial operations the analysis engine
// needs. The local implementation works against on-disk grids; a
// throttled decorator bounds the call rate of any implementation.
type Capability interface {
	// SampleRaster reads the window of the named raster source that
	// intersects bbox. A missing source resolves to a data-unavailable
	// error so the caller can score the indicator as no-data.
	SampleRaster(ctx context.Context, bbox geometry.BBox, source string) (*Grid, error)

	// Reproject maps a geometry into the target coordinate reference
	// system.
	Reproject(ctx context.Context, g geom.T, targetCRS string) (geom.T, error)

	// Rasterize burns a polygonal geometry into a grid with the given
	// cell size. Cells whose center falls inside the geometry hold 1,
	// all others hold the grid's no-data value.
	Rasterize(ctx context.Context, g geom.T, cellSize float64) (*Grid, error)
}
