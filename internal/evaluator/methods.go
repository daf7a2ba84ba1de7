package evaluator

import (
	"context"
	"errors"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
)

// pointDensityBuffer scores the share of a feature within reach of a
// point source. The feature is rasterized on a local meters plane and
// each cell scores 1 when a point lies within the buffer distance of
// its center; the score is the covered fraction. With a zero buffer
// the method measures point density per km² against the saturation
// parameter instead.
func (e *Evaluator) pointDensityBuffer(ctx context.Context, f geometry.Feature, ind model.Indicator) (*Outcome, error) {
	pts, nd, err := e.readPoints(ind)
	if err != nil || nd != nil {
		return nd, err
	}

	cx, cy := f.BBox.Center()
	crs := gis.LocalCRS(cx, cy)
	local, err := e.localPolygon(ctx, f, crs)
	if err != nil {
		return nil, err
	}
	coords, err := e.projectPoints(ctx, pts, crs)
	if err != nil {
		return nil, err
	}

	if ind.Params.BufferMeters <= 0 {
		return densityScore(local, coords, ind.Params.SaturationPerKm2)
	}

	mask, err := e.rasterizeLocal(ctx, local, e.cellSize(ind))
	if err != nil {
		return nil, err
	}

	covered, valid := 0, 0
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			if mask.IsNoData(mask.At(r, c)) {
				continue
			}
			valid++
			x, y := mask.CellCenter(r, c)
			if nearestDistance(x, y, coords) <= ind.Params.BufferMeters {
				mask.Set(r, c, 1)
				covered++
			} else {
				mask.Set(r, c, 0)
			}
		}
	}
	if valid == 0 {
		return noData("feature %s rasterizes to no cells", f.ID), nil
	}
	return &Outcome{Score: model.NewScore(float64(covered) / float64(valid)), Grid: mask}, nil
}

// densityScore is the zero-buffer variant of pointDensityBuffer:
// points inside the polygon per km², saturating to 1 at the configured
// density.
func densityScore(local geom.T, coords []float64, saturationPerKm2 float64) (*Outcome, error) {
	areaM2 := planarArea(local)
	if areaM2 <= 0 {
		return noData("feature has no measurable area"), nil
	}

	count := 0
	for i := 0; i < len(coords); i += 2 {
		if gis.Contains(local, coords[i], coords[i+1]) {
			count++
		}
	}

	if saturationPerKm2 <= 0 {
		saturationPerKm2 = 1
	}
	density := float64(count) / (areaM2 / 1e6)
	return &Outcome{Score: model.NewScore(density / saturationPerKm2)}, nil
}

// rasterSampleMean samples the source raster under the feature, masks
// it to the polygon, and linearly normalizes each cell into [0,1]
// across the configured value range. The score is the mean cell score.
func (e *Evaluator) rasterSampleMean(ctx context.Context, f geometry.Feature, ind model.Indicator) (*Outcome, error) {
	grid, nd, err := e.sampleSource(ctx, f, ind)
	if err != nil || nd != nil {
		return nd, err
	}

	masked := maskToPolygon(grid, f.Polygon)
	scored := emptyLike(masked)

	var sum float64
	var n int
	for r := 0; r < masked.Rows; r++ {
		for c := 0; c < masked.Cols; c++ {
			v := masked.At(r, c)
			if masked.IsNoData(v) {
				continue
			}
			s := clamp01(normalize(v, ind.Params.MinValue, ind.Params.MaxValue))
			scored.Set(r, c, s)
			sum += s
			n++
		}
	}
	if n == 0 {
		return noData("no valid cells of %s intersect feature", ind.Source), nil
	}
	return &Outcome{Score: model.NewScore(sum / float64(n)), Grid: scored}, nil
}

// classifiedLookup maps raster class values through the indicator's
// class-score table and averages the per-cell scores. Tables are
// range-checked at hierarchy load, but raster contents are only known
// here, so a class missing from the table fails the evaluation.
func (e *Evaluator) classifiedLookup(ctx context.Context, f geometry.Feature, ind model.Indicator) (*Outcome, error) {
	grid, nd, err := e.sampleSource(ctx, f, ind)
	if err != nil || nd != nil {
		return nd, err
	}

	masked := maskToPolygon(grid, f.Polygon)
	scored := emptyLike(masked)

	var sum float64
	var n int
	for r := 0; r < masked.Rows; r++ {
		for c := 0; c < masked.Cols; c++ {
			v := masked.At(r, c)
			if masked.IsNoData(v) {
				continue
			}
			class := int(math.Round(v))
			score, ok := ind.Params.ClassScores[class]
			if !ok {
				return nil, eris.Wrapf(model.ErrEvaluation, "evaluator: %s: class %d missing from lookup table", ind.ID, class)
			}
			scored.Set(r, c, score)
			sum += score
			n++
		}
	}
	if n == 0 {
		return noData("no valid cells of %s intersect feature", ind.Source), nil
	}
	return &Outcome{Score: model.NewScore(sum / float64(n)), Grid: scored}, nil
}

// facilityEuclidean scores proximity to the nearest facility point.
// Each cell of the rasterized feature scores 1 at distance zero,
// decaying linearly to 0 at the maximum distance; the score is the
// mean cell value. Distances are Euclidean on the local meters plane.
func (e *Evaluator) facilityEuclidean(ctx context.Context, f geometry.Feature, ind model.Indicator) (*Outcome, error) {
	pts, nd, err := e.readPoints(ind)
	if err != nil || nd != nil {
		return nd, err
	}

	maxDist := ind.Params.MaxDistanceMeters
	if maxDist <= 0 {
		maxDist = DefaultMaxDistanceMeters
	}

	cx, cy := f.BBox.Center()
	crs := gis.LocalCRS(cx, cy)
	local, err := e.localPolygon(ctx, f, crs)
	if err != nil {
		return nil, err
	}
	coords, err := e.projectPoints(ctx, pts, crs)
	if err != nil {
		return nil, err
	}
	mask, err := e.rasterizeLocal(ctx, local, e.cellSize(ind))
	if err != nil {
		return nil, err
	}

	var sum float64
	var n int
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			if mask.IsNoData(mask.At(r, c)) {
				continue
			}
			x, y := mask.CellCenter(r, c)
			score := clamp01(1 - nearestDistance(x, y, coords)/maxDist)
			mask.Set(r, c, score)
			sum += score
			n++
		}
	}
	if n == 0 {
		return noData("feature %s rasterizes to no cells", f.ID), nil
	}
	return &Outcome{Score: model.NewScore(sum / float64(n)), Grid: mask}, nil
}

// sampleSource reads the raster window under the feature's bbox. A
// missing or non-covering source resolves to a no-data outcome.
func (e *Evaluator) sampleSource(ctx context.Context, f geometry.Feature, ind model.Indicator) (*gis.Grid, *Outcome, error) {
	if ind.Source == "" {
		return nil, noData("indicator %s has no source", ind.ID), nil
	}
	grid, err := e.cap.SampleRaster(ctx, f.BBox, e.source(ind))
	if err != nil {
		if errors.Is(err, model.ErrDataUnavailable) {
			return nil, noData("source %s unavailable", ind.Source), nil
		}
		return nil, nil, evalErr("sample "+ind.Source, err)
	}
	return grid, nil, nil
}

// readPoints loads the indicator's point source. Missing and empty
// sources resolve to a no-data outcome.
func (e *Evaluator) readPoints(ind model.Indicator) ([]geometry.Point, *Outcome, error) {
	if ind.Source == "" {
		return nil, noData("indicator %s has no source", ind.ID), nil
	}
	path := e.source(ind)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, noData("source %s unavailable", ind.Source), nil
		}
		return nil, nil, evalErr("stat "+ind.Source, err)
	}

	pts, err := geometry.ReadPoints(path, "")
	if err != nil {
		return nil, nil, evalErr("read "+ind.Source, err)
	}
	if len(pts) == 0 {
		return nil, noData("source %s holds no points", ind.Source), nil
	}
	return pts, nil, nil
}

// localPolygon reprojects the feature polygon into the local meters
// plane named by crs.
func (e *Evaluator) localPolygon(ctx context.Context, f geometry.Feature, crs string) (geom.T, error) {
	local, err := e.cap.Reproject(ctx, f.Polygon, crs)
	if err != nil {
		return nil, evalErr("reproject feature "+f.ID, err)
	}
	return local, nil
}

// rasterizeLocal burns the reprojected feature into a meters grid.
func (e *Evaluator) rasterizeLocal(ctx context.Context, local geom.T, cellMeters float64) (*gis.Grid, error) {
	mask, err := e.cap.Rasterize(ctx, local, cellMeters)
	if err != nil {
		return nil, evalErr("rasterize feature", err)
	}
	return mask, nil
}

// projectPoints maps point records into the target plane with a single
// multipoint reprojection, returning flat (x0, y0, x1, y1, ...)
// coordinates in source order.
func (e *Evaluator) projectPoints(ctx context.Context, pts []geometry.Point, crs string) ([]float64, error) {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	proj, err := e.cap.Reproject(ctx, geom.NewMultiPointFlat(geom.XY, flat), crs)
	if err != nil {
		return nil, evalErr("reproject points", err)
	}
	return proj.FlatCoords(), nil
}

// nearestDistance returns the Euclidean distance from (x, y) to the
// closest of the flat-packed points. Infinite when there are none.
func nearestDistance(x, y float64, flat []float64) float64 {
	best := math.Inf(1)
	for i := 0; i < len(flat); i += 2 {
		if d := math.Hypot(flat[i]-x, flat[i+1]-y); d < best {
			best = d
		}
	}
	return best
}

// planarArea returns the absolute area of a polygonal geometry in the
// square units of its plane.
func planarArea(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return math.Abs(t.Area())
	case *geom.MultiPolygon:
		return math.Abs(t.Area())
	}
	return 0
}

// normalize maps v linearly onto [0,1] across the configured range.
// An unset range treats values as already normalized.
func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return v
	}
	return (v - lo) / (hi - lo)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// maskToPolygon copies the grid with every cell whose center falls
// outside the polygon set to no-data.
func maskToPolygon(g *gis.Grid, poly geom.T) *gis.Grid {
	out := emptyLike(g)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			v := g.At(r, c)
			if g.IsNoData(v) {
				continue
			}
			x, y := g.CellCenter(r, c)
			if gis.Contains(poly, x, y) {
				out.Set(r, c, v)
			}
		}
	}
	return out
}

// emptyLike allocates an all-no-data grid with the same shape and
// georeferencing as g.
func emptyLike(g *gis.Grid) *gis.Grid {
	out := &gis.Grid{
		OriginX:  g.OriginX,
		OriginY:  g.OriginY,
		CellSize: g.CellSize,
		Cols:     g.Cols,
		Rows:     g.Rows,
		NoData:   g.NoData,
		Cells:    make([]float64, len(g.Cells)),
	}
	for i := range out.Cells {
		out.Cells[i] = out.NoData
	}
	return out
}
