package evaluator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
)

// testFeature is a ~222 m square near the equator, aligned to the
// 2x2 test rasters.
func testFeature() geometry.Feature {
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 0.002, 0, 0.002, 0.002, 0, 0.002, 0, 0,
	}, []int{10})
	return geometry.Feature{ID: "f1", Name: "Square", Polygon: poly, BBox: geometry.BBoxOf(poly)}
}

// writeRaster writes a 2x2 ESRI ASCII grid covering the test feature,
// row-major from the northwest cell.
func writeRaster(t *testing.T, dir, name string, values [4]float64) {
	t.Helper()

	g := gis.NewGrid(0, 0.002, 0.001, 2, 2)
	g.Set(0, 0, values[0])
	g.Set(0, 1, values[1])
	g.Set(1, 0, values[2])
	g.Set(1, 1, values[3])
	require.NoError(t, gis.WriteASCIIGrid(filepath.Join(dir, name), g))
}

// writePoints writes a point shapefile with the given locations.
func writePoints(t *testing.T, dir, name string, pts []shp.Point) {
	t.Helper()

	w, err := shp.Create(filepath.Join(dir, name), shp.POINT)
	require.NoError(t, err)
	defer w.Close()

	w.SetFields([]shp.Field{shp.StringField("NAME", 16)})
	for i := range pts {
		w.Write(&pts[i])
		w.WriteAttribute(i, 0, "facility")
	}
}

func newTestEvaluator(dir string) *Evaluator {
	return New(gis.NewLocal(dir), Config{
		CellSizeMeters: 100,
		Resolve:        func(ref string) string { return filepath.Join(dir, ref) },
	})
}

func TestRasterSampleMean(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "pop.asc", [4]float64{10, 20, 30, 40})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "pop.asc",
		Params: model.MethodParams{MaxValue: 100},
	})
	require.NoError(t, err)
	require.True(t, out.Score.Valid())
	assert.InDelta(t, 0.25, out.Score.Value, 1e-9)
	require.NotNil(t, out.Grid)
	assert.Equal(t, 4, out.Grid.CountValid())
}

func TestRasterSampleMean_UnsetRangeClamps(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "ratio.asc", [4]float64{2, 2, 2, 2})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "ratio", Method: model.MethodRasterSampleMean, Source: "ratio.asc",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Score.Value, 1e-9)
}

func TestRasterSampleMean_MasksOutsidePolygon(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "pop.asc", [4]float64{10, 20, 30, 40})
	ev := newTestEvaluator(dir)

	// Triangle whose bbox spans all four cells but whose interior only
	// holds three cell centers; the northeast cell (value 20) falls
	// outside.
	tri := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0.0024, 0.0024, 0, 0, 0, 0, 0.0024,
	}, []int{8})
	f := geometry.Feature{ID: "tri", Polygon: tri, BBox: geometry.BBoxOf(tri)}

	out, err := ev.Evaluate(context.Background(), f, model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "pop.asc",
		Params: model.MethodParams{MaxValue: 100},
	})
	require.NoError(t, err)
	assert.InDelta(t, (0.1+0.3+0.4)/3, out.Score.Value, 1e-9)
	assert.Equal(t, 3, out.Grid.CountValid())
}

func TestRasterSampleMean_SkipsNoDataCells(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "pop.asc", [4]float64{10, gis.DefaultNoData, 30, gis.DefaultNoData})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "pop.asc",
		Params: model.MethodParams{MaxValue: 100},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, out.Score.Value, 1e-9)
	assert.Equal(t, 2, out.Grid.CountValid())
}

func TestRasterSampleMean_MissingSource(t *testing.T) {
	ev := newTestEvaluator(t.TempDir())

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "absent.asc",
	})
	require.NoError(t, err)
	assert.True(t, out.Score.NoData)
	assert.Contains(t, out.Note, "unavailable")
	assert.Nil(t, out.Grid)
}

func TestRasterSampleMean_NoCoverage(t *testing.T) {
	dir := t.TempDir()
	far := gis.NewGrid(10, 10.002, 0.001, 2, 2)
	far.Set(0, 0, 1)
	require.NoError(t, gis.WriteASCIIGrid(filepath.Join(dir, "far.asc"), far))
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "far.asc",
	})
	require.NoError(t, err)
	assert.True(t, out.Score.NoData)
}

func TestClassifiedLookup(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "landuse.asc", [4]float64{1, 2, 2, 3})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "landuse", Method: model.MethodClassifiedLookup, Source: "landuse.asc",
		Params: model.MethodParams{ClassScores: map[int]float64{1: 0.2, 2: 0.5, 3: 1.0}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, out.Score.Value, 1e-9)
	require.NotNil(t, out.Grid)
	assert.InDelta(t, 0.2, out.Grid.At(0, 0), 1e-9)
}

func TestClassifiedLookup_MissingClass(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "landuse.asc", [4]float64{1, 2, 2, 3})
	ev := newTestEvaluator(dir)

	_, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "landuse", Method: model.MethodClassifiedLookup, Source: "landuse.asc",
		Params: model.MethodParams{ClassScores: map[int]float64{1: 0.2, 3: 1.0}},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrEvaluation)
	assert.Equal(t, model.KindEvaluation, model.KindOf(err))
	assert.Contains(t, err.Error(), "class 2")
}

func TestPointDensityBuffer_FullCoverage(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "stops.shp", []shp.Point{{X: 0.001, Y: 0.001}})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "stops", Method: model.MethodPointDensityBuffer, Source: "stops.shp",
		Params: model.MethodParams{BufferMeters: 200},
	})
	require.NoError(t, err)
	require.True(t, out.Score.Valid())
	assert.InDelta(t, 1.0, out.Score.Value, 1e-9)
	require.NotNil(t, out.Grid)
	assert.Equal(t, 4, out.Grid.CountValid())
}

func TestPointDensityBuffer_OutOfReach(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "stops.shp", []shp.Point{{X: 0.05, Y: 0.05}})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "stops", Method: model.MethodPointDensityBuffer, Source: "stops.shp",
		Params: model.MethodParams{BufferMeters: 200},
	})
	require.NoError(t, err)
	require.True(t, out.Score.Valid())
	assert.Zero(t, out.Score.Value)
}

func TestPointDensityBuffer_Density(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "stops.shp", []shp.Point{
		{X: 0.001, Y: 0.001},
		{X: 0.0005, Y: 0.0005},
		{X: 0.0015, Y: 0.0015},
		{X: 0.05, Y: 0.05}, // outside the feature
	})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "stops", Method: model.MethodPointDensityBuffer, Source: "stops.shp",
		Params: model.MethodParams{SaturationPerKm2: 100},
	})
	require.NoError(t, err)
	require.True(t, out.Score.Valid())

	perLon, perLat := gis.MetersPerDegree(0.001)
	areaKm2 := (0.002 * perLon) * (0.002 * perLat) / 1e6
	want := (3 / areaKm2) / 100
	assert.InDelta(t, want, out.Score.Value, 1e-9)
	assert.Nil(t, out.Grid)
}

func TestPointDensityBuffer_MissingSource(t *testing.T) {
	ev := newTestEvaluator(t.TempDir())

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "stops", Method: model.MethodPointDensityBuffer, Source: "absent.shp",
		Params: model.MethodParams{BufferMeters: 200},
	})
	require.NoError(t, err)
	assert.True(t, out.Score.NoData)
	assert.Contains(t, out.Note, "unavailable")
}

func TestPointDensityBuffer_EmptySource(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "stops.shp", nil)
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "stops", Method: model.MethodPointDensityBuffer, Source: "stops.shp",
		Params: model.MethodParams{BufferMeters: 200},
	})
	require.NoError(t, err)
	assert.True(t, out.Score.NoData)
	assert.Contains(t, out.Note, "no points")
}

func TestFacilityEuclidean(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "hospitals.shp", []shp.Point{{X: 0.001, Y: 0.001}})
	ev := newTestEvaluator(dir)

	ind := model.Indicator{
		ID: "hospitals", Method: model.MethodFacilityEuclidean, Source: "hospitals.shp",
		Params: model.MethodParams{MaxDistanceMeters: 10000},
	}

	out, err := ev.Evaluate(context.Background(), testFeature(), ind)
	require.NoError(t, err)
	require.True(t, out.Score.Valid())
	// Every cell center sits within ~90 m of the facility.
	assert.Greater(t, out.Score.Value, 0.98)
	assert.LessOrEqual(t, out.Score.Value, 1.0)

	// Same inputs, same score.
	again, err := ev.Evaluate(context.Background(), testFeature(), ind)
	require.NoError(t, err)
	assert.Equal(t, out.Score.Value, again.Score.Value)
}

func TestFacilityEuclidean_BeyondHorizon(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "hospitals.shp", []shp.Point{{X: 0.05, Y: 0.05}})
	ev := newTestEvaluator(dir)

	out, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "hospitals", Method: model.MethodFacilityEuclidean, Source: "hospitals.shp",
		Params: model.MethodParams{MaxDistanceMeters: 1000},
	})
	require.NoError(t, err)
	require.True(t, out.Score.Valid())
	assert.Zero(t, out.Score.Value)
}

func TestEvaluate_UnknownMethod(t *testing.T) {
	ev := newTestEvaluator(t.TempDir())

	_, err := ev.Evaluate(context.Background(), testFeature(), model.Indicator{
		ID: "bad", Method: "kriging",
	})
	require.ErrorIs(t, err, model.ErrEvaluation)
}

func TestEvaluate_NilPolygon(t *testing.T) {
	ev := newTestEvaluator(t.TempDir())

	_, err := ev.Evaluate(context.Background(), geometry.Feature{ID: "f1"}, model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "pop.asc",
	})
	require.ErrorIs(t, err, model.ErrEvaluation)
}

func TestEvaluate_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeRaster(t, dir, "pop.asc", [4]float64{10, 20, 30, 40})
	ev := newTestEvaluator(dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ev.Evaluate(ctx, testFeature(), model.Indicator{
		ID: "pop", Method: model.MethodRasterSampleMean, Source: "pop.asc",
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.KindCancelled, model.KindOf(err))
}
