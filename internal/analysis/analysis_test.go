package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/evaluator"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
)

func init() {
	// Replace global logger with a no-op to avoid nil pointer panics in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

func testHierarchy() model.Hierarchy {
	return model.Hierarchy{
		Name: "test",
		Dimensions: []model.Dimension{{
			ID: "accessibility", Name: "Accessibility", Weight: 1,
			Factors: []model.Factor{{
				ID: "health", Name: "Health access", Weight: 1,
				Indicators: []model.Indicator{
					{
						ID: "pop", Name: "Population served", Weight: 0.5,
						Method: model.MethodRasterSampleMean, Source: "pop.asc",
						Params: model.MethodParams{MaxValue: 100},
					},
					{
						ID: "lights", Name: "Night lights", Weight: 0.5,
						Method: model.MethodRasterSampleMean, Source: "lights.asc",
						Params: model.MethodParams{MaxValue: 100},
					},
				},
			}},
		}},
	}
}

// writeStudyArea writes a one-polygon shapefile holding a ~222 m square
// near the equator, matching the 2x2 test rasters.
func writeStudyArea(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "area.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	defer w.Close()

	w.SetFields([]shp.Field{shp.StringField("NAME", 32)})
	square := &shp.Polygon{
		Box:       shp.Box{MinX: 0, MinY: 0, MaxX: 0.002, MaxY: 0.002},
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 0, Y: 0.002}, {X: 0.002, Y: 0.002}, {X: 0.002, Y: 0}, {X: 0, Y: 0},
		},
	}
	w.Write(square)
	w.WriteAttribute(0, 0, "Square")
	return path
}

func writeRaster(t *testing.T, dir, name string, values [4]float64) {
	t.Helper()

	g := gis.NewGrid(0, 0.002, 0.001, 2, 2)
	g.Set(0, 0, values[0])
	g.Set(0, 1, values[1])
	g.Set(1, 0, values[2])
	g.Set(1, 1, values[3])
	require.NoError(t, gis.WriteASCIIGrid(filepath.Join(dir, name), g))
}

func newTestAnalysis(t *testing.T, importArea bool) (*Analysis, *project.Project) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "proj")
	p, err := project.Create(context.Background(), "Saint Lucia", root, testHierarchy(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	if importArea {
		require.NoError(t, p.ImportStudyArea(writeStudyArea(t, t.TempDir())))
	}

	capability := gis.NewLocal(p.Root)
	ev := evaluator.New(capability, evaluator.Config{CellSizeMeters: 100, Resolve: p.ResolveSource})
	return New(p, capability, ev), p
}

func TestRun_EndToEnd(t *testing.T) {
	a, p := newTestAnalysis(t, true)
	writeRaster(t, p.Root, "pop.asc", [4]float64{10, 20, 30, 40})
	writeRaster(t, p.Root, "lights.asc", [4]float64{30, 40, 50, 60})

	summary, err := a.Run(context.Background(), Options{NameField: "NAME", Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Features)
	require.NotNil(t, summary.Result)
	require.Len(t, summary.Result.Features, 1)
	assert.InDelta(t, 0.35, summary.Result.Features[0].Overall.Value, 1e-9)
	assert.Empty(t, summary.Result.Warnings)

	require.Len(t, summary.Phases, 2)
	assert.Equal(t, "prepare", summary.Phases[0].Name)
	assert.Equal(t, "schedule", summary.Phases[1].Name)
	assert.Empty(t, summary.Phases[0].Error)
	assert.Empty(t, summary.Phases[1].Error)

	// Preparation persisted the exploded features.
	feats, err := p.Features(context.Background())
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "Square", feats[0].Name)

	run, err := p.GetRun(context.Background(), summary.Result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
}

func TestRun_NoStudyArea(t *testing.T) {
	a, _ := newTestAnalysis(t, false)

	summary, err := a.Run(context.Background(), Options{NameField: "NAME"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGeometry)

	require.Len(t, summary.Phases, 1)
	assert.Equal(t, "prepare", summary.Phases[0].Name)
	assert.NotEmpty(t, summary.Phases[0].Error)
	assert.Nil(t, summary.Result)
}

func TestRun_ReusesPersistedFeatures(t *testing.T) {
	a, p := newTestAnalysis(t, true)
	writeRaster(t, p.Root, "pop.asc", [4]float64{10, 20, 30, 40})
	writeRaster(t, p.Root, "lights.asc", [4]float64{30, 40, 50, 60})

	first, err := a.Run(context.Background(), Options{NameField: "NAME"})
	require.NoError(t, err)

	// The container moving on does not strand the project.
	require.NoError(t, os.Remove(p.StudyAreaPath()))

	second, err := a.Run(context.Background(), Options{NameField: "NAME"})
	require.NoError(t, err)

	assert.Equal(t, first.Features, second.Features)
	assert.Equal(t,
		first.Result.Features[0].FeatureID,
		second.Result.Features[0].FeatureID,
	)
	assert.Equal(t,
		first.Result.Features[0].Overall.Value,
		second.Result.Features[0].Overall.Value,
	)
}

func TestRun_SurfacesSchedulerWarnings(t *testing.T) {
	a, _ := newTestAnalysis(t, true)

	summary, err := a.Run(context.Background(), Options{NameField: "NAME"})
	require.NoError(t, err)

	require.NotNil(t, summary.Result)
	assert.False(t, summary.Result.Features[0].Overall.Valid())
	require.Len(t, summary.Result.Warnings, 2)
}
