package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samweli/GEEST/internal/model"
)

func testHierarchy() *model.Hierarchy {
	return &model.Hierarchy{
		Name: "test",
		Dimensions: []model.Dimension{
			{
				ID: "accessibility", Name: "Accessibility", Weight: 0.6,
				Factors: []model.Factor{
					{
						ID: "health", Name: "Health Access", Weight: 1,
						Indicators: []model.Indicator{
							{ID: "hospitals", Weight: 0.5, Method: model.MethodPointDensityBuffer},
							{ID: "clinics", Weight: 0.5, Method: model.MethodRasterSampleMean},
						},
					},
				},
			},
			{
				ID: "safety", Name: "Safety", Weight: 0.4,
				Factors: []model.Factor{
					{
						ID: "lighting", Name: "Street Lighting", Weight: 1,
						Indicators: []model.Indicator{
							{ID: "nightlights", Weight: 1, Method: model.MethodRasterSampleMean},
						},
					},
				},
			},
		},
	}
}

func TestCombine_WeightedMean(t *testing.T) {
	got := Combine([]Weighted{
		{NodeID: "a", Weight: 1, Score: model.NewScore(0.4)},
		{NodeID: "b", Weight: 3, Score: model.NewScore(0.8)},
	})
	require.True(t, got.Valid())
	assert.InDelta(t, 0.7, got.Value, 1e-9)
}

func TestCombine_NoDataChildExcluded(t *testing.T) {
	// Two equally weighted children, one no-data: the parent divides by
	// the contributing weight only, so the score is 0.8, not 0.4.
	got := Combine([]Weighted{
		{NodeID: "a", Weight: 0.5, Score: model.NewScore(0.8)},
		{NodeID: "b", Weight: 0.5, Score: model.NoDataScore()},
	})
	require.True(t, got.Valid())
	assert.InDelta(t, 0.8, got.Value, 1e-9)
}

func TestCombine_AllNoData(t *testing.T) {
	got := Combine([]Weighted{
		{NodeID: "a", Weight: 0.5, Score: model.NoDataScore()},
		{NodeID: "b", Weight: 0.5, Score: model.NoDataScore()},
	})
	assert.True(t, got.NoData)
}

func TestCombine_NoChildren(t *testing.T) {
	assert.True(t, Combine(nil).NoData)
}

func TestCombine_ZeroWeightsMeanEqually(t *testing.T) {
	got := Combine([]Weighted{
		{NodeID: "a", Weight: 0, Score: model.NewScore(0.2)},
		{NodeID: "b", Weight: 0, Score: model.NewScore(0.6)},
	})
	require.True(t, got.Valid())
	assert.InDelta(t, 0.4, got.Value, 1e-9)
}

func TestCombine_ZeroWeightAmongPositive(t *testing.T) {
	got := Combine([]Weighted{
		{NodeID: "a", Weight: 0, Score: model.NewScore(0.9)},
		{NodeID: "b", Weight: 1, Score: model.NewScore(0.1)},
	})
	require.True(t, got.Valid())
	assert.InDelta(t, 0.1, got.Value, 1e-9)
}

func TestFold_PartialNoData(t *testing.T) {
	h := testHierarchy()

	fr, scores := Fold(h, "f1", Scores{
		"hospitals":   model.NewScore(0.8),
		"clinics":     model.NoDataScore(),
		"nightlights": model.NoDataScore(),
	})

	// The health factor keeps 0.8 from its single contributor, and the
	// empty safety dimension drops out of the overall the same way.
	assert.InDelta(t, 0.8, scores.Get("health").Value, 1e-9)
	assert.InDelta(t, 0.8, scores.Get("accessibility").Value, 1e-9)
	assert.True(t, scores.Get("lighting").NoData)
	assert.True(t, scores.Get("safety").NoData)
	require.True(t, fr.Overall.Valid())
	assert.InDelta(t, 0.8, fr.Overall.Value, 1e-9)
}

func TestFold_AllNoData(t *testing.T) {
	h := testHierarchy()

	fr, scores := Fold(h, "f1", Scores{})

	assert.True(t, scores.Get("health").NoData)
	assert.True(t, scores.Get("accessibility").NoData)
	assert.True(t, fr.Overall.NoData)
	for _, d := range fr.Dimensions {
		assert.True(t, d.Score.NoData)
	}
}

func TestFold_MultiDimension(t *testing.T) {
	h := testHierarchy()

	fr, _ := Fold(h, "f1", Scores{
		"hospitals":   model.NewScore(0.4),
		"clinics":     model.NewScore(0.8),
		"nightlights": model.NewScore(1.0),
	})

	// health = (0.5*0.4 + 0.5*0.8) / 1 = 0.6; overall = 0.6*0.6 + 0.4*1.0.
	require.True(t, fr.Overall.Valid())
	assert.InDelta(t, 0.76, fr.Overall.Value, 1e-9)

	health := fr.Node("health")
	require.NotNil(t, health)
	assert.InDelta(t, 0.6, health.Score.Value, 1e-9)
	require.Len(t, health.Children, 2)
	assert.Equal(t, model.KindIndicator, health.Children[0].Kind)
}

func TestFold_Deterministic(t *testing.T) {
	h := testHierarchy()
	in := Scores{
		"hospitals":   model.NewScore(0.31),
		"clinics":     model.NewScore(0.77),
		"nightlights": model.NewScore(0.12),
	}

	fr1, s1 := Fold(h, "f1", in)
	fr2, s2 := Fold(h, "f1", in)
	assert.Equal(t, fr1, fr2)
	assert.Equal(t, s1, s2)
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	h := testHierarchy()
	in := Scores{"hospitals": model.NewScore(0.5)}

	_, _ = Fold(h, "f1", in)
	assert.Len(t, in, 1)
}

func TestAssemble_MirrorsHierarchy(t *testing.T) {
	h := testHierarchy()

	fr := Assemble(h, "f9", Scores{
		"hospitals": model.NewScore(0.5),
		"health":    model.NewScore(0.5),
	})

	assert.Equal(t, "f9", fr.FeatureID)
	assert.True(t, fr.Overall.NoData)
	require.Len(t, fr.Dimensions, 2)
	assert.Equal(t, model.KindDimension, fr.Dimensions[0].Kind)
	assert.Equal(t, "Accessibility", fr.Dimensions[0].Name)

	health := fr.Node("health")
	require.NotNil(t, health)
	require.True(t, health.Score.Valid())

	clinics := fr.Node("clinics")
	require.NotNil(t, clinics)
	assert.True(t, clinics.Score.NoData)
}
