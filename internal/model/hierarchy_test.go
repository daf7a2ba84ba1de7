package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHierarchy() *Hierarchy {
	return &Hierarchy{
		Name: "test",
		Dimensions: []Dimension{
			{
				ID: "accessibility", Name: "Accessibility", Weight: 2,
				Factors: []Factor{
					{
						ID: "travel", Name: "Travel Patterns", Weight: 1,
						Indicators: []Indicator{
							{ID: "transit_stops", Name: "Transit Stops", Weight: 3, Method: MethodPointDensityBuffer},
							{ID: "street_lights", Name: "Street Lights", Weight: 1, Method: MethodPointDensityBuffer},
						},
					},
				},
			},
			{
				ID: "contextual", Name: "Contextual", Weight: 2,
				Factors: []Factor{
					{
						ID: "safety", Name: "Safety", Weight: 1,
						Indicators: []Indicator{
							{ID: "nightlights", Name: "Nighttime Lights", Weight: 1, Method: MethodRasterSampleMean},
						},
					},
				},
			},
		},
	}
}

func TestHierarchy_Validate_OK(t *testing.T) {
	h := testHierarchy()
	require.NoError(t, h.Validate())
}

func TestHierarchy_Validate_DuplicateID(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[1].Factors[0].Indicators[0].ID = "transit_stops"

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestHierarchy_Validate_EmptyID(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].ID = "  "

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty id")
}

func TestHierarchy_Validate_NegativeWeight(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].Factors[0].Indicators[0].Weight = -0.5

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative weight")
}

func TestHierarchy_Validate_UnknownMethod(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].Factors[0].Indicators[0].Method = "kriging"

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestHierarchy_Validate_LookupWithoutClassScores(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].Factors[0].Indicators[0].Method = MethodClassifiedLookup

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no class scores")
}

func TestHierarchy_Validate_ClassScoreOutOfRange(t *testing.T) {
	h := testHierarchy()
	ind := &h.Dimensions[0].Factors[0].Indicators[0]
	ind.Method = MethodClassifiedLookup
	ind.Params.ClassScores = map[int]float64{1: 0.5, 2: 1.2}

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class 2")
}

func TestHierarchy_Validate_NegativeBuffer(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].Factors[0].Indicators[0].Params.BufferMeters = -10

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative buffer")
}

func TestHierarchy_Validate_InvertedValueRange(t *testing.T) {
	h := testHierarchy()
	ind := &h.Dimensions[1].Factors[0].Indicators[0]
	ind.Params.MinValue = 100
	ind.Params.MaxValue = 10

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max value below min value")
}

func TestHierarchy_Validate_NoDimensions(t *testing.T) {
	h := &Hierarchy{Name: "empty"}
	require.Error(t, h.Validate())
}

func TestHierarchy_Validate_ReservedOverallID(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].ID = OverallNodeID

	err := h.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestHierarchy_Normalize(t *testing.T) {
	h := testHierarchy()
	h.Normalize()

	assert.InDelta(t, 0.5, h.Dimensions[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, h.Dimensions[1].Weight, 1e-9)
	assert.InDelta(t, 1.0, h.Dimensions[0].Factors[0].Weight, 1e-9)
	assert.InDelta(t, 0.75, h.Dimensions[0].Factors[0].Indicators[0].Weight, 1e-9)
	assert.InDelta(t, 0.25, h.Dimensions[0].Factors[0].Indicators[1].Weight, 1e-9)
}

func TestHierarchy_Normalize_ZeroSumGroupUntouched(t *testing.T) {
	h := testHierarchy()
	h.Dimensions[0].Factors[0].Indicators[0].Weight = 0
	h.Dimensions[0].Factors[0].Indicators[1].Weight = 0
	h.Normalize()

	assert.Zero(t, h.Dimensions[0].Factors[0].Indicators[0].Weight)
	assert.Zero(t, h.Dimensions[0].Factors[0].Indicators[1].Weight)
}

func TestHierarchy_EvenWeights(t *testing.T) {
	h := testHierarchy()
	h.EvenWeights()

	assert.InDelta(t, 0.5, h.Dimensions[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, h.Dimensions[0].Factors[0].Indicators[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, h.Dimensions[0].Factors[0].Indicators[1].Weight, 1e-9)
	assert.InDelta(t, 1.0, h.Dimensions[1].Factors[0].Indicators[0].Weight, 1e-9)
}

func TestHierarchy_ClearWeights(t *testing.T) {
	h := testHierarchy()
	h.ClearWeights()

	assert.Zero(t, h.Dimensions[0].Weight)
	assert.Zero(t, h.Dimensions[0].Factors[0].Weight)
	assert.Zero(t, h.Dimensions[0].Factors[0].Indicators[0].Weight)
}

func TestHierarchy_Indicators_DeclarationOrder(t *testing.T) {
	h := testHierarchy()
	refs := h.Indicators()

	require.Len(t, refs, 3)
	assert.Equal(t, "transit_stops", refs[0].Indicator.ID)
	assert.Equal(t, "street_lights", refs[1].Indicator.ID)
	assert.Equal(t, "nightlights", refs[2].Indicator.ID)
	assert.Equal(t, "travel", refs[0].Factor.ID)
	assert.Equal(t, "accessibility", refs[0].Dimension.ID)
}

func TestHierarchy_CountNodes(t *testing.T) {
	h := testHierarchy()
	ind, fac, dim := h.CountNodes()

	assert.Equal(t, 3, ind)
	assert.Equal(t, 2, fac)
	assert.Equal(t, 2, dim)
}

func TestKnownMethod(t *testing.T) {
	assert.True(t, KnownMethod(MethodPointDensityBuffer))
	assert.True(t, KnownMethod(MethodRasterSampleMean))
	assert.True(t, KnownMethod(MethodClassifiedLookup))
	assert.True(t, KnownMethod(MethodFacilityEuclidean))
	assert.False(t, KnownMethod("idw_interpolation"))
	assert.False(t, KnownMethod(""))
}
