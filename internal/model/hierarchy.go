package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// NodeKind identifies a level of the aggregation hierarchy.
type NodeKind string

const (
	KindIndicator NodeKind = "indicator"
	KindFactor    NodeKind = "factor"
	KindDimension NodeKind = "dimension"
	KindOverall   NodeKind = "overall"
)

// OverallNodeID is the identifier of the synthetic root node that holds the
// final composite index for a feature.
const OverallNodeID = "overall"

// Method identifies one of the closed set of indicator evaluation methods.
type Method string

const (
	MethodPointDensityBuffer Method = "point_density_buffer"
	MethodRasterSampleMean   Method = "raster_sample_mean"
	MethodClassifiedLookup   Method = "classified_lookup"
	MethodFacilityEuclidean  Method = "facility_access_euclidean"
)

// KnownMethod reports whether m is one of the supported evaluation methods.
func KnownMethod(m Method) bool {
	switch m {
	case MethodPointDensityBuffer, MethodRasterSampleMean, MethodClassifiedLookup, MethodFacilityEuclidean:
		return true
	}
	return false
}

// MethodParams holds per-indicator tuning for an evaluation method. Only the
// fields relevant to the indicator's method are consulted.
type MethodParams struct {
	// BufferMeters expands the feature bounding box before sampling
	// (point_density_buffer).
	BufferMeters float64 `json:"buffer_meters,omitempty" yaml:"buffer_meters,omitempty"`

	// SaturationPerKm2 is the density at which the score saturates to 1.0
	// (point_density_buffer).
	SaturationPerKm2 float64 `json:"saturation_per_km2,omitempty" yaml:"saturation_per_km2,omitempty"`

	// MinValue/MaxValue define the linear normalization range
	// (raster_sample_mean).
	MinValue float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`

	// MaxDistanceMeters is the distance at which access decays to 0
	// (facility_access_euclidean).
	MaxDistanceMeters float64 `json:"max_distance_meters,omitempty" yaml:"max_distance_meters,omitempty"`

	// ClassScores maps raster class values to scores in [0,1]
	// (classified_lookup).
	ClassScores map[int]float64 `json:"class_scores,omitempty" yaml:"class_scores,omitempty"`

	// CellSizeMeters overrides the rasterization cell size for this
	// indicator. Zero means the project default.
	CellSizeMeters float64 `json:"cell_size_meters,omitempty" yaml:"cell_size_meters,omitempty"`
}

// validate checks the parameter fields the given method consults, so
// configuration mistakes surface at load time instead of mid-run.
func (p MethodParams) validate(indicatorID string, m Method) error {
	if p.BufferMeters < 0 {
		return eris.Errorf("hierarchy: indicator %q has negative buffer distance", indicatorID)
	}
	if p.MaxDistanceMeters < 0 {
		return eris.Errorf("hierarchy: indicator %q has negative max distance", indicatorID)
	}
	if p.CellSizeMeters < 0 {
		return eris.Errorf("hierarchy: indicator %q has negative cell size", indicatorID)
	}
	if p.MaxValue != 0 && p.MaxValue < p.MinValue {
		return eris.Errorf("hierarchy: indicator %q has max value below min value", indicatorID)
	}

	if m == MethodClassifiedLookup {
		if len(p.ClassScores) == 0 {
			return eris.Errorf("hierarchy: indicator %q has no class scores", indicatorID)
		}
		classes := make([]int, 0, len(p.ClassScores))
		for class := range p.ClassScores {
			classes = append(classes, class)
		}
		sort.Ints(classes)
		for _, class := range classes {
			if s := p.ClassScores[class]; s < 0 || s > 1 {
				return eris.Errorf("hierarchy: indicator %q class %d score %g outside [0,1]", indicatorID, class, s)
			}
		}
	}
	return nil
}

// Indicator is a leaf node: one measured factor scored per feature.
type Indicator struct {
	ID     string       `json:"id" yaml:"id"`
	Name   string       `json:"name" yaml:"name"`
	Weight float64      `json:"weight" yaml:"weight"`
	Method Method       `json:"method" yaml:"method"`
	Source string       `json:"source,omitempty" yaml:"source,omitempty"`
	Params MethodParams `json:"params,omitempty" yaml:"params,omitempty"`
}

// Factor groups indicators under a dimension.
type Factor struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Weight     float64     `json:"weight" yaml:"weight"`
	Indicators []Indicator `json:"indicators" yaml:"indicators"`
}

// Dimension is a top-level grouping of factors.
type Dimension struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Weight  float64  `json:"weight" yaml:"weight"`
	Factors []Factor `json:"factors" yaml:"factors"`
}

// Hierarchy is the fixed three-level aggregation tree:
// dimension → factor → indicator.
type Hierarchy struct {
	Name       string      `json:"name" yaml:"name"`
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions"`
}

// Validate checks the hierarchy for structural problems: duplicate or empty
// node IDs, negative weights, and unknown evaluation methods. It runs at
// load time so method/weight mistakes never reach job execution.
func (h *Hierarchy) Validate() error {
	if len(h.Dimensions) == 0 {
		return eris.New("hierarchy: no dimensions defined")
	}

	seen := map[string]bool{OverallNodeID: true}
	checkID := func(kind NodeKind, id string) error {
		if strings.TrimSpace(id) == "" {
			return eris.Errorf("hierarchy: %s with empty id", kind)
		}
		if seen[id] {
			return eris.Errorf("hierarchy: duplicate node id %q", id)
		}
		seen[id] = true
		return nil
	}

	for _, d := range h.Dimensions {
		if err := checkID(KindDimension, d.ID); err != nil {
			return err
		}
		if d.Weight < 0 {
			return eris.Errorf("hierarchy: dimension %q has negative weight", d.ID)
		}
		for _, f := range d.Factors {
			if err := checkID(KindFactor, f.ID); err != nil {
				return err
			}
			if f.Weight < 0 {
				return eris.Errorf("hierarchy: factor %q has negative weight", f.ID)
			}
			for _, ind := range f.Indicators {
				if err := checkID(KindIndicator, ind.ID); err != nil {
					return err
				}
				if ind.Weight < 0 {
					return eris.Errorf("hierarchy: indicator %q has negative weight", ind.ID)
				}
				if !KnownMethod(ind.Method) {
					return eris.Errorf("hierarchy: indicator %q has unknown method %q", ind.ID, ind.Method)
				}
				if err := ind.Params.validate(ind.ID, ind.Method); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Normalize rescales sibling weights at every level so each sibling group
// sums to 1.0. Groups whose weights sum to zero are left untouched; the
// aggregator treats such children as equally weighted contributors.
func (h *Hierarchy) Normalize() {
	var dimSum float64
	for _, d := range h.Dimensions {
		dimSum += d.Weight
	}
	for i := range h.Dimensions {
		d := &h.Dimensions[i]
		if dimSum > 0 {
			d.Weight /= dimSum
		}

		var facSum float64
		for _, f := range d.Factors {
			facSum += f.Weight
		}
		for j := range d.Factors {
			f := &d.Factors[j]
			if facSum > 0 {
				f.Weight /= facSum
			}

			var indSum float64
			for _, ind := range f.Indicators {
				indSum += ind.Weight
			}
			for k := range f.Indicators {
				if indSum > 0 {
					f.Indicators[k].Weight /= indSum
				}
			}
		}
	}
}

// EvenWeights assigns 1/n to every sibling group at every level, matching
// the auto-assign behavior of the weighting panel.
func (h *Hierarchy) EvenWeights() {
	n := len(h.Dimensions)
	for i := range h.Dimensions {
		d := &h.Dimensions[i]
		d.Weight = 1.0 / float64(n)

		fn := len(d.Factors)
		for j := range d.Factors {
			f := &d.Factors[j]
			f.Weight = 1.0 / float64(fn)

			in := len(f.Indicators)
			for k := range f.Indicators {
				f.Indicators[k].Weight = 1.0 / float64(in)
			}
		}
	}
}

// ClearWeights zeroes every weight in the tree, the starting point for
// re-weighting from scratch.
func (h *Hierarchy) ClearWeights() {
	for i := range h.Dimensions {
		d := &h.Dimensions[i]
		d.Weight = 0
		for j := range d.Factors {
			f := &d.Factors[j]
			f.Weight = 0
			for k := range f.Indicators {
				f.Indicators[k].Weight = 0
			}
		}
	}
}

// Indicators returns every leaf indicator with its owning factor and
// dimension, in declaration order.
func (h *Hierarchy) Indicators() []IndicatorRef {
	var refs []IndicatorRef
	for _, d := range h.Dimensions {
		for _, f := range d.Factors {
			for _, ind := range f.Indicators {
				refs = append(refs, IndicatorRef{
					Dimension: d,
					Factor:    f,
					Indicator: ind,
				})
			}
		}
	}
	return refs
}

// IndicatorRef is one leaf indicator with its ancestry.
type IndicatorRef struct {
	Dimension Dimension
	Factor    Factor
	Indicator Indicator
}

// CountNodes returns the number of nodes at each level plus the overall node.
func (h *Hierarchy) CountNodes() (indicators, factors, dimensions int) {
	for _, d := range h.Dimensions {
		dimensions++
		for _, f := range d.Factors {
			factors++
			indicators += len(f.Indicators)
		}
	}
	return indicators, factors, dimensions
}
