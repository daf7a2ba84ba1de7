// Package aggregate folds indicator scores up the hierarchy: factor
// from indicators, dimension from factors, overall from dimensions.
// Every level uses the same rule, a weighted mean over the children
// that actually contributed, so missing data degrades a score's basis
// instead of deflating its value.
package aggregate

import (
	"github.com/Samweli/GEEST/internal/model"
)

// Weighted pairs a child node's score with its sibling weight.
type Weighted struct {
	NodeID string
	Weight float64
	Score  model.Score
}

// Combine folds child scores into a parent score. No-data children are
// excluded; the mean divides by the weight sum of the contributors,
// not the nominal total. Contributors whose weights sum to zero count
// as equally weighted. A parent with no contributing children at all
// is no-data.
func Combine(children []Weighted) model.Score {
	var sum, weightSum float64
	var contributors int

	for _, c := range children {
		if c.Score.NoData {
			continue
		}
		contributors++
		sum += c.Weight * c.Score.Value
		weightSum += c.Weight
	}

	if contributors == 0 {
		return model.NoDataScore()
	}
	if weightSum == 0 {
		sum = 0
		for _, c := range children {
			if !c.Score.NoData {
				sum += c.Score.Value
			}
		}
		return model.NewScore(sum / float64(contributors))
	}
	return model.NewScore(sum / weightSum)
}

// Scores maps hierarchy node IDs to computed scores for one feature.
type Scores map[string]model.Score

// Get returns the score for a node. Absent nodes are no-data.
func (s Scores) Get(nodeID string) model.Score {
	if sc, ok := s[nodeID]; ok {
		return sc
	}
	return model.NoDataScore()
}

// FactorChildren builds the weighted indicator set of a factor from a
// score snapshot.
func FactorChildren(f model.Factor, s Scores) []Weighted {
	children := make([]Weighted, 0, len(f.Indicators))
	for _, ind := range f.Indicators {
		children = append(children, Weighted{NodeID: ind.ID, Weight: ind.Weight, Score: s.Get(ind.ID)})
	}
	return children
}

// DimensionChildren builds the weighted factor set of a dimension.
func DimensionChildren(d model.Dimension, s Scores) []Weighted {
	children := make([]Weighted, 0, len(d.Factors))
	for _, f := range d.Factors {
		children = append(children, Weighted{NodeID: f.ID, Weight: f.Weight, Score: s.Get(f.ID)})
	}
	return children
}

// OverallChildren builds the weighted dimension set of the hierarchy
// root.
func OverallChildren(h *model.Hierarchy, s Scores) []Weighted {
	children := make([]Weighted, 0, len(h.Dimensions))
	for _, d := range h.Dimensions {
		children = append(children, Weighted{NodeID: d.ID, Weight: d.Weight, Score: s.Get(d.ID)})
	}
	return children
}

// Fold computes factor, dimension, and overall scores from indicator
// scores in level order and returns the assembled result tree along
// with the complete node-score map. The input map is not modified.
func Fold(h *model.Hierarchy, featureID string, indicators Scores) (*model.FeatureResult, Scores) {
	scores := make(Scores, len(indicators))
	for id, sc := range indicators {
		scores[id] = sc
	}

	for _, d := range h.Dimensions {
		for _, f := range d.Factors {
			scores[f.ID] = Combine(FactorChildren(f, scores))
		}
		scores[d.ID] = Combine(DimensionChildren(d, scores))
	}
	scores[model.OverallNodeID] = Combine(OverallChildren(h, scores))

	return Assemble(h, featureID, scores), scores
}

// Assemble mirrors the hierarchy into a FeatureResult, reading every
// node's score from the snapshot. Nodes without a score are no-data.
func Assemble(h *model.Hierarchy, featureID string, s Scores) *model.FeatureResult {
	fr := &model.FeatureResult{
		FeatureID: featureID,
		Overall:   s.Get(model.OverallNodeID),
	}

	for _, d := range h.Dimensions {
		dn := model.NodeScore{
			NodeID: d.ID,
			Name:   d.Name,
			Kind:   model.KindDimension,
			Weight: d.Weight,
			Score:  s.Get(d.ID),
		}
		for _, f := range d.Factors {
			fn := model.NodeScore{
				NodeID: f.ID,
				Name:   f.Name,
				Kind:   model.KindFactor,
				Weight: f.Weight,
				Score:  s.Get(f.ID),
			}
			for _, ind := range f.Indicators {
				fn.Children = append(fn.Children, model.NodeScore{
					NodeID: ind.ID,
					Name:   ind.Name,
					Kind:   model.KindIndicator,
					Weight: ind.Weight,
					Score:  s.Get(ind.ID),
				})
			}
			dn.Children = append(dn.Children, fn)
		}
		fr.Dimensions = append(fr.Dimensions, dn)
	}
	return fr
}
