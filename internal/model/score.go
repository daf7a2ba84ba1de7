package model

// Score is a normalized [0,1] value or an explicit no-data marker. No-data is
// distinct from zero: it means the underlying source was missing or the
// feature did not intersect it, and it is skipped (not counted as 0) during
// aggregation.
type Score struct {
	Value  float64 `json:"value"`
	NoData bool    `json:"no_data,omitempty"`
}

// NewScore returns a valid score clamped to [0,1].
func NewScore(v float64) Score {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return Score{Value: v}
}

// NoDataScore returns the no-data marker.
func NoDataScore() Score {
	return Score{NoData: true}
}

// Valid reports whether the score carries a usable value.
func (s Score) Valid() bool {
	return !s.NoData
}

// NodeScore is one node of a feature's result tree: the node identity, its
// weight among siblings, the computed score, and child scores.
type NodeScore struct {
	NodeID   string      `json:"node_id"`
	Name     string      `json:"name"`
	Kind     NodeKind    `json:"kind"`
	Weight   float64     `json:"weight"`
	Score    Score       `json:"score"`
	Children []NodeScore `json:"children,omitempty"`
}

// FeatureResult is the full score tree for one feature, mirroring the
// hierarchy, with the overall index at the root.
type FeatureResult struct {
	FeatureID  string      `json:"feature_id"`
	Overall    Score       `json:"overall"`
	Dimensions []NodeScore `json:"dimensions"`
}

// Node returns the node score with the given ID, searching the whole tree.
// Returns nil when absent.
func (fr *FeatureResult) Node(nodeID string) *NodeScore {
	var walk func(ns *NodeScore) *NodeScore
	walk = func(ns *NodeScore) *NodeScore {
		if ns.NodeID == nodeID {
			return ns
		}
		for i := range ns.Children {
			if found := walk(&ns.Children[i]); found != nil {
				return found
			}
		}
		return nil
	}
	for i := range fr.Dimensions {
		if found := walk(&fr.Dimensions[i]); found != nil {
			return found
		}
	}
	return nil
}

// Result is the read-only outcome of one analysis run: per-feature score
// trees plus the warnings accumulated from absorbed job failures.
type Result struct {
	RunID    string          `json:"run_id"`
	Project  string          `json:"project"`
	Features []FeatureResult `json:"features"`
	Warnings []Warning       `json:"warnings,omitempty"`
}

// Feature returns the result for the given feature ID, or nil.
func (r *Result) Feature(featureID string) *FeatureResult {
	for i := range r.Features {
		if r.Features[i].FeatureID == featureID {
			return &r.Features[i]
		}
	}
	return nil
}

// Warning records a non-fatal problem absorbed during a run, retained so no
// failure is silently dropped.
type Warning struct {
	FeatureID string `json:"feature_id,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
}
