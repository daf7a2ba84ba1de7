package geometry

import (
	"fmt"

	"github.com/twpayne/go-geom"
)

// BBox is an axis-aligned bounding box in the study area's coordinate
// reference system, expressed as (min-x, min-y, max-x, max-y).
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// BBoxOf computes the minimal bounding box enclosing a geometry.
func BBoxOf(g geom.T) BBox {
	b := g.Bounds()
	return BBox{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Union returns the component-wise min/max union of two boxes.
func (b BBox) Union(other BBox) BBox {
	return BBox{
		MinX: min(b.MinX, other.MinX),
		MinY: min(b.MinY, other.MinY),
		MaxX: max(b.MaxX, other.MaxX),
		MaxY: max(b.MaxY, other.MaxY),
	}
}

// Contains reports whether other lies entirely within b.
func (b BBox) Contains(other BBox) bool {
	return other.MinX >= b.MinX && other.MinY >= b.MinY &&
		other.MaxX <= b.MaxX && other.MaxY <= b.MaxY
}

// ContainsPoint reports whether the point (x, y) lies within b,
// boundary included.
func (b BBox) ContainsPoint(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Intersects reports whether the two boxes overlap.
func (b BBox) Intersects(other BBox) bool {
	return b.MinX <= other.MaxX && other.MinX <= b.MaxX &&
		b.MinY <= other.MaxY && other.MinY <= b.MaxY
}

// Expand grows the box by margin units on every side.
func (b BBox) Expand(margin float64) BBox {
	return BBox{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
}

// Width returns the box extent along the x axis.
func (b BBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box extent along the y axis.
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Center returns the box midpoint.
func (b BBox) Center() (x, y float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Empty reports whether the box has zero or negative extent on either
// axis.
func (b BBox) Empty() bool {
	return b.MaxX <= b.MinX || b.MaxY <= b.MinY
}

func (b BBox) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}
