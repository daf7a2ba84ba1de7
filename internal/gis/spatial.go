package gis

import (
	"math"

	"github.com/twpayne/go-geom"
)

// MetersPerDegree returns the local length of one degree of longitude
// and latitude at the given latitude, using the series approximation
// for the WGS84 ellipsoid.
func MetersPerDegree(lat float64) (perLon, perLat float64) {
	phi := lat * math.Pi / 180
	perLat = 111132.92 - 559.82*math.Cos(2*phi)
	perLon = 111412.84 * math.Cos(phi)
	return perLon, perLat
}

// HaversineMeters returns the great-circle distance in meters between
// two WGS84 points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return r * c
}

// pointInRing reports whether (x, y) falls inside a closed ring, by
// crossing count.
func pointInRing(x, y float64, flat []float64) bool {
	inside := false
	n := len(flat) / 2
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[2*i], flat[2*i+1]
		xj, yj := flat[2*j], flat[2*j+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// polygonContains tests point containment with odd-even counting over
// all rings, so interior rings act as holes.
func polygonContains(p *geom.Polygon, x, y float64) bool {
	count := 0
	for i := 0; i < p.NumLinearRings(); i++ {
		if pointInRing(x, y, p.LinearRing(i).FlatCoords()) {
			count++
		}
	}
	return count%2 == 1
}

// Contains tests point containment for polygonal geometry types.
func Contains(g geom.T, x, y float64) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, x, y)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), x, y) {
				return true
			}
		}
	}
	return false
}
