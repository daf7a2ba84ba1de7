package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeWKB serializes a geometry to EWKB bytes for storage.
// Returns nil, nil for a nil geometry.
func EncodeWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode WKB")
	}
	return data, nil
}

// DecodeWKB deserializes EWKB bytes produced by EncodeWKB.
func DecodeWKB(data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: decode WKB")
	}
	return g, nil
}

// DecodePolygonWKB deserializes EWKB bytes that are expected to hold a
// single-part polygon.
func DecodePolygonWKB(data []byte) (*geom.Polygon, error) {
	g, err := DecodeWKB(data)
	if err != nil {
		return nil, err
	}
	p, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("geometry: expected polygon WKB, got %T", g)
	}
	return p, nil
}
