package geometry

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// StudyArea holds the raw geometries loaded from a study-area source
// before explosion into features. Geometries arrive in source order;
// Names is parallel to Geoms and may hold empty strings when the
// source carries no usable name attribute.
type StudyArea struct {
	Source string
	CRS    string
	Names  []string
	Geoms  []geom.T
}

// Point is a single point location in the study area's CRS, used by
// point-based indicator sources such as facility locations.
type Point struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Name string  `json:"name,omitempty"`
}

// ReadStudyArea loads polygon geometries from a shapefile. Shapefile
// sources are read as WGS84; reprojection into the project CRS happens
// later. Non-polygon records and malformed rings are skipped and
// counted rather than aborting the load. nameField selects the
// attribute column used as each geometry's display name; pass "" to
// leave names empty.
func ReadStudyArea(shpPath, nameField string) (*StudyArea, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader.Fields(), nameField)

	sa := &StudyArea{Source: shpPath, CRS: "EPSG:4326"}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		var name string
		if nameIdx >= 0 {
			name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}

		sa.Geoms = append(sa.Geoms, mp)
		sa.Names = append(sa.Names, name)
	}

	if skipped > 0 {
		zap.L().Debug("geometry: skipped study area records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return sa, nil
}

// ReadPoints loads point records from a shapefile. Non-point records
// are skipped and counted. nameField works as in ReadStudyArea.
func ReadPoints(shpPath, nameField string) ([]Point, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader.Fields(), nameField)

	var pts []Point
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		p, ok := shape.(*shp.Point)
		if !ok {
			skipped++
			continue
		}

		pt := Point{X: p.X, Y: p.Y}
		if nameIdx >= 0 {
			pt.Name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}
		pts = append(pts, pt)
	}

	if skipped > 0 {
		zap.L().Debug("geometry: skipped point records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return pts, nil
}

// fieldIndex finds the named attribute column, case-insensitively.
// Returns -1 when name is empty or absent.
func fieldIndex(fields []shp.Field, name string) int {
	if name == "" {
		return -1
	}
	for i, f := range fields {
		fn := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(fn, name) {
			return i
		}
	}
	return -1
}

// polygonToMultiPolygon converts a shapefile Polygon to a
// geom.MultiPolygon. Each shapefile part becomes its own single-ring
// polygon. Malformed parts are skipped.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geometry: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}

		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geometry: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// WritePoints writes point records to a new shapefile, with names in a
// NAME attribute column. Used when converting tabular facility data into
// a source the evaluation methods can read.
func WritePoints(shpPath string, pts []Point) error {
	if len(pts) == 0 {
		return eris.Errorf("geometry: no points to write to %s", shpPath)
	}

	writer, err := shp.Create(shpPath, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "geometry: create shapefile %s", shpPath)
	}
	defer writer.Close()

	writer.SetFields([]shp.Field{shp.StringField("NAME", 64)})
	for i, pt := range pts {
		writer.Write(&shp.Point{X: pt.X, Y: pt.Y})
		writer.WriteAttribute(i, 0, pt.Name)
	}

	return nil
}
