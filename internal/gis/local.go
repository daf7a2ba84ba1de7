package gis

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
)

// CRSWGS84 is the coordinate reference system raster and vector
// sources are assumed to arrive in.
const CRSWGS84 = "EPSG:4326"

// Local implements Capability against on-disk ESRI ASCII grids and an
// equirectangular local-meters projection. Relative source paths are
// resolved under the base directory.
type Local struct {
	base string
}

// NewLocal returns a Local capability rooted at basePath.
func NewLocal(basePath string) *Local {
	return &Local{base: basePath}
}

// LocalCRS formats an equirectangular local-meters CRS anchored at the
// given WGS84 origin. Reprojecting into it maps the anchor to (0, 0)
// and scales degrees to meters at the anchor latitude.
func LocalCRS(lon0, lat0 float64) string {
	return fmt.Sprintf("local:%g,%g", lon0, lat0)
}

func parseLocalCRS(crs string) (lon0, lat0 float64, ok bool) {
	rest, found := strings.CutPrefix(crs, "local:")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon0, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lat0, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return lon0, lat0, true
}

// SampleRaster reads the window of the named raster intersecting bbox.
// A missing file or a raster that does not cover the bbox resolves to
// model.ErrDataUnavailable.
func (l *Local) SampleRaster(ctx context.Context, bbox geometry.BBox, source string) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "gis: sample raster")
	}

	path := l.resolve(source)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "gis: raster source %s not found", source)
		}
		return nil, eris.Wrapf(err, "gis: stat raster %s", source)
	}

	grid, err := ReadASCIIGrid(path)
	if err != nil {
		return nil, err
	}

	window := grid.Window(bbox)
	if window == nil {
		zap.L().Debug("gis: raster does not cover window",
			zap.String("source", source),
			zap.String("bbox", bbox.String()),
		)
		return nil, eris.Wrapf(model.ErrDataUnavailable, "gis: raster %s does not cover requested window", source)
	}
	return window, nil
}

// Reproject maps g into targetCRS. WGS84 to WGS84 is the identity;
// "local:lon,lat" targets apply the equirectangular meters projection
// anchored at that origin.
func (l *Local) Reproject(ctx context.Context, g geom.T, targetCRS string) (geom.T, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "gis: reproject")
	}
	if g == nil {
		return nil, eris.New("gis: reproject nil geometry")
	}
	if targetCRS == "" || targetCRS == CRSWGS84 {
		return g, nil
	}

	lon0, lat0, ok := parseLocalCRS(targetCRS)
	if !ok {
		return nil, eris.Errorf("gis: unsupported target CRS %q", targetCRS)
	}
	perLon, perLat := MetersPerDegree(lat0)

	project := func(flat []float64) []float64 {
		out := make([]float64, len(flat))
		for i := 0; i < len(flat); i += 2 {
			out[i] = (flat[i] - lon0) * perLon
			out[i+1] = (flat[i+1] - lat0) * perLat
		}
		return out
	}

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(geom.XY, project(t.FlatCoords())), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(geom.XY, project(t.FlatCoords())), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(geom.XY, project(t.FlatCoords())), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(geom.XY, project(t.FlatCoords()), t.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(geom.XY, project(t.FlatCoords()), t.Endss()), nil
	default:
		return nil, eris.Errorf("gis: cannot reproject %T", g)
	}
}

// Rasterize burns a polygonal geometry into a grid aligned to its
// bounding box. Cells whose center lies inside the geometry hold 1,
// all others the no-data marker.
func (l *Local) Rasterize(ctx context.Context, g geom.T, cellSize float64) (*Grid, error) {
	if g == nil {
		return nil, eris.New("gis: rasterize nil geometry")
	}
	if cellSize <= 0 {
		return nil, eris.Errorf("gis: invalid cell size %g", cellSize)
	}
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
	default:
		return nil, eris.Errorf("gis: cannot rasterize %T", g)
	}

	bbox := geometry.BBoxOf(g)
	cols := max(1, int(math.Ceil(bbox.Width()/cellSize)))
	rows := max(1, int(math.Ceil(bbox.Height()/cellSize)))

	grid := NewGrid(bbox.MinX, bbox.MaxY, cellSize, cols, rows)
	for r := 0; r < rows; r++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "gis: rasterize")
		}
		for c := 0; c < cols; c++ {
			x, y := grid.CellCenter(r, c)
			if Contains(g, x, y) {
				grid.Set(r, c, 1)
			}
		}
	}
	return grid, nil
}

func (l *Local) resolve(source string) string {
	if filepath.IsAbs(source) || l.base == "" {
		return source
	}
	return filepath.Join(l.base, source)
}
