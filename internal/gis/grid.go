package gis

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/Samweli/GEEST/internal/geometry"
)

// DefaultNoData is the no-data marker used when a source declares none.
const DefaultNoData = -9999.0

// Grid is a row-major raster window. Row 0 is the northernmost row;
// OriginX is the west edge and OriginY the north edge of the window,
// in the grid's CRS units.
type Grid struct {
	OriginX  float64
	OriginY  float64
	CellSize float64
	Cols     int
	Rows     int
	NoData   float64
	Cells    []float64
}

// NewGrid allocates a grid of the given shape with every cell set to
// the no-data marker.
func NewGrid(originX, originY, cellSize float64, cols, rows int) *Grid {
	g := &Grid{
		OriginX:  originX,
		OriginY:  originY,
		CellSize: cellSize,
		Cols:     cols,
		Rows:     rows,
		NoData:   DefaultNoData,
		Cells:    make([]float64, cols*rows),
	}
	for i := range g.Cells {
		g.Cells[i] = g.NoData
	}
	return g
}

// At returns the cell value at (row, col).
func (g *Grid) At(row, col int) float64 { return g.Cells[row*g.Cols+col] }

// Set stores a cell value at (row, col).
func (g *Grid) Set(row, col int, v float64) { g.Cells[row*g.Cols+col] = v }

// IsNoData reports whether v is the grid's no-data marker or NaN.
func (g *Grid) IsNoData(v float64) bool { return v == g.NoData || math.IsNaN(v) }

// CellCenter returns the center coordinate of cell (row, col).
func (g *Grid) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellSize
	y = g.OriginY - (float64(row)+0.5)*g.CellSize
	return x, y
}

// BBox returns the extent covered by the grid.
func (g *Grid) BBox() geometry.BBox {
	return geometry.BBox{
		MinX: g.OriginX,
		MinY: g.OriginY - float64(g.Rows)*g.CellSize,
		MaxX: g.OriginX + float64(g.Cols)*g.CellSize,
		MaxY: g.OriginY,
	}
}

// CountValid returns the number of cells holding real data.
func (g *Grid) CountValid() int {
	n := 0
	for _, v := range g.Cells {
		if !g.IsNoData(v) {
			n++
		}
	}
	return n
}

// Mean returns the mean of all valid cells. ok is false when the grid
// holds no valid cells.
func (g *Grid) Mean() (mean float64, ok bool) {
	var sum float64
	var n int
	for _, v := range g.Cells {
		if g.IsNoData(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Window copies the sub-grid intersecting bbox. Returns nil when the
// bbox does not overlap the grid extent.
func (g *Grid) Window(bbox geometry.BBox) *Grid {
	if !g.BBox().Intersects(bbox) {
		return nil
	}

	col0 := int(math.Floor((bbox.MinX - g.OriginX) / g.CellSize))
	col1 := int(math.Ceil((bbox.MaxX - g.OriginX) / g.CellSize))
	row0 := int(math.Floor((g.OriginY - bbox.MaxY) / g.CellSize))
	row1 := int(math.Ceil((g.OriginY - bbox.MinY) / g.CellSize))

	col0 = max(col0, 0)
	row0 = max(row0, 0)
	col1 = min(col1, g.Cols)
	row1 = min(row1, g.Rows)
	if col1 <= col0 || row1 <= row0 {
		return nil
	}

	w := &Grid{
		OriginX:  g.OriginX + float64(col0)*g.CellSize,
		OriginY:  g.OriginY - float64(row0)*g.CellSize,
		CellSize: g.CellSize,
		Cols:     col1 - col0,
		Rows:     row1 - row0,
		NoData:   g.NoData,
		Cells:    make([]float64, (col1-col0)*(row1-row0)),
	}
	for r := row0; r < row1; r++ {
		copy(
			w.Cells[(r-row0)*w.Cols:(r-row0+1)*w.Cols],
			g.Cells[r*g.Cols+col0:r*g.Cols+col1],
		)
	}
	return w
}

// ReadASCIIGrid parses an ESRI ASCII grid file. Both corner and center
// origin conventions are accepted; header keys are case-insensitive.
func ReadASCIIGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "gis: open raster %s", path)
	}
	defer func() { _ = f.Close() }()

	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	s.Split(bufio.ScanWords)

	hdr := make(map[string]float64)
	var cells []float64

	for s.Scan() {
		tok := s.Text()
		if v, perr := strconv.ParseFloat(tok, 64); perr == nil {
			cells = append(cells, v)
			continue
		}
		key := strings.ToLower(tok)
		if !s.Scan() {
			return nil, eris.Errorf("gis: truncated header in %s", path)
		}
		v, perr := strconv.ParseFloat(s.Text(), 64)
		if perr != nil {
			return nil, eris.Wrapf(perr, "gis: bad header value for %q in %s", key, path)
		}
		hdr[key] = v
	}
	if err := s.Err(); err != nil {
		return nil, eris.Wrapf(err, "gis: read raster %s", path)
	}

	cols := int(hdr["ncols"])
	rows := int(hdr["nrows"])
	cell := hdr["cellsize"]
	if cols <= 0 || rows <= 0 || cell <= 0 {
		return nil, eris.Errorf("gis: invalid raster header in %s", path)
	}
	if len(cells) != cols*rows {
		return nil, eris.Errorf("gis: raster %s has %d cells, expected %d", path, len(cells), cols*rows)
	}

	xll, xok := hdr["xllcorner"]
	if !xok {
		xll = hdr["xllcenter"] - cell/2
	}
	yll, yok := hdr["yllcorner"]
	if !yok {
		yll = hdr["yllcenter"] - cell/2
	}

	nodata := DefaultNoData
	if v, ok := hdr["nodata_value"]; ok {
		nodata = v
	}

	return &Grid{
		OriginX:  xll,
		OriginY:  yll + float64(rows)*cell,
		CellSize: cell,
		Cols:     cols,
		Rows:     rows,
		NoData:   nodata,
		Cells:    cells,
	}, nil
}

// WriteASCIIGrid writes the grid as an ESRI ASCII file.
func WriteASCIIGrid(path string, g *Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "gis: create raster %s", path)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "ncols %d\n", g.Cols)
	fmt.Fprintf(w, "nrows %d\n", g.Rows)
	fmt.Fprintf(w, "xllcorner %g\n", g.OriginX)
	fmt.Fprintf(w, "yllcorner %g\n", g.OriginY-float64(g.Rows)*g.CellSize)
	fmt.Fprintf(w, "cellsize %g\n", g.CellSize)
	fmt.Fprintf(w, "NODATA_value %g\n", g.NoData)

	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				if err := w.WriteByte(' '); err != nil {
					return eris.Wrapf(err, "gis: write raster %s", path)
				}
			}
			if _, err := w.WriteString(strconv.FormatFloat(g.At(r, c), 'g', -1, 64)); err != nil {
				return eris.Wrapf(err, "gis: write raster %s", path)
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return eris.Wrapf(err, "gis: write raster %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		return eris.Wrapf(err, "gis: flush raster %s", path)
	}
	return nil
}
