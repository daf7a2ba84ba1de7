package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Samweli/GEEST/internal/geometry"
)

// PointCSVOptions configures ReadPointsCSV. Column names are matched
// case-insensitively against the header row.
type PointCSVOptions struct {
	XColumn    string // longitude / easting column, required
	YColumn    string // latitude / northing column, required
	NameColumn string // optional display name column

	// Charset is the IANA name of the file's encoding ("latin1",
	// "windows-1252", ...). Empty means UTF-8. A byte-order mark
	// overrides either way.
	Charset string

	Delimiter rune // 0 means comma
	Comment   rune // 0 means none
}

// DecodeCharset wraps r so its bytes are transcoded from the named
// charset to UTF-8. A BOM in the stream takes precedence over the name.
func DecodeCharset(r io.Reader, charset string) (io.Reader, error) {
	enc := unicode.UTF8
	if charset != "" {
		named, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: unsupported charset %q", charset)
		}
		enc = named
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// ReadPointsCSV parses point locations from tabular data. Rows with a
// missing or unparsable coordinate are skipped and counted rather than
// aborting the load, matching how shapefile sources are read.
func ReadPointsCSV(ctx context.Context, r io.Reader, opts PointCSVOptions) ([]geometry.Point, error) {
	if opts.XColumn == "" || opts.YColumn == "" {
		return nil, eris.New("fetcher: csv coordinate columns not named")
	}

	decoded, err := DecodeCharset(r, opts.Charset)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("fetcher: csv is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read csv header")
	}

	xIdx := columnIndex(header, opts.XColumn)
	yIdx := columnIndex(header, opts.YColumn)
	nameIdx := columnIndex(header, opts.NameColumn)
	if xIdx < 0 {
		return nil, eris.Errorf("fetcher: csv has no column %q", opts.XColumn)
	}
	if yIdx < 0 {
		return nil, eris.Errorf("fetcher: csv has no column %q", opts.YColumn)
	}

	var pts []geometry.Point
	var skipped int

	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: csv read cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: read csv row")
		}

		x, xOK := parseCoord(record, xIdx)
		y, yOK := parseCoord(record, yIdx)
		if !xOK || !yOK {
			skipped++
			continue
		}

		pt := geometry.Point{X: x, Y: y}
		if nameIdx >= 0 && nameIdx < len(record) {
			pt.Name = strings.TrimSpace(record[nameIdx])
		}
		pts = append(pts, pt)
	}

	if skipped > 0 {
		zap.L().Debug("fetcher: skipped csv rows without coordinates",
			zap.Int("skipped", skipped),
		)
	}

	return pts, nil
}

func columnIndex(header []string, name string) int {
	if name == "" {
		return -1
	}
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}

func parseCoord(record []string, idx int) (float64, bool) {
	if idx >= len(record) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
