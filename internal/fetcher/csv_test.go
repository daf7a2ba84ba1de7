package fetcher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPointsCSV_Basic(t *testing.T) {
	input := "name,lon,lat\nNorth Clinic,12.5,-3.25\nSouth Clinic,0.125,4\n"

	pts, err := ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "lon", YColumn: "lat", NameColumn: "name",
	})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.InDelta(t, 12.5, pts[0].X, 1e-9)
	assert.InDelta(t, -3.25, pts[0].Y, 1e-9)
	assert.Equal(t, "North Clinic", pts[0].Name)
	assert.Equal(t, "South Clinic", pts[1].Name)
}

func TestReadPointsCSV_HeaderCaseInsensitive(t *testing.T) {
	input := "Longitude,Latitude\n1,2\n"

	pts, err := ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "longitude", YColumn: "LATITUDE",
	})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Empty(t, pts[0].Name)
}

func TestReadPointsCSV_SkipsRowsWithoutCoordinates(t *testing.T) {
	input := "lon,lat\n1,2\n,\nnot-a-number,3\n4,5\n"

	pts, err := ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "lon", YColumn: "lat",
	})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.InDelta(t, 4.0, pts[1].X, 1e-9)
}

func TestReadPointsCSV_SemicolonDelimiter(t *testing.T) {
	input := "lon;lat;name\n7,5;8,5;wrong\n"
	// Semicolon files usually pair with decimal commas; those rows skip.
	pts, err := ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "lon", YColumn: "lat", Delimiter: ';',
	})
	require.NoError(t, err)
	assert.Empty(t, pts)

	input = "lon;lat\n7.5;8.5\n"
	pts, err = ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "lon", YColumn: "lat", Delimiter: ';',
	})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.InDelta(t, 7.5, pts[0].X, 1e-9)
}

func TestReadPointsCSV_Latin1(t *testing.T) {
	// "Café" with an ISO 8859-1 e-acute byte.
	raw := append([]byte("name,lon,lat\nCaf"), 0xE9)
	raw = append(raw, []byte(",1,2\n")...)

	pts, err := ReadPointsCSV(context.Background(), strings.NewReader(string(raw)), PointCSVOptions{
		XColumn: "lon", YColumn: "lat", NameColumn: "name", Charset: "latin1",
	})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "Café", pts[0].Name)
}

func TestReadPointsCSV_BOMWinsOverCharset(t *testing.T) {
	// UTF-8 BOM followed by UTF-8 content, but a latin1 charset hint.
	input := "\xEF\xBB\xBFname,lon,lat\nCafé,1,2\n"

	pts, err := ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "lon", YColumn: "lat", NameColumn: "name", Charset: "latin1",
	})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "Café", pts[0].Name)
}

func TestReadPointsCSV_MissingColumn(t *testing.T) {
	input := "lon,lat\n1,2\n"

	_, err := ReadPointsCSV(context.Background(), strings.NewReader(input), PointCSVOptions{
		XColumn: "x", YColumn: "lat",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"x"`)
}

func TestReadPointsCSV_UnnamedColumns(t *testing.T) {
	_, err := ReadPointsCSV(context.Background(), strings.NewReader("a,b\n"), PointCSVOptions{})
	require.Error(t, err)
}

func TestReadPointsCSV_Empty(t *testing.T) {
	_, err := ReadPointsCSV(context.Background(), strings.NewReader(""), PointCSVOptions{
		XColumn: "lon", YColumn: "lat",
	})
	require.Error(t, err)
}

func TestReadPointsCSV_UnsupportedCharset(t *testing.T) {
	_, err := ReadPointsCSV(context.Background(), strings.NewReader("lon,lat\n"), PointCSVOptions{
		XColumn: "lon", YColumn: "lat", Charset: "klingon-8",
	})
	require.Error(t, err)
}

func TestReadPointsCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadPointsCSV(ctx, strings.NewReader("lon,lat\n1,2\n"), PointCSVOptions{
		XColumn: "lon", YColumn: "lat",
	})
	require.Error(t, err)
}

func TestDecodeCharset_PassthroughUTF8(t *testing.T) {
	r, err := DecodeCharset(strings.NewReader("plain text"), "")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(data))
}
