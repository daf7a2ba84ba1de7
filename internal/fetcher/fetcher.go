// Package fetcher downloads indicator source data over HTTP and FTP into
// a project's sources directory, unpacks shapefile archives, and converts
// tabular point data into sources the evaluation methods can read.
package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote source data. Implementations cover one URL
// scheme each; SyncSources routes by scheme.
type Fetcher interface {
	// Download fetches the URL and returns the payload stream. The
	// caller must close the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into the given path. Returns bytes
	// written. The file appears at path only once complete.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// writeFile streams r into path through a temp file in the same
// directory, so a failed transfer never leaves a truncated payload at
// the final name.
func writeFile(r io.Reader, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "fetcher: create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp file")
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrapf(err, "fetcher: close %s", path)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrapf(err, "fetcher: finalize %s", path)
	}
	return n, nil
}
