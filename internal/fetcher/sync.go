package fetcher

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/project"
)

// etagsFileName is the conditional-download cache kept in the sources
// directory, mapping source keys to the ETag of the last payload.
const etagsFileName = ".etags.json"

// SourceStatus reports the outcome of syncing one descriptor remote.
type SourceStatus struct {
	Key     string
	URL     string
	Path    string // local path recorded in the descriptor
	Bytes   int64
	Changed bool // false when the remote still matched the cached ETag
	Err     error
}

// Syncer downloads the descriptor's remote sources into the project.
type Syncer struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewSyncer creates a Syncer from the scheme-specific fetchers.
func NewSyncer(h *HTTPFetcher, f *FTPFetcher) *Syncer {
	return &Syncer{http: h, ftp: f}
}

// Sync fetches the named remote sources (all of them when keys is empty)
// into the project's sources directory, unpacks archives, and points the
// descriptor's source map at the payloads. Failures are reported per
// source; one bad remote does not stop the rest.
func (s *Syncer) Sync(ctx context.Context, proj *project.Project, keys []string) ([]SourceStatus, error) {
	if len(keys) == 0 {
		for key := range proj.Desc.Remotes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	if len(keys) == 0 {
		return nil, eris.New("fetcher: project has no remote sources")
	}

	etagsPath := filepath.Join(proj.SourcesDir(), etagsFileName)
	etags := loadETags(etagsPath)

	statuses := make([]SourceStatus, 0, len(keys))
	var failed int
	var changed bool

	for _, key := range keys {
		if ctx.Err() != nil {
			return statuses, eris.Wrap(ctx.Err(), "fetcher: sync cancelled")
		}

		st := s.syncOne(ctx, proj, key, etags)
		statuses = append(statuses, st)
		if st.Err != nil {
			failed++
			zap.L().Warn("fetcher: source sync failed",
				zap.String("key", key),
				zap.String("url", st.URL),
				zap.Error(st.Err),
			)
			continue
		}
		if st.Changed {
			changed = true
		}
		zap.L().Info("fetcher: source synced",
			zap.String("key", key),
			zap.String("path", st.Path),
			zap.Int64("bytes", st.Bytes),
			zap.Bool("changed", st.Changed),
		)
	}

	if changed {
		if err := saveETags(etagsPath, etags); err != nil {
			return statuses, err
		}
		if err := proj.Save(); err != nil {
			return statuses, err
		}
	}

	zap.L().Info("fetcher: sync complete",
		zap.Int("sources", len(keys)),
		zap.Int("failed", failed),
	)
	return statuses, nil
}

// syncOne fetches a single remote and records its payload path on the
// descriptor. The descriptor is mutated but not saved here.
func (s *Syncer) syncOne(ctx context.Context, proj *project.Project, key string, etags map[string]string) SourceStatus {
	st := SourceStatus{Key: key}

	rawURL, ok := proj.Desc.Remotes[key]
	if !ok {
		st.Err = eris.Errorf("fetcher: no remote configured for source %q", key)
		return st
	}
	st.URL = rawURL

	u, err := url.Parse(rawURL)
	if err != nil {
		st.Err = eris.Wrapf(err, "fetcher: parse remote %s", rawURL)
		return st
	}

	destPath := filepath.Join(proj.SourcesDir(), payloadName(u, key))

	switch u.Scheme {
	case "http", "https":
		body, newTag, fetched, err := s.http.DownloadIfChanged(ctx, rawURL, cachedETag(proj, key, etags))
		if err != nil {
			st.Err = err
			return st
		}
		if !fetched {
			st.Path = proj.Desc.Sources[key]
			return st
		}
		st.Bytes, err = writeFile(body, destPath)
		_ = body.Close()
		if err != nil {
			st.Err = err
			return st
		}
		if newTag != "" {
			etags[key] = newTag
		}
	case "ftp":
		st.Bytes, err = s.ftp.DownloadToFile(ctx, rawURL, destPath)
		if err != nil {
			st.Err = err
			return st
		}
	default:
		st.Err = eris.Errorf("fetcher: unsupported scheme %q for source %q", u.Scheme, key)
		return st
	}

	payload, err := unpack(destPath, filepath.Join(proj.SourcesDir(), key))
	if err != nil {
		st.Err = err
		return st
	}

	recorded := payload
	if rel, err := filepath.Rel(proj.Root, payload); err == nil && !strings.HasPrefix(rel, "..") {
		recorded = rel
	}
	if proj.Desc.Sources == nil {
		proj.Desc.Sources = make(map[string]string)
	}
	proj.Desc.Sources[key] = recorded

	st.Path = recorded
	st.Changed = true
	return st
}

// cachedETag returns the stored ETag for key, but only while the
// recorded payload still exists; a deleted file forces a re-download.
func cachedETag(proj *project.Project, key string, etags map[string]string) string {
	tag := etags[key]
	if tag == "" {
		return ""
	}
	if _, ok := proj.Desc.Sources[key]; !ok {
		return ""
	}
	if _, err := os.Stat(proj.ResolveSource(key)); err != nil {
		return ""
	}
	return tag
}

// payloadName picks the local file name for a download.
func payloadName(u *url.URL, key string) string {
	base := filepath.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "" || base == "." || base == "/" {
		return key
	}
	return base
}

// unpack resolves an archive download to its payload: zips are extracted
// next to the download and the shapefile (or sole member) inside becomes
// the payload. Non-archives pass through.
func unpack(destPath, extractDir string) (string, error) {
	if !strings.EqualFold(filepath.Ext(destPath), ".zip") {
		return destPath, nil
	}

	if err := os.RemoveAll(extractDir); err != nil {
		return "", eris.Wrapf(err, "fetcher: clear extract dir %s", extractDir)
	}
	files, err := ExtractZIP(destPath, extractDir)
	if err != nil {
		return "", err
	}

	if shp := FindShapefile(files); shp != "" {
		return shp, nil
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return "", eris.Errorf("fetcher: archive %s has no shapefile and %d members", filepath.Base(destPath), len(files))
}

// ConvertPointsCSV parses point locations out of a CSV file and writes
// them as a shapefile source under the project, recording it in the
// descriptor. Returns the recorded source path.
func ConvertPointsCSV(ctx context.Context, proj *project.Project, key, csvPath string, opts PointCSVOptions) (string, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: open csv %s", csvPath)
	}
	defer f.Close() //nolint:errcheck

	pts, err := ReadPointsCSV(ctx, f, opts)
	if err != nil {
		return "", err
	}
	if len(pts) == 0 {
		return "", eris.Errorf("fetcher: %s has no rows with coordinates", csvPath)
	}

	if err := os.MkdirAll(proj.SourcesDir(), 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create sources dir")
	}
	dest := filepath.Join(proj.SourcesDir(), key+".shp")
	if err := geometry.WritePoints(dest, pts); err != nil {
		return "", err
	}

	recorded := dest
	if rel, err := filepath.Rel(proj.Root, dest); err == nil && !strings.HasPrefix(rel, "..") {
		recorded = rel
	}
	if proj.Desc.Sources == nil {
		proj.Desc.Sources = make(map[string]string)
	}
	proj.Desc.Sources[key] = recorded
	if err := proj.Save(); err != nil {
		return "", err
	}

	zap.L().Info("fetcher: csv converted to point source",
		zap.String("key", key),
		zap.String("path", recorded),
		zap.Int("points", len(pts)),
	)
	return recorded, nil
}

func loadETags(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return make(map[string]string)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return make(map[string]string)
	}
	return m
}

func saveETags(path string, m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return eris.Wrap(err, "fetcher: marshal etag cache")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "fetcher: create sources dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "fetcher: write etag cache")
	}
	return nil
}
