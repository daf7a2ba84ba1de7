package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/resilience"
)

// FTPOptions configures the FTP fetcher. Empty credentials mean an
// anonymous login, which is what most public geodata servers expect.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
	Retry    resilience.RetryConfig
}

// FTPFetcher downloads files from FTP servers, one connection per
// transfer.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// splitFTPURL extracts the dial address (host:port, port defaulting to
// 21) and remote path from an ftp:// URL.
func splitFTPURL(rawURL string) (addr string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "fetcher: parse ftp url %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme in %s", rawURL)
	}
	if u.Path == "" {
		return "", "", eris.Errorf("fetcher: ftp url %s has no path", rawURL)
	}

	addr = u.Host
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return addr, u.Path, nil
}

// ftpReader keeps the control connection alive for the duration of the
// transfer; closing it ends the transfer and quits the session.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp session")
	}
	return nil
}

// Download connects, logs in, and starts retrieving the file. Connection
// setup is retried on transient failures; the caller must close the
// returned reader to release the session.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	addr, path, err := splitFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	cfg := f.opts.Retry
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("fetcher: retrying ftp transfer",
			zap.String("url", ftpURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (io.ReadCloser, error) {
		zap.L().Debug("fetcher: ftp connecting", zap.String("addr", addr), zap.String("path", path))

		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: ftp dial %s", addr), 0)
		}
		if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
			_ = conn.Quit()
			return nil, eris.Wrapf(err, "fetcher: ftp login %s", addr)
		}
		resp, err := conn.Retr(path)
		if err != nil {
			_ = conn.Quit()
			return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", path)
		}
		return &ftpReader{resp: resp, conn: conn}, nil
	})
}

// DownloadToFile downloads the FTP URL into path. Returns bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, path string) (int64, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	return writeFile(rc, path)
}
