package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gatescope/gatescope/internal/logging"
)

// database describes one downloadable MMDB. Country is required; City and
// ASN enrich results but may fail without aborting the refresh.
type database struct {
	name     string
	file     string
	minSize  int64
	required bool
}

var downloadable = []database{
	{name: "country", file: CountryFile, minSize: 1 << 20, required: true},
	{name: "asn", file: ASNFile, minSize: 5 << 20},
	{name: "city", file: CityFile, minSize: 30 << 20},
}

// Community mirrors of the GeoLite2 databases, tried in order.
var mirrorTemplates = []string{
	"https://github.com/P3TERX/GeoLite.mmdb/releases/latest/download/%s",
	"https://raw.githubusercontent.com/P3TERX/GeoLite.mmdb/download/%s",
	"https://cdn.jsdelivr.net/gh/P3TERX/GeoLite.mmdb@download/%s",
}

const maxDatabaseAge = 7 * 24 * time.Hour

// Downloader fetches MMDB files into the service directory and hot-swaps
// the readers when anything changed.
type Downloader struct {
	svc    *Service
	client *http.Client
}

func NewDownloader(svc *Service) *Downloader {
	return &Downloader{
		svc:    svc,
		client: &http.Client{Timeout: 3 * time.Minute},
	}
}

// UpdateAll refreshes databases that are absent or older than a week. force
// refreshes everything. A required database failing every mirror is an
// error; optional ones only log.
func (d *Downloader) UpdateAll(ctx context.Context, force bool) error {
	dir := d.svc.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create geoip directory: %w", err)
	}

	changed := false
	var firstErr error

	for _, db := range downloadable {
		path := filepath.Join(dir, db.file)
		if !force && isFresh(path, maxDatabaseAge) {
			continue
		}

		if err := d.download(ctx, db, path); err != nil {
			if db.required {
				logging.Error("geoip download failed", "database", db.name, "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("download %s: %w", db.name, err)
				}
			} else {
				logging.Warn("optional geoip download failed", "database", db.name, "error", err)
			}
			continue
		}
		changed = true
	}

	if changed {
		if err := d.svc.Reload(); err != nil {
			logging.Warn("geoip reload after download failed", "error", err)
		}
	}
	return firstErr
}

func isFresh(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < maxAge
}

// download tries each mirror in order, with two retries per mirror, and
// replaces the target via temp-write plus atomic rename.
func (d *Downloader) download(ctx context.Context, db database, path string) error {
	var lastErr error

	for _, tmpl := range mirrorTemplates {
		url := fmt.Sprintf(tmpl, db.file)

		attempt := func() error {
			return d.fetchOne(ctx, url, db, path)
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)

		if err := backoff.Retry(attempt, policy); err != nil {
			lastErr = err
			logging.Warn("geoip mirror failed", "database", db.name, "url", url, "error", err)
			continue
		}

		logging.Info("geoip database downloaded", "database", db.name, "url", url)
		return nil
	}
	return lastErr
}

func (d *Downloader) fetchOne(ctx context.Context, url string, db database, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), db.file+".tmp-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	// A truncated or HTML error body must never replace a working database.
	if n < db.minSize {
		return fmt.Errorf("downloaded %s is too small: %d bytes (want ≥ %d)", db.file, n, db.minSize)
	}

	return os.Rename(tmpName, path)
}
