// Package ref imports the GeoNames postal code dataset into the
// verified_addresses reference table used for distance validation.
package ref

import (
	"archive/zip"
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocode-pipeline/internal/db"
)

const geonamesURLFormat = "https://download.geonames.org/export/zip/%s.zip"

// chunkSize bounds how many rows go into one bulk upsert.
const chunkSize = 5000

// Loader imports GeoNames postal data.
type Loader struct {
	pool       db.Pool
	httpClient *http.Client
	tempDir    string
}

// NewLoader creates a Loader. A nil httpClient falls back to
// http.DefaultClient; an empty tempDir uses the system temp directory.
func NewLoader(pool db.Pool, httpClient *http.Client, tempDir string) *Loader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Loader{pool: pool, httpClient: httpClient, tempDir: tempDir}
}

// ImportCountry downloads the GeoNames postal archive for a two-letter
// country code and upserts its rows into verified_addresses.
func (l *Loader) ImportCountry(ctx context.Context, country string) (int64, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if len(country) != 2 {
		return 0, eris.Errorf("ref: invalid country code %q", country)
	}

	log := zap.L().With(zap.String("component", "ref.loader"))

	url := strings.Replace(geonamesURLFormat, "%s", country, 1)
	zipPath := filepath.Join(l.tempDir, country+"-postal.zip")
	log.Info("downloading GeoNames postal archive", zap.String("url", url))

	if err := downloadFile(ctx, l.httpClient, url, zipPath); err != nil {
		return 0, eris.Wrap(err, "ref: download GeoNames archive")
	}
	defer os.Remove(zipPath) //nolint:errcheck

	extractDir := filepath.Join(l.tempDir, "geonames-"+country)
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return 0, eris.Wrap(err, "ref: create extract dir")
	}
	defer os.RemoveAll(extractDir) //nolint:errcheck

	if err := extractZIP(zipPath, extractDir); err != nil {
		return 0, eris.Wrap(err, "ref: extract GeoNames archive")
	}

	dataPath := filepath.Join(extractDir, country+".txt")
	if _, err := os.Stat(dataPath); err != nil {
		return 0, eris.Wrapf(err, "ref: postal data file %s not found in archive", country+".txt")
	}

	loaded, err := l.ImportFile(ctx, dataPath)
	if err != nil {
		return 0, err
	}

	log.Info("GeoNames postal data loaded",
		zap.String("country", country),
		zap.Int64("records", loaded),
	)
	return loaded, nil
}

// ImportFile upserts rows from a local GeoNames postal TSV file. Rows
// with an unparseable coordinate pair are skipped.
func (l *Loader) ImportFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "ref: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	log := zap.L().With(zap.String("component", "ref.loader"))

	cfg := db.UpsertConfig{
		Table:        "verified_addresses",
		Columns:      []string{"country", "zip_code", "city", "state", "county", "latitude", "longitude"},
		ConflictKeys: []string{"country", "zip_code"},
	}

	var (
		total   int64
		skipped int
		chunk   [][]any
	)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := db.BulkUpsert(ctx, l.pool, cfg, chunk)
		if err != nil {
			return eris.Wrap(err, "ref: upsert postal chunk")
		}
		total += n
		chunk = chunk[:0]
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		row, ok := parsePostalLine(scanner.Text())
		if !ok {
			skipped++
			continue
		}
		chunk = append(chunk, row)
		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, eris.Wrapf(err, "ref: read %s", path)
	}
	if err := flush(); err != nil {
		return total, err
	}

	if skipped > 0 {
		log.Warn("skipped unparseable postal rows", zap.Int("skipped", skipped))
	}
	return total, nil
}

// parsePostalLine parses one tab-separated GeoNames postal row:
// country, postal code, place name, admin1 name, admin1 code,
// admin2 name, admin2 code, admin3 name, admin3 code, lat, lon, accuracy.
func parsePostalLine(line string) ([]any, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 11 {
		return nil, false
	}

	country := strings.TrimSpace(fields[0])
	zip := strings.TrimSpace(fields[1])
	if country == "" || zip == "" {
		return nil, false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[9]), 64)
	if err != nil {
		return nil, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[10]), 64)
	if err != nil {
		return nil, false
	}

	return []any{
		country,
		zip,
		strings.TrimSpace(fields[2]), // city (place name)
		strings.TrimSpace(fields[4]), // state (admin1 code)
		strings.TrimSpace(fields[5]), // county (admin2 name)
		lat,
		lon,
	}, true
}

// downloadFile downloads a URL to a local file.
func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(f, resp.Body); err != nil {
		return eris.Wrap(err, "write file")
	}

	return nil
}

// extractZIP extracts a ZIP archive (flattened) to the destination directory.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}

	return nil
}
