package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fraud-pipeline/internal/common"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Downloader fetches raw datasets over HTTP.
type Downloader struct {
	rest *resty.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(2 * time.Minute) // default fallback
	}
	return &Downloader{rest: r}
}

// Download streams url into dst via a temp file. The result must parse as a
// headered numeric CSV before it replaces dst.
func (d *Downloader) Download(ctx context.Context, url, dst string) (*Frame, error) {
	if url == "" {
		return nil, fmt.Errorf("source URL is empty")
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, common.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(dst)+".download")
	defer os.Remove(tmp)

	start := time.Now()
	resp, err := d.rest.R().
		SetContext(ctx).
		SetOutput(tmp).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to download %s: HTTP %d", url, resp.StatusCode())
	}

	fr, err := ReadCSV(tmp)
	if err != nil {
		return nil, fmt.Errorf("downloaded file is not a valid dataset: %w", err)
	}
	if fr.Len() == 0 || len(fr.Columns) < 2 {
		return nil, fmt.Errorf("downloaded file is not a valid dataset: %d rows, %d columns", fr.Len(), len(fr.Columns))
	}
	if err := os.Rename(tmp, dst); err != nil {
		return nil, fmt.Errorf("failed to move download into %s: %w", dst, err)
	}

	log.Info().
		Str("url", url).
		Str("path", dst).
		Int("rows", fr.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Dataset downloaded")
	return fr, nil
}
