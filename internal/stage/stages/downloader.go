package stages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/domain"
)

// HTTPDownloader is the production stage.Downloader: a plain GET over
// net/http with a hardened client, matching the teacher's pattern of a
// dedicated *http.Client with explicit timeouts rather than the package
// default client.
type HTTPDownloader struct {
	Client *http.Client
}

// NewHTTPDownloader returns a Downloader whose client has one overall
// 30-minute request timeout; there is no separate connect or read timeout.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{Timeout: 30 * time.Minute}}
}

func (d *HTTPDownloader) Download(ctx context.Context, sourceURL, destPath string) (domain.Subject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return domain.Subject{}, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return domain.Subject{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Subject{}, fmt.Errorf("download: unexpected status %d for %s", resp.StatusCode, sourceURL)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return domain.Subject{}, err
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("download: write %s: %w", destPath, err)
	}

	// Codec/resolution/fps/duration probing is delegated to the media
	// extractor's probe step (ffprobe) rather than duplicated here;
	// callers that need it immediately can call MediaExtractor.Probe.
	return domain.Subject{Bytes: n}, nil
}
