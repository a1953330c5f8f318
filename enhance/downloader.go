package enhance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxDownloadBytes caps how much a result download may read.
const DefaultMaxDownloadBytes = 50 << 20

// Downloader fetches result images from the URLs providers return.
// Provider result URLs are usually temporary, so the bytes are read fully
// into memory right away.
//
// Thread Safety: Downloader is safe for concurrent use.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// NewDownloader creates a Downloader. A nil client uses http.DefaultClient;
// maxBytes <= 0 uses DefaultMaxDownloadBytes.
func NewDownloader(client *http.Client, maxBytes int64) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	return &Downloader{client: client, maxBytes: maxBytes}
}

// DownloadBytes GETs url and returns the body and its Content-Type.
//
// Fails for non-200 responses, non-image content types and bodies larger
// than the configured limit.
func (d *Downloader) DownloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("download: URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isImageContentType(contentType) {
		return nil, "", fmt.Errorf("download: unexpected content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download: read body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("download: body exceeds %d bytes", d.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download: empty body")
	}
	return data, contentType, nil
}

// isImageContentType accepts image/* and the generic binary type some
// storage services use for uploads.
func isImageContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
