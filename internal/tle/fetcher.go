package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle"

	// maxBodyBytes bounds a single response body.
	maxBodyBytes = 50 << 20

	userAgent = "azeltrack/1 (+https://github.com/star/azeltrack)"
)

// Fetcher retrieves raw TLE text from a primary source and optional extra
// sources. The extra bodies are appended to the primary one.
//
// Requests are conditional: the ETag and Last-Modified of each source's last
// good response are sent back, and a 304 reuses the body kept from it.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	validated map[string]cachedBody
}

// cachedBody is the last 200 response seen for one URL.
type cachedBody struct {
	etag         string
	lastModified string
	body         []byte
}

// NewFetcher creates a Fetcher for the given source URL.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    logger,
		validated: make(map[string]cachedBody),
	}
}

// SourceURL returns the configured primary source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch retrieves the primary source, failing if it fails, then each extra
// source, logging and skipping those that fail.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(body)
	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra TLE source failed", "url", u, "error", err)
			continue
		}
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.Write(extra)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	f.mu.Lock()
	prev, havePrev := f.validated[url]
	f.mu.Unlock()
	if havePrev {
		if prev.etag != "" {
			req.Header.Set("If-None-Match", prev.etag)
		}
		if prev.lastModified != "" {
			req.Header.Set("If-Modified-Since", prev.lastModified)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && havePrev {
		f.logger.Debug("TLE source not modified", "url", url)
		return prev.body, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	etag, lastModified := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
	if etag != "" || lastModified != "" {
		f.mu.Lock()
		f.validated[url] = cachedBody{etag: etag, lastModified: lastModified, body: body}
		f.mu.Unlock()
	}
	return body, nil
}
