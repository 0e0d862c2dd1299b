package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"log/slog"
)

// ErrNoCDN indicates the reader was constructed without a base URL.
var ErrNoCDN = errors.New("storage: cdn base url not configured")

// CDNClient reads artifact objects through the CDN-fronted endpoint. This is
// the only read path the gateway and worker use; the S3 API is write/list.
type CDNClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// conditional request headers forwarded to the CDN verbatim.
var conditionalHeaders = []string{"If-None-Match", "If-Modified-Since"}

// NewCDNClient validates the base URL and builds a reader with the given
// upstream timeout.
func NewCDNClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*CDNClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, ErrNoCDN
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid cdn base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CDNClient{
		baseURL: trimmed,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// URL returns the CDN URL for an object key.
func (c *CDNClient) URL(key string) string {
	return c.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// Fetch GETs the object behind key, forwarding conditional headers from the
// inbound request when provided. The caller owns the response body.
func (c *CDNClient) Fetch(ctx context.Context, key string, inbound http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("build cdn request for %s: %w", key, err)
	}
	if inbound != nil {
		for _, name := range conditionalHeaders {
			if value := inbound.Get(name); value != "" {
				req.Header.Set(name, value)
			}
		}
		if accept := inbound.Get("Accept-Encoding"); accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
	}
	return c.client.Do(req)
}

// Download fetches every listed key into localDir, preserving the key's path
// below the root. Used by the worker to stage raw source before a build.
func (c *CDNClient) Download(ctx context.Context, keys []string, localDir string) (int, error) {
	count := 0
	for _, key := range keys {
		if err := c.downloadOne(ctx, key, localDir); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (c *CDNClient) downloadOne(ctx context.Context, key, localDir string) error {
	resp, err := c.Fetch(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", key, resp.StatusCode)
	}
	local := filepath.Join(localDir, filepath.FromSlash(key))
	if err := writeLocal(local, resp.Body); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Debug("object downloaded", "key", key, "path", local)
	}
	return nil
}
