package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetcher reads artifact objects. *storage.CDNClient satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, key string, inbound http.Header) (*http.Response, error)
}

// Server is the multi-tenant asset gateway. It maps the first hostname label
// to a deployment id and serves that deployment's built artifacts.
type Server struct {
	fetch   Fetcher
	cfg     config.GatewayConfig
	logger  *slog.Logger
	metrics *Metrics
}

// New builds a gateway server around the given artifact fetcher.
func New(fetch Fetcher, cfg config.GatewayConfig, logger *slog.Logger, metrics *Metrics) *Server {
	return &Server{fetch: fetch, cfg: cfg, logger: logger, metrics: metrics}
}

// Routes wires the gateway's handlers onto a mux. The health endpoint is
// registered first so it always wins over tenant routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/favicon.ico", s.handleFavicon)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.serve)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "gateway",
	})
}

// handleFavicon answers bare-host favicon probes with no content. Requests on
// a tenant subdomain fall through to the normal asset path.
func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	if _, err := tenantFromHost(r.Host); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.serve(w, r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error": "method not allowed",
		})
		return
	}

	tenantID, err := tenantFromHost(r.Host)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid hostname format, expected <deployment-id>.<domain>",
			"host":  r.Host,
		})
		return
	}
	if !ValidTenantID(tenantID) {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid deployment id",
			"id":    tenantID,
		})
		return
	}

	class := Classify(r.URL.Path)
	key := ResolveKey(tenantID, r.URL.Path)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.fetch.Fetch(ctx, key, r.Header)
	if err != nil {
		s.writeFetchError(w, r, class, tenantID, key, time.Since(start), err)
		return
	}
	defer resp.Body.Close()

	// One fallback fetch at most: a missed route path gets the tenant's
	// index.html, a missed asset path does not.
	if resp.StatusCode == http.StatusNotFound && class == ClassRoute && key != IndexKey(tenantID) {
		resp.Body.Close()
		key = IndexKey(tenantID)
		resp, err = s.fetch.Fetch(ctx, key, r.Header)
		if err != nil {
			s.writeFetchError(w, r, class, tenantID, key, time.Since(start), err)
			return
		}
		defer resp.Body.Close()
	}
	upstream := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusOK:
		s.writeObject(w, r, resp, class, key, upstream)
	case resp.StatusCode == http.StatusNotModified:
		s.writeNotModified(w, resp, class, key, upstream)
	case resp.StatusCode == http.StatusNotFound:
		s.observe(class, http.StatusNotFound, upstream)
		message := "deployment not found"
		if class == ClassAsset {
			message = "asset not found"
		}
		s.respondJSON(w, http.StatusNotFound, map[string]string{
			"error": message,
			"path":  r.URL.Path,
			"id":    tenantID,
			"key":   key,
		})
	case resp.StatusCode == http.StatusForbidden:
		s.observe(class, http.StatusForbidden, upstream)
		s.respondJSON(w, http.StatusForbidden, map[string]string{
			"error": "access to artifact denied",
			"path":  r.URL.Path,
			"id":    tenantID,
			"key":   key,
		})
	case resp.StatusCode >= http.StatusInternalServerError:
		s.observe(class, http.StatusServiceUnavailable, upstream)
		s.logger.Error("artifact store error", "key", key, "status", resp.StatusCode)
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "artifact store unavailable",
			"path":  r.URL.Path,
			"id":    tenantID,
		})
	default:
		s.observe(class, resp.StatusCode, upstream)
		s.respondJSON(w, resp.StatusCode, map[string]string{
			"error": fmt.Sprintf("unexpected upstream status %d", resp.StatusCode),
			"path":  r.URL.Path,
			"id":    tenantID,
		})
	}
}

func (s *Server) writeObject(w http.ResponseWriter, r *http.Request, resp *http.Response, class PathClass, key string, upstream time.Duration) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := storage.ContentTypeByExtension(key); byExt != "" {
			contentType = byExt
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	copyHeaders(w.Header(), resp.Header, "ETag", "Last-Modified", "Content-Encoding", "Content-Length")
	w.Header().Set("Cache-Control", s.cacheControl(resp.Header, class, contentType))

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		s.observe(class, http.StatusOK, upstream)
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("response copy interrupted", "key", key, "error", err)
	}
	s.observe(class, http.StatusOK, upstream)
}

func (s *Server) writeNotModified(w http.ResponseWriter, resp *http.Response, class PathClass, key string, upstream time.Duration) {
	copyHeaders(w.Header(), resp.Header, "ETag", "Last-Modified")
	w.Header().Set("Cache-Control", s.cacheControl(resp.Header, class, resp.Header.Get("Content-Type")))
	w.WriteHeader(http.StatusNotModified)
	s.observe(class, http.StatusNotModified, upstream)
}

func (s *Server) writeFetchError(w http.ResponseWriter, r *http.Request, class PathClass, tenantID, key string, upstream time.Duration, err error) {
	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	if timedOut {
		s.observe(class, http.StatusGatewayTimeout, upstream)
		s.logger.Error("artifact fetch timed out", "key", key, "error", err)
		s.respondJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error": "timed out fetching artifact",
			"path":  r.URL.Path,
			"id":    tenantID,
		})
		return
	}
	s.observe(class, http.StatusServiceUnavailable, upstream)
	s.logger.Error("artifact fetch failed", "key", key, "error", err)
	s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": "artifact store unavailable",
		"path":  r.URL.Path,
		"id":    tenantID,
	})
}

// cacheControl picks the response cache policy: the upstream's own header
// wins, then long-lived for non-HTML assets, short-lived for everything that
// renders a page.
func (s *Server) cacheControl(upstream http.Header, class PathClass, contentType string) string {
	if cc := upstream.Get("Cache-Control"); cc != "" {
		return cc
	}
	if class == ClassAsset && !strings.HasPrefix(contentType, "text/html") {
		return fmt.Sprintf("public, max-age=%d, immutable", int(s.cfg.AssetMaxAge.Seconds()))
	}
	return fmt.Sprintf("public, max-age=%d", int(s.cfg.RouteMaxAge.Seconds()))
}

func (s *Server) observe(class PathClass, status int, upstream time.Duration) {
	s.metrics.ObserveRequest(class, status, upstream)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
}

func copyHeaders(dst, src http.Header, names ...string) {
	for _, name := range names {
		if value := src.Get(name); value != "" {
			dst.Set(name, value)
		}
	}
}

// tenantFromHost extracts the deployment id from the first hostname label.
func tenantFromHost(host string) (string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("hostname %q has no subdomain", host)
	}
	return parts[0], nil
}
