package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/intake"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/ws"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/jwt"
)

const testJWTSecret = "router-test-secret"
const testWebhookSecret = "hook-secret"

type fakeIntake struct {
	submitted []intake.Request
	submitID  string
	submitErr error
	statuses  map[string]domain.Status
}

func (f *fakeIntake) Submit(ctx context.Context, req intake.Request) (string, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeIntake) Status(ctx context.Context, deployID string) (domain.Status, error) {
	status, ok := f.statuses[deployID]
	if !ok {
		return "", queue.ErrStatusNotFound
	}
	return status, nil
}

type fakeLogs struct {
	entries []domain.LogEntry
	err     error
}

func (f *fakeLogs) List(ctx context.Context, deploymentID string, limit, offset int) ([]domain.LogEntry, error) {
	return f.entries, f.err
}

type fakeHub struct{}

func (fakeHub) Register(string, ws.Subscriber)   {}
func (fakeHub) Unregister(string, ws.Subscriber) {}

type denyLimiter struct{}

func (denyLimiter) Allow(string, int, time.Duration) rateDecision {
	return rateDecision{allowed: false, count: 1, windowEnd: time.Now().Add(time.Minute)}
}
func (denyLimiter) Close() {}

func newTestRouter(t *testing.T, svc *fakeIntake, logSvc *fakeLogs, limiter RateLimiter) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(logger, svc, logSvc, fakeHub{}, limiter, testJWTSecret, testWebhookSecret, nil, nil)
	t.Cleanup(r.Close)
	return r
}

func authHeader(t *testing.T) string {
	t.Helper()
	token, err := jwt.GenerateToken("user-1", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func TestDeployRequiresAuth(t *testing.T) {
	svc := &fakeIntake{submitID: "abc12345"}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	body := bytes.NewBufferString(`{"repoUrl":"https://github.com/u/app"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/deploy", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(svc.submitted) != 0 {
		t.Errorf("submit called despite missing auth")
	}
}

func TestDeployAccepted(t *testing.T) {
	svc := &fakeIntake{submitID: "abc12345"}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	body := bytes.NewBufferString(`{"repoUrl":"https://github.com/u/app","deploymentName":"app"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/deploy", body)
	req.Header.Set("Authorization", authHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["id"] != "abc12345" || payload["status"] != "queued" {
		t.Errorf("payload = %v", payload)
	}
	if len(svc.submitted) != 1 || svc.submitted[0].RepoURL != "https://github.com/u/app" {
		t.Errorf("submitted = %+v", svc.submitted)
	}
}

func TestDeployValidationError(t *testing.T) {
	svc := &fakeIntake{submitErr: fmt.Errorf("%w: repoUrl is required", intake.ErrValidation)}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/deploy", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", authHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeployInternalError(t *testing.T) {
	svc := &fakeIntake{submitErr: errors.New("clone repository: exit status 128")}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/deploy", bytes.NewBufferString(`{"repoUrl":"x"}`))
	req.Header.Set("Authorization", authHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestStatusLookup(t *testing.T) {
	svc := &fakeIntake{statuses: map[string]domain.Status{"abc12345": domain.StatusBuilding}}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status?id=abc12345", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "building" {
		t.Errorf("payload = %v", payload)
	}
}

func TestStatusMissingID(t *testing.T) {
	r := newTestRouter(t, &fakeIntake{}, &fakeLogs{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusUnknownID(t *testing.T) {
	r := newTestRouter(t, &fakeIntake{statuses: map[string]domain.Status{}}, &fakeLogs{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/status?id=zzzzzzzz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLogsReplay(t *testing.T) {
	logSvc := &fakeLogs{entries: []domain.LogEntry{
		{DeploymentID: "abc12345", Source: domain.LogSourceBuild, Message: "npm install"},
	}}
	r := newTestRouter(t, &fakeIntake{}, logSvc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/logs?id=abc12345", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []domain.LogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "npm install" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRateLimitedDeploy(t *testing.T) {
	r := newTestRouter(t, &fakeIntake{submitID: "abc12345"}, &fakeLogs{}, denyLimiter{})

	req := httptest.NewRequest(http.MethodPost, "/api/deploy", bytes.NewBufferString(`{"repoUrl":"x"}`))
	req.Header.Set("Authorization", authHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Errorf("rate limit headers missing")
	}
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignatureRequired(t *testing.T) {
	svc := &fakeIntake{submitID: "abc12345"}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	body := []byte(`{"repoUrl":"https://github.com/u/app"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(svc.submitted) != 0 {
		t.Errorf("submit called despite bad signature")
	}
}

func TestWebhookTriggersDeploy(t *testing.T) {
	svc := &fakeIntake{submitID: "abc12345"}
	r := newTestRouter(t, svc, &fakeLogs{}, nil)

	body := []byte(`{"repoUrl":"https://github.com/u/app"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if len(svc.submitted) != 1 {
		t.Errorf("submitted = %+v", svc.submitted)
	}
}

func TestHealthzDegraded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	down := func(context.Context) error { return errors.New("connection refused") }
	up := func(context.Context) error { return nil }
	r := NewRouter(logger, &fakeIntake{}, &fakeLogs{}, fakeHub{}, nil, testJWTSecret, testWebhookSecret, down, up)
	t.Cleanup(r.Close)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "degraded" {
		t.Errorf("payload = %v", payload)
	}
}
