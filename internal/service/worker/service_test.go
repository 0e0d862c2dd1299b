package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/logs"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/workspace"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
)

// fakeQueue serves a fixed batch of jobs, then cancels the run context so the
// loop exits cleanly.
type fakeQueue struct {
	mu     sync.Mutex
	ids    []string
	cancel context.CancelFunc
}

func (f *fakeQueue) Dequeue(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		f.cancel()
		return "", context.Canceled
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

func (f *fakeQueue) Enqueue(ctx context.Context, id string) error { return nil }

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses map[string][]domain.Status
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{statuses: make(map[string][]domain.Status)}
}

func (f *fakeStatusStore) SetStatus(ctx context.Context, id string, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], status)
	return nil
}

func (f *fakeStatusStore) GetStatus(ctx context.Context, id string) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.statuses[id]
	if len(history) == 0 {
		return "", queue.ErrStatusNotFound
	}
	return history[len(history)-1], nil
}

func (f *fakeStatusStore) history(id string) []domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Status(nil), f.statuses[id]...)
}

// fakeRepo records status writes. Rows seeded via seed() enforce the domain
// transition rules, the way the real repository does.
type fakeRepo struct {
	mu         sync.Mutex
	rows       map[string]domain.Status
	statuses   map[string][]domain.Status
	logEntries []domain.LogEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:     make(map[string]domain.Status),
		statuses: make(map[string][]domain.Status),
	}
}

func (f *fakeRepo) seed(id string, status domain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = status
}

func (f *fakeRepo) current(id string) domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error { return nil }

func (f *fakeRepo) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id string, next domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.rows[id]; ok {
		if !current.CanTransitionTo(next) {
			return domain.ErrInvalidTransition{From: current, To: next}
		}
		f.rows[id] = next
	}
	f.statuses[id] = append(f.statuses[id], next)
	return nil
}

func (f *fakeRepo) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logEntries = append(f.logEntries, entry)
	return nil
}

func (f *fakeRepo) ListLogs(ctx context.Context, deploymentID string, limit, offset int) ([]domain.LogEntry, error) {
	return nil, nil
}

type fakeStore struct {
	mu       sync.Mutex
	keys     []string
	listErr  error
	uploaded []string
}

func (f *fakeStore) PutFile(ctx context.Context, key, localPath string) error { return nil }

func (f *fakeStore) UploadDir(ctx context.Context, localDir, prefix string, onFile func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, prefix)
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]string, error) {
	return f.keys, f.listErr
}

type fakeDownloader struct{ err error }

func (f fakeDownloader) Download(ctx context.Context, keys []string, localDir string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return len(keys), nil
}

// scriptedRunner fakes the install/build subprocesses. It can emit output
// lines, create the build output tree, return a nonzero exit or panic.
type scriptedRunner struct {
	mu           sync.Mutex
	commands     []string
	exitCode     int
	err          error
	panicOnce    bool
	createOutput string
}

func (r *scriptedRunner) Run(ctx context.Context, command, dir string, onLine func(string)) (int, error) {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	shouldPanic := r.panicOnce
	r.panicOnce = false
	r.mu.Unlock()

	if shouldPanic {
		panic("runner exploded")
	}
	if onLine != nil {
		onLine("> " + command)
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.exitCode != 0 {
		return r.exitCode, nil
	}
	if r.createOutput != "" {
		out := filepath.Join(dir, r.createOutput)
		if err := os.MkdirAll(out, 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(filepath.Join(out, "index.html"), []byte("<html></html>"), 0o644); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

type testHarness struct {
	svc    Service
	status *fakeStatusStore
	repo   *fakeRepo
	store  *fakeStore
	runner *scriptedRunner
	run    func() error
}

func newHarness(t *testing.T, ids []string, store *fakeStore, download Downloader, runner *scriptedRunner) testHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	q := &fakeQueue{ids: ids, cancel: cancel}
	status := newFakeStatusStore()
	repo := newFakeRepo()
	manager, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logSvc := logs.New(repo, nullBroker{}, logger)
	cfg := config.WorkerConfig{
		InstallCommand: "npm install",
		BuildCommand:   "npm run build",
		OutputDir:      "dist",
		BuildTimeout:   30 * time.Second,
	}
	svc := New(q, status, repo, store, download, manager, logSvc, runner, logger, cfg, NewMetrics())
	return testHarness{
		svc:    svc,
		status: status,
		repo:   repo,
		store:  store,
		runner: runner,
		run:    func() error { return svc.Run(ctx) },
	}
}

type nullBroker struct{}

func (nullBroker) Publish(ctx context.Context, id, line string) error { return nil }
func (nullBroker) Subscribe(ctx context.Context, id string) (<-chan string, func(), error) {
	ch := make(chan string)
	close(ch)
	return ch, func() {}, nil
}

func TestRunBuildsAndDeploys(t *testing.T) {
	store := &fakeStore{keys: []string{"job1/index.js", "job1/package.json"}}
	runner := &scriptedRunner{createOutput: "dist"}
	h := newHarness(t, []string{"job1"}, store, fakeDownloader{}, runner)

	if err := h.run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantStatuses := []domain.Status{domain.StatusBuilding, domain.StatusDeployed}
	got := h.status.history("job1")
	if len(got) != 2 || got[0] != wantStatuses[0] || got[1] != wantStatuses[1] {
		t.Errorf("status history = %v, want %v", got, wantStatuses)
	}
	if len(runner.commands) != 2 || runner.commands[0] != "npm install" || runner.commands[1] != "npm run build" {
		t.Errorf("commands = %v", runner.commands)
	}
	if len(store.uploaded) != 1 || store.uploaded[0] != "job1/dist" {
		t.Errorf("uploaded prefixes = %v, want [job1/dist]", store.uploaded)
	}
}

func TestRunNonZeroExitFailsWithoutUpload(t *testing.T) {
	store := &fakeStore{keys: []string{"job1/index.js"}}
	runner := &scriptedRunner{exitCode: 2}
	h := newHarness(t, []string{"job1"}, store, fakeDownloader{}, runner)

	if err := h.run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.status.history("job1")
	if len(got) != 2 || got[1] != domain.StatusFailed {
		t.Errorf("status history = %v, want building then failed", got)
	}
	if len(store.uploaded) != 0 {
		t.Errorf("uploaded = %v, want none", store.uploaded)
	}
}

func TestRunDeploysRecordMissingQueuedWrite(t *testing.T) {
	// The durable row can still read uploaded when the queued write was lost.
	// A successful build must land on deployed anyway.
	store := &fakeStore{keys: []string{"job1/index.js"}}
	runner := &scriptedRunner{createOutput: "dist"}
	h := newHarness(t, []string{"job1"}, store, fakeDownloader{}, runner)
	h.repo.seed("job1", domain.StatusUploaded)

	if err := h.run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.repo.current("job1"); got != domain.StatusDeployed {
		t.Errorf("durable status = %s, want deployed", got)
	}
}

func TestRunMissingSourceFails(t *testing.T) {
	store := &fakeStore{keys: nil}
	runner := &scriptedRunner{createOutput: "dist"}
	h := newHarness(t, []string{"job1"}, store, fakeDownloader{}, runner)

	if err := h.run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.status.history("job1")
	if len(got) == 0 || got[len(got)-1] != domain.StatusFailed {
		t.Errorf("status history = %v, want terminal failed", got)
	}
	if len(runner.commands) != 0 {
		t.Errorf("commands ran despite missing source: %v", runner.commands)
	}
}

func TestRunDownloadErrorFails(t *testing.T) {
	store := &fakeStore{keys: []string{"job1/index.js"}}
	runner := &scriptedRunner{createOutput: "dist"}
	h := newHarness(t, []string{"job1"}, store, fakeDownloader{err: errors.New("cdn unreachable")}, runner)

	if err := h.run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.status.history("job1")
	if len(got) == 0 || got[len(got)-1] != domain.StatusFailed {
		t.Errorf("status history = %v, want terminal failed", got)
	}
}

func TestRunSurvivesPanicAndContinues(t *testing.T) {
	store := &fakeStore{keys: []string{"job1/index.js"}}
	runner := &scriptedRunner{panicOnce: true, createOutput: "dist"}
	h := newHarness(t, []string{"job1", "job2"}, store, fakeDownloader{}, runner)

	if err := h.run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := h.status.history("job1")
	if len(first) == 0 || first[len(first)-1] != domain.StatusFailed {
		t.Errorf("job1 history = %v, want terminal failed", first)
	}
	second := h.status.history("job2")
	if len(second) == 0 || second[len(second)-1] != domain.StatusDeployed {
		t.Errorf("job2 history = %v, want terminal deployed", second)
	}
}

func TestRunReturnsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &fakeQueue{cancel: func() {}}
	manager, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newFakeRepo()
	svc := New(q, newFakeStatusStore(), repo, &fakeStore{}, fakeDownloader{}, manager, logs.New(repo, nullBroker{}, logger), &scriptedRunner{}, logger, config.WorkerConfig{}, NewMetrics())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
