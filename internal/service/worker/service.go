// Package worker consumes the build queue: download raw source, run the
// build, upload the output tree, advance the lifecycle. One job at a time per
// process; parallelism comes from running more worker processes against the
// same queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/logs"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/workspace"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
)

// Downloader stages artifact objects locally. Satisfied by storage.CDNClient.
type Downloader interface {
	Download(ctx context.Context, keys []string, localDir string) (int, error)
}

// Service is the long-running queue consumer.
type Service struct {
	queue     queue.Queue
	status    queue.StatusStore
	repo      repository.DeploymentRepository
	store     storage.Store
	download  Downloader
	workspace *workspace.Manager
	logs      logs.Service
	runner    CommandRunner
	logger    *slog.Logger
	cfg       config.WorkerConfig
	metrics   *Metrics
}

// New constructs a worker. A nil runner defaults to ExecRunner.
func New(q queue.Queue, status queue.StatusStore, repo repository.DeploymentRepository, store storage.Store, download Downloader, ws *workspace.Manager, logSvc logs.Service, runner CommandRunner, logger *slog.Logger, cfg config.WorkerConfig, metrics *Metrics) Service {
	if runner == nil {
		runner = ExecRunner{}
	}
	return Service{
		queue:     q,
		status:    status,
		repo:      repo,
		store:     store,
		download:  download,
		workspace: ws,
		logs:      logSvc,
		runner:    runner,
		logger:    logger,
		cfg:       cfg,
		metrics:   metrics,
	}
}

// Run blocks on the queue until ctx is cancelled. Cancellation stops the
// claim of new work; a job already dequeued runs to completion. No job error
// or panic ever terminates the loop.
func (s Service) Run(ctx context.Context) error {
	s.logger.Info("worker listening", "queue", queue.BuildQueueKey)
	for {
		jobID, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("worker stopping")
				return nil
			}
			s.logger.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		s.logger.Info("job received", "deployment_id", jobID)
		s.logs.Emit(context.Background(), jobID, domain.LogSourceWorker, fmt.Sprintf("received job: %s", jobID))
		s.handle(jobID)
	}
}

// handle owns one job end to end. The deferred recover is the per-job error
// boundary: whatever happens in here is logged against the job and converted
// to a terminal state.
func (s Service) handle(jobID string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BuildTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "deployment_id", jobID, "panic", r)
			s.fail(ctx, jobID, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := s.setStatus(ctx, jobID, domain.StatusBuilding); err != nil {
		s.logger.Warn("mark building failed", "deployment_id", jobID, "error", err)
	}

	workdir, err := s.workspace.Prepare(jobID)
	if err != nil {
		s.fail(ctx, jobID, fmt.Errorf("prepare workspace: %w", err))
		return
	}
	defer func() {
		if err := s.workspace.Cleanup(workdir); err != nil {
			s.logger.Warn("workspace cleanup failed", "deployment_id", jobID, "error", err)
		}
	}()

	if err := s.stageSource(ctx, jobID); err != nil {
		s.fail(ctx, jobID, fmt.Errorf("download source: %w", err))
		return
	}
	s.logs.Emit(ctx, jobID, domain.LogSourceWorker, "source downloaded")

	sink := s.logs.Sink(ctx, jobID, domain.LogSourceBuild)
	for _, command := range []string{s.cfg.InstallCommand, s.cfg.BuildCommand} {
		exitCode, err := s.runner.Run(ctx, command, workdir, sink)
		if err != nil {
			s.fail(ctx, jobID, fmt.Errorf("run %q: %w", command, err))
			return
		}
		if exitCode != 0 {
			s.logs.Emit(ctx, jobID, domain.LogSourceWorker, fmt.Sprintf("build failed with code %d", exitCode))
			s.fail(ctx, jobID, fmt.Errorf("%q exited with code %d", command, exitCode))
			return
		}
	}

	outputDir := filepath.Join(workdir, s.cfg.OutputDir)
	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		s.fail(ctx, jobID, fmt.Errorf("build output directory %s not found", s.cfg.OutputDir))
		return
	}
	if err := s.store.UploadDir(ctx, outputDir, jobID+"/dist", func(rel string) {
		s.logs.Emit(ctx, jobID, domain.LogSourceWorker, fmt.Sprintf("uploading %s", rel))
	}); err != nil {
		s.fail(ctx, jobID, fmt.Errorf("upload build output: %w", err))
		return
	}

	if err := s.setStatus(ctx, jobID, domain.StatusDeployed); err != nil {
		s.fail(ctx, jobID, fmt.Errorf("mark deployed: %w", err))
		return
	}
	s.logs.Emit(ctx, jobID, domain.LogSourceWorker, fmt.Sprintf("%s: deployed", jobID))
	s.logs.Emit(ctx, jobID, domain.LogSourceWorker, fmt.Sprintf("job %s completed", jobID))
	s.logger.Info("job completed", "deployment_id", jobID, "duration", time.Since(start))
	if s.metrics != nil {
		s.metrics.ObserveJob("deployed", time.Since(start))
	}
}

// stageSource lists the raw-source namespace and downloads it through the
// CDN read path into the workspace root.
func (s Service) stageSource(ctx context.Context, jobID string) error {
	keys, err := s.store.List(ctx, jobID+"/")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no source objects under %s/", jobID)
	}
	count, err := s.download.Download(ctx, keys, s.workspace.Root())
	if err != nil {
		return err
	}
	s.logger.Info("source staged", "deployment_id", jobID, "files", count)
	return nil
}

// setStatus writes the shared status map and the durable record together.
func (s Service) setStatus(ctx context.Context, jobID string, next domain.Status) error {
	if err := s.status.SetStatus(ctx, jobID, next); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, jobID, next); err != nil {
		// A missing durable record must not strand the queue entry.
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("deployment record missing", "deployment_id", jobID)
			return nil
		}
		return err
	}
	return nil
}

func (s Service) fail(_ context.Context, jobID string, cause error) {
	// The job context may already be expired; failure bookkeeping gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Error("job failed", "deployment_id", jobID, "error", cause)
	s.logs.Emit(ctx, jobID, domain.LogSourceWorker, fmt.Sprintf("failed to process job %s: %v", jobID, cause))
	if err := s.setStatus(ctx, jobID, domain.StatusFailed); err != nil {
		s.logger.Error("mark failed errored", "deployment_id", jobID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveJob("failed", 0)
	}
}
