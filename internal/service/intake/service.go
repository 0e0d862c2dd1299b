// Package intake turns a deploy request into a queued job: validate, allocate
// an id, clone, strip VCS metadata, upload raw source, enqueue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/gitclone"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/id"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/service/logs"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/storage"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/workspace"
	"github.com/JenilSavalia/vercel-octo-sniffle/pkg/config"
)

// ErrValidation marks bad submissions (HTTP 400, never retried).
var ErrValidation = errors.New("intake: invalid request")

// Request is a deploy submission.
type Request struct {
	RepoURL string `json:"repoUrl"`
	Name    string `json:"deploymentName"`
	Type    string `json:"deploymentType"`
}

// Cloner fetches a repository into a directory. Satisfied by gitclone.
type Cloner func(ctx context.Context, repoURL, dest string) error

// Service runs the submission pipeline.
type Service struct {
	repo      repository.DeploymentRepository
	store     storage.Store
	broker    queue.Broker
	workspace *workspace.Manager
	logs      logs.Service
	clone     Cloner
	logger    *slog.Logger
	cfg       config.APIConfig
}

// New constructs an intake service. A nil cloner defaults to gitclone.Clone.
func New(repo repository.DeploymentRepository, store storage.Store, broker queue.Broker, ws *workspace.Manager, logSvc logs.Service, clone Cloner, logger *slog.Logger, cfg config.APIConfig) Service {
	if clone == nil {
		clone = gitclone.Clone
	}
	return Service{
		repo:      repo,
		store:     store,
		broker:    broker,
		workspace: ws,
		logs:      logSvc,
		clone:     clone,
		logger:    logger,
		cfg:       cfg,
	}
}

// Submit validates the request, stages the repository in the artifact store
// and enqueues the build. It returns the new deployment id synchronously.
// Any failure before the enqueue leaves nothing on the queue.
func (s Service) Submit(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.RepoURL) == "" {
		return "", fmt.Errorf("%w: repoUrl is required", ErrValidation)
	}

	deployID, err := id.New(s.cfg.DeployIDLength)
	if err != nil {
		return "", err
	}

	// The durable record must exist before the first log line: log rows
	// reference the deployment row.
	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        deployID,
		RepoURL:   req.RepoURL,
		Name:      req.Name,
		Type:      req.Type,
		Status:    domain.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateDeployment(ctx, deployment); err != nil {
		return "", fmt.Errorf("record deployment: %w", err)
	}
	if err := s.broker.SetStatus(ctx, deployID, domain.StatusUploaded); err != nil {
		return "", err
	}
	s.logger.Info("deployment submitted", "deployment_id", deployID, "repo_url", req.RepoURL)
	s.logs.Emit(ctx, deployID, domain.LogSourceIntake, fmt.Sprintf("deployment id generated: %s", deployID))

	workdir, err := s.workspace.Prepare(deployID)
	if err != nil {
		s.fail(ctx, deployID)
		return "", fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		if err := s.workspace.Cleanup(workdir); err != nil {
			s.logger.Warn("workspace cleanup failed", "deployment_id", deployID, "error", err)
		}
	}()

	cloneCtx, cancel := context.WithTimeout(ctx, s.cfg.CloneTimeout)
	defer cancel()
	if err := s.clone(cloneCtx, req.RepoURL, workdir); err != nil {
		s.logger.Error("repository clone failed", "deployment_id", deployID, "repo_url", req.RepoURL, "error", err)
		s.fail(ctx, deployID)
		return "", fmt.Errorf("clone repository: %w", err)
	}
	if err := gitclone.StripVCS(workdir); err != nil {
		s.fail(ctx, deployID)
		return "", err
	}
	s.logs.Emit(ctx, deployID, domain.LogSourceIntake, "repository cloned")

	if err := s.store.UploadDir(ctx, workdir, deployID, func(rel string) {
		s.logs.Emit(ctx, deployID, domain.LogSourceIntake, fmt.Sprintf("uploading %s", rel))
	}); err != nil {
		s.fail(ctx, deployID)
		return "", fmt.Errorf("upload source: %w", err)
	}

	if err := s.broker.Enqueue(ctx, deployID); err != nil {
		s.fail(ctx, deployID)
		return "", fmt.Errorf("enqueue deployment: %w", err)
	}
	if err := s.markQueued(ctx, deployID); err != nil {
		s.logger.Warn("mark queued failed", "deployment_id", deployID, "error", err)
	}
	s.logs.Emit(ctx, deployID, domain.LogSourceIntake, "build queued")
	return deployID, nil
}

// fail marks an aborted submission terminal so the durable record does not
// sit at uploaded forever. Best effort; the submission error is what the
// caller sees.
func (s Service) fail(ctx context.Context, deployID string) {
	if err := s.broker.SetStatus(ctx, deployID, domain.StatusFailed); err != nil {
		s.logger.Warn("mark failed (status map)", "deployment_id", deployID, "error", err)
	}
	if err := s.repo.UpdateStatus(ctx, deployID, domain.StatusFailed); err != nil {
		s.logger.Warn("mark failed (record)", "deployment_id", deployID, "error", err)
	}
}

func (s Service) markQueued(ctx context.Context, deployID string) error {
	if err := s.broker.SetStatus(ctx, deployID, domain.StatusQueued); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, deployID, domain.StatusQueued)
}

// Status reports the lifecycle state for an id, preferring the shared status
// map and falling back to the durable record.
func (s Service) Status(ctx context.Context, deployID string) (domain.Status, error) {
	status, err := s.broker.GetStatus(ctx, deployID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, queue.ErrStatusNotFound) {
		return "", err
	}
	deployment, err := s.repo.GetDeployment(ctx, deployID)
	if err != nil {
		return "", err
	}
	return deployment.Status, nil
}
