// Package logs couples the two consumers of every progress line: a durable
// append into the deployment's log history and a best-effort broadcast to
// live subscribers. Publication failures never fail the caller's pipeline.
package logs

import (
	"context"
	"time"

	"log/slog"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository"
)

// Service fans one line out to the durable log and the broadcast channel.
type Service struct {
	repo   repository.DeploymentRepository
	broker queue.LogBroker
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.DeploymentRepository, broker queue.LogBroker, logger *slog.Logger) Service {
	return Service{repo: repo, broker: broker, logger: logger}
}

// Emit records message against the deployment and broadcasts it. The durable
// append and the broadcast are independent: either may fail without
// suppressing the other.
func (s Service) Emit(ctx context.Context, deploymentID, source, message string) {
	entry := domain.LogEntry{
		DeploymentID: deploymentID,
		Source:       source,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
	if s.repo != nil {
		if err := s.repo.AppendLog(ctx, entry); err != nil && s.logger != nil {
			s.logger.Warn("durable log append failed", "deployment_id", deploymentID, "error", err)
		}
	}
	if s.broker != nil {
		if err := s.broker.Publish(ctx, deploymentID, message); err != nil && s.logger != nil {
			s.logger.Debug("log broadcast failed", "deployment_id", deploymentID, "error", err)
		}
	}
}

// Sink adapts Emit into a line consumer for streaming subprocess output.
func (s Service) Sink(ctx context.Context, deploymentID, source string) func(string) {
	return func(line string) {
		s.Emit(ctx, deploymentID, source, line)
	}
}

// List replays the durable log history for a deployment.
func (s Service) List(ctx context.Context, deploymentID string, limit, offset int) ([]domain.LogEntry, error) {
	return s.repo.ListLogs(ctx, deploymentID, limit, offset)
}
