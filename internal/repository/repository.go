package repository

import (
	"context"
	"errors"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
)

// ErrNotFound indicates the deployment or log row does not exist.
var ErrNotFound = errors.New("repository: not found")

// DeploymentRepository persists deployment records and their append-only logs.
// Implementations must reject status writes that violate the forward-only
// lifecycle (domain.ErrInvalidTransition).
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	UpdateStatus(ctx context.Context, id string, next domain.Status) error
	AppendLog(ctx context.Context, entry domain.LogEntry) error
	ListLogs(ctx context.Context, deploymentID string, limit, offset int) ([]domain.LogEntry, error)
}
