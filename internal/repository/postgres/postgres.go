package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
	"github.com/JenilSavalia/vercel-octo-sniffle/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, repo_url, name, type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, d.ID, d.RepoURL, d.Name, d.Type, string(d.Status), d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDeployment fetches a deployment by id.
func (r *Repository) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, repo_url, name, type, status, created_at, updated_at
		FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var d domain.Deployment
	var status string
	if err := row.Scan(&d.ID, &d.RepoURL, &d.Name, &d.Type, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.Status = domain.Status(status)
	return &d, nil
}

// UpdateStatus advances the deployment lifecycle. The read-check-write runs
// in a transaction with the row locked so concurrent writers cannot race a
// backward transition past the check.
func (r *Repository) UpdateStatus(ctx context.Context, id string, next domain.Status) error {
	if !next.Valid() {
		return domain.ErrInvalidTransition{To: next}
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	row := tx.QueryRow(ctx, `SELECT status FROM deployments WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	from := domain.Status(current)
	if !from.CanTransitionTo(next) {
		return domain.ErrInvalidTransition{From: from, To: next}
	}
	if _, err := tx.Exec(ctx, `UPDATE deployments SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(next), time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendLog stores one progress line. Order is the insertion order of the
// bigserial key.
func (r *Repository) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	const query = `INSERT INTO deployment_logs (deployment_id, source, message, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, entry.DeploymentID, entry.Source, entry.Message, entry.CreatedAt.UTC())
	return err
}

// ListLogs returns log lines for a deployment in append order.
func (r *Repository) ListLogs(ctx context.Context, deploymentID string, limit, offset int) ([]domain.LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, deployment_id, source, message, created_at
		FROM deployment_logs WHERE deployment_id = $1
		ORDER BY id ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, deploymentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Source, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
