// Package queue defines the coordination surface between intake, workers and
// log consumers: a durable FIFO of deployment ids, a last-writer-wins status
// map and a best-effort per-deployment broadcast channel.
package queue

import (
	"context"
	"errors"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/domain"
)

// Wire names shared by every process attached to the coordination layer.
const (
	BuildQueueKey    = "build-queue"
	StatusKey        = "status"
	LogChannelPrefix = "logs:"
)

// ErrStatusNotFound indicates no status has ever been recorded for an id.
var ErrStatusNotFound = errors.New("queue: status not found")

// Queue is a durable FIFO of deployment ids. Dequeue removes and returns
// exactly one entry to exactly one caller; consumption is destructive and
// there is no redelivery.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	// Dequeue blocks until an entry is available or ctx is cancelled.
	Dequeue(ctx context.Context) (string, error)
}

// StatusStore overwrites and reads the current lifecycle state per id.
// Writes are last-writer-wins; lifecycle enforcement lives in the repository.
type StatusStore interface {
	SetStatus(ctx context.Context, id string, status domain.Status) error
	GetStatus(ctx context.Context, id string) (domain.Status, error)
}

// LogBroker broadcasts progress lines to currently connected subscribers.
// Delivery is fire-and-forget; a subscriber that connects after publication
// never sees the line. Durable replay is the repository's job.
type LogBroker interface {
	Publish(ctx context.Context, id, line string) error
	// Subscribe returns a channel of lines for the deployment and a cancel
	// function releasing the subscription.
	Subscribe(ctx context.Context, id string) (<-chan string, func(), error)
}

// Broker bundles all three coordination roles.
type Broker interface {
	Queue
	StatusStore
	LogBroker
}
