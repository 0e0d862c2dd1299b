package domain

import (
	"fmt"
	"time"
)

// Status enumerates the deployment lifecycle. Transitions only move forward;
// a terminal status is a permanent record and a resubmission allocates a new id.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusQueued   Status = "queued"
	StatusBuilding Status = "building"
	StatusDeployed Status = "deployed"
	StatusFailed   Status = "failed"
)

// rank orders the lifecycle; terminal states share the highest rank.
var statusRank = map[Status]int{
	StatusUploaded: 0,
	StatusQueued:   1,
	StatusBuilding: 2,
	StatusDeployed: 3,
	StatusFailed:   3,
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s is a permanent end state.
func (s Status) Terminal() bool {
	return s == StatusDeployed || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the
// forward-only lifecycle. Failure is reachable from any non-terminal state.
// Forward jumps are permitted so that a missed intermediate write (the writer
// of queued or building being unreachable) cannot wedge the record short of
// its terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// ErrInvalidTransition is returned when a status write would move the
// lifecycle backwards or out of a terminal state.
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Deployment captures a single build-and-host lifecycle instance. The id
// doubles as queue token and tenant subdomain label.
type Deployment struct {
	ID        string
	RepoURL   string
	Name      string
	Type      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogEntry is one durable, append-only progress line for a deployment.
type LogEntry struct {
	ID           int64
	DeploymentID string
	Source       string
	Message      string
	CreatedAt    time.Time
}

// Log sources.
const (
	LogSourceIntake = "intake"
	LogSourceWorker = "worker"
	LogSourceBuild  = "build"
)
