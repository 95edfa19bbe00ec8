package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a verb invocation
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one invocation of a verb against a state file
type Run struct {
	ID          string     `json:"id"`
	Verb        string     `json:"verb"`
	StatePath   string     `json:"state_path"`
	Root        string     `json:"root"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event represents an append-only phase event
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	Level     EventLevel `json:"level"`
	Phase     string     `json:"phase"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Checkpoint is a copy of the state document written at the end of a phase
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Phase     string    `json:"phase"`
	Hash      string    `json:"hash"` // SHA256 of Document
	Document  []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal receives every checkpoint written by a StateFile
type Journal interface {
	RecordCheckpoint(ctx context.Context, cp *Checkpoint) error
}

// Store defines the interface for the run journal
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, statePath string, limit, offset int) ([]*Run, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Checkpoint operations
	AppendCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string, seq int) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
