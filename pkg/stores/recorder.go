package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Recorder journals one run of a verb. It is both a phase observer, which
// turns phase transitions into events, and the Journal of the state file,
// which stores a copy of every checkpoint tagged with the phase that wrote
// it.
type Recorder struct {
	store  Store
	run    *Run
	stack  []string
	logger zerolog.Logger
}

// NewRecorder prepares a run record for verb against the state file at
// statePath.
func NewRecorder(store Store, verb, statePath, root string) *Recorder {
	now := time.Now()
	return &Recorder{
		store: store,
		run: &Run{
			ID:        uuid.New().String(),
			Verb:      verb,
			StatePath: statePath,
			Root:      root,
			Status:    RunStatusRunning,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		},
		logger: log.Logger.With().Str("component", "journal").Logger(),
	}
}

// RunID returns the identifier of the recorded run.
func (r *Recorder) RunID() string { return r.run.ID }

// Start writes the run record.
func (r *Recorder) Start(ctx context.Context) error {
	return r.store.CreateRun(ctx, r.run)
}

// Finish marks the run completed or failed.
func (r *Recorder) Finish(ctx context.Context, runErr error) error {
	status := RunStatusCompleted
	var msg *string
	if runErr != nil {
		status = RunStatusFailed
		s := runErr.Error()
		msg = &s
	}
	return r.store.UpdateRunStatus(ctx, r.run.ID, status, msg)
}

// PhaseBegin implements engine.Observer.
func (r *Recorder) PhaseBegin(ctx context.Context, p *engine.Phase) context.Context {
	r.stack = append(r.stack, p.Description())
	r.append(ctx, EventLevelInfo, p.Description(), "BEGIN", nil)
	return ctx
}

// PhaseEnd implements engine.Observer.
func (r *Recorder) PhaseEnd(ctx context.Context, p *engine.Phase, err error, elapsed time.Duration) {
	if n := len(r.stack); n > 0 {
		r.stack = r.stack[:n-1]
	}

	details := map[string]interface{}{"duration_ms": elapsed.Milliseconds()}
	level := EventLevelInfo
	if err != nil {
		level = EventLevelError
		details["error"] = err.Error()
	}
	r.append(ctx, level, p.Description(), "END", details)
}

// PhaseMissing implements engine.Observer.
func (r *Recorder) PhaseMissing(p *engine.Phase, item string) {
	r.append(context.Background(), EventLevelWarning, p.Description(), "MISSING",
		map[string]interface{}{"item": item})
}

// RecordCheckpoint implements Journal.
func (r *Recorder) RecordCheckpoint(ctx context.Context, cp *Checkpoint) error {
	cp.RunID = r.run.ID
	if n := len(r.stack); n > 0 {
		cp.Phase = r.stack[n-1]
	}
	return r.store.AppendCheckpoint(ctx, cp)
}

func (r *Recorder) append(ctx context.Context, level EventLevel, phase, message string, details map[string]interface{}) {
	event := &Event{
		RunID:     r.run.ID,
		Level:     level,
		Phase:     phase,
		Message:   message,
		Timestamp: time.Now(),
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err == nil {
			s := string(data)
			event.Details = &s
		}
	}

	if err := r.store.AppendEvent(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("phase", phase).Msg("Failed to journal event")
	}
}

// Restore writes checkpoint seq of run runID back to the state file at
// path after verifying its hash.
func Restore(ctx context.Context, store Store, runID string, seq int, path string) (*Checkpoint, error) {
	cp, err := store.GetCheckpoint(ctx, runID, seq)
	if err != nil {
		return nil, err
	}
	if Hash(cp.Document) != cp.Hash {
		return nil, fmt.Errorf("checkpoint %s/%d is corrupt: hash mismatch", runID, seq)
	}
	if err := WriteAtomic(path, cp.Document); err != nil {
		return nil, err
	}
	return cp, nil
}
