package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/storage"
	"github.com/modkernel/switchyard/pkg/types"
)

const (
	// DefaultResultRetention is how long a terminal execution record
	// stays readable before the sweeper evicts it
	DefaultResultRetention = 7 * 24 * time.Hour

	// DefaultSweepInterval is how often the sweeper scans for expired
	// records
	DefaultSweepInterval = time.Hour
)

// Config holds tracker tunables
type Config struct {
	// ResultRetention is how long terminal records are kept. The
	// retention clock starts when the record turns terminal.
	ResultRetention time.Duration

	// Store, when set, receives a durable copy of every record change
	Store storage.Store
}

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Environment types.Environment
	ModuleName  string
	Status      types.PipelineStatus
	Since       time.Time // keep executions started at or after this instant
}

// Tracker is the authority over execution records. All mutation flows
// through Start, Update and Complete under one lock; readers only ever
// see deep copies. When a durable store is configured every change is
// written through, but the in-memory map stays authoritative: a store
// failure degrades durability, not serving.
type Tracker struct {
	mu         sync.RWMutex
	retention  time.Duration
	store      storage.Store
	clk        clock.Clock
	logger     zerolog.Logger
	executions map[string]*types.Execution
}

// New creates an empty tracker
func New(cfg Config, clk clock.Clock) *Tracker {
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = DefaultResultRetention
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Tracker{
		retention:  cfg.ResultRetention,
		store:      cfg.Store,
		clk:        clk,
		logger:     log.WithComponent("tracker"),
		executions: make(map[string]*types.Execution),
	}
}

// Start registers a fresh execution record. The record must carry an ID
// and a request; status, stages, and timestamps are seeded here so every
// tracked execution begins life in the same shape.
func (t *Tracker) Start(execution *types.Execution) error {
	if execution == nil || execution.ID == "" {
		return fmt.Errorf("%w: execution has no ID", types.ErrValidation)
	}
	if execution.Request == nil {
		return fmt.Errorf("%w: execution %s has no request", types.ErrValidation, execution.ID)
	}
	if execution.Status != "" && execution.Status != types.StatusPending {
		return fmt.Errorf("%w: execution %s starts as %s, want %s",
			types.ErrValidation, execution.ID, execution.Status, types.StatusPending)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.executions[execution.ID]; ok {
		return fmt.Errorf("%w: %s", types.ErrConflict, execution.ID)
	}

	rec := execution.Clone()
	rec.Status = types.StatusPending
	if len(rec.Stages) == 0 {
		rec.Stages = types.NewStages()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = t.clk.Now()
	}
	rec.LastUpdatedAt = rec.StartedAt

	t.executions[rec.ID] = rec
	t.persistLocked(rec)

	t.logger.Info().
		Str("execution_id", rec.ID).
		Str("module", rec.Request.Module.Ref()).
		Str("environment", string(rec.Request.TargetEnvironment)).
		Msg("Execution tracked")

	return nil
}

// Update applies fn to the execution under the tracker lock and
// validates the outcome before committing it. fn receives a private
// copy; returning an error discards the copy and leaves the record
// untouched. fn must not call back into the tracker.
//
// A commit is rejected when the record is already terminal, when fn
// changes the execution's identity or start time, when fn moves the
// status along an edge outside the lifecycle graph, or when fn moves
// the last-updated timestamp backwards. On success the committed
// snapshot is returned.
func (t *Tracker) Update(id string, fn func(*types.Execution) error) (*types.Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", types.ErrNotFound, id)
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s is %s", types.ErrInvalidTransition, id, cur.Status)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	if next.ID != cur.ID {
		return nil, fmt.Errorf("%w: execution ID is immutable", types.ErrValidation)
	}
	if !next.StartedAt.Equal(cur.StartedAt) {
		return nil, fmt.Errorf("%w: execution start time is immutable", types.ErrValidation)
	}
	if next.Status != cur.Status && !cur.Status.CanTransition(next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, cur.Status, next.Status)
	}
	if next.LastUpdatedAt.Before(cur.LastUpdatedAt) {
		return nil, fmt.Errorf("%w: last-updated timestamp may not move backwards", types.ErrValidation)
	}
	if now := t.clk.Now(); now.After(next.LastUpdatedAt) {
		next.LastUpdatedAt = now
	}

	t.executions[id] = next.Clone()
	t.persistLocked(next)

	if next.Status != cur.Status {
		t.logger.Info().
			Str("execution_id", id).
			Str("from", string(cur.Status)).
			Str("to", string(next.Status)).
			Msg("Execution status changed")
	}

	return next, nil
}

// Complete moves the execution to the terminal status carried by the
// result and attaches the result. The edge must be legal from the
// record's current status; a terminal record cannot be completed again.
// A zero duration is filled in from the record's own timestamps.
func (t *Tracker) Complete(id string, result *types.DeploymentResult) (*types.Execution, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil result", types.ErrValidation)
	}
	if !result.Status.Terminal() {
		return nil, fmt.Errorf("%w: result status %q is not terminal", types.ErrValidation, result.Status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", types.ErrNotFound, id)
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s is %s", types.ErrInvalidTransition, id, cur.Status)
	}
	if !cur.Status.CanTransition(result.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, cur.Status, result.Status)
	}

	next := cur.Clone()
	next.Status = result.Status
	res := *result
	res.AffectedNodes = append([]string(nil), result.AffectedNodes...)
	next.Result = &res
	if now := t.clk.Now(); now.After(next.LastUpdatedAt) {
		next.LastUpdatedAt = now
	}
	if res.DurationMs == 0 {
		next.Result.DurationMs = next.LastUpdatedAt.Sub(next.StartedAt).Milliseconds()
	}

	t.executions[id] = next.Clone()
	t.persistLocked(next)

	t.logger.Info().
		Str("execution_id", id).
		Str("status", string(next.Status)).
		Str("failure_kind", string(res.FailureKind)).
		Int64("duration_ms", next.Result.DurationMs).
		Msg("Execution completed")

	return next, nil
}

// Get returns a copy of the execution record
func (t *Tracker) Get(id string) (*types.Execution, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", types.ErrNotFound, id)
	}
	return e.Clone(), nil
}

// ListInProgress returns every non-terminal execution, newest first
func (t *Tracker) ListInProgress() []*types.Execution {
	t.mu.RLock()
	var out []*types.Execution
	for _, e := range t.executions {
		if !e.Status.Terminal() {
			out = append(out, e.Clone())
		}
	}
	t.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// List returns executions matching the filter, newest first, with ties
// broken by ID so pagination windows are stable. A non-positive limit
// means no cap; an offset past the end yields an empty slice.
func (t *Tracker) List(filter Filter, offset, limit int) []*types.Execution {
	t.mu.RLock()
	matches := make([]*types.Execution, 0)
	for _, e := range t.executions {
		if filter.matches(e) {
			matches = append(matches, e.Clone())
		}
	}
	t.mu.RUnlock()

	sortNewestFirst(matches)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matches) {
		return []*types.Execution{}
	}
	matches = matches[offset:]
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}

// StatusCounts reports how many tracked executions sit in each status.
// The metrics collector polls this to refresh its gauges.
func (t *Tracker) StatusCounts() map[types.PipelineStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[types.PipelineStatus]int)
	for _, e := range t.executions {
		counts[e.Status]++
	}
	return counts
}

// SweepExpired evicts terminal records whose last update is older than
// the retention window, returning how many were dropped. An in-flight
// execution is never evicted no matter how stale it looks; only a
// terminal status starts the retention clock.
func (t *Tracker) SweepExpired() int {
	cutoff := t.clk.Now().Add(-t.retention)

	t.mu.Lock()
	var evicted []string
	for id, e := range t.executions {
		if e.Status.Terminal() && !e.LastUpdatedAt.After(cutoff) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(t.executions, id)
		if t.store == nil {
			continue
		}
		if err := t.store.DeleteExecution(id); err != nil {
			t.logger.Warn().Err(err).
				Str("execution_id", id).
				Msg("Failed to delete execution record from store")
		}
	}
	t.mu.Unlock()

	if len(evicted) > 0 {
		t.logger.Info().
			Int("count", len(evicted)).
			Msg("Expired execution records evicted")
	}
	return len(evicted)
}

// LoadFromStore reads every persisted execution record into the tracker
// and returns the non-terminal ones, oldest first, so the caller can
// decide what to do with work that was in flight when the previous
// process died. Records already tracked in memory are left alone.
func (t *Tracker) LoadFromStore() ([]*types.Execution, error) {
	if t.store == nil {
		return nil, nil
	}
	records, err := t.store.ListExecutions()
	if err != nil {
		return nil, fmt.Errorf("loading execution records: %w", err)
	}

	t.mu.Lock()
	var inProgress []*types.Execution
	loaded := 0
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			continue
		}
		if _, ok := t.executions[rec.ID]; ok {
			continue
		}
		t.executions[rec.ID] = rec.Clone()
		loaded++
		if !rec.Status.Terminal() {
			inProgress = append(inProgress, rec.Clone())
		}
	}
	t.mu.Unlock()

	sort.Slice(inProgress, func(i, j int) bool {
		if !inProgress[i].StartedAt.Equal(inProgress[j].StartedAt) {
			return inProgress[i].StartedAt.Before(inProgress[j].StartedAt)
		}
		return inProgress[i].ID < inProgress[j].ID
	})

	t.logger.Info().
		Int("loaded", loaded).
		Int("in_progress", len(inProgress)).
		Msg("Execution records loaded from store")

	return inProgress, nil
}

func (f Filter) matches(e *types.Execution) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	if f.Environment != "" || f.ModuleName != "" {
		if e.Request == nil {
			return false
		}
		if f.Environment != "" && e.Request.TargetEnvironment != f.Environment {
			return false
		}
		if f.ModuleName != "" && (e.Request.Module == nil || e.Request.Module.Name != f.ModuleName) {
			return false
		}
	}
	return true
}

// sortNewestFirst orders by start time descending, ties by ID ascending
func sortNewestFirst(list []*types.Execution) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].StartedAt.After(list[j].StartedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// persistLocked writes the record through to the durable store. The
// in-memory record is already committed, so a store error is logged
// and dropped rather than unwound.
func (t *Tracker) persistLocked(e *types.Execution) {
	if t.store == nil {
		return
	}
	if err := t.store.PutExecution(e); err != nil {
		t.logger.Warn().Err(err).
			Str("execution_id", e.ID).
			Msg("Failed to persist execution record")
	}
}
