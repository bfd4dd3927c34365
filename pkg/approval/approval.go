package approval

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/notify"
	"github.com/modkernel/switchyard/pkg/storage"
	"github.com/modkernel/switchyard/pkg/types"
)

// DefaultTimeout is how long a gate stays open before auto-rejecting
const DefaultTimeout = 24 * time.Hour

// Decision is the outcome of one approval gate
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimedOut Decision = "timed-out"
)

// SystemApprover is the actor recorded on automatic resolutions
const SystemApprover = "system"

// Resolution records how a gate closed
type Resolution struct {
	ExecutionID string
	Decision    Decision
	ApproverID  string
	Reason      string
	DecidedAt   time.Time
}

// Approved reports whether the pipeline may proceed
func (r Resolution) Approved() bool { return r.Decision == DecisionApproved }

// Handle is what a suspended pipeline waits on. Done delivers exactly
// one Resolution; a withdrawn gate never delivers.
type Handle struct {
	ExecutionID string
	Deadline    time.Time
	ch          chan Resolution
}

// Done returns the channel the resolution arrives on
func (h *Handle) Done() <-chan Resolution { return h.ch }

// Pending is a snapshot of one unresolved gate
type Pending struct {
	ExecutionID string
	Environment types.Environment
	RequesterID string
	RequestedAt time.Time
	Deadline    time.Time
}

type pendingEntry struct {
	Pending
	handle   *Handle
	cancelCh chan struct{}
}

// Config holds the gate's collaborators and tunables
type Config struct {
	// Timeout is how long a request may stay pending (default 24h)
	Timeout time.Duration

	// Store persists pending gates across restarts. Nil makes this a
	// soft gate: pendings do not survive a restart.
	Store storage.Store

	// Audit receives every decision synchronously before the pipeline
	// resumes. Defaults to the structured-log sink.
	Audit notify.AuditSink

	Clock clock.Clock
}

// Gate holds deployments that need a human decision. Decisions are
// audited synchronously before the waiting pipeline is released;
// unresolved gates auto-reject at their deadline.
type Gate struct {
	mu      sync.Mutex
	timeout time.Duration
	store   storage.Store
	audit   notify.AuditSink
	clk     clock.Clock
	logger  zerolog.Logger
	pending map[string]*pendingEntry

	// rebuilt maps execution ID to the handle Rebuild re-armed for it,
	// until the resumed pipeline asks for the gate again. The handle's
	// buffer keeps a resolution that lands in between, so a decision
	// made while the pipeline is still catching up is not lost.
	rebuilt map[string]*Handle
}

// New creates an empty gate
func New(cfg Config) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Audit == nil {
		cfg.Audit = notify.NewLogAuditSink()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return &Gate{
		timeout: cfg.Timeout,
		store:   cfg.Store,
		audit:   cfg.Audit,
		clk:     cfg.Clock,
		logger:  log.WithComponent("approval"),
		pending: make(map[string]*pendingEntry),
		rebuilt: make(map[string]*Handle),
	}
}

// RequestApproval opens a gate for an execution and returns the handle
// the pipeline should block on. A resumed pipeline whose gate Rebuild
// re-armed adopts that handle instead of opening a second one, even if
// the gate resolved in the meantime. Opening a second gate for the
// same execution is otherwise a conflict.
func (g *Gate) RequestApproval(executionID string, env types.Environment, requesterID string) (*Handle, error) {
	if executionID == "" {
		return nil, fmt.Errorf("%w: execution ID is required", types.ErrValidation)
	}
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester ID is required", types.ErrValidation)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.rebuilt[executionID]; ok {
		delete(g.rebuilt, executionID)
		g.logger.Info().Str("execution_id", executionID).Msg("Rebuilt gate adopted by resumed pipeline")
		return h, nil
	}

	if _, exists := g.pending[executionID]; exists {
		return nil, fmt.Errorf("%w: approval already pending for execution %s", types.ErrConflict, executionID)
	}

	now := g.clk.Now()
	entry := &pendingEntry{
		Pending: Pending{
			ExecutionID: executionID,
			Environment: env,
			RequesterID: requesterID,
			RequestedAt: now,
			Deadline:    now.Add(g.timeout),
		},
		handle: &Handle{
			ExecutionID: executionID,
			Deadline:    now.Add(g.timeout),
			ch:          make(chan Resolution, 1),
		},
		cancelCh: make(chan struct{}),
	}
	g.pending[executionID] = entry
	g.persist(entry)
	g.armTimeout(entry)
	metrics.ApprovalsPending.Inc()

	g.logger.Info().
		Str("execution_id", executionID).
		Str("environment", string(env)).
		Str("requester", requesterID).
		Time("deadline", entry.Deadline).
		Msg("Approval requested")
	return entry.handle, nil
}

// Resolve closes a gate with a human decision. The approver must not
// be the requester, and the decision is written to the audit sink
// before the pipeline is released; an audit failure keeps the gate
// pending.
func (g *Gate) Resolve(executionID string, decision Decision, approverID, reason string) (Resolution, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return Resolution{}, fmt.Errorf("%w: decision must be %q or %q", types.ErrValidation, DecisionApproved, DecisionRejected)
	}
	if approverID == "" {
		return Resolution{}, fmt.Errorf("%w: approver ID is required", types.ErrValidation)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.pending[executionID]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: execution %s", types.ErrNotAwaitingApproval, executionID)
	}
	if approverID == entry.RequesterID {
		return Resolution{}, fmt.Errorf("%w: %s requested execution %s", types.ErrSelfApproval, approverID, executionID)
	}

	res := Resolution{
		ExecutionID: executionID,
		Decision:    decision,
		ApproverID:  approverID,
		Reason:      reason,
		DecidedAt:   g.clk.Now(),
	}
	if err := g.recordAudit(res, entry.Environment); err != nil {
		return Resolution{}, fmt.Errorf("recording approval decision: %w", err)
	}

	g.closeLocked(entry, res)
	return res, nil
}

// Withdraw removes a pending gate without a decision, used when the
// awaiting execution is cancelled. The waiting handle never fires.
func (g *Gate) Withdraw(executionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.pending[executionID]
	if !ok {
		return fmt.Errorf("%w: execution %s", types.ErrNotAwaitingApproval, executionID)
	}

	delete(g.pending, executionID)
	delete(g.rebuilt, executionID)
	close(entry.cancelCh)
	g.unpersist(executionID)
	metrics.ApprovalsPending.Dec()

	g.logger.Info().Str("execution_id", executionID).Msg("Approval withdrawn")
	return nil
}

// Pending lists unresolved gates, oldest first
func (g *Gate) Pending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Pending, 0, len(g.pending))
	for _, entry := range g.pending {
		out = append(out, entry.Pending)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out
}

// Rebuild re-arms gates persisted by a previous process so a restarted
// orchestrator keeps awaiting the same approvals. Gates whose deadline
// already passed resolve as timed out on the spot. Without a store
// this is a no-op; the gate is then soft, and the orchestrator treats
// orphaned awaiting executions as rejected.
func (g *Gate) Rebuild() ([]*Handle, error) {
	if g.store == nil {
		return nil, nil
	}
	persisted, err := g.store.ListApprovals()
	if err != nil {
		return nil, fmt.Errorf("listing persisted approvals: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	var handles []*Handle
	for _, p := range persisted {
		if _, exists := g.pending[p.ExecutionID]; exists {
			continue
		}
		entry := &pendingEntry{
			Pending: Pending{
				ExecutionID: p.ExecutionID,
				Environment: p.Environment,
				RequesterID: p.RequesterID,
				RequestedAt: p.RequestedAt,
				Deadline:    p.Deadline,
			},
			handle: &Handle{
				ExecutionID: p.ExecutionID,
				Deadline:    p.Deadline,
				ch:          make(chan Resolution, 1),
			},
			cancelCh: make(chan struct{}),
		}
		g.pending[p.ExecutionID] = entry
		g.rebuilt[p.ExecutionID] = entry.handle
		metrics.ApprovalsPending.Inc()

		if !p.Deadline.After(now) {
			g.expireLocked(entry)
		} else {
			g.armTimeout(entry)
		}
		handles = append(handles, entry.handle)
	}

	g.logger.Info().Int("count", len(handles)).Msg("Pending approvals rebuilt")
	return handles, nil
}

// armTimeout starts the auto-reject timer for a pending gate. Called
// with g.mu held; the goroutine re-acquires it on expiry. The timer
// channel is registered before the goroutine is spawned so a clock
// that only fires already-registered waiters cannot race past it.
func (g *Gate) armTimeout(entry *pendingEntry) {
	expired := g.clk.After(entry.Deadline.Sub(g.clk.Now()))
	go func() {
		select {
		case <-expired:
			g.expire(entry.ExecutionID)
		case <-entry.cancelCh:
		}
	}()
}

func (g *Gate) expire(executionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.pending[executionID]
	if !ok {
		return // resolved or withdrawn first
	}
	g.expireLocked(entry)
}

func (g *Gate) expireLocked(entry *pendingEntry) {
	res := Resolution{
		ExecutionID: entry.ExecutionID,
		Decision:    DecisionTimedOut,
		ApproverID:  SystemApprover,
		Reason:      fmt.Sprintf("no decision within %s", g.timeout),
		DecidedAt:   g.clk.Now(),
	}
	// The audit record is still written, but a sink failure cannot
	// hold an expired gate open forever.
	if err := g.recordAudit(res, entry.Environment); err != nil {
		g.logger.Error().Str("execution_id", entry.ExecutionID).Err(err).Msg("Audit of approval timeout failed")
	}
	g.closeLocked(entry, res)
}

// closeLocked finalizes a resolution: removes the entry, stops its
// timer, updates persistence and metrics, and releases the waiter.
func (g *Gate) closeLocked(entry *pendingEntry, res Resolution) {
	delete(g.pending, entry.ExecutionID)
	close(entry.cancelCh)
	g.unpersist(entry.ExecutionID)

	metrics.ApprovalsPending.Dec()
	metrics.ApprovalDecisionsTotal.WithLabelValues(string(res.Decision)).Inc()

	entry.handle.ch <- res

	g.logger.Info().
		Str("execution_id", res.ExecutionID).
		Str("decision", string(res.Decision)).
		Str("approver", res.ApproverID).
		Msg("Approval resolved")
}

func (g *Gate) recordAudit(res Resolution, env types.Environment) error {
	return g.audit.Record(auditEvent(res.Decision), res.ApproverID, res.DecidedAt, map[string]string{
		"execution_id": res.ExecutionID,
		"environment":  string(env),
		"decision":     string(res.Decision),
		"reason":       res.Reason,
	})
}

func auditEvent(decision Decision) string {
	switch decision {
	case DecisionApproved:
		return notify.AuditApprovalGranted
	case DecisionTimedOut:
		return notify.AuditApprovalTimedOut
	default:
		return notify.AuditApprovalRejected
	}
}

func (g *Gate) persist(entry *pendingEntry) {
	if g.store == nil {
		return
	}
	err := g.store.PutApproval(&storage.PendingApproval{
		ExecutionID: entry.ExecutionID,
		Environment: entry.Environment,
		RequesterID: entry.RequesterID,
		RequestedAt: entry.RequestedAt,
		Deadline:    entry.Deadline,
	})
	if err != nil {
		// The gate still works in memory; it has just degraded to soft.
		g.logger.Error().Str("execution_id", entry.ExecutionID).Err(err).Msg("Failed to persist pending approval")
	}
}

func (g *Gate) unpersist(executionID string) {
	if g.store == nil {
		return
	}
	if err := g.store.DeleteApproval(executionID); err != nil {
		g.logger.Error().Str("execution_id", executionID).Err(err).Msg("Failed to delete persisted approval")
	}
}
