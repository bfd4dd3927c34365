package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/storage"
)

// lockTable hands out mutual exclusion per serialization key, the
// (environment, module name) pair. A waiter parks on the holder's
// release channel and re-contends when it closes; the context bounds
// how long it is willing to queue. Holders are mirrored to the durable
// store when one is configured so an operator can see which keys a
// crashed process held.
type lockTable struct {
	mu     sync.Mutex
	held   map[string]*lockEntry
	store  storage.Store
	clk    clock.Clock
	logger zerolog.Logger
}

type lockEntry struct {
	executionID string
	released    chan struct{}
}

func newLockTable(store storage.Store, clk clock.Clock, logger zerolog.Logger) *lockTable {
	return &lockTable{
		held:   make(map[string]*lockEntry),
		store:  store,
		clk:    clk,
		logger: logger,
	}
}

// Acquire takes the key for the given execution, waiting until the
// current holder releases or ctx expires. Returns ctx.Err() on
// timeout or cancellation.
func (l *lockTable) Acquire(ctx context.Context, key, executionID string) error {
	for {
		l.mu.Lock()
		entry, busy := l.held[key]
		if !busy {
			l.held[key] = &lockEntry{
				executionID: executionID,
				released:    make(chan struct{}),
			}
			l.mu.Unlock()
			l.persist(key, executionID)
			return nil
		}
		release := entry.released
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
	}
}

// Release frees the key. Only the holding execution may release;
// anything else is a misuse bug and is ignored with a log line rather
// than corrupting the table.
func (l *lockTable) Release(key, executionID string) {
	l.mu.Lock()
	entry, ok := l.held[key]
	if !ok || entry.executionID != executionID {
		l.mu.Unlock()
		l.logger.Error().
			Str("key", key).
			Str("execution_id", executionID).
			Msg("Release of a serialization key not held by this execution")
		return
	}
	delete(l.held, key)
	l.mu.Unlock()

	close(entry.released)
	l.unpersist(key)
}

// Holder reports which execution holds the key, if any
func (l *lockTable) Holder(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.held[key]
	if !ok {
		return "", false
	}
	return entry.executionID, true
}

func (l *lockTable) persist(key, executionID string) {
	if l.store == nil {
		return
	}
	err := l.store.PutLockHolder(&storage.LockHolder{
		Key:         key,
		ExecutionID: executionID,
		AcquiredAt:  l.clk.Now(),
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("Failed to persist lock holder")
	}
}

func (l *lockTable) unpersist(key string) {
	if l.store == nil {
		return
	}
	if err := l.store.DeleteLockHolder(key); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete persisted lock holder")
	}
}
