package notify

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

type countingNotifier struct {
	states    atomic.Int64
	stages    atomic.Int64
	progress  atomic.Int64
	panicking bool
}

func (c *countingNotifier) OnStateChange(*types.Execution) {
	if c.panicking {
		panic("state sink broken")
	}
	c.states.Add(1)
}

func (c *countingNotifier) OnStageComplete(string, types.StageResult) {
	if c.panicking {
		panic("stage sink broken")
	}
	c.stages.Add(1)
}

func (c *countingNotifier) OnProgress(string, float64, string) {
	if c.panicking {
		panic("progress sink broken")
	}
	c.progress.Add(1)
}

// TestMultiIsolatesPanics tests that a broken sink never affects the
// caller or the other sinks
func TestMultiIsolatesPanics(t *testing.T) {
	good := &countingNotifier{}
	bad := &countingNotifier{panicking: true}
	multi := NewMulti(bad, good)

	exec := &types.Execution{ID: "exec-1", Status: types.StatusRunning}

	assert.NotPanics(t, func() {
		multi.OnStateChange(exec)
		multi.OnStageComplete("exec-1", types.StageResult{Name: types.StageDeploy, Status: types.StageSucceeded})
		multi.OnProgress("exec-1", 0.5, "halfway")
	})

	assert.Equal(t, int64(1), good.states.Load())
	assert.Equal(t, int64(1), good.stages.Load())
	assert.Equal(t, int64(1), good.progress.Load())
}

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	require.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventStateChanged, Message: "running"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventStateChanged, ev.Type)
		assert.False(t, ev.Timestamp.IsZero(), "broker should stamp events")
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	// Overflow the per-subscriber buffer without reading; Publish must
	// never block the caller
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			broker.Publish(&Event{Type: EventProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestBrokerNotifierPublishesStateChange(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	notifier := NewBrokerNotifier(broker)
	notifier.OnStateChange(&types.Execution{
		ID:     "exec-9",
		Status: types.StatusSucceeded,
		Request: &types.DeploymentRequest{
			Module:            &types.Module{Name: "auth", Version: "1.4.0"},
			TargetEnvironment: types.EnvDevelopment,
		},
	})

	select {
	case ev := <-sub:
		assert.Equal(t, EventStateChanged, ev.Type)
		assert.Equal(t, "exec-9", ev.Metadata["execution_id"])
		assert.Equal(t, "succeeded", ev.Metadata["status"])
		assert.Equal(t, "auth@1.4.0", ev.Metadata["module"])
	case <-time.After(2 * time.Second):
		t.Fatal("state change event not delivered")
	}
}

func TestMemoryAuditSink(t *testing.T) {
	sink := NewMemoryAuditSink()

	now := time.Now()
	require.NoError(t, sink.Record(AuditApprovalGranted, "bob", now, map[string]string{"execution_id": "exec-1"}))
	require.NoError(t, sink.Record(AuditApprovalRejected, "carol", now, map[string]string{"execution_id": "exec-2"}))

	all := sink.Records()
	require.Len(t, all, 2)
	assert.Equal(t, "bob", all[0].Actor)

	granted := sink.ByEvent(AuditApprovalGranted)
	require.Len(t, granted, 1)
	assert.Equal(t, "exec-1", granted[0].Payload["execution_id"])
}

func TestLogAuditSinkNeverFails(t *testing.T) {
	sink := NewLogAuditSink()
	assert.NoError(t, sink.Record(AuditDeploymentSubmitted, "alice", time.Now(), nil))
}
