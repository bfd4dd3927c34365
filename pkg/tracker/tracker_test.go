package tracker

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/storage"
	"github.com/modkernel/switchyard/pkg/types"
)

func newTestTracker(cfg Config) (*Tracker, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(cfg, clk), clk
}

func newExecution(id string, env types.Environment) *types.Execution {
	return &types.Execution{
		ID: id,
		Request: &types.DeploymentRequest{
			Module: &types.Module{
				Name:    "nf-conntrack-ext",
				Version: "1.5.0",
				Artifact: types.ArtifactRef{
					URI:          "oci://registry.internal/modules/nf-conntrack-ext:1.5.0",
					SHA256Digest: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
					SizeBytes:    4096,
				},
			},
			TargetEnvironment: env,
			RequesterID:       "usr-ops-1",
		},
	}
}

// seed starts an execution and fails the test on error
func seed(t *testing.T, tr *Tracker, id string, env types.Environment) {
	t.Helper()
	require.NoError(t, tr.Start(newExecution(id, env)))
}

// finish walks the execution to the given terminal status via running
func finish(t *testing.T, tr *Tracker, id string, status types.PipelineStatus) {
	t.Helper()
	_, err := tr.Update(id, func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)
	_, err = tr.Complete(id, &types.DeploymentResult{Status: status})
	require.NoError(t, err)
}

func TestStartSeedsFreshRecord(t *testing.T) {
	tr, clk := newTestTracker(Config{})

	require.NoError(t, tr.Start(newExecution("exec-1", types.EnvDevelopment)))

	got, err := tr.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Len(t, got.Stages, len(types.StageOrder))
	for _, stage := range got.Stages {
		assert.Equal(t, types.StagePending, stage.Status)
	}
	assert.Equal(t, clk.Now(), got.StartedAt)
	assert.Equal(t, got.StartedAt, got.LastUpdatedAt)
}

func TestStartRejectsDuplicateAndInvalid(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	require.NoError(t, tr.Start(newExecution("exec-1", types.EnvDevelopment)))
	require.ErrorIs(t, tr.Start(newExecution("exec-1", types.EnvDevelopment)), types.ErrConflict)

	require.ErrorIs(t, tr.Start(nil), types.ErrValidation)
	require.ErrorIs(t, tr.Start(&types.Execution{}), types.ErrValidation)
	require.ErrorIs(t, tr.Start(&types.Execution{ID: "exec-2"}), types.ErrValidation)

	running := newExecution("exec-3", types.EnvDevelopment)
	running.Status = types.StatusRunning
	require.ErrorIs(t, tr.Start(running), types.ErrValidation)
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)

	first, err := tr.Get("exec-1")
	require.NoError(t, err)
	first.Status = types.StatusFailed
	first.Stages[0].Status = types.StageFailed
	first.Request.Module.Version = "9.9.9"

	second, err := tr.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, second.Status)
	assert.Equal(t, types.StagePending, second.Stages[0].Status)
	assert.Equal(t, "1.5.0", second.Request.Module.Version)
}

func TestUpdateCommitsLegalTransition(t *testing.T) {
	tr, clk := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)
	startedAt := clk.Now()

	clk.Advance(2 * time.Second)
	updated, err := tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		stage := e.Stage(types.StageValidate)
		stage.Status = types.StageRunning
		stage.StartedAt = clk.Now()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, updated.Status)
	assert.Equal(t, startedAt.Add(2*time.Second), updated.LastUpdatedAt)

	got, err := tr.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)
	assert.Equal(t, types.StageRunning, got.Stage(types.StageValidate).Status)
}

func TestUpdateRejectsIllegalEdge(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)

	_, err := tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusSucceeded
		return nil
	})
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	got, err := tr.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestUpdateRejectsTerminalRecord(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)
	finish(t, tr, "exec-1", types.StatusSucceeded)

	_, err := tr.Update("exec-1", func(e *types.Execution) error {
		e.Stages[0].Message = "late edit"
		return nil
	})
	require.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestUpdateFnErrorDiscardsChanges(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)

	boom := errors.New("boom")
	_, err := tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := tr.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestUpdateGuardsIdentityAndTimestamps(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)

	_, err := tr.Update("exec-1", func(e *types.Execution) error {
		e.ID = "exec-2"
		return nil
	})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = tr.Update("exec-1", func(e *types.Execution) error {
		e.StartedAt = e.StartedAt.Add(-time.Hour)
		return nil
	})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = tr.Update("exec-1", func(e *types.Execution) error {
		e.LastUpdatedAt = e.LastUpdatedAt.Add(-time.Second)
		return nil
	})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = tr.Update("exec-1", func(e *types.Execution) error { return nil })
	require.NoError(t, err, "a no-op closure still commits")
}

func TestUpdateMissingExecution(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	_, err := tr.Update("ghost", func(e *types.Execution) error { return nil })
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = tr.Get("ghost")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestCompleteAttachesResult(t *testing.T) {
	tr, clk := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvDevelopment)

	_, err := tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)

	clk.Advance(90 * time.Second)
	result := &types.DeploymentResult{
		Status:        types.StatusSucceeded,
		NodesUpdated:  3,
		AffectedNodes: []string{"node-7"},
	}
	done, err := tr.Complete("exec-1", result)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.NodesUpdated)
	assert.Equal(t, int64(90_000), done.Result.DurationMs, "zero duration is filled from record timestamps")

	// The stored record holds its own copy of the result
	result.AffectedNodes[0] = "mutated"
	got, err := tr.Get("exec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-7"}, got.Result.AffectedNodes)

	_, err = tr.Complete("exec-1", &types.DeploymentResult{Status: types.StatusFailed})
	require.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestCompleteValidatesResult(t *testing.T) {
	tr, _ := newTestTracker(Config{})
	seed(t, tr, "exec-1", types.EnvStaging)

	_, err := tr.Complete("exec-1", nil)
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = tr.Complete("exec-1", &types.DeploymentResult{Status: types.StatusRunning})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = tr.Complete("ghost", &types.DeploymentResult{Status: types.StatusFailed})
	require.ErrorIs(t, err, types.ErrNotFound)

	// rolled-back is not reachable from awaiting-approval
	_, err = tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)
	_, err = tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusAwaitingApproval
		return nil
	})
	require.NoError(t, err)
	_, err = tr.Complete("exec-1", &types.DeploymentResult{Status: types.StatusRolledBack})
	require.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestListOrdersNewestFirstAndPaginates(t *testing.T) {
	tr, clk := newTestTracker(Config{})

	for _, id := range []string{"exec-1", "exec-2", "exec-3", "exec-4"} {
		seed(t, tr, id, types.EnvDevelopment)
		clk.Advance(time.Minute)
	}
	// Same start instant: ID breaks the tie
	seed(t, tr, "exec-6", types.EnvDevelopment)
	seed(t, tr, "exec-5", types.EnvDevelopment)

	ids := func(list []*types.Execution) []string {
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = e.ID
		}
		return out
	}

	full := tr.List(Filter{}, 0, 0)
	assert.Equal(t, []string{"exec-5", "exec-6", "exec-4", "exec-3", "exec-2", "exec-1"}, ids(full))

	page := tr.List(Filter{}, 2, 2)
	assert.Equal(t, []string{"exec-4", "exec-3"}, ids(page))

	assert.Empty(t, tr.List(Filter{}, 10, 2))
	assert.Equal(t, []string{"exec-5"}, ids(tr.List(Filter{}, -1, 1)))
}

func TestListFilters(t *testing.T) {
	tr, clk := newTestTracker(Config{})

	seed(t, tr, "exec-1", types.EnvDevelopment)
	finish(t, tr, "exec-1", types.StatusSucceeded)

	seed(t, tr, "exec-2", types.EnvProduction)

	other := newExecution("exec-3", types.EnvDevelopment)
	other.Request.Module.Name = "sched-ext-tuner"
	require.NoError(t, tr.Start(other))

	clk.Advance(time.Hour)
	cutoff := clk.Now()
	seed(t, tr, "exec-4", types.EnvQA)

	byEnv := tr.List(Filter{Environment: types.EnvProduction}, 0, 0)
	require.Len(t, byEnv, 1)
	assert.Equal(t, "exec-2", byEnv[0].ID)

	byStatus := tr.List(Filter{Status: types.StatusSucceeded}, 0, 0)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "exec-1", byStatus[0].ID)

	byModule := tr.List(Filter{ModuleName: "sched-ext-tuner"}, 0, 0)
	require.Len(t, byModule, 1)
	assert.Equal(t, "exec-3", byModule[0].ID)

	bySince := tr.List(Filter{Since: cutoff}, 0, 0)
	require.Len(t, bySince, 1)
	assert.Equal(t, "exec-4", bySince[0].ID)

	combined := tr.List(Filter{Environment: types.EnvDevelopment, Status: types.StatusPending}, 0, 0)
	require.Len(t, combined, 1)
	assert.Equal(t, "exec-3", combined[0].ID)
}

func TestListInProgressExcludesTerminal(t *testing.T) {
	tr, clk := newTestTracker(Config{})

	seed(t, tr, "exec-1", types.EnvDevelopment)
	clk.Advance(time.Minute)
	seed(t, tr, "exec-2", types.EnvDevelopment)
	clk.Advance(time.Minute)
	seed(t, tr, "exec-3", types.EnvDevelopment)
	finish(t, tr, "exec-2", types.StatusFailed)

	live := tr.ListInProgress()
	require.Len(t, live, 2)
	assert.Equal(t, "exec-3", live[0].ID)
	assert.Equal(t, "exec-1", live[1].ID)
}

func TestStatusCounts(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	seed(t, tr, "exec-1", types.EnvDevelopment)
	seed(t, tr, "exec-2", types.EnvDevelopment)
	_, err := tr.Update("exec-2", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)
	seed(t, tr, "exec-3", types.EnvDevelopment)
	finish(t, tr, "exec-3", types.StatusSucceeded)

	counts := tr.StatusCounts()
	assert.Equal(t, 1, counts[types.StatusPending])
	assert.Equal(t, 1, counts[types.StatusRunning])
	assert.Equal(t, 1, counts[types.StatusSucceeded])
	assert.Zero(t, counts[types.StatusFailed])
}

func TestSweepEvictsOnlyExpiredTerminal(t *testing.T) {
	tr, clk := newTestTracker(Config{ResultRetention: time.Hour})

	seed(t, tr, "exec-1", types.EnvDevelopment)
	finish(t, tr, "exec-1", types.StatusSucceeded)
	seed(t, tr, "exec-2", types.EnvDevelopment)

	clk.Advance(30 * time.Minute)
	seed(t, tr, "exec-3", types.EnvDevelopment)
	finish(t, tr, "exec-3", types.StatusRolledBack)

	clk.Advance(30 * time.Minute)
	assert.Equal(t, 1, tr.SweepExpired())

	_, err := tr.Get("exec-1")
	require.ErrorIs(t, err, types.ErrNotFound)

	// A stale but in-flight record is never swept
	_, err = tr.Get("exec-2")
	require.NoError(t, err)

	// Terminal for only half the retention window
	_, err = tr.Get("exec-3")
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	assert.Equal(t, 1, tr.SweepExpired())
	_, err = tr.Get("exec-3")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestSweeperRunsOnTicker(t *testing.T) {
	tr, clk := newTestTracker(Config{ResultRetention: time.Hour})

	seed(t, tr, "exec-1", types.EnvDevelopment)
	finish(t, tr, "exec-1", types.StatusCancelled)

	sweeper := NewSweeper(tr, 10*time.Minute, clk)
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		clk.Advance(10 * time.Minute)
		_, err := tr.Get("exec-1")
		return errors.Is(err, types.ErrNotFound)
	}, 2*time.Second, time.Millisecond, "sweeper never evicted the expired record")
}

func TestWriteThroughAndReload(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr := New(Config{Store: store}, clk)

	require.NoError(t, tr.Start(newExecution("exec-1", types.EnvDevelopment)))
	_, err = tr.Update("exec-1", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, tr.Start(newExecution("exec-2", types.EnvStaging)))
	_, err = tr.Update("exec-2", func(e *types.Execution) error {
		e.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)
	_, err = tr.Complete("exec-2", &types.DeploymentResult{
		Status:          types.StatusRolledBack,
		FailureKind:     types.FailureHealthDegradation,
		NodesUpdated:    2,
		NodesRolledBack: 2,
	})
	require.NoError(t, err)

	reloaded := New(Config{Store: store}, clk)
	inProgress, err := reloaded.LoadFromStore()
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, "exec-1", inProgress[0].ID)
	assert.Equal(t, types.StatusRunning, inProgress[0].Status)

	got, err := reloaded.Get("exec-2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRolledBack, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.NodesRolledBack)
	assert.Equal(t, types.FailureHealthDegradation, got.Result.FailureKind)

	// Sweeping removes the durable copy as well
	clk.Advance(DefaultResultRetention)
	require.Equal(t, 1, tr.SweepExpired())

	fresh := New(Config{Store: store}, clk)
	_, err = fresh.LoadFromStore()
	require.NoError(t, err)
	_, err = fresh.Get("exec-2")
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = fresh.Get("exec-1")
	require.NoError(t, err)
}
