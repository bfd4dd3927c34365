package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modkernel/switchyard/pkg/approval"
	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/config"
	"github.com/modkernel/switchyard/pkg/driver"
	"github.com/modkernel/switchyard/pkg/notify"
	"github.com/modkernel/switchyard/pkg/pipeline"
	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/registry"
	"github.com/modkernel/switchyard/pkg/storage"
	"github.com/modkernel/switchyard/pkg/tracker"
	"github.com/modkernel/switchyard/pkg/types"
	"github.com/modkernel/switchyard/pkg/verify"
)

// rig wires a full deployment core over simulated drivers and a fake
// clock. Settle and hold windows pass by advancing the clock; only the
// queue wait runs on real time, so tests keep it short.
type rig struct {
	clk    *clock.Fake
	cfg    config.Config
	reg    *registry.Registry
	source *probe.SimSource
	drv    *driver.SimDriver
	stager *driver.SimStager
	prov   *driver.SimProvisioner
	signer *verify.DevSigner
	gate   *approval.Gate
	trk    *tracker.Tracker
	audit  *notify.MemoryAuditSink
	orch   *Orchestrator
}

func newRig(t *testing.T, store storage.Store, mutate func(*config.Config)) *rig {
	t.Helper()

	cfg := config.Default()
	cfg.Orchestrator.QueueWait = config.Duration(150 * time.Millisecond)
	// The await helper advances the clock in 5s strides; a generous
	// grace keeps seeded heartbeats fresh between probe refreshes.
	cfg.Heartbeat.Grace = config.Duration(24 * time.Hour)
	cfg.Rolling.BatchSettleWindow = config.Duration(10 * time.Second)
	cfg.Canary.StepHoldWindow = config.Duration(10 * time.Second)
	cfg.BlueGreen.BlueHoldWindow = config.Duration(time.Minute)
	if mutate != nil {
		mutate(&cfg)
	}

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	latency := make(map[types.Environment]float64)
	serving := make(map[types.Environment]float64)
	for env, ec := range cfg.Environments {
		latency[env] = ec.P95LatencyBudgetMs
		serving[env] = ec.MinHealthyFraction
	}
	reg := registry.New(registry.Config{
		HeartbeatGrace:     cfg.Heartbeat.Grace.D(),
		LatencyBudgetMs:    latency,
		MinHealthyFraction: serving,
	}, clk)

	source := probe.NewSimSource(clk)
	prb := probe.New(source, reg, probe.Config{
		SampleInterval: cfg.Probe.SampleInterval.D(),
		MaxConcurrent:  cfg.Probe.Parallelism,
	}, clk)

	signer, err := verify.NewDevSigner("release-signer")
	require.NoError(t, err)
	verifier, err := verify.New(verify.Config{TrustRootsPEM: signer.ChainPEM()})
	require.NoError(t, err)

	audit := notify.NewMemoryAuditSink()
	gate := approval.New(approval.Config{
		Timeout: cfg.Approval.Timeout.D(),
		Store:   store,
		Audit:   audit,
		Clock:   clk,
	})
	trk := tracker.New(tracker.Config{
		ResultRetention: cfg.Tracker.ResultRetention.D(),
		Store:           store,
	}, clk)

	r := &rig{
		clk:    clk,
		cfg:    cfg,
		reg:    reg,
		source: source,
		drv:    driver.NewSimDriver(),
		stager: driver.NewSimStager(),
		prov:   driver.NewSimProvisioner(),
		signer: signer,
		gate:   gate,
		trk:    trk,
		audit:  audit,
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Registry:    reg,
		Verifier:    verifier,
		Probe:       prb,
		Stager:      r.stager,
		Driver:      r.drv,
		Provisioner: r.prov,
		Gate:        gate,
		Tracker:     trk,
		Clock:       clk,
	}, cfg)
	require.NoError(t, err)

	orch, err := New(Deps{
		Pipeline: pipe,
		Tracker:  trk,
		Gate:     gate,
		Audit:    audit,
		Store:    store,
		Clock:    clk,
	}, cfg)
	require.NoError(t, err)
	r.orch = orch

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			_ = orch.Shutdown(ctx)
			close(done)
		}()
		// Shutdown waits for pipelines parked on fake-clock windows.
		for {
			select {
			case <-done:
				return
			default:
				clk.Advance(5 * time.Second)
				time.Sleep(time.Millisecond)
			}
		}
	})
	return r
}

// seed registers n healthy nodes running version 1.4.0 in the
// environment's cluster
func (r *rig) seed(t *testing.T, env types.Environment, n int) *types.Cluster {
	t.Helper()

	cluster, err := r.reg.EnsureCluster(env)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("node-%d", i)
		require.NoError(t, r.reg.Register(&types.Node{
			ID:             id,
			ClusterID:      cluster.ID,
			Address:        id + ":9000",
			CurrentVersion: "1.4.0",
		}))
		require.NoError(t, r.reg.Heartbeat(id, types.HealthSnapshot{
			CPUPercent:    20,
			MemoryPercent: 30,
			P95LatencyMs:  50,
			ErrorRate:     0.001,
			SampledAt:     r.clk.Now(),
		}))
	}
	return cluster
}

func (r *rig) module(t *testing.T, name, version string) *types.Module {
	t.Helper()

	sum := sha256.Sum256([]byte(name + "-" + version))
	m := &types.Module{
		Name:    name,
		Version: version,
		Artifact: types.ArtifactRef{
			URI:          fmt.Sprintf("https://artifacts.internal/%s-%s.ko", name, version),
			SHA256Digest: hex.EncodeToString(sum[:]),
			SizeBytes:    1 << 20,
		},
	}
	require.NoError(t, r.signer.SignModule(m))
	return m
}

func (r *rig) request(t *testing.T, env types.Environment, name, version string) *types.DeploymentRequest {
	t.Helper()
	return &types.DeploymentRequest{
		Module:            r.module(t, name, version),
		TargetEnvironment: env,
		RequesterID:       "dev-alice",
		RequestedAt:       r.clk.Now(),
	}
}

// await polls the execution while stepping the fake clock until it
// reaches the wanted status
func (r *rig) await(t *testing.T, id string, want types.PipelineStatus) *types.Execution {
	t.Helper()

	var exec *types.Execution
	require.Eventually(t, func() bool {
		e, err := r.orch.Get(id)
		if err != nil {
			return false
		}
		exec = e
		if e.Status == want {
			return true
		}
		r.clk.Advance(5 * time.Second)
		return false
	}, 15*time.Second, time.Millisecond, "execution %s never reached %s", id, want)
	return exec
}

func stageStatus(t *testing.T, exec *types.Execution, name types.StageName) types.StageStatus {
	t.Helper()
	sr := exec.Stage(name)
	require.NotNil(t, sr)
	return sr.Status
}

func nodeVersion(t *testing.T, reg *registry.Registry, id string) string {
	t.Helper()
	n, err := reg.GetNode(id)
	require.NoError(t, err)
	return n.CurrentVersion
}

func TestDevDirectHappyPath(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvDevelopment, 3)

	id, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.4.0"), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	exec := r.await(t, id, types.StatusSucceeded)

	for _, name := range []types.StageName{
		types.StageValidate, types.StageSignatureCheck, types.StagePrepare,
		types.StageSmokeTest, types.StageDeploy, types.StagePostValidate,
	} {
		assert.Equal(t, types.StageSucceeded, stageStatus(t, exec, name), "stage %s", name)
	}
	assert.Equal(t, types.StageSkipped, stageStatus(t, exec, types.StageApprovalGate))

	require.NotNil(t, exec.Result)
	assert.Equal(t, 3, exec.Result.NodesUpdated)
	assert.Equal(t, 0, exec.Result.NodesRolledBack)
	assert.Empty(t, exec.Result.AffectedNodes)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, "1.4.0", nodeVersion(t, r.reg, fmt.Sprintf("node-%d", i)))
	}

	granted := r.audit.ByEvent(notify.AuditDeploymentSubmitted)
	require.Len(t, granted, 1)
	assert.Equal(t, "dev-alice", granted[0].Actor)
}

func TestRollingMidFlightFailureRollsBack(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvQA, 6)
	// Batch two: node-3's swap fails, node-4 hangs until the group
	// cancellation reaches it.
	r.drv.FailApply("node-3", "insmod: invalid module format")
	r.drv.HangApply("node-4")

	id, err := r.orch.Submit(r.request(t, types.EnvQA, "auth", "1.5.0"), "")
	require.NoError(t, err)

	exec := r.await(t, id, types.StatusRolledBack)

	require.NotNil(t, exec.Result)
	assert.Equal(t, types.FailureNodeDriver, exec.Result.FailureKind)
	assert.Equal(t, 2, exec.Result.NodesUpdated)
	assert.Equal(t, 2, exec.Result.NodesRolledBack)
	assert.Equal(t, []string{"node-3"}, exec.Result.AffectedNodes)

	deploy := exec.Stage(types.StageDeploy)
	assert.Equal(t, types.StageFailed, deploy.Status)
	assert.Contains(t, deploy.Message, "rollback reverted 2 node(s)")
	assert.Equal(t, types.StagePending, stageStatus(t, exec, types.StagePostValidate))

	// Batch one returned to the old version; the walk never got past
	// the failing batch.
	for _, nid := range []string{"node-1", "node-2", "node-4", "node-5", "node-6"} {
		assert.Equal(t, "1.4.0", nodeVersion(t, r.reg, nid))
	}
}

func TestStagingBlueGreenAwaitsApproval(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvStaging, 4)

	id, err := r.orch.Submit(r.request(t, types.EnvStaging, "auth", "2.0.0"), "")
	require.NoError(t, err)

	exec := r.await(t, id, types.StatusAwaitingApproval)
	assert.Equal(t, types.StageSucceeded, stageStatus(t, exec, types.StageSmokeTest))

	// Separation of duties: the requester cannot approve their own
	// deployment, and the gate stays open.
	err = r.orch.Approve(id, "dev-alice")
	require.ErrorIs(t, err, types.ErrSelfApproval)
	exec, err = r.orch.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingApproval, exec.Status)

	require.NoError(t, r.orch.Approve(id, "ops-bob"))
	exec = r.await(t, id, types.StatusSucceeded)

	gateStage := exec.Stage(types.StageApprovalGate)
	assert.Equal(t, types.StageSucceeded, gateStage.Status)
	assert.Contains(t, gateStage.Message, "approved by ops-bob")

	cluster, err := r.reg.GetCluster(types.EnvStaging)
	require.NoError(t, err)
	assert.Equal(t, types.ColorGreen, cluster.ActiveColor)

	decisions := r.audit.ByEvent(notify.AuditApprovalGranted)
	require.Len(t, decisions, 1)
	assert.Equal(t, "ops-bob", decisions[0].Actor)
}

func TestApprovalRejectFailsWithoutNodeMutation(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvStaging, 2)

	id, err := r.orch.Submit(r.request(t, types.EnvStaging, "auth", "2.0.0"), "")
	require.NoError(t, err)
	r.await(t, id, types.StatusAwaitingApproval)

	require.NoError(t, r.orch.Reject(id, "ops-bob", "blocked by change freeze"))
	exec := r.await(t, id, types.StatusFailed)

	assert.Equal(t, types.FailureApprovalDenied, exec.Result.FailureKind)
	assert.Contains(t, exec.Result.Message, "change freeze")
	assert.Equal(t, 0, exec.Result.NodesUpdated)
	assert.Equal(t, 0, r.drv.Applies())
}

func TestProductionCanaryRegressionRollsBack(t *testing.T) {
	r := newRig(t, nil, func(cfg *config.Config) {
		// Leave room under the absolute canary budget so the rollout
		// dies on the baseline regression delta, not the ceiling.
		cfg.Canary.ErrorRateBudget = 0.02
	})
	r.seed(t, types.EnvProduction, 20)

	// The whole fleet idles at 0.004; the second tranche regresses
	// once updated, pushing updated-vs-baseline past the 0.005 budget.
	r.source.SetDefault(types.HealthSnapshot{
		CPUPercent: 20, MemoryPercent: 30, P95LatencyMs: 50, ErrorRate: 0.004,
	})
	for i := 3; i <= 6; i++ {
		r.source.SetNode(fmt.Sprintf("node-%d", i), types.HealthSnapshot{
			CPUPercent: 20, MemoryPercent: 30, P95LatencyMs: 50, ErrorRate: 0.012,
		})
	}

	id, err := r.orch.Submit(r.request(t, types.EnvProduction, "auth", "3.1.0"), "")
	require.NoError(t, err)
	r.await(t, id, types.StatusAwaitingApproval)
	require.NoError(t, r.orch.Approve(id, "ops-bob"))

	exec := r.await(t, id, types.StatusRolledBack)

	require.NotNil(t, exec.Result)
	assert.Equal(t, types.FailureHealthDegradation, exec.Result.FailureKind)
	// Steps one (10% = 2 nodes) and two (30% = 6 nodes) were applied
	// and all of them reverted.
	assert.Equal(t, 6, exec.Result.NodesUpdated)
	assert.Equal(t, 6, exec.Result.NodesRolledBack)
	assert.Equal(t, types.StagePending, stageStatus(t, exec, types.StagePostValidate))

	for i := 1; i <= 20; i++ {
		assert.Equal(t, "1.4.0", nodeVersion(t, r.reg, fmt.Sprintf("node-%d", i)))
	}
}

func TestConcurrentSubmitsCollideOnSerializationKey(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvDevelopment, 2)
	r.drv.HangApply("node-1")
	r.drv.HangApply("node-2")

	first, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.5.0"), "")
	require.NoError(t, err)
	r.await(t, first, types.StatusRunning)

	second, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.6.0"), "")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// The second waits out queueWait on real time, then fails while
	// the first still holds the key.
	exec := r.await(t, second, types.StatusFailed)
	assert.Equal(t, types.FailureConflict, exec.Result.FailureKind)
	assert.Contains(t, exec.Result.Message, "already in progress")
	assert.Contains(t, exec.Result.Message, first)

	got, err := r.orch.Get(first)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)

	require.NoError(t, r.orch.Cancel(first, "dev-alice"))
	r.await(t, first, types.StatusCancelled)
}

func TestQueuedSubmitProceedsWhenKeyFrees(t *testing.T) {
	r := newRig(t, nil, func(cfg *config.Config) {
		cfg.Orchestrator.QueueWait = config.Duration(5 * time.Second)
	})
	r.seed(t, types.EnvDevelopment, 1)
	r.drv.HangApply("node-1")

	first, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.5.0"), "")
	require.NoError(t, err)
	r.await(t, first, types.StatusRunning)

	second, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.6.0"), "")
	require.NoError(t, err)

	// Free the key: the first cancels and the queued second takes over.
	r.drv.Reset()
	require.NoError(t, r.orch.Cancel(first, "dev-alice"))
	r.await(t, first, types.StatusCancelled)

	exec := r.await(t, second, types.StatusSucceeded)
	assert.Equal(t, 1, exec.Result.NodesUpdated)
	assert.Equal(t, "1.6.0", nodeVersion(t, r.reg, "node-1"))
}

func TestIdempotentResubmitReturnsSameExecution(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvDevelopment, 1)
	r.drv.HangApply("node-1")

	first, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "2.0.0"), "K1")
	require.NoError(t, err)
	r.await(t, first, types.StatusRunning)

	again, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "2.0.0"), "K1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, r.orch.List(tracker.Filter{}, 0, 0), 1)

	// The mapping lapses once the execution finishes.
	require.NoError(t, r.orch.Cancel(first, "dev-alice"))
	r.await(t, first, types.StatusCancelled)
	r.drv.Reset()

	fresh, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "2.0.0"), "K1")
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
	r.await(t, fresh, types.StatusSucceeded)
}

func TestDuplicateSubmitIDAlwaysResolvable(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvDevelopment, 1)
	r.drv.HangApply("node-1")

	// Race duplicates against the first submit: whichever ID a caller
	// gets back, the orchestrator must already know the execution.
	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "2.0.0"), "K-race")
			assert.NoError(t, err)
			_, getErr := r.orch.Get(id)
			assert.NoError(t, getErr, "submit returned an ID the orchestrator cannot resolve")
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, r.orch.List(tracker.Filter{}, 0, 0), 1)
}

func TestCancelDuringApprovalWait(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvStaging, 2)

	id, err := r.orch.Submit(r.request(t, types.EnvStaging, "auth", "2.0.0"), "")
	require.NoError(t, err)
	r.await(t, id, types.StatusAwaitingApproval)

	require.NoError(t, r.orch.Cancel(id, "dev-alice"))
	exec := r.await(t, id, types.StatusCancelled)

	assert.Equal(t, types.FailureCancelled, exec.Result.FailureKind)
	assert.Empty(t, r.gate.Pending(), "withdrawn gate must not linger")
	assert.Equal(t, 0, r.drv.Applies())
}

func TestCancelRejectsUnknownAndFinished(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvDevelopment, 1)

	err := r.orch.Cancel("01JX0000000000000000000000", "dev-alice")
	require.ErrorIs(t, err, types.ErrNotFound)

	id, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.5.0"), "")
	require.NoError(t, err)
	r.await(t, id, types.StatusSucceeded)

	err = r.orch.Cancel(id, "dev-alice")
	require.ErrorIs(t, err, types.ErrTerminal)
}

func TestSubmitValidation(t *testing.T) {
	r := newRig(t, nil, nil)

	_, err := r.orch.Submit(nil, "")
	require.ErrorIs(t, err, types.ErrValidation)

	req := r.request(t, types.EnvDevelopment, "auth", "1.5.0")
	req.Module.Version = "not-semver"
	_, err = r.orch.Submit(req, "")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestValidationFailureTouchesNoNode(t *testing.T) {
	r := newRig(t, nil, nil)
	// No cluster registered for QA.
	id, err := r.orch.Submit(r.request(t, types.EnvQA, "auth", "1.5.0"), "")
	require.NoError(t, err)

	exec := r.await(t, id, types.StatusFailed)
	assert.Equal(t, types.FailureValidation, exec.Result.FailureKind)
	assert.Equal(t, types.StageFailed, stageStatus(t, exec, types.StageValidate))
	assert.Equal(t, types.StagePending, stageStatus(t, exec, types.StageSignatureCheck))
	assert.Equal(t, 0, r.drv.Applies())
	assert.Equal(t, 0, r.stager.Calls())
}

func TestRecoverResumesAwaitingApproval(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(filepath.Join(dir, "switchyard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := newRig(t, store, nil)
	r.seed(t, types.EnvStaging, 2)

	// Persisted state a crashed process left behind: an execution
	// suspended at the gate and its pending approval.
	req := r.request(t, types.EnvStaging, "auth", "2.0.0")
	base := r.clk.Now().Add(-10 * time.Minute)
	stages := types.NewStages()
	rec := &types.Execution{
		ID:            "01JWY0S9GVH4X5T1B0QJT2K9FM",
		Request:       req,
		Status:        types.StatusAwaitingApproval,
		Stages:        stages,
		StartedAt:     base,
		LastUpdatedAt: base.Add(time.Minute),
	}
	for _, name := range []types.StageName{
		types.StageValidate, types.StageSignatureCheck,
		types.StagePrepare, types.StageSmokeTest,
	} {
		sr := rec.Stage(name)
		sr.Status = types.StageSucceeded
		sr.StartedAt = base
		sr.FinishedAt = base
	}
	rec.Stage(types.StageApprovalGate).Status = types.StageRunning
	require.NoError(t, store.PutExecution(rec))
	require.NoError(t, store.PutApproval(&storage.PendingApproval{
		ExecutionID: rec.ID,
		Environment: types.EnvStaging,
		RequesterID: "dev-alice",
		RequestedAt: base,
		Deadline:    r.clk.Now().Add(23 * time.Hour),
	}))

	resumed, err := r.orch.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	pending := r.gate.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ExecutionID)

	require.NoError(t, r.orch.Approve(rec.ID, "ops-bob"))
	exec := r.await(t, rec.ID, types.StatusSucceeded)
	assert.Equal(t, types.StageSucceeded, stageStatus(t, exec, types.StageApprovalGate))
	assert.Equal(t, 2, exec.Result.NodesUpdated)
}

func TestRecoverFailsExecutionCaughtMidDeploy(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(filepath.Join(dir, "switchyard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := newRig(t, store, nil)
	r.seed(t, types.EnvQA, 2)

	req := r.request(t, types.EnvQA, "auth", "1.5.0")
	base := r.clk.Now().Add(-time.Hour)
	rec := &types.Execution{
		ID:            "01JWY0S9GVH4X5T1B0QJT2K9FN",
		Request:       req,
		Status:        types.StatusRunning,
		Stages:        types.NewStages(),
		StartedAt:     base,
		LastUpdatedAt: base,
	}
	rec.Stage(types.StageDeploy).Status = types.StageRunning
	require.NoError(t, store.PutExecution(rec))

	resumed, err := r.orch.Recover()
	require.NoError(t, err)
	assert.Zero(t, resumed)

	exec, err := r.orch.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, exec.Status)
	assert.Equal(t, types.FailureInternal, exec.Result.FailureKind)
	assert.Contains(t, exec.Result.Message, "restarted")
}

func TestShutdownRefusesNewSubmits(t *testing.T) {
	r := newRig(t, nil, nil)
	r.seed(t, types.EnvDevelopment, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.orch.Shutdown(ctx))

	_, err := r.orch.Submit(r.request(t, types.EnvDevelopment, "auth", "1.5.0"), "")
	require.ErrorIs(t, err, types.ErrClosed)
}
