package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/modkernel/switchyard/pkg/approval"
	"github.com/modkernel/switchyard/pkg/config"
	"github.com/modkernel/switchyard/pkg/driver"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/notify"
	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/types"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one deployment end-to-end against a simulated cluster",
	Long: `Run a single deployment through the full pipeline against a simulated
node fleet, printing stage progression as it happens.

Useful for exercising strategies and failure handling without real
nodes: --fail-node injects a driver failure mid-rollout, and gated
environments are auto-approved by a simulated operator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, _ := cmd.Flags().GetString("env")
		moduleName, _ := cmd.Flags().GetString("module")
		version, _ := cmd.Flags().GetString("module-version")
		nodes, _ := cmd.Flags().GetInt("nodes")
		strategyName, _ := cmd.Flags().GetString("strategy")
		failNode, _ := cmd.Flags().GetString("fail-node")

		if nodes < 1 {
			return fmt.Errorf("--nodes must be at least 1")
		}

		log.Init(log.Config{Level: log.WarnLevel})

		cfg := simConfig()
		drv := driver.NewSimDriver()
		if failNode != "" {
			drv.FailApply(failNode, "injected failure")
		}

		core, err := buildCore(cfg, drv, driver.NewSimStager(),
			driver.NewSimProvisioner(), probe.NewSimSource(nil))
		if err != nil {
			return err
		}
		defer core.stop()

		target := types.Environment(env)
		if err := seedSimCluster(core, target, nodes); err != nil {
			return err
		}

		sum := sha256.Sum256([]byte(moduleName + "-" + version))
		module := &types.Module{
			Name:    moduleName,
			Version: version,
			Artifact: types.ArtifactRef{
				URI:          fmt.Sprintf("sim://artifacts/%s-%s.ko", moduleName, version),
				SHA256Digest: hex.EncodeToString(sum[:]),
				SizeBytes:    1 << 20,
			},
		}
		if err := core.signer.SignModule(module); err != nil {
			return fmt.Errorf("failed to sign module: %v", err)
		}

		events := core.broker.Subscribe()
		defer core.broker.Unsubscribe(events)
		go printEvents(events)

		fmt.Printf("Deploying %s to %s across %d node(s)...\n\n", module.Ref(), target, nodes)
		id, err := core.orch.Submit(&types.DeploymentRequest{
			Module:            module,
			TargetEnvironment: target,
			Strategy:          types.StrategyKind(strategyName),
			RequesterID:       "sim-requester",
			RequestedAt:       time.Now(),
		}, "")
		if err != nil {
			return err
		}

		exec := watchExecution(core, id)
		printSummary(exec)
		return nil
	},
}

func init() {
	simulateCmd.Flags().String("env", "development", "Target environment")
	simulateCmd.Flags().String("module", "demo", "Module name")
	simulateCmd.Flags().String("module-version", "1.0.0", "Module semantic version")
	simulateCmd.Flags().Int("nodes", 5, "Simulated fleet size")
	simulateCmd.Flags().String("strategy", "", "Strategy override (default: environment's)")
	simulateCmd.Flags().String("fail-node", "", "Node whose module swap fails")
}

// simConfig shrinks the hold and settle windows so a simulation
// finishes in seconds on the wall clock
func simConfig() config.Config {
	cfg := config.Default()
	cfg.Probe.SampleInterval = config.Duration(500 * time.Millisecond)
	cfg.Direct.SettleTimeout = config.Duration(5 * time.Second)
	cfg.Rolling.BatchSettleWindow = config.Duration(2 * time.Second)
	cfg.BlueGreen.BlueHoldWindow = config.Duration(2 * time.Second)
	cfg.Canary.StepHoldWindow = config.Duration(2 * time.Second)
	cfg.PostValidateWindow = config.Duration(5 * time.Second)
	return cfg
}

func seedSimCluster(c *core, env types.Environment, n int) error {
	cluster, err := c.reg.EnsureCluster(env)
	if err != nil {
		return err
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("node-%d", i)
		if err := c.reg.Register(&types.Node{
			ID:             id,
			ClusterID:      cluster.ID,
			Address:        fmt.Sprintf("sim://%s", id),
			CurrentVersion: "0.9.0",
		}); err != nil {
			return err
		}
		if err := c.reg.Heartbeat(id, types.HealthSnapshot{
			CPUPercent:    25,
			MemoryPercent: 40,
			P95LatencyMs:  45,
			ErrorRate:     0.001,
			SampledAt:     time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// watchExecution polls until the execution terminates, approving the
// gate on the simulated operator's behalf when it opens
func watchExecution(c *core, id string) *types.Execution {
	for {
		exec, err := c.orch.Get(id)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		switch exec.Status {
		case types.StatusAwaitingApproval:
			if _, err := c.gate.Resolve(id, approval.DecisionApproved, "sim-approver", "auto-approved by simulator"); err == nil {
				fmt.Println("  ✓ auto-approved as sim-approver")
			}
		case types.StatusSucceeded, types.StatusFailed, types.StatusRolledBack, types.StatusCancelled:
			return exec
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printEvents(events notify.Subscriber) {
	for ev := range events {
		switch ev.Type {
		case notify.EventStageCompleted, notify.EventProgress, notify.EventColorFlipped:
			fmt.Printf("  [%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Message)
		}
	}
}

func printSummary(exec *types.Execution) {
	fmt.Println()
	fmt.Printf("Status: %s\n", exec.Status)
	if exec.Result != nil {
		if exec.Result.FailureKind != types.FailureNone {
			fmt.Printf("Failure: %s (%s)\n", exec.Result.Message, exec.Result.FailureKind)
		}
		fmt.Printf("Nodes updated: %d, rolled back: %d\n",
			exec.Result.NodesUpdated, exec.Result.NodesRolledBack)
		if len(exec.Result.AffectedNodes) > 0 {
			fmt.Printf("Affected nodes: %v\n", exec.Result.AffectedNodes)
		}
	}
	for _, sr := range exec.Stages {
		fmt.Printf("  %-16s %s", sr.Name, sr.Status)
		if sr.Message != "" {
			fmt.Printf("  %s", sr.Message)
		}
		fmt.Println()
	}
}
