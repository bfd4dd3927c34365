package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modkernel/switchyard/pkg/approval"
	"github.com/modkernel/switchyard/pkg/config"
	"github.com/modkernel/switchyard/pkg/driver"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/notify"
	"github.com/modkernel/switchyard/pkg/orchestrator"
	"github.com/modkernel/switchyard/pkg/pipeline"
	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/registry"
	"github.com/modkernel/switchyard/pkg/storage"
	"github.com/modkernel/switchyard/pkg/tracker"
	"github.com/modkernel/switchyard/pkg/types"
	"github.com/modkernel/switchyard/pkg/verify"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Switchyard - deployment orchestration for hot-swappable kernel modules",
	Long: `Switchyard drives kernel module deployments across node fleets:
staged pipelines, environment-gated approvals, and health-guarded
rollout strategies from direct swaps to canary walks.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Switchyard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment core until interrupted",
	Long: `Run the deployment core: registry, health sampling, approval gate,
tracker, and orchestrator, constructed from the YAML config.

Node mutation and artifact distribution run against the built-in
simulated drivers until a host wires real ones behind the driver
seams.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := config.Default()
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %v", err)
			}
			cfg = loaded
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		core, err := buildCore(cfg, driver.NewSimDriver(), driver.NewSimStager(),
			driver.NewSimProvisioner(), probe.NewSimSource(nil))
		if err != nil {
			return err
		}
		defer core.stop()

		if core.store != nil {
			resumed, err := core.orch.Recover()
			if err != nil {
				core.health.Set("orchestrator", false, "recovery failed")
				return fmt.Errorf("failed to recover persisted state: %v", err)
			}
			if resumed > 0 {
				fmt.Printf("✓ Resumed %d in-flight execution(s)\n", resumed)
			}
		}
		core.health.Set("orchestrator", true, "recovery complete")

		errCh := make(chan error, 1)
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", core.health.HealthHandler())
			mux.Handle("/ready", core.health.ReadyHandler())
			mux.Handle("/livez", core.health.LivenessHandler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					errCh <- fmt.Errorf("metrics server error: %v", err)
				}
			}()
			fmt.Printf("✓ Metrics on %s/metrics, health on /health and /ready\n", metricsAddr)
		}

		fmt.Println("Switchyard is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := core.orch.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config (defaults when empty)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus listen address (empty disables)")
}

// core bundles the wired components a command drives
type core struct {
	cfg       config.Config
	store     storage.Store
	reg       *registry.Registry
	monitor   *registry.Monitor
	sampler   *probe.Sampler
	probe     *probe.Probe
	signer    *verify.DevSigner
	gate      *approval.Gate
	trk       *tracker.Tracker
	broker    *notify.Broker
	orch      *orchestrator.Orchestrator
	collector *metrics.Collector
	health    *metrics.Checker
}

// buildCore wires the full deployment core over the given host seams.
// The trust policy comes from the config; with no trust roots file a
// development signer is generated and trusted, so locally signed
// modules pass verification.
func buildCore(cfg config.Config, drv driver.NodeDriver, stager driver.ArtifactStager,
	prov driver.NodeProvisioner, source probe.Source) (*core, error) {

	var store storage.Store
	if cfg.Store.Path != "" {
		bolt, err := storage.NewBoltStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store at %s: %v", cfg.Store.Path, err)
		}
		store = bolt
	}

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
	}, nil)

	prb := probe.New(source, reg, probe.Config{
		SampleInterval: cfg.Probe.SampleInterval.D(),
		MaxConcurrent:  cfg.Probe.Parallelism,
	}, nil)

	var signer *verify.DevSigner
	trustRoots := []byte(nil)
	if cfg.Verify.TrustRootsFile != "" {
		pem, err := os.ReadFile(cfg.Verify.TrustRootsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read trust roots: %v", err)
		}
		trustRoots = pem
	} else {
		s, err := verify.NewDevSigner("switchyard-dev")
		if err != nil {
			return nil, fmt.Errorf("failed to create dev signer: %v", err)
		}
		signer = s
		trustRoots = s.ChainPEM()
	}
	verifier, err := verify.New(verify.Config{
		TrustRootsPEM:   trustRoots,
		AllowSelfSigned: cfg.Verify.AllowSelfSigned,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build verifier: %v", err)
	}

	audit := notify.NewLogAuditSink()
	gate := approval.New(approval.Config{
		Timeout: cfg.Approval.Timeout.D(),
		Store:   store,
		Audit:   audit,
	})
	trk := tracker.New(tracker.Config{
		ResultRetention: cfg.Tracker.ResultRetention.D(),
		Store:           store,
	}, nil)

	broker := notify.NewBroker()
	broker.Start()

	pipe, err := pipeline.New(pipeline.Deps{
		Registry:    reg,
		Verifier:    verifier,
		Probe:       prb,
		Stager:      stager,
		Driver:      drv,
		Provisioner: prov,
		Gate:        gate,
		Tracker:     trk,
		Notifier:    notify.NewBrokerNotifier(broker),
	}, cfg)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Pipeline: pipe,
		Tracker:  trk,
		Gate:     gate,
		Audit:    audit,
		Store:    store,
	}, cfg)
	if err != nil {
		return nil, err
	}

	monitor := registry.NewMonitor(reg, cfg.Heartbeat.Interval.D(), nil)
	monitor.Start()
	sampler := probe.NewSampler(prb, reg, cfg.Probe.SampleInterval.D(), nil)
	sampler.Start()
	collector := metrics.NewCollector(reg, trk)
	collector.Start()

	// Readiness holds until the orchestrator reports in, which happens
	// only after persisted executions have been recovered.
	health := metrics.NewChecker("registry", "tracker", "orchestrator")
	health.SetVersion(Version)
	health.Set("registry", true, "")
	health.Set("tracker", true, "")
	if store != nil {
		health.Set("store", true, cfg.Store.Path)
	} else {
		health.Set("store", true, "persistence disabled")
	}

	return &core{
		cfg:       cfg,
		store:     store,
		reg:       reg,
		monitor:   monitor,
		sampler:   sampler,
		probe:     prb,
		signer:    signer,
		gate:      gate,
		trk:       trk,
		broker:    broker,
		orch:      orch,
		collector: collector,
		health:    health,
	}, nil
}

func (c *core) stop() {
	c.collector.Stop()
	c.sampler.Stop()
	c.monitor.Stop()
	c.broker.Stop()
	if c.store != nil {
		_ = c.store.Close()
	}
}
