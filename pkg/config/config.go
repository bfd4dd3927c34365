package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modkernel/switchyard/pkg/types"
)

// Duration wraps time.Duration so YAML configs can use "30s" / "15m"
// notation. yaml.v3 has no native duration support.
type Duration time.Duration

// UnmarshalYAML parses a duration string ("5s", "2m30s")
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the native time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

// EnvironmentConfig holds the per-environment tunables
type EnvironmentConfig struct {
	// MinHealthyFraction is the serving threshold: the cluster serves
	// iff healthy/total >= this fraction
	MinHealthyFraction float64 `yaml:"minHealthyFraction"`

	// P95LatencyBudgetMs is the latency ceiling for health and
	// stability checks in this environment
	P95LatencyBudgetMs float64 `yaml:"p95LatencyBudgetMs"`
}

// HeartbeatConfig controls node liveness tracking
type HeartbeatConfig struct {
	Interval Duration `yaml:"interval"` // monitor sweep cadence
	Grace    Duration `yaml:"grace"`    // silence beyond this marks a node unhealthy
}

// ProbeConfig controls health sampling and stability windows
type ProbeConfig struct {
	SampleInterval  Duration `yaml:"sampleInterval"`
	ErrorRateBudget float64  `yaml:"errorRateBudget"`
	// Parallelism bounds concurrent node samples in SampleCluster
	Parallelism int `yaml:"parallelism"`
}

// DirectConfig tunes the all-at-once strategy
type DirectConfig struct {
	// Parallelism bounds concurrent node updates; 0 means all nodes
	Parallelism   int      `yaml:"parallelism"`
	SettleTimeout Duration `yaml:"settleTimeout"`
}

// RollingConfig tunes batched rollouts
type RollingConfig struct {
	// BatchSize 0 selects automatic sizing: ceil(nodes/3), minimum 1
	BatchSize int `yaml:"batchSize"`
	// MaxUnavailable 0 defaults to the effective batch size
	MaxUnavailable    int      `yaml:"maxUnavailable"`
	BatchSettleWindow Duration `yaml:"batchSettleWindow"`
}

// BlueGreenConfig tunes the parallel-pool strategy
type BlueGreenConfig struct {
	ReadinessFraction float64  `yaml:"readinessFraction"`
	BlueHoldWindow    Duration `yaml:"blueHoldWindow"`
}

// CanaryConfig tunes progressive rollouts
type CanaryConfig struct {
	// Steps are cumulative percentages of the cluster, ending at 100
	Steps                     []int    `yaml:"steps"`
	StepHoldWindow            Duration `yaml:"stepHoldWindow"`
	ErrorRateBudget           float64  `yaml:"errorRateBudget"`
	P95LatencyBudgetMs        float64  `yaml:"p95LatencyBudgetMs"`
	ErrorRateRegressionBudget float64  `yaml:"errorRateRegressionBudget"`
	LatencyRegressionBudgetMs float64  `yaml:"latencyRegressionBudgetMs"`
}

// ApprovalConfig tunes the approval gate
type ApprovalConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// PipelineConfig tunes stage execution
type PipelineConfig struct {
	// StageTimeout bounds every stage except the approval gate, which
	// uses ApprovalConfig.Timeout
	StageTimeout Duration `yaml:"stageTimeout"`
}

// OrchestratorConfig tunes submission behavior
type OrchestratorConfig struct {
	// QueueWait bounds how long a submission waits for the
	// (environment, module) serialization key before Conflict
	QueueWait Duration `yaml:"queueWait"`
}

// TrackerConfig tunes execution record retention
type TrackerConfig struct {
	ResultRetention Duration `yaml:"resultRetention"`
	SweepInterval   Duration `yaml:"sweepInterval"`
}

// VerifyConfig tunes signature verification
type VerifyConfig struct {
	// TrustRootsFile is a PEM bundle of trusted root certificates
	TrustRootsFile string `yaml:"trustRootsFile"`
	// AllowSelfSigned enables permissive verification. Only honored
	// for development and qa; staging and production are always strict.
	AllowSelfSigned bool `yaml:"allowSelfSigned"`
}

// LogConfig tunes structured logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig tunes durable state
type StoreConfig struct {
	// Path to the bolt database file; empty disables durability
	// (soft approval gate, no restart recovery)
	Path string `yaml:"path"`
}

// Config is the full tunable surface. Zero values are filled by
// Default(); hosts load YAML over the defaults and inject the result.
type Config struct {
	Environments map[types.Environment]EnvironmentConfig `yaml:"environments"`

	Heartbeat          HeartbeatConfig    `yaml:"heartbeat"`
	Probe              ProbeConfig        `yaml:"probe"`
	Direct             DirectConfig       `yaml:"direct"`
	Rolling            RollingConfig      `yaml:"rolling"`
	BlueGreen          BlueGreenConfig    `yaml:"blueGreen"`
	Canary             CanaryConfig       `yaml:"canary"`
	Approval           ApprovalConfig     `yaml:"approval"`
	Pipeline           PipelineConfig     `yaml:"pipeline"`
	Orchestrator       OrchestratorConfig `yaml:"orchestrator"`
	Tracker            TrackerConfig      `yaml:"tracker"`
	PostValidateWindow Duration           `yaml:"postValidateWindow"`

	Verify VerifyConfig `yaml:"verify"`
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
}

// Default returns the documented default configuration
func Default() Config {
	return Config{
		Environments: map[types.Environment]EnvironmentConfig{
			types.EnvDevelopment: {MinHealthyFraction: 0.50, P95LatencyBudgetMs: 500},
			types.EnvQA:          {MinHealthyFraction: 0.50, P95LatencyBudgetMs: 400},
			types.EnvStaging:     {MinHealthyFraction: 0.66, P95LatencyBudgetMs: 300},
			types.EnvProduction:  {MinHealthyFraction: 0.75, P95LatencyBudgetMs: 250},
		},
		Heartbeat: HeartbeatConfig{
			Interval: Duration(5 * time.Second),
			Grace:    Duration(30 * time.Second),
		},
		Probe: ProbeConfig{
			SampleInterval:  Duration(5 * time.Second),
			ErrorRateBudget: 0.01,
			Parallelism:     8,
		},
		Direct: DirectConfig{
			Parallelism:   0, // all nodes at once
			SettleTimeout: Duration(60 * time.Second),
		},
		Rolling: RollingConfig{
			BatchSize:         2,
			MaxUnavailable:    0, // follows batch size
			BatchSettleWindow: Duration(2 * time.Minute),
		},
		BlueGreen: BlueGreenConfig{
			ReadinessFraction: 0.95,
			BlueHoldWindow:    Duration(15 * time.Minute),
		},
		Canary: CanaryConfig{
			Steps:                     []int{10, 30, 50, 100},
			StepHoldWindow:            Duration(5 * time.Minute),
			ErrorRateBudget:           0.005,
			P95LatencyBudgetMs:        200,
			ErrorRateRegressionBudget: 0.005,
			LatencyRegressionBudgetMs: 50,
		},
		Approval: ApprovalConfig{
			Timeout: Duration(24 * time.Hour),
		},
		Pipeline: PipelineConfig{
			StageTimeout: Duration(time.Hour),
		},
		Orchestrator: OrchestratorConfig{
			QueueWait: Duration(60 * time.Second),
		},
		Tracker: TrackerConfig{
			ResultRetention: Duration(7 * 24 * time.Hour),
			SweepInterval:   Duration(time.Hour),
		},
		PostValidateWindow: Duration(5 * time.Minute),
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse reads YAML bytes over the defaults
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field consistency
func (c *Config) Validate() error {
	for env, ec := range c.Environments {
		if !env.Valid() {
			return fmt.Errorf("%w: unknown environment %q in config", types.ErrValidation, env)
		}
		if ec.MinHealthyFraction <= 0 || ec.MinHealthyFraction > 1 {
			return fmt.Errorf("%w: minHealthyFraction for %s must be in (0,1]", types.ErrValidation, env)
		}
		if ec.P95LatencyBudgetMs <= 0 {
			return fmt.Errorf("%w: p95LatencyBudgetMs for %s must be positive", types.ErrValidation, env)
		}
	}
	if c.Heartbeat.Interval.D() <= 0 || c.Heartbeat.Grace.D() <= 0 {
		return fmt.Errorf("%w: heartbeat interval and grace must be positive", types.ErrValidation)
	}
	if c.Heartbeat.Grace.D() < c.Heartbeat.Interval.D() {
		return fmt.Errorf("%w: heartbeat grace must be at least the interval", types.ErrValidation)
	}
	if c.Probe.SampleInterval.D() <= 0 {
		return fmt.Errorf("%w: sampleInterval must be positive", types.ErrValidation)
	}
	if c.Probe.ErrorRateBudget < 0 || c.Probe.ErrorRateBudget > 1 {
		return fmt.Errorf("%w: errorRateBudget must be in [0,1]", types.ErrValidation)
	}
	if c.Rolling.BatchSize < 0 || c.Rolling.MaxUnavailable < 0 {
		return fmt.Errorf("%w: rolling batchSize and maxUnavailable cannot be negative", types.ErrValidation)
	}
	if c.BlueGreen.ReadinessFraction <= 0 || c.BlueGreen.ReadinessFraction > 1 {
		return fmt.Errorf("%w: blueGreen readinessFraction must be in (0,1]", types.ErrValidation)
	}
	if err := validateCanarySteps(c.Canary.Steps); err != nil {
		return err
	}
	if c.Canary.ErrorRateBudget < 0 || c.Canary.ErrorRateBudget > 1 {
		return fmt.Errorf("%w: canary errorRateBudget must be in [0,1]", types.ErrValidation)
	}
	if c.Approval.Timeout.D() <= 0 {
		return fmt.Errorf("%w: approval timeout must be positive", types.ErrValidation)
	}
	if c.Pipeline.StageTimeout.D() <= 0 {
		return fmt.Errorf("%w: stageTimeout must be positive", types.ErrValidation)
	}
	if c.Orchestrator.QueueWait.D() < 0 {
		return fmt.Errorf("%w: queueWait cannot be negative", types.ErrValidation)
	}
	if c.Tracker.ResultRetention.D() <= 0 {
		return fmt.Errorf("%w: resultRetention must be positive", types.ErrValidation)
	}
	return nil
}

func validateCanarySteps(steps []int) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: canary steps cannot be empty", types.ErrValidation)
	}
	prev := 0
	for _, s := range steps {
		if s <= prev || s > 100 {
			return fmt.Errorf("%w: canary steps must be strictly increasing percentages in (0,100]", types.ErrValidation)
		}
		prev = s
	}
	if steps[len(steps)-1] != 100 {
		return fmt.Errorf("%w: final canary step must be 100", types.ErrValidation)
	}
	return nil
}

// Environment returns the per-environment tunables, falling back to
// the defaults for environments missing from the map
func (c *Config) Environment(env types.Environment) EnvironmentConfig {
	if ec, ok := c.Environments[env]; ok {
		return ec
	}
	return Default().Environments[env]
}
