package types

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Environment identifies a deployment target tier
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvQA          Environment = "qa"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Valid reports whether the environment is one of the known tiers
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvQA, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// RequiresApproval reports whether deployments to this environment must
// pass the approval gate before any node is touched
func (e Environment) RequiresApproval() bool {
	return e == EnvStaging || e == EnvProduction
}

// StrategyKind defines how a module version is rolled across a cluster
type StrategyKind string

const (
	StrategyDirect    StrategyKind = "direct"
	StrategyRolling   StrategyKind = "rolling"
	StrategyBlueGreen StrategyKind = "blue-green"
	StrategyCanary    StrategyKind = "canary"
)

// Valid reports whether the strategy kind is known
func (s StrategyKind) Valid() bool {
	switch s {
	case StrategyDirect, StrategyRolling, StrategyBlueGreen, StrategyCanary:
		return true
	}
	return false
}

// DefaultStrategy returns the rollout strategy an environment uses when
// the deployment request does not override it
func DefaultStrategy(env Environment) StrategyKind {
	switch env {
	case EnvDevelopment:
		return StrategyDirect
	case EnvQA:
		return StrategyRolling
	case EnvStaging:
		return StrategyBlueGreen
	case EnvProduction:
		return StrategyCanary
	default:
		return StrategyDirect
	}
}

// moduleNamePattern constrains module names to a filesystem- and
// registry-safe alphabet
var moduleNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// MaxModuleNameLength is the upper bound on module name length
const MaxModuleNameLength = 128

// ArtifactRef locates a kernel module binary and pins its content
type ArtifactRef struct {
	URI          string // where the artifact can be fetched from
	SHA256Digest string // hex-encoded content digest
	SizeBytes    int64
}

// Module is an immutable description of a deployable kernel module
// version. Two modules are the same iff name and version match; the
// artifact digest pins the exact binary content.
type Module struct {
	Name            string
	Version         string // semantic version, e.g. "2.1.0"
	Artifact        ArtifactRef
	Signature       []byte // detached signature over the artifact digest
	SignerCertChain []byte // PEM-encoded chain, leaf first
	Metadata        map[string]string
}

// Equal reports whether two modules identify the same (name, version)
func (m *Module) Equal(other *Module) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Name == other.Name && m.Version == other.Version
}

// Ref returns the canonical "name@version" form used in logs and events
func (m *Module) Ref() string {
	return m.Name + "@" + m.Version
}

// Validate checks structural integrity: name alphabet and length,
// parseable semver, artifact digest presence
func (m *Module) Validate() error {
	if m.Name == "" || len(m.Name) > MaxModuleNameLength {
		return fmt.Errorf("%w: module name must be 1-%d characters", ErrValidation, MaxModuleNameLength)
	}
	if !moduleNamePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: module name %q contains invalid characters", ErrValidation, m.Name)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: module version %q is not a semantic version", ErrValidation, m.Version)
	}
	if m.Artifact.URI == "" {
		return fmt.Errorf("%w: artifact URI is required", ErrValidation)
	}
	if len(m.Artifact.SHA256Digest) != 64 {
		return fmt.Errorf("%w: artifact digest must be a hex sha256", ErrValidation)
	}
	if m.Artifact.SizeBytes <= 0 {
		return fmt.Errorf("%w: artifact size must be positive", ErrValidation)
	}
	return nil
}

// SemVer parses the module version. Callers should Validate first;
// an unparseable version returns nil.
func (m *Module) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// DeploymentRequest asks the orchestrator to roll a module version out
// to one environment
type DeploymentRequest struct {
	Module            *Module
	TargetEnvironment Environment
	Strategy          StrategyKind // optional override; empty means environment default
	RequesterID       string
	RequestedAt       time.Time
	CorrelationID     string // caller-supplied tracing ID, propagated to events
}

// EffectiveStrategy resolves the strategy override against the
// environment default
func (r *DeploymentRequest) EffectiveStrategy() StrategyKind {
	if r.Strategy != "" {
		return r.Strategy
	}
	return DefaultStrategy(r.TargetEnvironment)
}

// Validate checks the request cheaply: module structure, known
// environment, known strategy override, requester present
func (r *DeploymentRequest) Validate() error {
	if r.Module == nil {
		return fmt.Errorf("%w: request has no module", ErrValidation)
	}
	if err := r.Module.Validate(); err != nil {
		return err
	}
	if !r.TargetEnvironment.Valid() {
		return fmt.Errorf("%w: unknown environment %q", ErrValidation, r.TargetEnvironment)
	}
	if r.Strategy != "" && !r.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrValidation, r.Strategy)
	}
	if r.RequesterID == "" {
		return fmt.Errorf("%w: requester ID is required", ErrValidation)
	}
	return nil
}

// NodeState represents the current condition of a node
type NodeState string

const (
	NodeStateUnknown   NodeState = "unknown"
	NodeStateHealthy   NodeState = "healthy"
	NodeStateDegraded  NodeState = "degraded"
	NodeStateUnhealthy NodeState = "unhealthy"
	NodeStateDraining  NodeState = "draining"
	NodeStateUpdating  NodeState = "updating"
)

// Color labels one side of a blue-green node pool
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
)

// Other returns the opposite pool color
func (c Color) Other() Color {
	if c == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

// HealthSnapshot is one observation of a node's vital signs
type HealthSnapshot struct {
	CPUPercent    float64 // 0-100
	MemoryPercent float64 // 0-100
	P95LatencyMs  float64
	ErrorRate     float64 // 0.0-1.0
	SampledAt     time.Time
}

// Node is a cluster member that can host the managed kernel module
type Node struct {
	ID             string
	ClusterID      string
	Address        string
	State          NodeState
	Color          Color
	CurrentVersion string // module version currently loaded, empty if none
	PriorVersion   string // version before the in-flight or last update
	LastHeartbeat  time.Time
	Health         *HealthSnapshot
	CreatedAt      time.Time
}

// Cluster groups the nodes serving one environment. Node order is
// stable: registration order, ties broken by ID.
type Cluster struct {
	ID          string
	Environment Environment
	ActiveColor Color
	Nodes       []*Node
	CreatedAt   time.Time
}

// HealthyFraction returns the share of nodes currently healthy
func (c *Cluster) HealthyFraction() float64 {
	if len(c.Nodes) == 0 {
		return 0
	}
	healthy := 0
	for _, n := range c.Nodes {
		if n.State == NodeStateHealthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(c.Nodes))
}
