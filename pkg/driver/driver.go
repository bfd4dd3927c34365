package driver

import (
	"context"

	"github.com/modkernel/switchyard/pkg/types"
)

// NodeDriver is how a node is actually mutated. The core never
// prescribes the mechanism; hosts bring an implementation that loads
// and unloads kernel modules however their fleet requires.
type NodeDriver interface {
	// ApplyModule swaps the node onto the given module version. It
	// must honor context cancellation: an aborted apply returns the
	// context error and leaves the node on its previous version.
	ApplyModule(ctx context.Context, node *types.Node, module *types.Module) error

	// RollbackModule returns the node to a prior version
	RollbackModule(ctx context.Context, node *types.Node, priorVersion string) error
}

// ArtifactStager makes a module's binary reachable by a node set
// before any node is mutated. The preparation stage asserts only
// "artifact available to every listed node"; distribution mechanics
// live behind this seam.
type ArtifactStager interface {
	Stage(ctx context.Context, module *types.Module, nodes []*types.Node) error
}

// NodeProvisioner stands up and tears down node sets. Blue-green uses
// it to build the green pool; hosts without elastic capacity may back
// it with a pre-provisioned reserve.
type NodeProvisioner interface {
	// Provision returns count addressable, healthy nodes carrying the
	// given color. The returned nodes are not yet cluster members;
	// the caller attaches them.
	Provision(ctx context.Context, cluster *types.Cluster, count int, color types.Color) ([]*types.Node, error)

	// Retire releases nodes previously provisioned
	Retire(ctx context.Context, nodes []*types.Node) error
}
