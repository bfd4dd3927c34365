package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/modkernel/switchyard/pkg/types"
)

// SimDriver is a scriptable in-memory NodeDriver for tests and the
// simulator. Applies succeed by default; individual nodes can be
// scripted to fail or to hang until cancelled, which is how batch
// siblings of a failing node behave deterministically in tests.
type SimDriver struct {
	mu           sync.Mutex
	applyErrs    map[string]string
	rollbackErrs map[string]string
	hangApply    map[string]bool
	versions     map[string]string
	applies      int
	rollbacks    int
}

// NewSimDriver creates a driver where every operation succeeds
func NewSimDriver() *SimDriver {
	return &SimDriver{
		applyErrs:    make(map[string]string),
		rollbackErrs: make(map[string]string),
		hangApply:    make(map[string]bool),
		versions:     make(map[string]string),
	}
}

// FailApply scripts every apply on the node to fail
func (d *SimDriver) FailApply(nodeID, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyErrs[nodeID] = reason
}

// FailRollback scripts every rollback on the node to fail
func (d *SimDriver) FailRollback(nodeID, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollbackErrs[nodeID] = reason
}

// HangApply makes applies on the node block until the context is
// cancelled
func (d *SimDriver) HangApply(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangApply[nodeID] = true
}

// Reset clears all scripted behavior
func (d *SimDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyErrs = make(map[string]string)
	d.rollbackErrs = make(map[string]string)
	d.hangApply = make(map[string]bool)
}

// ApplyModule implements NodeDriver
func (d *SimDriver) ApplyModule(ctx context.Context, node *types.Node, module *types.Module) error {
	d.mu.Lock()
	hang := d.hangApply[node.ID]
	reason, failing := d.applyErrs[node.ID]
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failing {
		return fmt.Errorf("apply %s on node %s: %s", module.Ref(), node.ID, reason)
	}

	d.mu.Lock()
	d.versions[node.ID] = module.Version
	d.applies++
	d.mu.Unlock()
	return nil
}

// RollbackModule implements NodeDriver
func (d *SimDriver) RollbackModule(ctx context.Context, node *types.Node, priorVersion string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if reason, ok := d.rollbackErrs[node.ID]; ok {
		return fmt.Errorf("rollback node %s to %q: %s", node.ID, priorVersion, reason)
	}
	d.versions[node.ID] = priorVersion
	d.rollbacks++
	return nil
}

// Version returns the driver-side view of a node's loaded version
func (d *SimDriver) Version(nodeID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.versions[nodeID]
}

// Applies returns the count of successful applies
func (d *SimDriver) Applies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applies
}

// Rollbacks returns the count of successful rollbacks
func (d *SimDriver) Rollbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollbacks
}

// SimStager is a scriptable ArtifactStager. It can fail its next n
// calls, which exercises the preparation retry.
type SimStager struct {
	mu        sync.Mutex
	failNext  int
	failMsg   string
	staged    []string
	stageCall int
}

// NewSimStager creates a stager that succeeds
func NewSimStager() *SimStager {
	return &SimStager{failMsg: "staging surface rejected artifact"}
}

// FailTimes makes the next n Stage calls fail with the given message
func (s *SimStager) FailTimes(n int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	if msg != "" {
		s.failMsg = msg
	}
}

// Stage implements ArtifactStager
func (s *SimStager) Stage(ctx context.Context, module *types.Module, nodes []*types.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageCall++
	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("stage %s: %s", module.Ref(), s.failMsg)
	}
	s.staged = append(s.staged, module.Ref())
	return nil
}

// Staged returns the refs of successfully staged modules
func (s *SimStager) Staged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.staged))
	copy(out, s.staged)
	return out
}

// Calls returns how many Stage calls were made, failed or not
func (s *SimStager) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageCall
}

// SimProvisioner mints addressable healthy nodes on demand
type SimProvisioner struct {
	mu       sync.Mutex
	serial   int
	failMsg  string
	failing  bool
	provided []string
	retired  []string
}

// NewSimProvisioner creates a provisioner with unlimited capacity
func NewSimProvisioner() *SimProvisioner {
	return &SimProvisioner{}
}

// Fail makes Provision fail until cleared with Recover
func (p *SimProvisioner) Fail(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = true
	p.failMsg = msg
}

// Recover clears a scripted Provision failure
func (p *SimProvisioner) Recover() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = false
}

// Provision implements NodeProvisioner
func (p *SimProvisioner) Provision(ctx context.Context, cluster *types.Cluster, count int, color types.Color) ([]*types.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return nil, fmt.Errorf("provision %d %s nodes: %s", count, color, p.failMsg)
	}

	nodes := make([]*types.Node, 0, count)
	for i := 0; i < count; i++ {
		p.serial++
		id := fmt.Sprintf("%s-%s-%d", cluster.Environment, color, p.serial)
		nodes = append(nodes, &types.Node{
			ID:      id,
			Address: id + ":9000",
			State:   types.NodeStateHealthy,
			Color:   color,
		})
		p.provided = append(p.provided, id)
	}
	return nodes, nil
}

// Retire implements NodeProvisioner
func (p *SimProvisioner) Retire(ctx context.Context, nodes []*types.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range nodes {
		p.retired = append(p.retired, n.ID)
	}
	return nil
}

// Provisioned returns the IDs of every node ever provisioned
func (p *SimProvisioner) Provisioned() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.provided))
	copy(out, p.provided)
	return out
}

// Retired returns the IDs of every node retired
func (p *SimProvisioner) Retired() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.retired))
	copy(out, p.retired)
	return out
}
