/*
Package probe samples node health and gates rollouts on stability.

The probe sits between a host-provided sample Source and the
registry: every successful sample is published as a heartbeat, so
"who keeps node health fresh" has exactly one answer. Strategies use
WaitForStable to demand that a node set stays within budget for a
whole window before a rollout advances; the pipeline's
post-validation uses WaitForConvergence, which tolerates early wobble
and only requires the cluster to reach budget before its deadline.

# Sampling

	SampleNode      one node, with a single retry on transient failure
	SampleCluster   every node of a cluster, in parallel, bounded by
	                MaxConcurrent (errgroup)

A node that cannot be sampled is absent from SampleCluster's result
rather than failing the whole sweep. Stability predicates treat the
absence as a violation, which is how an unreachable node degrades a
rollout instead of aborting the sampling machinery.

Failure modes of a Source:

	ErrTransient     momentary scrape hiccup; worth one retry
	ErrUnreachable   node is gone as far as telemetry is concerned;
	                 rollouts treat it as unhealthy

# Stability Waits

WaitForStable samples on the configured interval, starting
immediately, and succeeds only if the predicate holds at every sample
until the window has fully elapsed. The first violation ends the wait
with the violation's reason; there is no grace for flapping.

The standard predicate (StablePredicate) demands, for a scoped node
set:

  - the mean error rate across the set is within budget
  - the worst node p95 latency is within budget
  - every node in the set is available

Budgets are checked first so a budget breach is named as such even
when it also drops the node out of availability.

Canary steps build their own predicates on top of Aggregate to
compare an updated set against the remaining baseline.

# Periodic Feed

Sampler is the steady-state heartbeat loop: on each interval it
samples every cluster, independent of any deployment. Without it,
heartbeats only flow while something is actively waiting on
stability.

# See Also

  - pkg/registry for what "available" means and who owns node state
  - pkg/strategy for the budget values each rollout style uses
*/
package probe
