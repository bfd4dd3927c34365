/*
Package config defines the tunable surface of the deployment core.

All timing windows, budgets, and strategy parameters live in one
Config struct with documented defaults (Default). Hosts either use the
defaults directly, load a YAML file over them (Load), or build the
struct in code — nothing in the core reads environment variables or
files on its own.

# Layout

Config groups options by the component that consumes them:

	environments:           # per-tier serving thresholds and latency budgets
	  production:
	    minHealthyFraction: 0.75
	    p95LatencyBudgetMs: 250
	heartbeat:              # liveness sweep cadence and grace
	  interval: 5s
	  grace: 30s
	rolling:
	  batchSize: 2
	  batchSettleWindow: 2m
	canary:
	  steps: [10, 30, 50, 100]
	  stepHoldWindow: 5m
	approval:
	  timeout: 24h
	store:
	  path: /var/lib/switchyard/state.db

Durations are written in Go notation ("30s", "15m") and parsed by the
Duration wrapper; yaml.v3 does not handle time.Duration natively.

# Defaults of note

  - Rolling batchSize 0 selects automatic sizing, ceil(nodes/3)
  - Direct parallelism 0 means all nodes at once
  - Rolling maxUnavailable 0 follows the effective batch size
  - StageTimeout bounds every pipeline stage except the approval gate,
    which is governed by approval.timeout instead
  - An empty store.path disables durability: the approval gate becomes
    a soft gate and pending approvals do not survive restart

Validate rejects out-of-range fractions, non-increasing canary steps,
and canary step lists that do not end at 100.

# See Also

  - pkg/orchestrator for how the config is threaded into components
  - cmd/switchyard for YAML loading in the host binary
*/
package config
