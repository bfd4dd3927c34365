/*
Package notify carries deployment progress out of the core: Notifier
callbacks, an in-memory pub/sub broker, and audit sinks.

The pipeline reports state changes, stage completions, and fractional
progress through the Notifier interface. Hosts plug in their own
implementations (websocket hubs, chat alerts) or subscribe to the
bundled Broker; every path is isolated so that a slow or broken sink
can never stall a deployment.

# Architecture

	┌──────────────────── NOTIFICATION FLOW ───────────────────┐
	│                                                            │
	│  Pipeline / Orchestrator / Registry                        │
	│       │                                                    │
	│       ▼                                                    │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Multi (fan-out)                │          │
	│  │  - Invokes each sink in turn                │          │
	│  │  - Recovers panics, logs, continues         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           BrokerNotifier                    │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓ drop on full, never block           │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Deployment Events:                         │          │
	│  │    - deployment.submitted                   │          │
	│  │    - deployment.state-changed               │          │
	│  │    - deployment.stage-completed             │          │
	│  │    - deployment.progress                    │          │
	│  │    - deployment.approval-requested          │          │
	│  │    - deployment.approval-decided            │          │
	│  │                                              │          │
	│  │  Topology Events:                           │          │
	│  │    - node.registered, node.deregistered     │          │
	│  │    - node.state-changed                     │          │
	│  │    - cluster.color-flipped                  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Delivery Guarantees

Delivery is best-effort by design. Publish drops events when the
broker buffer is full, and broadcast skips subscribers whose channel
buffer is full. Consumers that need the authoritative record query the
tracker; events are a convenience stream, not a source of truth.

Audit is the exception: AuditSink.Record is synchronous, and approval
decisions are recorded through it before the pipeline resumes. The
bundled sinks are LogAuditSink (structured log lines) and
MemoryAuditSink (tests and inspection).

# Usage

Subscribing to events:

	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s\n", event.Type, event.Message)
		}
	}()

Wiring the pipeline:

	notifier := notify.NewMulti(
		notify.NewBrokerNotifier(broker),
		myChatAlerter,
	)

# See Also

  - pkg/pipeline for the callback call sites
  - pkg/approval for synchronous audit of decisions
*/
package notify
