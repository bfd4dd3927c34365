/*
Package log provides structured logging for Switchyard using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Switchyard's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("pipeline")                │          │
	│  │  - WithExecutionID("01J8...")               │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  │  - WithModule("netfilter-ext@2.1.0")        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "pipeline",                 │          │
	│  │    "time": "2026-08-24T10:30:00Z",         │          │
	│  │    "message": "stage succeeded"             │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF stage succeeded component=pipeline │       │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Switchyard packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithExecutionID: Add deployment execution ID context
  - WithNodeID: Add node ID context
  - WithModule: Add module "name@version" context

# Usage

Initializing the Logger:

	import "github.com/modkernel/switchyard/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Orchestrator started")
	log.Warn("Heartbeat missed")
	log.Error("Node driver swap failed")
	log.Fatal("Cannot open durable store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("execution_id", execID).
		Str("stage", "deploy").
		Msg("Stage succeeded")

	log.Logger.Error().
		Err(err).
		Str("node_id", "node-abc").
		Msg("Health sample failed")

Component Loggers:

	// Create component-specific logger
	pipeLog := log.WithComponent("pipeline")
	pipeLog.Info().Msg("Starting stage sequence")

	// Multiple context fields
	execLog := log.WithComponent("strategy").
		With().Str("execution_id", execID).
		Str("module", mod.Ref()).Logger()
	execLog.Info().Msg("Applying rolling update")
	execLog.Error().Err(err).Msg("Batch failed, rolling back")

# Integration Points

This package integrates with:

  - pkg/orchestrator: Logs submissions, conflicts, and cancellations
  - pkg/pipeline: Logs stage boundaries and outcomes
  - pkg/strategy: Logs batch/tranche progress and rollbacks
  - pkg/registry: Logs heartbeat transitions and color flips
  - pkg/approval: Logs approval requests and decisions
  - pkg/tracker: Logs record eviction

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"orchestrator","execution_id":"01J8ZC3D","time":"2026-08-24T10:30:00Z","message":"deployment submitted"}
	{"level":"info","component":"pipeline","execution_id":"01J8ZC3D","stage":"deploy","time":"2026-08-24T10:30:01Z","message":"stage succeeded"}
	{"level":"error","component":"registry","node_id":"node-abc","error":"heartbeat expired","time":"2026-08-24T10:30:02Z","message":"node marked unhealthy"}

Console Format (Development):

	10:30:00 INF deployment submitted component=orchestrator execution_id=01J8ZC3D
	10:30:01 INF stage succeeded component=pipeline stage=deploy
	10:30:02 ERR node marked unhealthy component=registry node_id=node-abc error="heartbeat expired"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Security

Log Content:
  - Never log signatures, key material, or certificate contents
  - Signature verification failures log the verdict, not the bytes
  - Use typed fields (.Str, .Int) for caller-supplied data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (execution ID, node ID, module ref)

Don't:
  - Log sensitive data (signatures, key material)
  - Use Debug level in production
  - Log in tight loops (per-sample logging is debug-only)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
