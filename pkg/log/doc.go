/*
Package log provides structured logging for QCFractal using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stderr, rotated file, custom    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Component Loggers                  │           │
	│  │  - WithComponent("storage")                │           │
	│  │  - WithManager("cluster-host-ab12cd34")    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                      │           │
	│  │                                            │           │
	│  │  JSON Format:                              │           │
	│  │  {                                         │           │
	│  │    "level": "info",                        │           │
	│  │    "component": "queue",                   │           │
	│  │    "time": "2026-08-26T10:30:00Z",         │           │
	│  │    "message": "task leased"                │           │
	│  │  }                                         │           │
	│  │                                            │           │
	│  │  Console Format:                           │           │
	│  │  10:30AM INF task leased component=queue   │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all QCFractal packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination
  - FilePrefix: route output to size-rotated PREFIX.log files

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithManager: Add queue manager name context

# Usage

Initializing the Logger:

	import "github.com/ChayaSt/QCFractal/pkg/log"

	// Console output (development)
	log.Init(log.Config{
		Level: log.DebugLevel,
	})

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	// Rotated file output (server --log-prefix)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		FilePrefix: "fractal",
	})

Simple Logging:

	log.Info("Server initialized successfully")
	log.Debug("Checking task queue")
	log.Warn("Lease count mismatch detected")
	log.Error("Failed to reach the store")
	log.Fatal("Cannot start without database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("task_id", "task-123").
		Int("hooks", 2).
		Msg("Task completed")

	log.Logger.Error().
		Err(err).
		Str("manager", "cluster-host-ab12cd34").
		Msg("Heartbeat failed")

Component Loggers:

	storageLog := log.WithComponent("storage")
	storageLog.Info().Msg("Database opened")
	storageLog.Debug().Int("leased", 10).Msg("Tasks leased")

# Integration Points

This package integrates with:

  - pkg/storage: Logs database operations and lease discrepancies
  - pkg/api: Logs connections, requests, and auth denials
  - pkg/client: Logs dials and redials
  - pkg/queue: Logs manager cycles, adapter submissions, outcomes
  - cmd/qcfractal: Initializes logging from CLI flags

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for consistent error fields
  - Include context (manager name, task ID)

Don't:
  - Log credentials or password digests
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
*/
package log
