/*
Package log provides structured logging for castlehub using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers and configurable log levels. All logs include
timestamps.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("manager")                 │          │
	│  │  - WithHostname("phoenix.example.org")      │          │
	│  │  - WithTaskID("4b1c...")                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON:    {"level":"info","hostname":...}   │          │
	│  │  Console: 10:30AM INF status changed ...    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	logger := log.WithComponent("manager")
	logger.Info().
		Str("hostname", cluster.Hostname).
		Str("status", string(cluster.Status)).
		Msg("Cluster status changed")

Status changes of every cluster are logged with hostname, status,
previous_status and owner fields so that log pipelines can reconstruct
cluster history.

# Levels

Debug for terraform command lines and poll rounds, Info for lifecycle
transitions, Warn for recovered inconsistencies (boot reconciliation), Error
for failed terraform runs and store writes.
*/
package log
