/*
Package log provides structured logging for the block store using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Configuration

Initialize once at startup, before any other package logs:

	log.Init(log.Config{
		Level:      log.DebugLevel, // debug, info, warn, error
		JSONOutput: true,           // false renders console format
	})

Output defaults to stdout; unknown levels fall back to info.

# Component loggers

Each package derives a child logger carrying its identity, so output can be
filtered per subsystem:

	logger := log.WithComponent("accountant")
	logger.Debug().Int64("bytes", n).Msg("storage acquire refused")

Field helpers exist for the identifiers that recur across the store:

	log.WithBlockID("rdd_12_3")    // block_id field
	log.WithTaskID("task-45")      // task_id field
	log.WithMode("on-heap")        // memory_mode field

These return plain zerolog.Logger values and may be combined via the usual
zerolog With() chaining.

# Output

JSON format (JSONOutput: true):

	{"level":"info","component":"blockstore","block_id":"rdd_12_3","time":"2026-08-02T10:15:04Z","message":"block admitted"}

Console format (JSONOutput: false, the default) renders the same events human-readably and
is intended for interactive use of the CLI only.

# Performance

Zerolog allocates nothing for disabled levels, so debug-level calls on the
admission hot path cost a single branch in production. Avoid building field
values eagerly for debug logs; use the zerolog fluent API so evaluation is
skipped when the level is off.
*/
package log
