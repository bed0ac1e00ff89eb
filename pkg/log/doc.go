/*
Package log provides structured logging for Burrow using zerolog.

The package wraps zerolog with a global logger, configurable level and
output format, and helpers for component-scoped child loggers. All logs
include timestamps and are JSON-structured in production.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	dispatchLog := log.WithComponent("dispatcher")
	dispatchLog.Info().Str("vm_id", vmID).Msg("micro-op dequeued")

Per-VM and per-op context:

	vmLog := log.WithVMID("7f8a...")
	vmLog.Warn().Msg("placement fell back to round-robin")

Structured fields (.Str, .Int, .Err) are preferred over string
interpolation so logs stay queryable.

# Output Examples

JSON format (production):

	{"level":"info","component":"memwait","vm_id":"7f8a","waited_s":4,"time":"2026-08-25T10:30:00Z","message":"waiting for free memory"}

Console format (development):

	10:30:00 INF waiting for free memory component=memwait vm_id=7f8a waited_s=4
*/
package log
