/*
Package log provides structured logging for the Doughnut storage daemon
using zerolog.

The package wraps zerolog to give every layer of the stack — silo,
overlay, dock, the consensus stack, and the facade — a component-tagged
child logger with consistent fields (address, peer_id, node_id) rather
than ad-hoc fmt.Printf calls.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("silo")
	logger.Info().Str("address", addr.String()).Msg("block stored")

Component loggers are cheap to create (zerolog child loggers share the
parent's output and level) so callers create one per request or per
long-lived goroutine rather than caching a single global instance per
component.

# Do

  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so the stack trace/cause survives
  - Include context (address, peer_id, node_id)

# Don't

  - Log secrets or private key material
  - Use Debug level in production
  - Log inside hot per-block loops without sampling
*/
package log
