/*
Package metrics exposes the storage daemon's Prometheus metrics and
health/readiness HTTP handlers.

Every metric is prefixed doughnut_ and grouped by the layer it
instruments:

  - doughnut_silo_*      — local block storage occupancy
  - doughnut_overlay_*   — peer discovery and membership churn
  - doughnut_dock_*      — transport connection and RPC activity
  - doughnut_paxos_*     — per-address consensus round outcomes
  - doughnut_async_*     — write-back journal depth and spill activity
  - doughnut_cache_*     — block cache hit/miss ratio
  - doughnut_operation_* — facade-level insert/update/fetch/remove timing

Collector polls the silo and overlay on an interval to keep their gauges
current; the dock, cache, async and silo metrics are also updated inline
by the packages that own them, since those events (an RPC completing, a
journal spill) are naturally observed at the call site rather than on a
timer. The doughnut_paxos_* metrics, the two overlay event counters and
the doughnut_operation* metrics are registered and exported, but nothing
in the module updates them.

Handler returns the standard promhttp handler for mounting at /metrics.
HealthHandler, ReadyHandler, and LivenessHandler back the daemon's
/health, /ready, and /live endpoints.
*/
package metrics
