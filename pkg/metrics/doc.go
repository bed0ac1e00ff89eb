/*
Package metrics exposes Prometheus metrics for the Burrow scheduler.

Collectors are package-level and registered once at init; components
update them directly. The daemon serves them over HTTP via
Handler() on the metrics listen address.

Key series:

  - burrow_microops_total{kind,state}: terminal micro-op counts
  - burrow_microop_duration_seconds{kind}: execution latency
  - burrow_queue_depth / burrow_running_microops: scheduler pressure
  - burrow_memory_wait_seconds: build-time memory waits (power-of-two
    buckets matching the waiter's log cadence)
  - burrow_placement_decisions_total{result}: single/pair/fallback/
    unavailable placement outcomes
  - burrow_placement_retries_total: retries after a changed free reading
*/
package metrics
