/*
Package metrics provides Prometheus metrics collection and exposition for
QCFractal.

The metrics package defines and registers every QCFractal metric with the
Prometheus client library, giving operators visibility into store growth,
API traffic, and compute manager throughput. Metrics are exposed on an
HTTP endpoint for scraping, alongside health and readiness probes.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                │           │
	│  │                                            │           │
	│  │  Store: molecules, results, tasks, ...     │           │
	│  │  API: request count, duration              │           │
	│  │  Manager: submitted, completed, failed     │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Collector                     │           │
	│  │  - Polls storage socket every 15s          │           │
	│  │  - Publishes document counts as gauges     │           │
	│  │  - Task counts broken out by status        │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Endpoints                    │           │
	│  │  - /metrics: Prometheus text exposition    │           │
	│  │  - /health: component health JSON          │           │
	│  │  - /ready: critical component readiness    │           │
	│  │  - /live: process liveness                 │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Metrics Catalog

Store Metrics (gauges, published by Collector):

qcfractal_molecules_total:
  - Total number of stored molecules

qcfractal_options_total:
  - Total number of stored option sets

qcfractal_collections_total:
  - Total number of stored collections

qcfractal_results_total:
  - Total number of stored results

qcfractal_procedures_total:
  - Total number of stored procedures

qcfractal_tasks_total{status}:
  - Queued tasks by status (WAITING, RUNNING, COMPLETE, ERROR)
  - Example: qcfractal_tasks_total{status="WAITING"} 120

qcfractal_services_total:
  - Total number of queued services

qcfractal_queue_managers_total:
  - Total number of queue managers that have ever reported in

qcfractal_users_total:
  - Total number of registered users

API Metrics:

qcfractal_api_requests_total{operation, status}:
  - Type: Counter
  - Total API requests by operation name and outcome ("success",
    "failure", "denied")
  - Example: qcfractal_api_requests_total{operation="add_molecules",status="success"} 42

qcfractal_api_request_duration_seconds{operation}:
  - Type: Histogram
  - Request handling duration by operation
  - Buckets: Prometheus defaults

Queue Manager Metrics (counters, incremented by pkg/queue):

qcfractal_manager_tasks_submitted_total:
  - Tasks handed to the compute adapter

qcfractal_manager_tasks_completed_total:
  - Task outcomes received back from the adapter

qcfractal_manager_tasks_failed_total:
  - Tasks that ended in error (compute failures plus rejected
    submissions)

qcfractal_manager_heartbeat_failures_total:
  - Update cycles that could not reach the server

# Usage

Exposing the endpoints:

	import "github.com/ChayaSt/QCFractal/pkg/metrics"

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	http.ListenAndServe(":9090", mux)

Publishing store gauges:

	collector := metrics.NewCollector(socket)
	collector.Start()
	defer collector.Stop()

Recording API requests:

	timer := metrics.NewTimer()
	// ... handle request ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "add_molecules")
	metrics.APIRequestsTotal.WithLabelValues("add_molecules", "success").Inc()

Reporting component health:

	metrics.SetVersion(version)
	metrics.SetComponent("storage", true, "")
	metrics.SetComponent("api", true, "")

# Integration Points

This package integrates with:

  - pkg/storage: Collector polls BoltSocket.Stats for document counts
  - pkg/api: Instruments request handling and reports api health
  - pkg/queue: Manager increments task throughput counters
  - cmd/qcfractal: Serves the endpoints on the metrics port
  - Prometheus: Scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration
  - Metrics available before main() runs

Label Discipline:
  - Cardinality-bounded labels only (operation, status)
  - Record ids and molecule hashes never appear as labels

Gauge Reset:
  - The collector writes every task status on each cycle, including
    zeroes, so a drained status does not keep reporting its last count

Timer Pattern:
  - Create a timer at operation start
  - Observe into a histogram or histogram vec when done

# Monitoring

Prometheus queries (PromQL):

Queue depth:
  - Waiting tasks: qcfractal_tasks_total{status="WAITING"}
  - Error backlog: qcfractal_tasks_total{status="ERROR"}

Throughput:
  - Completion rate: rate(qcfractal_manager_tasks_completed_total[5m])
  - Failure ratio: rate(qcfractal_manager_tasks_failed_total[5m]) /
    rate(qcfractal_manager_tasks_completed_total[5m])

API performance:
  - Request rate: rate(qcfractal_api_requests_total[1m])
  - p95 latency: histogram_quantile(0.95, qcfractal_api_request_duration_seconds_bucket)

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
