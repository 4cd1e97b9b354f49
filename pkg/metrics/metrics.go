package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	MoleculesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_molecules_total",
			Help: "Total number of stored molecules",
		},
	)

	OptionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_options_total",
			Help: "Total number of stored option sets",
		},
	)

	CollectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_collections_total",
			Help: "Total number of stored collections",
		},
	)

	ResultsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_results_total",
			Help: "Total number of stored results",
		},
	)

	ProceduresTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_procedures_total",
			Help: "Total number of stored procedures",
		},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcfractal_tasks_total",
			Help: "Total number of queued tasks by status",
		},
		[]string{"status"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_services_total",
			Help: "Total number of queued services",
		},
	)

	ManagersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_queue_managers_total",
			Help: "Total number of known queue managers",
		},
	)

	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcfractal_users_total",
			Help: "Total number of registered users",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcfractal_api_requests_total",
			Help: "Total number of API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcfractal_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Queue manager metrics
	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qcfractal_manager_tasks_submitted_total",
			Help: "Total number of tasks handed to the compute adapter",
		},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qcfractal_manager_tasks_completed_total",
			Help: "Total number of task outcomes received from the adapter",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qcfractal_manager_tasks_failed_total",
			Help: "Total number of tasks that ended in error",
		},
	)

	HeartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qcfractal_manager_heartbeat_failures_total",
			Help: "Total number of failed manager update cycles",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MoleculesTotal)
	prometheus.MustRegister(OptionsTotal)
	prometheus.MustRegister(CollectionsTotal)
	prometheus.MustRegister(ResultsTotal)
	prometheus.MustRegister(ProceduresTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(ManagersTotal)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(HeartbeatFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
