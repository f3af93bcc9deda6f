package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmc_instances_total",
			Help: "Total number of managed instances by kind and status",
		},
		[]string{"kind", "status"},
	)

	InstanceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetmc_instance_start_duration_seconds",
			Help:    "Time taken for a process to reach running status after spawn",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceCrashesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_instance_crashes_total",
			Help: "Total number of crash transitions observed",
		},
		[]string{"kind"},
	)

	// Resource sampler metrics
	SamplerTPS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmc_sampler_tps",
			Help: "Last observed ticks-per-second reading per instance",
		},
		[]string{"instance_id"},
	)

	SamplerCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmc_sampler_cpu_percent",
			Help: "Last observed CPU percentage per instance",
		},
		[]string{"instance_id"},
	)

	SamplerRSSBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmc_sampler_rss_bytes",
			Help: "Last observed resident set size per instance",
		},
		[]string{"instance_id"},
	)

	// Proxy probe metrics
	ProbeBackendsOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmc_probe_backends_online",
			Help: "Number of online backend edges per proxy",
		},
		[]string{"proxy_id"},
	)

	ProbeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetmc_probe_latency_seconds",
			Help:    "Handshake round-trip latency observed while probing a backend edge",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"proxy_id"},
	)

	// RCON pool metrics
	RconCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_rcon_commands_total",
			Help: "Total number of RCON commands dispatched by outcome",
		},
		[]string{"outcome"},
	)

	RconCommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetmc_rcon_command_duration_seconds",
			Help:    "RCON round-trip duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmc_tasks_total",
			Help: "Total number of scheduled tasks by kind and enabled state",
		},
		[]string{"kind", "enabled"},
	)

	TaskExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_task_executions_total",
			Help: "Total number of fired task executions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetmc_task_execution_duration_seconds",
			Help:    "Task execution duration by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TaskOverlapSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_task_overlap_skips_total",
			Help: "Total number of ticks skipped because a prior execution was still in flight",
		},
		[]string{"task_id"},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_backups_total",
			Help: "Total number of backup archives created by outcome",
		},
		[]string{"outcome"},
	)

	BackupSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetmc_backup_size_bytes",
			Help:    "Size of created backup archives in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12), // 1MiB .. 2GiB
		},
	)

	// Notifier metrics
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_webhook_deliveries_total",
			Help: "Total number of webhook POST attempts by dialect and outcome",
		},
		[]string{"dialect", "outcome"},
	)

	// Event bus metrics
	EventBusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetmc_event_bus_subscribers",
			Help: "Current number of active event bus subscriptions",
		},
	)

	// System metrics
	SystemCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetmc_system_cpu_percent",
			Help: "Host-wide CPU utilization percentage",
		},
	)

	SystemMemoryPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetmc_system_memory_percent",
			Help: "Host-wide memory utilization percentage",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmc_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetmc_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InstanceStartDuration)
	prometheus.MustRegister(InstanceCrashesTotal)
	prometheus.MustRegister(SamplerTPS)
	prometheus.MustRegister(SamplerCPUPercent)
	prometheus.MustRegister(SamplerRSSBytes)
	prometheus.MustRegister(ProbeBackendsOnline)
	prometheus.MustRegister(ProbeLatency)
	prometheus.MustRegister(RconCommandsTotal)
	prometheus.MustRegister(RconCommandDuration)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskExecutionsTotal)
	prometheus.MustRegister(TaskExecutionDuration)
	prometheus.MustRegister(TaskOverlapSkipsTotal)
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupSizeBytes)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(EventBusSubscribers)
	prometheus.MustRegister(SystemCPUPercent)
	prometheus.MustRegister(SystemMemoryPercent)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
