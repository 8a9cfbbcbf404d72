package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_servers_total",
			Help: "Total number of inventory servers by region and status",
		},
		[]string{"region", "status"},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_containers_total",
			Help: "Total number of deployed containers by toggle and state",
		},
		[]string{"toggle", "state"},
	)

	SecretsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_secrets_total",
			Help: "Total number of secrets by tenant",
		},
		[]string{"tenant"},
	)

	// Leader election metrics
	MonitorIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_monitor_is_leader",
			Help: "Whether this monitor instance holds the health-monitor leadership (1 = leader, 0 = follower)",
		},
	)

	MonitorPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_monitor_peers_total",
			Help: "Total number of healthy monitor peers observed in the last leader-election pass",
		},
	)

	LeaderElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_leader_elections_total",
			Help: "Total number of times the health-monitor leader changed",
		},
	)

	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_deployments_total",
			Help: "Total number of rollouts by result",
		},
		[]string{"result"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_deployment_duration_seconds",
			Help:    "Rollout duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800}, // 1s to 30min
		},
		[]string{"result"},
	)

	RolledBackDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_deployments_rolled_back_total",
			Help: "Total number of rollouts that were rolled back, by reason",
		},
		[]string{"reason"},
	)

	// Health gate metrics
	HealthGateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_health_gate_duration_seconds",
			Help:    "Time taken for a health gate to settle (pass or fail) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthGateFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_health_gate_failures_total",
			Help: "Total number of health gate failures by kind",
		},
		[]string{"kind"},
	)

	// Recovery metrics
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_container_restarts_total",
			Help: "Total number of container restarts attempted by the recovery path",
		},
		[]string{"result"},
	)

	HostReplacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_host_replacements_total",
			Help: "Total number of host replacements (snapshot recovery) attempted",
		},
		[]string{"result"},
	)

	// Sidecar metrics
	SidecarReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_sidecar_reloads_total",
			Help: "Total number of sidecar config reloads by result",
		},
		[]string{"result"},
	)

	SidecarReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_sidecar_reload_duration_seconds",
			Help:    "Time taken to reload the sidecar in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Remote executor metrics
	ExecutorOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_executor_operation_duration_seconds",
			Help:    "Time taken for a remote executor operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ExecutorOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_executor_operations_total",
			Help: "Total number of remote executor operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Provider metrics
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_provider_requests_total",
			Help: "Total number of cloud provider API requests by provider and result",
		},
		[]string{"provider", "result"},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_backups_total",
			Help: "Total number of backup runs by result",
		},
		[]string{"result"},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_backup_duration_seconds",
			Help:    "Time taken for a backup run in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)
)

func init() {
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(SecretsTotal)
	prometheus.MustRegister(MonitorIsLeader)
	prometheus.MustRegister(MonitorPeersTotal)
	prometheus.MustRegister(LeaderElectionsTotal)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(RolledBackDeploymentsTotal)
	prometheus.MustRegister(HealthGateDuration)
	prometheus.MustRegister(HealthGateFailuresTotal)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(HostReplacementsTotal)
	prometheus.MustRegister(SidecarReloadsTotal)
	prometheus.MustRegister(SidecarReloadDuration)
	prometheus.MustRegister(ExecutorOperationDuration)
	prometheus.MustRegister(ExecutorOperationsTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
