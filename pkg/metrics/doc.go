/*
Package metrics defines and registers every forge Prometheus metric and
exposes them over an HTTP endpoint for scraping.

# Metrics Catalog

Inventory:

	forge_servers_total{region,status}      Gauge   servers by region and status
	forge_containers_total{toggle,state}    Gauge   deployed containers by toggle slot and state
	forge_secrets_total{tenant}             Gauge   secrets by tenant

Leader election:

	forge_monitor_is_leader                 Gauge   1 if this monitor holds leadership
	forge_monitor_peers_total                Gauge   healthy peers seen in the last election pass
	forge_leader_elections_total             Counter leadership changes

Rollouts:

	forge_deployments_total{result}                  Counter
	forge_deployment_duration_seconds{result}         Histogram
	forge_deployments_rolled_back_total{reason}       Counter

Health gate and recovery:

	forge_health_gate_duration_seconds        Histogram
	forge_health_gate_failures_total{kind}    Counter
	forge_container_restarts_total{result}   Counter
	forge_host_replacements_total{result}    Counter

Sidecar, executor, provider, backup:

	forge_sidecar_reloads_total{result}                 Counter
	forge_sidecar_reload_duration_seconds                Histogram
	forge_executor_operation_duration_seconds{operation} Histogram
	forge_executor_operations_total{operation,result}    Counter
	forge_provider_requests_total{provider,result}        Counter
	forge_backups_total{result}                            Counter
	forge_backup_duration_seconds                          Histogram

# Usage

	timer := metrics.NewTimer()
	err := deploy(t, version)
	result := "ok"
	if err != nil {
		result = "error"
	}
	timer.ObserveDurationVec(metrics.DeploymentDuration, result)
	metrics.DeploymentsTotal.WithLabelValues(result).Inc()

	http.Handle("/metrics", metrics.Handler())

Metrics are registered once at package init and are safe for concurrent
use from any goroutine; callers never construct their own registry.
*/
package metrics
