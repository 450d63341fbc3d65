package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proximity_deployments_total",
		Help: "Finished application deployments by result.",
	}, []string{"result"})

	ProvisionStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proximity_provision_step_duration_seconds",
		Help:    "Duration of container provisioning steps.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"step", "result"})

	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proximity_backups_total",
		Help: "Backup operations by operation and result.",
	}, []string{"op", "result"})

	ProxmoxRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proximity_proxmox_requests_total",
		Help: "Requests sent to Proxmox hosts by method and outcome.",
	}, []string{"method", "outcome"})

	StatsCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proximity_stats_cache_lookups_total",
		Help: "Container stats cache lookups by result.",
	}, []string{"result"})
)

// Result returns the label value for an operation outcome.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
