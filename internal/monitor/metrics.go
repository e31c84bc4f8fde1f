package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipforge/warden/pkg/logger"
)

var (
	// LaunchAttemptsTotal counts backend launch attempts by outcome.
	LaunchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_launch_attempts_total",
		Help: "Backend launch attempts by outcome",
	}, []string{"outcome"})

	// ProbeFailuresTotal counts failed health probes by reason.
	ProbeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_probe_failures_total",
		Help: "Failed backend health probes by reason",
	}, []string{"reason"})

	// BackendConnected is 1 while the health monitor reports Connected.
	BackendConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_backend_connected",
		Help: "Whether the backend currently answers health probes",
	})

	// BackendCPUPercent is the spawned backend's CPU usage.
	BackendCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_backend_cpu_percent",
		Help: "CPU usage of the supervised backend process",
	})

	// BackendRSSBytes is the spawned backend's resident set size.
	BackendRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_backend_rss_bytes",
		Help: "Resident memory of the supervised backend process",
	})
)

// InitMetrics registers the collectors and starts an HTTP server exposing
// them. It takes an address string (e.g. ":9090") to listen on.
func InitMetrics(addr string) {
	prometheus.MustRegister(LaunchAttemptsTotal)
	prometheus.MustRegister(ProbeFailuresTotal)
	prometheus.MustRegister(BackendConnected)
	prometheus.MustRegister(BackendCPUPercent)
	prometheus.MustRegister(BackendRSSBytes)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Log.Info("Metrics server starting", "addr", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
}
