package monitor

import (
	"testing"
	"time"
)

func TestMetricsInitialization(t *testing.T) {
	addr := "127.0.0.1:0" // Random port
	InitMetrics(addr)

	// Touch the collectors to verify registration worked
	LaunchAttemptsTotal.WithLabelValues("success").Inc()
	ProbeFailuresTotal.WithLabelValues("timeout").Inc()
	BackendConnected.Set(1)

	time.Sleep(100 * time.Millisecond)
}

func TestMetricsValues(t *testing.T) {
	// Just verify we can use them
	LaunchAttemptsTotal.WithLabelValues("no_viable_candidate").Inc()
	BackendCPUPercent.Set(12.5)
	BackendRSSBytes.Set(256 << 20)
}
