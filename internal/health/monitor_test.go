package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/errors"
)

func healthServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Report{Status: "healthy", GPUAvailable: true, VRAMAvailable: 12})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMonitor_InitialStateIsConnecting(t *testing.T) {
	m := New("http://127.0.0.1:1", time.Second, 100*time.Millisecond)
	if m.State() != consts.ConnConnecting {
		t.Errorf("Expected connecting, got %s", m.State())
	}
}

func TestMonitor_TransitionsFollowProbeOutcomes(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := healthServer(t, &healthy)

	m := New(srv.URL, time.Hour, time.Second)
	ctx := context.Background()

	// Drive ticks directly so outcomes map to states with no timing slack.
	m.tick(ctx)
	if m.State() != consts.ConnConnected {
		t.Fatalf("Expected connected after success, got %s", m.State())
	}

	healthy.Store(false)
	m.tick(ctx)
	if m.State() != consts.ConnDisconnected {
		t.Fatalf("Single failure must flip to disconnected, got %s", m.State())
	}

	healthy.Store(true)
	m.tick(ctx)
	if m.State() != consts.ConnConnected {
		t.Fatalf("Recovery probe must flip back to connected, got %s", m.State())
	}
}

func TestMonitor_OnChangeFiresOncePerTransition(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := healthServer(t, &healthy)

	m := New(srv.URL, time.Hour, time.Second)
	var changes []consts.ConnectivityState
	m.OnChange = func(from, to consts.ConnectivityState) {
		changes = append(changes, to)
	}

	ctx := context.Background()
	m.tick(ctx) // connecting -> connected
	m.tick(ctx) // connected, no change
	healthy.Store(false)
	m.tick(ctx) // -> disconnected
	m.tick(ctx) // still disconnected, no change
	healthy.Store(true)
	m.tick(ctx) // -> connected

	want := []consts.ConnectivityState{consts.ConnConnected, consts.ConnDisconnected, consts.ConnConnected}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d state changes, got %d (%v)", len(want), len(changes), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Change %d: expected %s, got %s", i, want[i], changes[i])
		}
	}
}

func TestMonitor_LastReportCarriesPayload(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := healthServer(t, &healthy)

	m := New(srv.URL, time.Hour, time.Second)
	m.tick(context.Background())

	report, err := m.LastReport()
	if err != nil {
		t.Fatalf("Unexpected probe error: %v", err)
	}
	if report == nil || !report.GPUAvailable || report.VRAMAvailable != 12 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	m := New(srv.URL, time.Hour, 100*time.Millisecond)
	_, err := m.Probe(context.Background())
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if errors.CodeOf(err) != errors.ErrCodeProbeTimeout {
		t.Errorf("Expected timeout code, got %v", errors.CodeOf(err))
	}
}

func TestMonitor_ProbeNetworkError(t *testing.T) {
	// Nothing listens here.
	m := New("http://127.0.0.1:1", time.Hour, 500*time.Millisecond)
	_, err := m.Probe(context.Background())
	if err == nil {
		t.Fatal("Expected network error")
	}
	if errors.CodeOf(err) != errors.ErrCodeProbeNetwork {
		t.Errorf("Expected network code, got %v", errors.CodeOf(err))
	}
}

func TestMonitor_PollingLifecycle(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := healthServer(t, &healthy)

	m := New(srv.URL, 20*time.Millisecond, time.Second)
	m.Start()
	m.Start() // no-op on a running monitor

	deadline := time.After(3 * time.Second)
	for m.State() != consts.ConnConnected {
		select {
		case <-deadline:
			t.Fatal("Monitor never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Stop()
	m.Stop() // idempotent

	// Restart after stop must work; stale tickers must not linger.
	m.Start()
	defer m.Stop()
	if m.State() != consts.ConnConnected {
		// First tick after restart fires immediately, give it a moment.
		time.Sleep(100 * time.Millisecond)
	}
	if m.State() != consts.ConnConnected {
		t.Errorf("Monitor should reconnect after restart, got %s", m.State())
	}
}
