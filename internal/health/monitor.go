package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/clipforge/warden/internal/monitor"
	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/errors"
	"github.com/clipforge/warden/pkg/logger"
)

// Report is the backend's /health payload.
type Report struct {
	Status        string `json:"status"`
	GPUAvailable  bool   `json:"gpu_available"`
	VRAMAvailable int    `json:"vram_available"`
}

// Monitor polls the backend liveness endpoint on a fixed interval and
// derives the connectivity state from probe outcomes alone. A single failed
// probe flips to Disconnected immediately; there is no debounce window, so
// the UI always sees exactly what the last probe saw.
type Monitor struct {
	baseURL  string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      logger.Logger

	// OnChange, if set before Start, is invoked outside the monitor lock
	// whenever the connectivity state changes.
	OnChange func(from, to consts.ConnectivityState)

	mu      sync.Mutex
	state   consts.ConnectivityState
	last    *Report
	lastErr error
	cancel  context.CancelFunc
}

func New(baseURL string, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		baseURL:  baseURL,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{},
		log:      logger.Log.With("component", "health"),
		state:    consts.ConnConnecting,
	}
}

// Start begins polling immediately, regardless of launch progress: the
// backend may already be running from a previous session. Calling Start on
// a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop cancels polling and releases the ticker. Idempotent; no timers leak
// across restarts.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current connectivity state.
func (m *Monitor) State() consts.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastReport returns the most recent successful health payload and the most
// recent probe error, either of which may be nil.
func (m *Monitor) LastReport() (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastErr
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First probe fires right away so the UI is not blind for a full
	// interval after startup.
	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	report, err := m.Probe(ctx)

	m.mu.Lock()
	prev := m.state
	if err != nil {
		m.state = consts.ConnDisconnected
		m.lastErr = err
	} else {
		m.state = consts.ConnConnected
		m.last = report
		m.lastErr = nil
	}
	next := m.state
	onChange := m.OnChange
	m.mu.Unlock()

	if next == consts.ConnConnected {
		monitor.BackendConnected.Set(1)
	} else {
		monitor.BackendConnected.Set(0)
	}

	if prev != next {
		m.log.Info("Connectivity changed", "from", prev, "to", next)
		if onChange != nil {
			onChange(prev, next)
		}
	}
}

// Probe performs one bounded liveness check against GET /health.
func (m *Monitor) Probe(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return nil, errors.New(errors.ErrCodeProbeNetwork, "Probe", "building request", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			monitor.ProbeFailuresTotal.WithLabelValues("timeout").Inc()
			return nil, errors.New(errors.ErrCodeProbeTimeout, "Probe", "health probe timed out", err)
		}
		monitor.ProbeFailuresTotal.WithLabelValues("network").Inc()
		return nil, errors.New(errors.ErrCodeProbeNetwork, "Probe", "health probe failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		monitor.ProbeFailuresTotal.WithLabelValues("status").Inc()
		return nil, errors.New(errors.ErrCodeProbeNetwork, "Probe",
			fmt.Sprintf("health endpoint returned %d", resp.StatusCode), nil)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		monitor.ProbeFailuresTotal.WithLabelValues("decode").Inc()
		return nil, errors.New(errors.ErrCodeProbeNetwork, "Probe", "decoding health payload", err)
	}
	return &report, nil
}
