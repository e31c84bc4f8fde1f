package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/clipforge/warden/internal/health"
	"github.com/clipforge/warden/internal/launch"
	"github.com/clipforge/warden/internal/monitor"
	"github.com/clipforge/warden/internal/probe"
	"github.com/clipforge/warden/internal/resolve"
	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/errors"
	"github.com/clipforge/warden/pkg/fsm"
	"github.com/clipforge/warden/pkg/logger"
	"github.com/clipforge/warden/pkg/protocol"
)

const (
	evLaunch   = fsm.Event("launch")
	evLaunched = fsm.Event("launched")
	evFailed   = fsm.Event("launch_failed")
	evShutdown = fsm.Event("shutdown")
	evLost     = fsm.Event("lost")
)

// Result is the discriminated outcome of EnsureBackendRunning. It crosses
// the bridge boundary as-is; failures never surface as panics or raw errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Event describes a supervisor or connectivity state change, pushed to
// bridge subscribers.
type Event struct {
	Kind string    `json:"kind"` // "supervisor" or "connectivity"
	From string    `json:"from"`
	To   string    `json:"to"`
	Time time.Time `json:"time"`
}

// Supervisor is the single entry point for the backend lifecycle. One
// instance exists per application run; it owns the only process handle and
// serializes its own calls, which is what makes duplicate ensure/shutdown
// calls safe without further locking.
type Supervisor struct {
	cfg *protocol.Config
	env probe.Environment
	log logger.Logger

	machine  *fsm.Machine
	launcher *launch.Launcher
	monitor  *health.Monitor

	// OnEvent, if set before Start, receives state-change events.
	OnEvent func(Event)

	mu         sync.Mutex
	mode       consts.DeploymentMode
	classified bool
	handle     *launch.Handle
}

func New(cfg *protocol.Config, env probe.Environment, baseURL string) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		env:      env,
		log:      logger.Log.With("component", "supervisor"),
		launcher: launch.New(cfg.Backend.Env),
		monitor:  health.New(baseURL, cfg.Health.IntervalDuration(), cfg.Health.ProbeTimeoutDuration()),
	}

	m := fsm.New(fsm.State(consts.StateIdle))
	m.Allow(fsm.State(consts.StateIdle), evLaunch, fsm.State(consts.StateLaunching), nil)
	m.Allow(fsm.State(consts.StateLaunchFailed), evLaunch, fsm.State(consts.StateLaunching), nil)
	m.Allow(fsm.State(consts.StateLost), evLaunch, fsm.State(consts.StateLaunching), nil)
	m.Allow(fsm.State(consts.StateLaunching), evLaunched, fsm.State(consts.StateRunning), nil)
	m.Allow(fsm.State(consts.StateLaunching), evFailed, fsm.State(consts.StateLaunchFailed), nil)
	m.Allow(fsm.State(consts.StateRunning), evShutdown, fsm.State(consts.StateIdle), nil)
	m.Allow(fsm.State(consts.StateLaunchFailed), evShutdown, fsm.State(consts.StateIdle), nil)
	m.Allow(fsm.State(consts.StateLost), evShutdown, fsm.State(consts.StateIdle), nil)
	m.Allow(fsm.State(consts.StateRunning), evLost, fsm.State(consts.StateLost), nil)
	s.machine = m

	s.monitor.OnChange = func(from, to consts.ConnectivityState) {
		s.emit(Event{Kind: "connectivity", From: string(from), To: string(to), Time: time.Now()})
	}
	return s
}

// Start begins health polling. Polling is independent of launch attempts:
// a backend left over from a previous session is found without any launch.
func (s *Supervisor) Start() {
	s.monitor.Start()
}

// Stop tears the supervisor down: backend shutdown, then polling release.
func (s *Supervisor) Stop() {
	s.ShutdownBackend()
	s.monitor.Stop()
}

// State returns the supervisor lifecycle state.
func (s *Supervisor) State() consts.SupervisorState {
	return consts.SupervisorState(s.machine.Current())
}

// Connectivity returns the health monitor's derived state.
func (s *Supervisor) Connectivity() consts.ConnectivityState {
	return s.monitor.State()
}

// Health returns the last health payload and probe error.
func (s *Supervisor) Health() (*health.Report, error) {
	return s.monitor.LastReport()
}

// Monitor exposes the health monitor for one-shot probes.
func (s *Supervisor) Monitor() *health.Monitor {
	return s.monitor
}

// Mode returns the deployment mode, empty until first classified.
func (s *Supervisor) Mode() consts.DeploymentMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// PID returns the backend process id, 0 when none is live.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil && s.handle.Alive() {
		return s.handle.PID()
	}
	return 0
}

// EnsureBackendRunning composes prober, resolver, and launcher. Idempotent:
// with a live backend it reports success without spawning anything. All
// failures reduce to a discriminated Result.
func (s *Supervisor) EnsureBackendRunning() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil && s.handle.Alive() {
		return Result{Success: true}
	}

	if err := s.fire(evLaunch); err != nil {
		// RUNNING without a handle means a shutdown has disowned the
		// process but not yet settled the state machine.
		name := "LaunchInProgress"
		if s.machine.Current() == fsm.State(consts.StateRunning) {
			name = "ShutdownInProgress"
		}
		return Result{Success: false, Error: name, Detail: err.Error()}
	}

	mode, err := s.classify()
	if err != nil {
		s.fire(evFailed)
		monitor.LaunchAttemptsTotal.WithLabelValues("unclassifiable_environment").Inc()
		return failure(err)
	}

	candidates := resolve.Resolve(s.env, mode)
	if len(candidates) == 0 {
		s.fire(evFailed)
		monitor.LaunchAttemptsTotal.WithLabelValues("config_invalid").Inc()
		err := errors.New(errors.ErrCodeConfigInvalid, "Ensure",
			fmt.Sprintf("platform %q produces no launch candidates in %s mode", s.env.Platform, mode), nil)
		return failure(err)
	}

	handle, err := s.launcher.Launch(candidates)
	if err != nil {
		s.fire(evFailed)
		monitor.LaunchAttemptsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return failure(err)
	}

	s.handle = handle
	s.fire(evLaunched)
	monitor.LaunchAttemptsTotal.WithLabelValues("success").Inc()
	go s.watch(handle)

	s.log.Info("Backend launched", "pid", handle.PID(), "candidate", handle.Name,
		"kind", handle.Kind, "mode", mode)
	return Result{Success: true}
}

// ShutdownBackend requests graceful termination, escalates after the grace
// period, and always clears the handle. Idempotent, and it never reports
// failure: by the time it returns, the handle is gone either way.
func (s *Supervisor) ShutdownBackend() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h != nil && h.Alive() {
		h.Terminate(s.cfg.Launch.GracePeriodDuration())
	}

	// Whatever state we were in, shutdown lands on Idle.
	s.fire(evShutdown)
}

// classify runs the prober once; the mode is immutable afterwards.
func (s *Supervisor) classify() (consts.DeploymentMode, error) {
	if s.classified {
		return s.mode, nil
	}
	mode, err := probe.Classify(s.env)
	if err != nil {
		return "", err
	}
	s.mode = mode
	s.classified = true
	s.log.Info("Environment classified", "mode", mode, "platform", s.env.Platform)
	return mode, nil
}

// watch marks the supervisor Lost when the backend exits on its own. No
// auto-restart: recovery needs an explicit EnsureBackendRunning call, so a
// crash-looping backend is visible instead of masked.
func (s *Supervisor) watch(h *launch.Handle) {
	<-h.Done()

	s.mu.Lock()
	current := s.handle == h
	if current {
		s.handle = nil
	}
	s.mu.Unlock()

	if !current {
		// Shutdown already disowned this handle.
		return
	}

	s.log.Warn("Backend exited unexpectedly", "pid", h.PID(), "err", h.ExitErr())
	s.fire(evLost)
}

// fire runs an FSM transition and emits the change; invalid transitions are
// logged, not fatal, since several paths race against shutdown.
func (s *Supervisor) fire(ev fsm.Event) error {
	from := s.machine.Current()
	if err := s.machine.Fire(ev); err != nil {
		s.log.Debug("Ignored transition", "event", string(ev), "state", string(from))
		return err
	}
	s.emit(Event{Kind: "supervisor", From: string(from), To: string(s.machine.Current()), Time: time.Now()})
	return nil
}

func (s *Supervisor) emit(e Event) {
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
}

func failure(err error) Result {
	return Result{Success: false, Error: errorName(errors.CodeOf(err)), Detail: err.Error()}
}

func errorName(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeUnclassifiableEnv:
		return "UnclassifiableEnvironment"
	case errors.ErrCodeNoViableCandidate:
		return "NoViableCandidate"
	case errors.ErrCodeSpawnFailure:
		return "SpawnFailure"
	case errors.ErrCodeConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

func outcomeLabel(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNoViableCandidate:
		return "no_viable_candidate"
	case errors.ErrCodeSpawnFailure:
		return "spawn_failure"
	default:
		return "error"
	}
}
