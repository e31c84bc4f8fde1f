package consts

import "time"

// DeploymentMode classifies how warden was installed on this machine.
// It is determined once at startup and never changes for the process lifetime.
type DeploymentMode string

const (
	ModePackaged    DeploymentMode = "packaged"    // Running from an application image with bundled resources
	ModeDevelopment DeploymentMode = "development" // Running from a source checkout
)

// CandidateKind identifies the launch strategy of a candidate.
type CandidateKind string

const (
	KindNativeBundled     CandidateKind = "native-bundled"     // Self-contained backend executable shipped in the app image
	KindInterpretedSource CandidateKind = "interpreted-source" // Backend started from source with a separately installed interpreter
)

// ConnectivityState is derived solely from health-probe outcomes, never set
// by the launcher.
type ConnectivityState string

const (
	ConnConnecting   ConnectivityState = "connecting"
	ConnConnected    ConnectivityState = "connected"
	ConnDisconnected ConnectivityState = "disconnected"
)

// SupervisorState is the lifecycle state of the backend supervisor.
type SupervisorState string

const (
	StateIdle         SupervisorState = "IDLE"
	StateLaunching    SupervisorState = "LAUNCHING"
	StateRunning      SupervisorState = "RUNNING"
	StateLaunchFailed SupervisorState = "LAUNCH_FAILED"
	StateLost         SupervisorState = "LOST" // Child exited on its own; recovery needs an explicit ensure call
)

// Environment variable names consumed by the prober and resolver.
const (
	EnvResourcesDir = "WARDEN_RESOURCES_DIR"
	EnvSourceDir    = "WARDEN_SOURCE_DIR"
	EnvBackendURL   = "WARDEN_BACKEND_URL"
)

const (
	DefaultBackendURL   = "http://127.0.0.1:8000"
	DefaultBridgeAddr   = "127.0.0.1:8400"
	DefaultPollInterval = 5 * time.Second
	DefaultProbeTimeout = 2500 * time.Millisecond
	DefaultGracePeriod  = 5 * time.Second
)
