package resolve

import (
	"path/filepath"

	"github.com/clipforge/warden/internal/probe"
	"github.com/clipforge/warden/pkg/consts"
)

// Candidate is one launch strategy for the backend. Candidates are generated
// by Resolve and never mutated afterwards.
type Candidate struct {
	Kind     consts.CandidateKind
	Name     string
	ExecPath string
	Args     []string
	WorkDir  string
	// Env holds NAME=VALUE overrides merged over the base environment at
	// spawn time.
	Env []string
}

// backendBinary is the bundled executable name per platform.
func backendBinary(platform string) string {
	if platform == "windows" {
		return "clipforge-backend.exe"
	}
	return "clipforge-backend"
}

// bundledPython is the interpreter path inside a packaged python
// environment.
func bundledPython(payloadDir, platform string) string {
	if platform == "windows" {
		return filepath.Join(payloadDir, "python", "python.exe")
	}
	return filepath.Join(payloadDir, "python", "bin", "python3")
}

// Resolve produces the ordered launch strategies for the given deployment
// mode and platform. Pure function: no filesystem or process access;
// viability screening belongs to the launcher. The bundled native candidate
// always precedes interpreted fallbacks because it has no external runtime
// dependency. An empty result means the platform supports nothing, which the
// caller reports as a configuration error.
func Resolve(env probe.Environment, mode consts.DeploymentMode) []Candidate {
	switch mode {
	case consts.ModePackaged:
		return resolvePackaged(env)
	case consts.ModeDevelopment:
		return resolveDevelopment(env)
	default:
		return nil
	}
}

func resolvePackaged(env probe.Environment) []Candidate {
	if !supportedPlatform(env.Platform) {
		return nil
	}

	payload := env.PackagedPayloadDir()
	candidates := []Candidate{
		{
			Kind:     consts.KindNativeBundled,
			Name:     "bundled-" + env.Platform,
			ExecPath: filepath.Join(payload, "bin", backendBinary(env.Platform)),
			WorkDir:  payload,
		},
		{
			Kind:     consts.KindInterpretedSource,
			Name:     "bundled-python",
			ExecPath: bundledPython(payload, env.Platform),
			Args:     []string{filepath.Join(payload, "src", "main.py")},
			WorkDir:  payload,
			Env:      []string{"PYTHONUNBUFFERED=1"},
		},
	}
	return candidates
}

func resolveDevelopment(env probe.Environment) []Candidate {
	backendDir := env.DevBackendDir()
	main := filepath.Join(backendDir, "src", "main.py")

	var candidates []Candidate

	// Project venv first, then a per-user environment, then whatever
	// python3 the PATH offers.
	venv := filepath.Join(backendDir, "venv", "bin", "python3")
	if env.Platform == "windows" {
		venv = filepath.Join(backendDir, "venv", "Scripts", "python.exe")
	}
	candidates = append(candidates, Candidate{
		Kind:     consts.KindInterpretedSource,
		Name:     "project-venv",
		ExecPath: venv,
		Args:     []string{main},
		WorkDir:  backendDir,
		Env:      []string{"PYTHONUNBUFFERED=1"},
	})

	if env.HomeDir != "" {
		userPython := filepath.Join(env.HomeDir, ".clipforge", "venv", "bin", "python3")
		if env.Platform == "windows" {
			userPython = filepath.Join(env.HomeDir, ".clipforge", "venv", "Scripts", "python.exe")
		}
		candidates = append(candidates, Candidate{
			Kind:     consts.KindInterpretedSource,
			Name:     "user-venv",
			ExecPath: userPython,
			Args:     []string{main},
			WorkDir:  backendDir,
			Env:      []string{"PYTHONUNBUFFERED=1"},
		})
	}

	candidates = append(candidates, Candidate{
		Kind:     consts.KindInterpretedSource,
		Name:     "system-python",
		ExecPath: "python3",
		Args:     []string{main},
		WorkDir:  backendDir,
		Env:      []string{"PYTHONUNBUFFERED=1"},
	})

	return candidates
}

func supportedPlatform(platform string) bool {
	switch platform {
	case "linux", "darwin", "windows":
		return true
	}
	return false
}
