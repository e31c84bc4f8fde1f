package probe

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/errors"
	"github.com/clipforge/warden/pkg/protocol"
)

// Environment captures the fixed signals the prober and resolver read. It is
// assembled once at startup; classification is a function of these fields
// and the filesystem, with no network or process side effects.
type Environment struct {
	// ResourcesDir is the packaged application resource directory.
	ResourcesDir string
	// SourceDir is the development checkout root containing backend/src.
	SourceDir string
	// HomeDir is the user home directory, used to locate a per-user
	// interpreter environment.
	HomeDir string
	// Platform is the host operating system identifier (GOOS).
	Platform string
}

// Detect assembles the Environment from config overrides, environment
// variables, and the running executable's location.
func Detect(cfg *protocol.Config) Environment {
	env := Environment{
		ResourcesDir: cfg.Backend.ResourcesDir,
		SourceDir:    cfg.Backend.SourceDir,
		Platform:     runtime.GOOS,
	}

	if env.ResourcesDir == "" {
		env.ResourcesDir = os.Getenv(consts.EnvResourcesDir)
	}
	if env.ResourcesDir == "" {
		if exe, err := os.Executable(); err == nil {
			env.ResourcesDir = filepath.Join(filepath.Dir(exe), "resources")
		}
	}

	if env.SourceDir == "" {
		env.SourceDir = os.Getenv(consts.EnvSourceDir)
	}
	if env.SourceDir == "" {
		if wd, err := os.Getwd(); err == nil {
			env.SourceDir = wd
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		env.HomeDir = home
	}

	return env
}

// PackagedPayloadDir is where the bundled backend lives in a packaged
// install.
func (e Environment) PackagedPayloadDir() string {
	return filepath.Join(e.ResourcesDir, "backend")
}

// DevBackendDir is the backend directory of a development checkout.
func (e Environment) DevBackendDir() string {
	return filepath.Join(e.SourceDir, "backend")
}

// Classify determines the deployment mode from the environment. Exactly one
// of the two layouts must be present; both or neither is an unclassifiable
// environment, which the caller treats as fatal to launch.
func Classify(env Environment) (consts.DeploymentMode, error) {
	packaged := dirExists(env.PackagedPayloadDir())
	dev := fileExists(filepath.Join(env.DevBackendDir(), "src", "main.py"))

	switch {
	case packaged && dev:
		return "", errors.New(errors.ErrCodeUnclassifiableEnv, "Classify",
			"both packaged resources and a development source tree are present", nil)
	case packaged:
		return consts.ModePackaged, nil
	case dev:
		return consts.ModeDevelopment, nil
	default:
		return "", errors.New(errors.ErrCodeUnclassifiableEnv, "Classify",
			"neither packaged resources nor a development source tree was found", nil)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
