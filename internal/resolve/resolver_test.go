package resolve

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipforge/warden/internal/probe"
	"github.com/clipforge/warden/pkg/consts"
)

func testEnv(platform string) probe.Environment {
	return probe.Environment{
		ResourcesDir: filepath.Join("/opt", "clipforge", "resources"),
		SourceDir:    filepath.Join("/home", "dev", "clipforge"),
		HomeDir:      filepath.Join("/home", "dev"),
		Platform:     platform,
	}
}

func TestResolve_PackagedOrdering(t *testing.T) {
	for _, platform := range []string{"linux", "darwin", "windows"} {
		candidates := Resolve(testEnv(platform), consts.ModePackaged)
		if len(candidates) == 0 {
			t.Fatalf("%s: expected candidates", platform)
		}
		if candidates[0].Kind != consts.KindNativeBundled {
			t.Errorf("%s: first candidate should be native bundled, got %s", platform, candidates[0].Kind)
		}
		for _, c := range candidates[1:] {
			if c.Kind != consts.KindInterpretedSource {
				t.Errorf("%s: fallback candidates should be interpreted, got %s", platform, c.Kind)
			}
		}
	}
}

func TestResolve_PackagedWindowsPaths(t *testing.T) {
	candidates := Resolve(testEnv("windows"), consts.ModePackaged)
	if !strings.HasSuffix(candidates[0].ExecPath, ".exe") {
		t.Errorf("Windows bundled executable should end in .exe, got %s", candidates[0].ExecPath)
	}
	if !strings.HasSuffix(candidates[1].ExecPath, "python.exe") {
		t.Errorf("Windows bundled interpreter should be python.exe, got %s", candidates[1].ExecPath)
	}
}

func TestResolve_DevelopmentHasNoNativeCandidate(t *testing.T) {
	candidates := Resolve(testEnv("linux"), consts.ModeDevelopment)
	if len(candidates) == 0 {
		t.Fatal("Expected interpreted candidates in development mode")
	}
	for _, c := range candidates {
		if c.Kind == consts.KindNativeBundled {
			t.Errorf("Development mode produced a native bundled candidate: %s", c.Name)
		}
	}
}

func TestResolve_DevelopmentOrdering(t *testing.T) {
	candidates := Resolve(testEnv("linux"), consts.ModeDevelopment)
	var names []string
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	want := []string{"project-venv", "user-venv", "system-python"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Candidate %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestResolve_DevelopmentWithoutHome(t *testing.T) {
	env := testEnv("linux")
	env.HomeDir = ""
	candidates := Resolve(env, consts.ModeDevelopment)
	for _, c := range candidates {
		if c.Name == "user-venv" {
			t.Error("user-venv should not be produced without a home directory")
		}
	}
	if len(candidates) == 0 {
		t.Error("Fallbacks should survive a missing home directory")
	}
}

func TestResolve_UnsupportedPlatformPackaged(t *testing.T) {
	candidates := Resolve(testEnv("plan9"), consts.ModePackaged)
	if len(candidates) != 0 {
		t.Errorf("Unsupported platform should produce no packaged candidates, got %d", len(candidates))
	}
}

func TestResolve_CandidatesCarryWorkDirAndEnv(t *testing.T) {
	candidates := Resolve(testEnv("linux"), consts.ModePackaged)
	for _, c := range candidates {
		if c.WorkDir == "" {
			t.Errorf("Candidate %s missing working directory", c.Name)
		}
	}
	interpreted := candidates[1]
	found := false
	for _, kv := range interpreted.Env {
		if kv == "PYTHONUNBUFFERED=1" {
			found = true
		}
	}
	if !found {
		t.Errorf("Interpreted candidate should disable output buffering, env: %v", interpreted.Env)
	}
}
