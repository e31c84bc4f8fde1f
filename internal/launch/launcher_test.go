package launch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipforge/warden/internal/resolve"
	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/errors"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func candidate(kind consts.CandidateKind, name, path string) resolve.Candidate {
	return resolve.Candidate{Kind: kind, Name: name, ExecPath: path, WorkDir: filepath.Dir(path)}
}

func TestLauncher_NoViableCandidate(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()

	_, err := l.Launch([]resolve.Candidate{
		candidate(consts.KindNativeBundled, "missing-bundled", filepath.Join(dir, "nope")),
		candidate(consts.KindInterpretedSource, "missing-python", filepath.Join(dir, "also-nope")),
	})
	if err == nil {
		t.Fatal("Expected NoViableCandidate error")
	}
	if errors.CodeOf(err) != errors.ErrCodeNoViableCandidate {
		t.Errorf("Expected code %v, got %v", errors.ErrCodeNoViableCandidate, errors.CodeOf(err))
	}
	if l.Current() != nil {
		t.Error("No handle should exist after a failed launch")
	}
}

func TestLauncher_SpawnsFirstViable(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	first := writeScript(t, dir, "bundled", "sleep 30\n")
	second := writeScript(t, dir, "python", "sleep 30\n")

	h, err := l.Launch([]resolve.Candidate{
		candidate(consts.KindNativeBundled, "bundled", first),
		candidate(consts.KindInterpretedSource, "python", second),
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer h.Terminate(time.Second)

	if h.Name != "bundled" {
		t.Errorf("Expected bundled candidate to win, got %s", h.Name)
	}
	if h.PID() == 0 {
		t.Error("Expected a live PID")
	}
}

func TestLauncher_FallsBackWhenBundledAbsent(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	fallback := writeScript(t, dir, "python", "sleep 30\n")

	h, err := l.Launch([]resolve.Candidate{
		candidate(consts.KindNativeBundled, "bundled", filepath.Join(dir, "missing")),
		candidate(consts.KindInterpretedSource, "python", fallback),
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer h.Terminate(time.Second)

	if h.Name != "python" {
		t.Errorf("Expected interpreted fallback, got %s", h.Name)
	}
	if h.Kind != string(consts.KindInterpretedSource) {
		t.Errorf("Expected interpreted kind, got %s", h.Kind)
	}
}

func TestLauncher_SpawnFailureDoesNotFallThrough(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()

	// Passes the viability screen (exists, exec bit set) but the kernel
	// refuses to run it.
	broken := filepath.Join(dir, "clipforge-backend")
	if err := os.WriteFile(broken, []byte{0x00, 0x01, 0x02, 0x03}, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(dir, "fallback-ran")
	good := writeScript(t, dir, "python", "touch "+marker+"\nsleep 30\n")

	_, err := l.Launch([]resolve.Candidate{
		candidate(consts.KindNativeBundled, "bundled", broken),
		candidate(consts.KindInterpretedSource, "python", good),
	})
	if err == nil {
		t.Fatal("Expected spawn failure")
	}
	if errors.CodeOf(err) != errors.ErrCodeSpawnFailure {
		t.Errorf("Expected code %v, got %v", errors.ErrCodeSpawnFailure, errors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), string(consts.KindNativeBundled)) {
		t.Errorf("Error should name the failing candidate kind: %v", err)
	}
	if l.Current() != nil {
		t.Error("No handle should exist after a spawn failure")
	}
	// The next candidate must not have been tried.
	time.Sleep(100 * time.Millisecond)
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Error("Spawn failure fell through to the next candidate")
	}
}

func TestLauncher_NonExecutableIsNotViable(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	plain := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(plain, []byte("not a program"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := l.Launch([]resolve.Candidate{
		candidate(consts.KindNativeBundled, "plain-file", plain),
	})
	if errors.CodeOf(err) != errors.ErrCodeNoViableCandidate {
		t.Errorf("Non-executable file should not be viable, got %v", err)
	}
}

func TestLauncher_Idempotent(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	script := writeScript(t, dir, "backend", "sleep 30\n")

	cands := []resolve.Candidate{candidate(consts.KindNativeBundled, "backend", script)}
	h1, err := l.Launch(cands)
	if err != nil {
		t.Fatalf("First launch failed: %v", err)
	}
	defer h1.Terminate(time.Second)

	h2, err := l.Launch(cands)
	if err != nil {
		t.Fatalf("Second launch failed: %v", err)
	}
	if h1 != h2 {
		t.Error("Second launch should return the existing handle")
	}
	if h1.ID != h2.ID {
		t.Errorf("Attempt ids differ: %s vs %s", h1.ID, h2.ID)
	}
}

func TestLauncher_RelaunchAfterExit(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	script := writeScript(t, dir, "quick", "exit 0\n")

	h1, err := l.Launch([]resolve.Candidate{candidate(consts.KindNativeBundled, "quick", script)})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	select {
	case <-h1.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not exit")
	}
	if h1.Alive() {
		t.Error("Handle should not be alive after exit")
	}
	if l.Current() != nil {
		t.Error("Current should be nil once the process exited")
	}

	h2, err := l.Launch([]resolve.Candidate{candidate(consts.KindNativeBundled, "quick", script)})
	if err != nil {
		t.Fatalf("Relaunch failed: %v", err)
	}
	if h2 == h1 {
		t.Error("Relaunch should produce a new handle")
	}
	<-h2.Done()
}

func TestHandle_TerminateGraceful(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	script := writeScript(t, dir, "backend", "sleep 30\n")

	h, err := l.Launch([]resolve.Candidate{candidate(consts.KindNativeBundled, "backend", script)})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.Terminate(5 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Terminate did not return")
	}
	if h.Alive() {
		t.Error("Process should be gone after Terminate")
	}
}

func TestHandle_TerminateEscalatesToKill(t *testing.T) {
	l := New(nil)
	dir := t.TempDir()
	// Ignores SIGTERM so only SIGKILL can stop it.
	script := writeScript(t, dir, "stubborn", "trap '' TERM\nwhile true; do sleep 1; done\n")

	h, err := l.Launch([]resolve.Candidate{candidate(consts.KindNativeBundled, "stubborn", script)})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	start := time.Now()
	h.Terminate(500 * time.Millisecond)
	if h.Alive() {
		t.Error("Process should be dead after escalation")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Escalation took too long: %v", elapsed)
	}
}

func TestLauncher_MergesEnvironmentOverrides(t *testing.T) {
	l := New([]string{"WARDEN_TEST_BASE=1"})
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")
	script := writeScript(t, dir, "envdump", "echo \"$WARDEN_TEST_BASE $WARDEN_TEST_OVERRIDE\" > "+out+"\n")

	c := candidate(consts.KindNativeBundled, "envdump", script)
	c.Env = []string{"WARDEN_TEST_OVERRIDE=2"}

	h, err := l.Launch([]resolve.Candidate{c})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	<-h.Done()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Child did not write env dump: %v", err)
	}
	if string(data) != "1 2\n" {
		t.Errorf("Expected merged environment %q, got %q", "1 2\n", string(data))
	}
}
