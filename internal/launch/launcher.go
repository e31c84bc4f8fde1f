package launch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/warden/internal/resolve"
	"github.com/clipforge/warden/pkg/errors"
	"github.com/clipforge/warden/pkg/logger"
)

// Handle owns the spawned backend process. Exactly one live handle exists
// per application run; the launcher enforces this.
type Handle struct {
	ID   string
	Kind string
	Name string

	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
	exited  bool
}

// PID returns the OS process id, or 0 if the process is gone.
func (h *Handle) PID() int {
	if h.cmd != nil && h.cmd.Process != nil {
		return h.cmd.Process.Pid
	}
	return 0
}

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// ExitErr returns the process exit error once Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Terminate requests a graceful stop, waits up to grace, then escalates to
// SIGKILL. It returns once the process has exited.
func (h *Handle) Terminate(grace time.Duration) {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	if !h.Alive() {
		return
	}

	logger.Log.Info("Launcher: sending SIGTERM", "pid", h.PID(), "attempt", h.ID)
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Log.Warn("Launcher: SIGTERM failed", "pid", h.PID(), "err", err)
	}

	select {
	case <-h.done:
		return
	case <-time.After(grace):
	}

	logger.Log.Warn("Launcher: grace period elapsed, sending SIGKILL", "pid", h.PID())
	if err := h.cmd.Process.Kill(); err != nil {
		logger.Log.Warn("Launcher: SIGKILL failed", "pid", h.PID(), "err", err)
	}
	<-h.done
}

// Launcher starts the backend from an ordered candidate list. It holds the
// single live handle; Launch while a handle is alive is a no-op returning it.
type Launcher struct {
	mu       sync.Mutex
	handle   *Handle
	extraEnv []string
	log      logger.Logger
}

func New(extraEnv []string) *Launcher {
	return &Launcher{
		extraEnv: extraEnv,
		log:      logger.Log.With("component", "launcher"),
	}
}

// Current returns the live handle, or nil.
func (l *Launcher) Current() *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil && l.handle.Alive() {
		return l.handle
	}
	return nil
}

// Launch tries candidates strictly in order and spawns the first viable one
// as a detached child. Viability is a cheap existence-and-executable screen;
// real health is the monitor's business. A spawn error on the viable
// candidate is surfaced with that candidate's kind, never swallowed by
// falling through to a later candidate.
func (l *Launcher) Launch(candidates []resolve.Candidate) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != nil && l.handle.Alive() {
		l.log.Info("Launch requested with live backend, returning existing handle",
			"pid", l.handle.PID(), "attempt", l.handle.ID)
		return l.handle, nil
	}

	var chosen *resolve.Candidate
	for i := range candidates {
		if viable(candidates[i].ExecPath) {
			chosen = &candidates[i]
			break
		}
		l.log.Debug("Candidate not viable", "name", candidates[i].Name, "path", candidates[i].ExecPath)
	}
	if chosen == nil {
		return nil, errors.New(errors.ErrCodeNoViableCandidate, "Launch",
			fmt.Sprintf("none of %d candidates had an executable path", len(candidates)), nil)
	}

	handle, err := l.spawn(chosen)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSpawnFailure, "Launch",
			fmt.Sprintf("spawn of %s candidate %q failed", chosen.Kind, chosen.Name), err)
	}
	l.handle = handle
	return handle, nil
}

func (l *Launcher) spawn(c *resolve.Candidate) (*Handle, error) {
	cmd := exec.Command(c.ExecPath, c.Args...)
	cmd.Dir = c.WorkDir
	env := os.Environ()
	env = append(env, l.extraEnv...)
	env = append(env, c.Env...)
	cmd.Env = env
	// Own process group so supervisor exit never blocks on the child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	attempt := uuid.NewString()
	l.log.Info("Launcher: spawning backend", "candidate", c.Name, "kind", c.Kind,
		"path", c.ExecPath, "attempt", attempt)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		ID:   attempt,
		Kind: string(c.Kind),
		Name: c.Name,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	sink := l.log.With("pid", cmd.Process.Pid, "candidate", c.Name)
	go forward(stdout, sink.With("stream", "stdout"))
	go forward(stderr, sink.With("stream", "stderr"))

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.exited = true
		h.mu.Unlock()
		close(h.done)
		if err != nil {
			l.log.Warn("Launcher: backend exited", "pid", h.PID(), "err", err)
		} else {
			l.log.Info("Launcher: backend exited cleanly", "pid", h.PID())
		}
	}()

	return h, nil
}

// forward copies child output lines into the log sink. Output is never
// dropped, whatever the level filter does with it is the sink's choice.
func forward(r io.Reader, sink logger.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink.Info(scanner.Text())
	}
}

// viable screens a candidate path: a bare name is resolved through PATH,
// anything else must exist and carry an executable bit.
func viable(path string) bool {
	if !strings.ContainsRune(path, os.PathSeparator) {
		_, err := exec.LookPath(path)
		return err == nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
