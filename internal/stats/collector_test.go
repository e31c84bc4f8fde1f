package stats

import (
	"context"
	"os"
	"os/exec"
	"testing"
)

func TestCollector_SamplesLiveProcess(t *testing.T) {
	c := NewCollector()

	snap, err := c.Collect(context.Background(), os.Getpid())
	if err != nil {
		t.Fatalf("Collect failed for own pid: %v", err)
	}
	if snap.PID != os.Getpid() {
		t.Errorf("Expected pid %d, got %d", os.Getpid(), snap.PID)
	}
	if snap.RSSBytes == 0 {
		t.Error("RSS should be non-zero for a live process")
	}
	if snap.NumThreads == 0 {
		t.Error("Thread count should be non-zero for a live process")
	}
}

func TestCollector_RejectsZeroPID(t *testing.T) {
	c := NewCollector()
	if _, err := c.Collect(context.Background(), 0); err == nil {
		t.Error("Expected error for pid 0")
	}
}

func TestCollector_DeadProcessIsError(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	cmd.Wait()

	c := NewCollector()
	if _, err := c.Collect(context.Background(), pid); err == nil {
		t.Errorf("Expected error for exited pid %d", pid)
	}
}
