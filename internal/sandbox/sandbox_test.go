package sandbox

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"scenefix/internal/config"
)

func testExecutor(t *testing.T) *Executor {
	t.Helper()
	cfg := config.SandboxConfig{MaxConcurrentRuns: 2, MaxOutputBytes: 1024}
	return NewExecutor(cfg, config.DefaultTimeouts())
}

func TestExecuteSuccess(t *testing.T) {
	result, err := testExecutor(t).Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo hello"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Errorf("success=%v exit=%d, want true/0", result.Success, result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestExecuteNonZeroExitIsStillSuccess(t *testing.T) {
	result, err := testExecutor(t).Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo oops >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Error("a command that ran and exited non-zero still has Success=true")
	}
	if result.ExitCode != 3 {
		t.Errorf("exit = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "oops") {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	result, err := testExecutor(t).Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Timeout:   50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Killed || !result.TimedOut() {
		t.Error("timed-out command must be marked killed")
	}
	if result.KillReason == "" {
		t.Error("kill reason must be set")
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	result, err := testExecutor(t).Execute(context.Background(), Command{
		Binary: "definitely-not-a-real-binary-12345",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("a command that never ran must have Success=false")
	}
	if result.Error == "" {
		t.Error("infrastructure failure must carry an error message")
	}
}

func TestExecuteOutputCap(t *testing.T) {
	result, err := testExecutor(t).Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "yes x | head -c 100000"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Truncated {
		t.Error("oversized output must be marked truncated")
	}
	if len(result.Stdout) > 1024 {
		t.Errorf("stdout not capped: %d bytes", len(result.Stdout))
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 10}

	n, err := lw.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 16 {
		t.Errorf("limited writer must report full writes, got %d", n)
	}
	if buf.String() != "0123456789" {
		t.Errorf("captured = %q", buf.String())
	}
	if !lw.truncated {
		t.Error("overflow must set truncated")
	}

	// Further writes are swallowed entirely.
	if n, _ := lw.Write([]byte("more")); n != 4 {
		t.Errorf("post-cap write must still report success, got %d", n)
	}
	if buf.Len() != 10 {
		t.Errorf("post-cap write leaked into buffer: %d bytes", buf.Len())
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Binary: "manim", Arguments: []string{"render", "scene.py"}}
	if got := cmd.CommandString(); got != "manim render scene.py" {
		t.Errorf("CommandString() = %q", got)
	}
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	cfg := config.SandboxConfig{MaxConcurrentRuns: 1, MaxOutputBytes: 1024}
	e := NewExecutor(cfg, config.DefaultTimeouts())

	if err := e.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.acquire(ctx); err == nil {
		t.Fatal("second acquire must block until the slot frees")
	}

	e.release()
	if err := e.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	e.release()
}
