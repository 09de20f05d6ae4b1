// Package sandbox is the execution layer that physically runs artifacts:
// dry-run subprocesses, full renders and frame extraction. It enforces
// hard wall-clock timeouts, bounds captured output, and never leaves a
// process or temp directory behind on any exit path.
package sandbox

import (
	"io"
	"time"
)

// Command is the input specification for a subprocess execution.
type Command struct {
	Binary           string        `json:"binary"`
	Arguments        []string      `json:"arguments"`
	WorkingDirectory string        `json:"working_directory,omitempty"`
	Environment      []string      `json:"environment,omitempty"`
	Timeout          time.Duration `json:"-"`
}

// CommandString returns the full command for display and logging.
func (c Command) CommandString() string {
	s := c.Binary
	for _, arg := range c.Arguments {
		s += " " + arg
	}
	return s
}

// ExecutionResult is the outcome of running one subprocess.
type ExecutionResult struct {
	// Success means the execution infrastructure worked. A command that
	// ran and exited non-zero still has Success=true.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed indicates the process hit the wall-clock timeout or the
	// caller's context was canceled.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	// Truncated indicates output exceeded the capture limit.
	Truncated bool `json:"truncated"`

	// Error carries any infrastructure-level failure message.
	Error string `json:"error,omitempty"`
}

// TimedOut reports whether the process was killed for exceeding its limit.
func (r *ExecutionResult) TimedOut() bool {
	return r.Killed
}

// Output returns stdout and stderr joined for log excerpts.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// limitedWriter caps total bytes written, discarding the overflow while
// reporting full writes to avoid short-write errors from exec.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
