package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"scenefix/internal/config"
	"scenefix/internal/logging"
)

// Executor runs artifacts in isolated subprocesses. A shared semaphore
// bounds concurrent dry-run/render processes across all sessions; these
// are the CPU-heavy operations in the system.
type Executor struct {
	cfg      config.SandboxConfig
	timeouts config.Timeouts
	sem      chan struct{}
}

// NewExecutor creates an executor with the configured concurrency bound.
func NewExecutor(cfg config.SandboxConfig, timeouts config.Timeouts) *Executor {
	slots := cfg.MaxConcurrentRuns
	if slots <= 0 {
		slots = 1
	}
	return &Executor{
		cfg:      cfg,
		timeouts: timeouts,
		sem:      make(chan struct{}, slots),
	}
}

// acquire takes a subprocess slot, honoring context cancellation.
func (e *Executor) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sandbox slot: %w", ctx.Err())
	}
}

func (e *Executor) release() { <-e.sem }

// Execute runs a single command with output capture and a hard timeout.
// Timeouts and cancellation are reported through the result (Killed=true),
// not as errors: the infrastructure worked, the command was stopped.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "command execution")
	defer timer.Stop()

	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.timeouts.DryRun
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.SandboxDebug("executing: %s (dir=%s, timeout=%s)", cmd.CommandString(), cmd.WorkingDirectory, timeout)

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = append(os.Environ(), cmd.Environment...)

	maxOutput := e.cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 4 * 1024 * 1024
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result := &ExecutionResult{ExitCode: -1}
	result.StartedAt = time.Now()
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdoutLimited.truncated || stderrLimited.truncated

	switch {
	case err == nil:
		result.Success = true
		result.ExitCode = 0
	case execCtx.Err() == context.DeadlineExceeded:
		result.Success = true
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", timeout)
		logging.SandboxWarn("command killed (timeout): %s after %s", cmd.Binary, timeout)
	case execCtx.Err() == context.Canceled:
		result.Success = true
		result.Killed = true
		result.KillReason = "context canceled"
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.Success = true
			result.ExitCode = exitErr.ExitCode()
			logging.SandboxDebug("command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
		} else {
			result.Success = false
			result.Error = err.Error()
			logging.SandboxWarn("command failed to run: %s - %v", cmd.Binary, err)
		}
	}

	return result, nil
}

// DryRun executes the artifact end-to-end with rendering disabled, purely
// to surface runtime errors. The temp workspace is removed on every exit
// path.
func (e *Executor) DryRun(ctx context.Context, code string) (*ExecutionResult, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	dir, err := os.MkdirTemp("", "scenefix-dryrun-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create dry-run workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	scenePath := filepath.Join(dir, "scene.py")
	if err := os.WriteFile(scenePath, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write scene: %w", err)
	}

	logging.Sandbox("dry run: %d bytes of scene code", len(code))
	return e.Execute(ctx, Command{
		Binary: e.cfg.ManimBinary,
		Arguments: []string{
			"render", scenePath,
			"--dry_run",
			"--disable_caching",
			"-q", "l",
			"--media_dir", dir,
		},
		WorkingDirectory: dir,
		Timeout:          e.timeouts.DryRun,
	})
}

// Render produces the video artifact for the code and copies it into
// outDir. The render workspace is removed unconditionally; only the final
// video survives.
func (e *Executor) Render(ctx context.Context, code, outDir string) (string, error) {
	if err := e.acquire(ctx); err != nil {
		return "", err
	}
	defer e.release()

	dir, err := os.MkdirTemp("", "scenefix-render-*")
	if err != nil {
		return "", fmt.Errorf("failed to create render workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	scenePath := filepath.Join(dir, "scene.py")
	if err := os.WriteFile(scenePath, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("failed to write scene: %w", err)
	}

	args := []string{"render", scenePath, "--disable_caching", "--media_dir", dir}
	args = append(args, e.cfg.RenderArgs...)

	result, err := e.Execute(ctx, Command{
		Binary:           e.cfg.ManimBinary,
		Arguments:        args,
		WorkingDirectory: dir,
		Timeout:          e.timeouts.Render,
	})
	if err != nil {
		return "", err
	}
	if result.Killed {
		return "", fmt.Errorf("render timed out: %s", result.KillReason)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("render failed with exit %d: %s", result.ExitCode, tail(result.Stderr, 500))
	}

	videoPath, err := findVideo(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	outPath := filepath.Join(outDir, filepath.Base(videoPath))
	if err := copyFile(videoPath, outPath); err != nil {
		return "", err
	}

	logging.Sandbox("render complete: %s", outPath)
	return outPath, nil
}

// ExtractFrame pulls a single frame near the given timestamp out of a
// rendered video using ffmpeg.
func (e *Executor) ExtractFrame(ctx context.Context, videoPath string, atSec float64, outPath string) error {
	result, err := e.Execute(ctx, Command{
		Binary: e.cfg.FFmpegBinary,
		Arguments: []string{
			"-y",
			"-ss", fmt.Sprintf("%.2f", atSec),
			"-i", videoPath,
			"-frames:v", "1",
			outPath,
		},
		Timeout: e.timeouts.FrameExtract,
	})
	if err != nil {
		return err
	}
	if result.Killed {
		return fmt.Errorf("frame extraction timed out at t=%.2f", atSec)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("ffmpeg exited %d: %s", result.ExitCode, tail(result.Stderr, 300))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("ffmpeg produced no frame at t=%.2f: %w", atSec, err)
	}
	return nil
}

// findVideo locates the rendered mp4 under the media dir.
func findVideo(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".mp4" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan render output: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("render produced no video under %s", root)
	}
	return found, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
