package validator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"scenefix/internal/config"
	"scenefix/internal/issue"
	"scenefix/internal/logging"
	"scenefix/internal/sandbox"
)

// tracebackLimit bounds the stderr excerpt attached to runtime issues.
const tracebackLimit = 1500

var (
	tbLineRe    = regexp.MustCompile(`File "[^"]*scene\.py", line (\d+)`)
	exceptionRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*(Error|Exception|Warning|Exit|Interrupt)\b`)
)

// DryRunner is the slice of the sandbox the runtime validator needs.
type DryRunner interface {
	DryRun(ctx context.Context, code string) (*sandbox.ExecutionResult, error)
}

// RuntimeValidator executes the artifact in the sandbox and converts the
// outcome into issues. It also runs the semantic preflight checks so that
// foldable defects are reported even when execution itself succeeds.
type RuntimeValidator struct {
	runner DryRunner
	frame  config.FrameConfig
}

// NewRuntimeValidator creates a runtime validator backed by the sandbox.
func NewRuntimeValidator(runner DryRunner, frame config.FrameConfig) *RuntimeValidator {
	return &RuntimeValidator{runner: runner, frame: frame}
}

// Validate dry-runs the code. enableSpatial turns on the literal-geometry
// heuristics; framesDir, when set, is where later render passes will drop
// frame evidence for spatial findings.
func (v *RuntimeValidator) Validate(ctx context.Context, code string, enableSpatial bool, framesDir string) (result issue.ValidationResult) {
	timer := logging.StartTimer(logging.CategoryRuntime, "runtime validation")
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			logging.RuntimeError("runtime validation panicked: %v", r)
			result = issue.NewResult([]issue.ValidationIssue{{
				Severity:   issue.SeverityCritical,
				Confidence: issue.ConfidenceHigh,
				Category:   issue.CategorySystem,
				Message:    fmt.Sprintf("runtime validator internal failure: %v", r),
			}})
		}
	}()

	var issues []issue.ValidationIssue

	src := []byte(code)
	if tree, err := parsePython(ctx, src); err == nil {
		pf := &preflight{frame: v.frame, enableSpatial: enableSpatial}
		issues = append(issues, pf.check(tree.RootNode(), src)...)
		tree.Close()
	}

	execResult, err := v.runner.DryRun(ctx, code)
	if err != nil {
		if ctx.Err() != nil {
			return issue.NewResult(issues)
		}
		logging.RuntimeError("dry run infrastructure failure: %v", err)
		issues = append(issues, issue.ValidationIssue{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySystem,
			Message:    fmt.Sprintf("failed to execute dry run: %v", err),
		})
		return issue.NewResult(issues)
	}

	switch {
	case !execResult.Success:
		issues = append(issues, issue.ValidationIssue{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySystem,
			Message:    fmt.Sprintf("dry run could not start: %s", execResult.Error),
		})
	case execResult.Killed && ctx.Err() != nil:
		// The caller gave up, not the artifact. Mark the result invalid
		// without blaming the code for an infinite loop.
		issues = append(issues, issue.ValidationIssue{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySystem,
			Message:    fmt.Sprintf("dry run canceled before completion (%s)", execResult.KillReason),
		})
	case execResult.Killed:
		issues = append(issues, issue.ValidationIssue{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategoryRuntime,
			Message:    fmt.Sprintf("execution killed (%s), possible infinite loop or runaway animation", execResult.KillReason),
			FixHint:    "look for unbounded loops, very large run_time values, or updaters that never settle",
			Details:    map[string]any{"kill_reason": execResult.KillReason},
		})
	case execResult.ExitCode != 0:
		issues = append(issues, tracebackIssue(execResult))
	}

	if framesDir != "" {
		logging.Runtime("runtime validation: %d issues (frames -> %s)", len(issues), framesDir)
	} else {
		logging.Runtime("runtime validation: %d issues", len(issues))
	}
	return issue.NewResult(issues)
}

// tracebackIssue distills a failed execution into one issue: the final
// exception line, the last scene.py line from the traceback, and a bounded
// stderr excerpt as evidence.
func tracebackIssue(result *sandbox.ExecutionResult) issue.ValidationIssue {
	output := result.Output()

	line := 0
	for _, m := range tbLineRe.FindAllStringSubmatch(output, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			line = n
		}
	}

	message := finalException(output)
	if message == "" {
		message = fmt.Sprintf("execution failed with exit code %d", result.ExitCode)
	}

	excerpt := output
	if len(excerpt) > tracebackLimit {
		excerpt = "..." + excerpt[len(excerpt)-tracebackLimit:]
	}

	return issue.ValidationIssue{
		Severity:   issue.SeverityCritical,
		Confidence: issue.ConfidenceHigh,
		Category:   issue.CategoryRuntime,
		Message:    message,
		Line:       line,
		Details: map[string]any{
			"exit_code": result.ExitCode,
			"traceback": excerpt,
		},
	}
}

// finalException returns the last line of output that looks like a Python
// exception summary.
func finalException(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		if exceptionRe.MatchString(l) {
			return l
		}
	}
	// Fall back to the last non-empty line; manim sometimes wraps the
	// exception in its own error banner.
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
