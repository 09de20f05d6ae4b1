package vision

import (
	"context"
	"fmt"
	"path/filepath"

	"scenefix/internal/issue"
	"scenefix/internal/logging"
)

// Renderer is the slice of the sandbox the inspector needs: producing a
// video and pulling frames back out of it.
type Renderer interface {
	Render(ctx context.Context, code, outDir string) (string, error)
	FrameExtractor
}

// Inspector renders the artifact and runs the vision validator over the
// frames its spatial issues point at. This is the expensive confirmation
// path, taken only when cheap validation has nothing certain left.
type Inspector struct {
	renderer  Renderer
	validator *Validator
	workDir   string
}

// NewInspector creates an inspector that stages renders under workDir.
func NewInspector(renderer Renderer, validator *Validator, workDir string) *Inspector {
	return &Inspector{renderer: renderer, validator: validator, workDir: workDir}
}

// Inspect renders the code, extracts frames at the instants the issues
// reference, and returns what the vision validator actually sees. An empty
// result is a confirmation that the suspected defects are not visible.
func (i *Inspector) Inspect(ctx context.Context, code string, issues []issue.ValidationIssue) ([]issue.ValidationIssue, error) {
	videoPath, err := i.renderer.Render(ctx, code, filepath.Join(i.workDir, "render"))
	if err != nil {
		return nil, fmt.Errorf("render for inspection failed: %w", err)
	}

	stamps := PlanTimestamps(issues)
	frames, err := ExtractFrames(ctx, i.renderer, videoPath, filepath.Join(i.workDir, "frames"), stamps)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames could be extracted from %s", videoPath)
	}

	logging.Vision("inspecting %d frames for %d suspected issues", len(frames), len(issues))
	seen, err := i.validator.Check(ctx, "", frames)
	if err != nil {
		return nil, fmt.Errorf("vision check failed: %w", err)
	}
	return seen, nil
}
