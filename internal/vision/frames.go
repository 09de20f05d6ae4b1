// Package vision inspects rendered output. It extracts frames at the
// timestamps spatial findings point at and asks the multimodal backend
// whether the defects are actually visible.
package vision

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"scenefix/internal/issue"
	"scenefix/internal/logging"
)

// frameDedupeStep collapses timestamps within half a second of each other;
// adjacent frames of the same animation carry the same evidence.
const frameDedupeStep = 0.5

// Frame is one extracted video frame.
type Frame struct {
	Path  string
	AtSec float64
	Data  []byte
}

// FrameExtractor is the slice of the sandbox the vision layer needs.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath string, atSec float64, outPath string) error
}

// PlanTimestamps collects the distinct instants worth looking at from the
// issues' time evidence. An issue with no usable timestamp degrades to a
// frame at t=0 rather than being dropped, so with no time evidence at all
// the scene is still inspected once.
func PlanTimestamps(issues []issue.ValidationIssue) []float64 {
	seen := map[float64]bool{}
	var stamps []float64
	timeless := false

	for _, is := range issues {
		t, ok := timeDetail(is.Details)
		if !ok || t < 0 {
			timeless = true
			continue
		}
		bucket := math.Round(t/frameDedupeStep) * frameDedupeStep
		if seen[bucket] {
			continue
		}
		seen[bucket] = true
		stamps = append(stamps, bucket)
	}

	if timeless && !seen[0] {
		stamps = append(stamps, 0)
	}
	if len(stamps) == 0 {
		return []float64{0}
	}
	sort.Float64s(stamps)
	return stamps
}

// ExtractFrames pulls one frame per timestamp into framesDir. Extraction
// failures are logged and skipped; an empty result means nothing could be
// inspected, not that the scene is clean.
func ExtractFrames(ctx context.Context, extractor FrameExtractor, videoPath, framesDir string, stamps []float64) ([]Frame, error) {
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frames dir: %w", err)
	}

	var frames []Frame
	for _, t := range stamps {
		outPath := filepath.Join(framesDir, fmt.Sprintf("frame_%05.1f.png", t))
		if err := extractor.ExtractFrame(ctx, videoPath, t, outPath); err != nil {
			logging.VisionWarn("frame at t=%.1f skipped: %v", t, err)
			continue
		}
		data, err := os.ReadFile(outPath)
		if err != nil {
			logging.VisionWarn("frame at t=%.1f unreadable: %v", t, err)
			continue
		}
		frames = append(frames, Frame{Path: outPath, AtSec: t, Data: data})
	}

	logging.Vision("extracted %d/%d frames from %s", len(frames), len(stamps), videoPath)
	return frames, nil
}

// timeDetail pulls a timestamp out of issue details.
func timeDetail(details map[string]any) (float64, bool) {
	for _, key := range []string{"time_sec", "timestamp"} {
		switch v := details[key].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		}
	}
	return 0, false
}
