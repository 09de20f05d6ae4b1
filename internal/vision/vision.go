package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scenefix/internal/issue"
	"scenefix/internal/logging"
	"scenefix/internal/model"
)

const systemInstruction = `You inspect rendered frames from an animation for visual defects.
Report only defects actually visible in the frames: text cut off at the frame edge,
overlapping text, objects hiding each other, unreadable or empty regions.
Respond with JSON only:
{"findings": [{"frame": 0, "category": "out_of_bounds|text_overlap|object_occlusion|visibility|visual_quality", "severity": "critical|warning|info", "description": "...", "object": "..."}]}
An empty findings list means the frames look correct.`

// Validator runs multimodal checks over extracted frames.
type Validator struct {
	client    model.Client
	batchSize int
}

// NewValidator creates a vision validator. batchSize caps frames per call.
func NewValidator(client model.Client, batchSize int) *Validator {
	if batchSize <= 0 {
		batchSize = 4
	}
	return &Validator{client: client, batchSize: batchSize}
}

type finding struct {
	Frame       int    `json:"frame"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Object      string `json:"object"`
}

type findingResponse struct {
	Findings []finding `json:"findings"`
}

// Check sends the frames in bounded batches and maps findings onto the
// issue taxonomy. No findings from a successful batch is the
// silent-confirmation path; a failed or unparseable call is an error, so
// the caller keeps its suspicions instead of mistaking an outage for a
// clean scene.
func (v *Validator) Check(ctx context.Context, sceneContext string, frames []Frame) ([]issue.ValidationIssue, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	timer := logging.StartTimer(logging.CategoryVision, "vision check")
	defer timer.Stop()

	var issues []issue.ValidationIssue
	for start := 0; start < len(frames); start += v.batchSize {
		end := start + v.batchSize
		if end > len(frames) {
			end = len(frames)
		}
		batchIssues, err := v.checkBatch(ctx, sceneContext, frames[start:end])
		if err != nil {
			return nil, err
		}
		issues = append(issues, batchIssues...)
	}

	if len(issues) == 0 {
		logging.Vision("all %d frames confirmed clean", len(frames))
	} else {
		logging.Vision("%d frames produced %d findings", len(frames), len(issues))
	}
	return issues, nil
}

func (v *Validator) checkBatch(ctx context.Context, sceneContext string, batch []Frame) ([]issue.ValidationIssue, error) {
	images := make([]model.Image, len(batch))
	var prompt strings.Builder
	prompt.WriteString("Frames, in order:\n")
	for i, f := range batch {
		images[i] = model.Image{Data: f.Data, MIMEType: "image/png"}
		fmt.Fprintf(&prompt, "frame %d: t=%.1fs\n", i, f.AtSec)
	}
	if sceneContext != "" {
		prompt.WriteString("\nScene description:\n")
		prompt.WriteString(sceneContext)
	}

	resp, err := v.client.GenerateVision(ctx, model.VisionRequest{
		Prompt:            prompt.String(),
		SystemInstruction: systemInstruction,
		Temperature:       0.1,
		Images:            images,
		JSONOutput:        true,
	})
	if err != nil {
		logging.VisionWarn("vision call failed: %v", err)
		return nil, fmt.Errorf("vision call failed: %w", err)
	}

	findings, err := parseFindings(resp)
	if err != nil {
		logging.VisionWarn("unparseable vision response: %v", err)
		return nil, fmt.Errorf("unparseable vision response: %w", err)
	}

	var issues []issue.ValidationIssue
	for _, f := range findings {
		if f.Frame < 0 || f.Frame >= len(batch) {
			logging.VisionWarn("finding references frame %d outside batch, dropped", f.Frame)
			continue
		}
		issues = append(issues, mapFinding(f, batch[f.Frame]))
	}
	return issues, nil
}

// mapFinding converts one model finding into a taxonomy issue. Vision
// findings are observations of actual pixels, so they carry MEDIUM
// confidence; WARNING+MEDIUM still routes through verification while
// CRITICAL+MEDIUM counts as certain.
func mapFinding(f finding, frame Frame) issue.ValidationIssue {
	details := map[string]any{
		"time_sec":   frame.AtSec,
		"frame_file": frame.Path,
	}
	if f.Object != "" {
		details["object"] = f.Object
	}

	return issue.ValidationIssue{
		Severity:   mapSeverity(f.Severity),
		Confidence: issue.ConfidenceMedium,
		Category:   mapCategory(f.Category),
		Message:    f.Description,
		Details:    details,
	}
}

func mapCategory(s string) issue.Category {
	c := issue.Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range issue.AllCategories {
		if c == known {
			return c
		}
	}
	return issue.CategoryVisualQuality
}

func mapSeverity(s string) issue.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return issue.SeverityCritical
	case "info":
		return issue.SeverityInfo
	default:
		return issue.SeverityWarning
	}
}

func parseFindings(resp string) ([]finding, error) {
	cleaned := stripFences(resp)

	var parsed findingResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed.Findings, nil
	}

	var bare []finding
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("no findings structure in response (%d bytes)", len(resp))
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
