package fixer

import (
	"fmt"
	"math"
	"strings"

	"scenefix/internal/config"
	"scenefix/internal/issue"
	"scenefix/internal/logging"
)

// Fixer applies deterministic repairs for issues the engine is certain
// about. Issues it cannot repair are returned untouched in remaining;
// nothing is ever silently dropped.
type Fixer struct {
	frame config.FrameConfig
}

// New creates a fixer for the configured frame geometry.
func New(frame config.FrameConfig) *Fixer {
	return &Fixer{frame: frame}
}

// Fix attempts a deterministic repair for each issue. The returned code
// has every applied fix in place; remaining holds the issues that still
// need the model-backed fixer or human attention.
func (f *Fixer) Fix(code string, issues []issue.ValidationIssue) (string, []AppliedFix, []issue.ValidationIssue) {
	var applied []AppliedFix
	var remaining []issue.ValidationIssue

	for _, is := range issues {
		fixed, fix, ok := f.fixOne(code, is)
		if !ok {
			remaining = append(remaining, is)
			continue
		}
		code = fixed
		applied = append(applied, fix)
		logging.Fixer("applied %s at line %d: %s", fix.Rule, fix.Line, fix.Description)
	}

	return code, applied, remaining
}

// fixOne dispatches on the issue category. The switch covers the whole
// taxonomy so a new category fails loudly in tests rather than silently
// falling through.
func (f *Fixer) fixOne(code string, is issue.ValidationIssue) (string, AppliedFix, bool) {
	switch is.Category {
	case issue.CategoryOutOfBounds:
		return f.fixOutOfBounds(code, is)
	case issue.CategoryTextOverlap:
		return f.fixTextOverlap(code, is)
	case issue.CategoryObjectOcclusion:
		return f.fixOcclusion(code, is)
	case issue.CategoryVisibility:
		return f.fixDuplicateAdd(code, is)
	case issue.CategorySyntax, issue.CategorySecurity, issue.CategoryLint,
		issue.CategoryRuntime, issue.CategoryVisualQuality, issue.CategorySystem:
		// Structural and semantic defects need regeneration, not patching.
		return code, AppliedFix{}, false
	default:
		logging.FixerError("unknown issue category %q", is.Category)
		return code, AppliedFix{}, false
	}
}

// fixOutOfBounds clamps the object back inside the safe frame area by
// inserting a move_to with clamped coordinates after the offending line.
func (f *Fixer) fixOutOfBounds(code string, is issue.ValidationIssue) (string, AppliedFix, bool) {
	obj, okObj := stringDetail(is.Details, "object")
	x, okX := floatDetail(is.Details, "x")
	y, okY := floatDetail(is.Details, "y")
	if !okObj || !okX || !okY || is.Line == 0 {
		return code, AppliedFix{}, false
	}

	limX := f.frame.HalfWidth - f.frame.SafeMargin
	limY := f.frame.HalfHeight - f.frame.SafeMargin
	cx := clamp(x, -limX, limX)
	cy := clamp(y, -limY, limY)

	patch := fmt.Sprintf("%s.move_to([%.2f, %.2f, 0])  %s clamped to frame", obj, cx, cy, fixMarker)
	return insertAfterLine(code, is.Line, patch, AppliedFix{
		Rule:        "clamp_out_of_bounds",
		Line:        is.Line,
		Description: fmt.Sprintf("moved %s from (%.1f, %.1f) to (%.1f, %.1f)", obj, x, y, cx, cy),
	})
}

// fixTextOverlap separates the two objects: next_to placement when both
// names are known, a downward shift of the flagged object otherwise.
func (f *Fixer) fixTextOverlap(code string, is issue.ValidationIssue) (string, AppliedFix, bool) {
	if is.Line == 0 {
		return code, AppliedFix{}, false
	}

	a, okA := stringDetail(is.Details, "object_a")
	b, okB := stringDetail(is.Details, "object_b")
	var patch, desc string
	switch {
	case okA && okB:
		patch = fmt.Sprintf("%s.next_to(%s, DOWN, buff=0.3)  %s separated overlapping text", b, a, fixMarker)
		desc = fmt.Sprintf("placed %s below %s", b, a)
	case okB:
		patch = fmt.Sprintf("%s.shift(DOWN * 0.8)  %s separated overlapping text", b, fixMarker)
		desc = fmt.Sprintf("shifted %s down", b)
	default:
		return code, AppliedFix{}, false
	}

	return insertAfterLine(code, is.Line, patch, AppliedFix{
		Rule:        "separate_text_overlap",
		Line:        is.Line,
		Description: desc,
	})
}

// fixOcclusion clears the fill of the object hiding another one.
func (f *Fixer) fixOcclusion(code string, is issue.ValidationIssue) (string, AppliedFix, bool) {
	obj, ok := stringDetail(is.Details, "object")
	if !ok || is.Line == 0 {
		return code, AppliedFix{}, false
	}
	patch := fmt.Sprintf("%s.set_fill(opacity=0)  %s cleared occluding fill", obj, fixMarker)
	return insertAfterLine(code, is.Line, patch, AppliedFix{
		Rule:        "clear_occluding_fill",
		Line:        is.Line,
		Description: fmt.Sprintf("made %s fill transparent", obj),
	})
}

// fixDuplicateAdd removes a repeated self.add statement. The line must
// still hold the recorded statement; line numbers drift as fixes land.
func (f *Fixer) fixDuplicateAdd(code string, is issue.ValidationIssue) (string, AppliedFix, bool) {
	stmt, ok := stringDetail(is.Details, "statement")
	if !ok || is.Line == 0 {
		return code, AppliedFix{}, false
	}

	lines := strings.Split(code, "\n")
	if is.Line > len(lines) {
		return code, AppliedFix{}, false
	}
	if strings.TrimSpace(lines[is.Line-1]) != stmt {
		return code, AppliedFix{}, false
	}

	out := append(append([]string{}, lines[:is.Line-1]...), lines[is.Line:]...)
	return strings.Join(out, "\n"), AppliedFix{
		Rule:        "remove_duplicate_add",
		Line:        is.Line,
		Description: fmt.Sprintf("removed duplicate %s", stmt),
	}, true
}

// insertAfterLine inserts patch after the 1-based line, reusing its
// indentation. If the following line already carries the same marker
// comment the fix has been applied before and the code is unchanged.
func insertAfterLine(code string, line int, patch string, fix AppliedFix) (string, AppliedFix, bool) {
	lines := strings.Split(code, "\n")
	if line < 1 || line > len(lines) {
		return code, AppliedFix{}, false
	}

	indent := leadingWhitespace(lines[line-1])
	patched := indent + patch

	if line < len(lines) && strings.TrimSpace(lines[line]) == strings.TrimSpace(patch) {
		return code, fix, true
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:line]...)
	out = append(out, patched)
	out = append(out, lines[line:]...)
	return strings.Join(out, "\n"), fix, true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func stringDetail(details map[string]any, key string) (string, bool) {
	v, ok := details[key].(string)
	return v, ok && v != ""
}

func floatDetail(details map[string]any, key string) (float64, bool) {
	switch v := details[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
