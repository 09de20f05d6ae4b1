// Package issue defines the defect taxonomy shared by every validator,
// fixer and verifier in the refinement engine. A ValidationIssue is an
// immutable value; routing decisions (auto-fix, LLM fix, verification)
// are derived predicates, never stored state.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Severity describes the impact of an issue on the rendered output.
type Severity string

const (
	SeverityCritical Severity = "critical" // output is broken or unsafe
	SeverityWarning  Severity = "warning"  // output is degraded
	SeverityInfo     Severity = "info"     // cosmetic or advisory
)

// Confidence describes how certain the detector is that the issue is real.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Category is the closed set of defect classes.
type Category string

const (
	CategoryOutOfBounds     Category = "out_of_bounds"
	CategoryTextOverlap     Category = "text_overlap"
	CategoryObjectOcclusion Category = "object_occlusion"
	CategoryVisibility      Category = "visibility"
	CategorySyntax          Category = "syntax"
	CategorySecurity        Category = "security"
	CategoryLint            Category = "lint"
	CategoryRuntime         Category = "runtime"
	CategoryVisualQuality   Category = "visual_quality"
	CategorySystem          Category = "system"
)

// AllCategories lists every valid category, used by exhaustiveness checks.
var AllCategories = []Category{
	CategoryOutOfBounds, CategoryTextOverlap, CategoryObjectOcclusion,
	CategoryVisibility, CategorySyntax, CategorySecurity, CategoryLint,
	CategoryRuntime, CategoryVisualQuality, CategorySystem,
}

// spatialCategories are defects about on-screen geometry. They are the only
// categories that can be "uncertain" and routed through cheap verification.
var spatialCategories = map[Category]bool{
	CategoryOutOfBounds:     true,
	CategoryTextOverlap:     true,
	CategoryObjectOcclusion: true,
	CategoryVisibility:      true,
}

// timeVaryingDetailKeys are excluded from whitelist keys so that the same
// defect observed at a different timestamp or frame still matches.
var timeVaryingDetailKeys = map[string]bool{
	"time_sec":   true,
	"timestamp":  true,
	"frame_file": true,
	"frame_path": true,
}

// ValidationIssue is a single defect found in an artifact.
type ValidationIssue struct {
	Severity    Severity   `json:"severity"`
	Confidence  Confidence `json:"confidence"`
	Category    Category   `json:"category"`
	Message     string     `json:"message"`
	Line        int        `json:"line,omitempty"` // 1-based, 0 = unknown
	FixHint     string     `json:"fix_hint,omitempty"`
	AutoFixable bool       `json:"auto_fixable"`

	// Details carries category-specific evidence: coordinates, object
	// identifiers, traceback excerpts. Values should be strings or numbers.
	Details map[string]any `json:"details,omitempty"`
}

// IsCertain reports whether the engine trusts this issue without further
// verification: HIGH confidence always, or CRITICAL severity at MEDIUM.
// The threshold is load-bearing for triage; do not loosen it.
func (i ValidationIssue) IsCertain() bool {
	if i.Confidence == ConfidenceHigh {
		return true
	}
	return i.Severity == SeverityCritical && i.Confidence == ConfidenceMedium
}

// IsSpatial reports whether the issue is about on-screen geometry.
func (i ValidationIssue) IsSpatial() bool {
	return spatialCategories[i.Category]
}

// IsUncertain reports whether the issue needs a secondary check before
// repair effort is committed. Only spatial/visual findings can be uncertain;
// syntax and runtime failures are taken at face value.
func (i ValidationIssue) IsUncertain() bool {
	if i.IsCertain() {
		return false
	}
	return i.IsSpatial() || i.Category == CategoryVisualQuality
}

// ShouldAutoFix reports whether the deterministic fixer should handle it.
func (i ValidationIssue) ShouldAutoFix() bool {
	return i.AutoFixable && i.IsCertain()
}

// RequiresLLM reports whether the issue must go to the model-backed fixer.
func (i ValidationIssue) RequiresLLM() bool {
	return i.IsCertain() && !i.AutoFixable
}

// WithConfidence returns a copy with the confidence replaced.
func (i ValidationIssue) WithConfidence(c Confidence) ValidationIssue {
	i.Confidence = c
	return i
}

// PromoteConfidence returns a copy with confidence raised one step after
// external corroboration. LOW is promoted to MEDIUM only, never HIGH: the
// verifier is itself fallible and triage depends on the exact threshold.
func (i ValidationIssue) PromoteConfidence() ValidationIssue {
	if i.Confidence == ConfidenceLow {
		i.Confidence = ConfidenceMedium
	}
	return i
}

// WhitelistKey returns a stable, time-invariant fingerprint of the issue.
// Two issues that differ only in line number, timestamp or frame path hash
// to the same key; issues differing in category or normalized spatial
// evidence do not.
func (i ValidationIssue) WhitelistKey() string {
	h := sha256.New()
	h.Write([]byte(string(i.Category)))
	h.Write([]byte{0})

	keys := make([]string, 0, len(i.Details))
	for k := range i.Details {
		if timeVaryingDetailKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(normalizeDetail(i.Details[k])))
		h.Write([]byte{0})
	}

	// Spatial evidence is the discriminator when present; for the rest of
	// the taxonomy fall back to the message so distinct defects stay apart.
	if len(keys) == 0 {
		h.Write([]byte(i.Message))
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// normalizeDetail renders a detail value with floats rounded to one decimal
// so that jitter in measured coordinates does not defeat memoization.
func normalizeDetail(v any) string {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%.1f", math.Round(t*10)/10)
	case float32:
		return normalizeDetail(float64(t))
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// String renders the issue for logs and prompts.
func (i ValidationIssue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s: %s", i.Severity, i.Confidence, i.Category, i.Message)
	if i.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", i.Line)
	}
	if i.FixHint != "" {
		fmt.Fprintf(&b, " hint: %s", i.FixHint)
	}
	return b.String()
}
