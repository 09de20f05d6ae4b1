// Package fixer applies deterministic repairs: unconditional rewrites of
// known-bad constructs, and per-issue spatial fixes for defects the engine
// is certain about. Every change it makes is idempotent; re-applying the
// fixer to its own output is a no-op.
package fixer

import (
	"fmt"
	"regexp"
	"strings"

	"scenefix/internal/logging"
)

// fixMarker tags lines inserted by the fixer. Its presence is the
// idempotence guard: a fix is never applied on top of itself.
const fixMarker = "# scenefix:"

// AppliedFix records one concrete change for history and audit.
type AppliedFix struct {
	Rule        string `json:"rule"`
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
}

// PatternRule is a named rewrite applied to the whole artifact on every
// turn, independent of any reported issue.
type PatternRule struct {
	Name  string
	Apply func(code string) (string, []AppliedFix)
}

var zeroWaitRe = regexp.MustCompile(`^\s*self\.wait\(\s*0(?:\.0*)?\s*\)\s*$`)

// removeZeroWaits drops self.wait(0) statements. A zero-duration wait is
// rejected by current manim releases and never does anything useful.
func removeZeroWaits(code string) (string, []AppliedFix) {
	lines := strings.Split(code, "\n")
	var out []string
	var fixes []AppliedFix
	for i, line := range lines {
		if zeroWaitRe.MatchString(line) {
			fixes = append(fixes, AppliedFix{
				Rule:        "remove_zero_wait",
				Line:        i + 1,
				Description: "removed zero-duration wait",
			})
			continue
		}
		out = append(out, line)
	}
	if len(fixes) == 0 {
		return code, nil
	}
	return strings.Join(out, "\n"), fixes
}

// deprecatedAnimations maps removed animation classes to their current
// equivalents, in application order.
var deprecatedAnimations = []struct {
	old, replacement string
	re               *regexp.Regexp
}{
	{old: "ShowCreation", replacement: "Create", re: regexp.MustCompile(`\bShowCreation\b`)},
	{old: "FadeInFrom", replacement: "FadeIn", re: regexp.MustCompile(`\bFadeInFrom\b`)},
	{old: "FadeOutAndShift", replacement: "FadeOut", re: regexp.MustCompile(`\bFadeOutAndShift\b`)},
	{old: "FadeInFromLarge", replacement: "FadeIn", re: regexp.MustCompile(`\bFadeInFromLarge\b`)},
}

// renameDeprecated replaces animation classes removed from the library.
func renameDeprecated(code string) (string, []AppliedFix) {
	var fixes []AppliedFix
	for _, d := range deprecatedAnimations {
		if !d.re.MatchString(code) {
			continue
		}
		code = d.re.ReplaceAllString(code, d.replacement)
		fixes = append(fixes, AppliedFix{
			Rule:        "rename_deprecated_animation",
			Description: fmt.Sprintf("renamed %s to %s", d.old, d.replacement),
		})
	}
	return code, fixes
}

// knownRateFuncs are the rate functions manim actually exports.
var knownRateFuncs = map[string]bool{
	"linear": true, "smooth": true, "rush_into": true, "rush_from": true,
	"slow_into": true, "double_smooth": true, "there_and_back": true,
	"there_and_back_with_pause": true, "running_start": true,
	"not_quite_there": true, "wiggle": true, "lingering": true,
	"exponential_decay": true, "ease_in_sine": true, "ease_out_sine": true,
	"ease_in_out_sine": true, "ease_in_quad": true, "ease_out_quad": true,
	"ease_in_out_quad": true, "ease_in_cubic": true, "ease_out_cubic": true,
	"ease_in_out_cubic": true, "ease_in_expo": true, "ease_out_expo": true,
	"ease_in_out_expo": true, "ease_in_back": true, "ease_out_back": true,
	"ease_in_out_back": true, "ease_in_bounce": true, "ease_out_bounce": true,
	"ease_in_out_bounce": true, "ease_in_elastic": true,
	"ease_out_elastic": true, "ease_in_out_elastic": true,
}

var rateFuncRe = regexp.MustCompile(`rate_func\s*=\s*([A-Za-z_][A-Za-z0-9_.]*)`)

// clampRateFuncs replaces references to rate functions that do not exist
// with smooth. Hallucinated easing names are a recurring generation defect.
func clampRateFuncs(code string) (string, []AppliedFix) {
	var fixes []AppliedFix
	code = rateFuncRe.ReplaceAllStringFunc(code, func(m string) string {
		name := rateFuncRe.FindStringSubmatch(m)[1]
		if knownRateFuncs[name] || strings.Contains(name, ".") {
			return m
		}
		fixes = append(fixes, AppliedFix{
			Rule:        "clamp_rate_func",
			Description: fmt.Sprintf("replaced unknown rate_func %s with smooth", name),
		})
		return "rate_func=smooth"
	})
	return code, fixes
}

// KnownPatterns is the ordered rule set applied unconditionally each turn.
var KnownPatterns = []PatternRule{
	{Name: "remove_zero_wait", Apply: removeZeroWaits},
	{Name: "rename_deprecated_animation", Apply: renameDeprecated},
	{Name: "clamp_rate_func", Apply: clampRateFuncs},
}

// ApplyKnownPatterns runs every pattern rule over the code.
func ApplyKnownPatterns(code string) (string, []AppliedFix) {
	var all []AppliedFix
	for _, rule := range KnownPatterns {
		var fixes []AppliedFix
		code, fixes = rule.Apply(code)
		all = append(all, fixes...)
	}
	if len(all) > 0 {
		logging.Fixer("known patterns applied %d fixes", len(all))
	}
	return code, all
}
