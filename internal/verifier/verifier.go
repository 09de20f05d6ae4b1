// Package verifier triages uncertain spatial findings with cheap text-only
// model probes before any repair effort is spent on them. Its failure
// posture is conservative: when a probe fails or a verdict cannot be
// parsed, the issues in question are treated as real.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scenefix/internal/issue"
	"scenefix/internal/logging"
	"scenefix/internal/model"
)

// codeExcerptLimit bounds the code sent with each probe.
const codeExcerptLimit = 6000

const systemInstruction = `You review findings from a static analyzer for animation scene code.
The analyzer estimates on-screen geometry from source literals and is often wrong.
For each finding, decide whether the described visual defect would actually appear on screen.
Respond with JSON only: {"verdicts": [{"index": 0, "real": true, "reason": "..."}]}.
Include every index exactly once.`

// Verifier batches uncertain issues into model probes.
type Verifier struct {
	client    model.Client
	batchSize int
}

// New creates a verifier. batchSize caps issues per probe.
func New(client model.Client, batchSize int) *Verifier {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Verifier{client: client, batchSize: batchSize}
}

// verdict is one model judgment.
type verdict struct {
	Index  int    `json:"index"`
	Real   bool   `json:"real"`
	Reason string `json:"reason"`
}

type verdictResponse struct {
	Verdicts []verdict `json:"verdicts"`
}

// Verify splits issues into batches and probes each. It returns the
// issues judged real (with confidence promoted one step) and those judged
// false positives. Every input issue lands in exactly one of the two.
func (v *Verifier) Verify(ctx context.Context, code string, issues []issue.ValidationIssue) (real, falsePositives []issue.ValidationIssue) {
	if len(issues) == 0 {
		return nil, nil
	}

	timer := logging.StartTimer(logging.CategoryVerifier, "issue verification")
	defer timer.Stop()

	for start := 0; start < len(issues); start += v.batchSize {
		end := start + v.batchSize
		if end > len(issues) {
			end = len(issues)
		}
		batchReal, batchFalse := v.verifyBatch(ctx, code, issues[start:end])
		real = append(real, batchReal...)
		falsePositives = append(falsePositives, batchFalse...)
	}

	logging.Verifier("verified %d issues: %d real, %d false positives",
		len(issues), len(real), len(falsePositives))
	return real, falsePositives
}

// verifyBatch probes one batch. Unparseable or missing verdicts keep the
// affected issues real; a failed call keeps the whole batch real.
func (v *Verifier) verifyBatch(ctx context.Context, code string, batch []issue.ValidationIssue) (real, falsePositives []issue.ValidationIssue) {
	resp, err := v.client.Generate(ctx, model.Request{
		Prompt:            buildPrompt(code, batch),
		SystemInstruction: systemInstruction,
		Temperature:       0.1,
		JSONOutput:        true,
	})
	if err != nil {
		logging.VerifierWarn("probe failed, keeping %d issues as real: %v", len(batch), err)
		return unpromoted(batch), nil
	}

	verdicts, err := parseVerdicts(resp)
	if err != nil {
		logging.VerifierWarn("unparseable verdicts, keeping %d issues as real: %v", len(batch), err)
		return unpromoted(batch), nil
	}

	byIndex := make(map[int]verdict, len(verdicts))
	for _, vd := range verdicts {
		if _, dup := byIndex[vd.Index]; dup {
			// Contradictory duplicates are ambiguity; drop the map entry so
			// the issue falls through to real.
			delete(byIndex, vd.Index)
			continue
		}
		byIndex[vd.Index] = vd
	}

	for i, is := range batch {
		vd, ok := byIndex[i]
		switch {
		case !ok:
			// No corroboration either way; keep the issue real but leave
			// its confidence where the detector put it.
			logging.VerifierWarn("no verdict for issue %d (%s), keeping as real", i, is.Category)
			real = append(real, is)
		case vd.Real:
			real = append(real, is.PromoteConfidence())
		default:
			logging.Verifier("false positive: %s (%s)", is.Message, vd.Reason)
			falsePositives = append(falsePositives, is)
		}
	}
	return real, falsePositives
}

// buildPrompt renders the code excerpt and numbered findings.
func buildPrompt(code string, batch []issue.ValidationIssue) string {
	var b strings.Builder
	b.WriteString("Scene code:\n```python\n")
	b.WriteString(excerpt(code, codeExcerptLimit))
	b.WriteString("\n```\n\nFindings:\n")
	for i, is := range batch {
		fmt.Fprintf(&b, "%d. [%s] %s", i, is.Category, is.Message)
		if is.Line > 0 {
			fmt.Fprintf(&b, " (line %d)", is.Line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseVerdicts decodes the model response, tolerating markdown fences.
func parseVerdicts(resp string) ([]verdict, error) {
	cleaned := stripFences(resp)

	var parsed verdictResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil && len(parsed.Verdicts) > 0 {
		return parsed.Verdicts, nil
	}

	// Some responses are a bare array.
	var bare []verdict
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}

	return nil, fmt.Errorf("no verdicts in response (%d bytes)", len(resp))
}

// stripFences removes a surrounding markdown code fence if present.
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

// unpromoted copies the batch verbatim. Confidence is promoted only for
// verdict-confirmed issues, never on a failure path.
func unpromoted(issues []issue.ValidationIssue) []issue.ValidationIssue {
	return append([]issue.ValidationIssue(nil), issues...)
}

// excerpt truncates long code from the middle, keeping head and tail.
func excerpt(code string, limit int) string {
	if len(code) <= limit {
		return code
	}
	half := limit / 2
	return code[:half] + "\n# ... truncated ...\n" + code[len(code)-half:]
}
