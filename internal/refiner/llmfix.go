package refiner

import (
	"context"
	"fmt"
	"strings"

	"scenefix/internal/issue"
	"scenefix/internal/logging"
	"scenefix/internal/model"
)

const fixSystemInstruction = `You repair Python animation scene code written against the manim library.
You receive the current code and a list of validated defects. Return the COMPLETE
corrected file, changing only what the defects require. Keep class names, scene
structure and unrelated animations exactly as they are. Respond with a single
python code block and nothing else.`

// llmFixer asks the model backend for a repaired artifact.
type llmFixer struct {
	client    model.Client
	maxIssues int
}

// Fix requests a repair for the given issues. The returned code is the
// original, unchanged, whenever the model fails or responds without a
// usable code block; the caller decides what an unchanged artifact means.
func (f *llmFixer) Fix(ctx context.Context, session *Session, issues []issue.ValidationIssue) (string, error) {
	if len(issues) == 0 {
		return session.Code(), nil
	}

	capped := dedupeIssues(issues)
	if f.maxIssues > 0 && len(capped) > f.maxIssues {
		logging.RefinerWarn("capping LLM fix request to %d of %d issues", f.maxIssues, len(capped))
		capped = capped[:f.maxIssues]
	}

	resp, err := f.client.Generate(ctx, model.Request{
		Prompt:            buildFixPrompt(session, capped),
		SystemInstruction: fixSystemInstruction,
		Temperature:       0.2,
	})
	if err != nil {
		return session.Code(), fmt.Errorf("model fix call failed: %w", err)
	}

	fixed, ok := extractCodeBlock(resp)
	if !ok {
		logging.RefinerWarn("model response had no code block (%d bytes)", len(resp))
		return session.Code(), fmt.Errorf("model response contained no code block")
	}
	return fixed, nil
}

// dedupeIssues drops repeats of the same defect so they cannot crowd
// distinct issues out of the capped batch. Dedup runs before the cap.
func dedupeIssues(issues []issue.ValidationIssue) []issue.ValidationIssue {
	seen := make(map[string]bool, len(issues))
	var out []issue.ValidationIssue
	for _, is := range issues {
		key := string(is.Category) + "|" + is.WhitelistKey() + "|" + is.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, is)
	}
	return out
}

// buildFixPrompt renders the artifact, the defects, and the recent fix
// history so the model does not repeat an attempt that already failed.
func buildFixPrompt(session *Session, issues []issue.ValidationIssue) string {
	var b strings.Builder

	b.WriteString("Current scene code:\n```python\n")
	b.WriteString(session.Code())
	b.WriteString("\n```\n\nDefects to fix:\n")
	for i, is := range issues {
		fmt.Fprintf(&b, "%d. %s\n", i+1, is.String())
		if tb, ok := is.Details["traceback"].(string); ok && tb != "" {
			fmt.Fprintf(&b, "   traceback:\n%s\n", indent(tb, "   "))
		}
	}

	if history := session.History(); len(history) > 0 {
		b.WriteString("\nPrevious repair attempts this session:\n")
		for _, rec := range history {
			fmt.Fprintf(&b, "- turn %d: %d issues", rec.Turn, len(rec.Issues))
			if len(rec.Fixes) > 0 {
				names := make([]string, 0, len(rec.Fixes))
				for _, fx := range rec.Fixes {
					names = append(names, fx.Rule)
				}
				fmt.Fprintf(&b, ", deterministic fixes: %s", strings.Join(names, ", "))
			}
			if rec.LLMUsed {
				b.WriteString(", model repair attempted")
			}
			b.WriteString("\n")
		}
		b.WriteString("If an issue persists across turns, try a different approach than before.\n")
	}

	return b.String()
}

// extractCodeBlock pulls the first fenced code block out of a response,
// or accepts the whole body when it already looks like bare Python.
func extractCodeBlock(resp string) (string, bool) {
	trimmed := strings.TrimSpace(resp)

	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		// Skip the language tag on the fence line.
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			code := strings.TrimSpace(rest[:end])
			return code, code != ""
		}
		// Unterminated fence: take everything after it.
		code := strings.TrimSpace(rest)
		return code, code != ""
	}

	// No fence at all; accept only if it plausibly is the file itself.
	if strings.Contains(trimmed, "def construct") || strings.Contains(trimmed, "import") {
		return trimmed, true
	}
	return "", false
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
