// Package refiner drives the validate/fix loop that turns a generated
// scene into one that executes cleanly. One Session covers one artifact;
// the Refiner owns the collaborators and the turn budget.
package refiner

import (
	"time"

	"github.com/google/uuid"

	"scenefix/internal/fixer"
	"scenefix/internal/issue"
)

// TurnRecord is one turn of fix history, kept for LLM context and audit.
type TurnRecord struct {
	Turn    int                     `json:"turn"`
	Issues  []issue.ValidationIssue `json:"issues"`
	Fixes   []fixer.AppliedFix      `json:"fixes,omitempty"`
	LLMUsed bool                    `json:"llm_used"`
}

// Session is the mutable state of one refinement run.
type Session struct {
	ID        string
	StartedAt time.Time

	code string
	turn int

	whitelist *issue.Whitelist

	// history is a bounded ring of recent turns, oldest first.
	history     []TurnRecord
	historySize int

	// unproductive counts consecutive LLM-fix turns that changed nothing.
	// Two in a row means the model is stuck and the loop must stop.
	unproductive int
}

func newSession(code string, historySize int) *Session {
	if historySize <= 0 {
		historySize = 5
	}
	return &Session{
		ID:          uuid.NewString(),
		StartedAt:   time.Now(),
		code:        code,
		whitelist:   issue.NewWhitelist(),
		historySize: historySize,
	}
}

// Code returns the current artifact.
func (s *Session) Code() string { return s.code }

// Turn returns the current turn number, 1-based once the loop starts.
func (s *Session) Turn() int { return s.turn }

// record appends a turn to the history ring.
func (s *Session) record(rec TurnRecord) {
	s.history = append(s.history, rec)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
}

// History returns the retained turns, oldest first.
func (s *Session) History() []TurnRecord { return s.history }

// noteLLMOutcome updates the circuit-breaker counter after an LLM fix.
func (s *Session) noteLLMOutcome(changed bool) {
	if changed {
		s.unproductive = 0
		return
	}
	s.unproductive++
}

// stuck reports whether the model has gone two LLM turns without
// changing the artifact.
func (s *Session) stuck() bool { return s.unproductive >= 2 }
