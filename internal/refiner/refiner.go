package refiner

import (
	"context"
	"fmt"

	"scenefix/internal/config"
	"scenefix/internal/fixer"
	"scenefix/internal/issue"
	"scenefix/internal/logging"
	"scenefix/internal/model"
)

// StaticValidator checks an artifact without executing it.
type StaticValidator interface {
	Validate(ctx context.Context, code string) issue.ValidationResult
}

// RuntimeValidator executes the artifact and reports what went wrong.
type RuntimeValidator interface {
	Validate(ctx context.Context, code string, enableSpatial bool, framesDir string) issue.ValidationResult
}

// DeterministicFixer applies mechanical repairs for certain issues.
type DeterministicFixer interface {
	Fix(code string, issues []issue.ValidationIssue) (string, []fixer.AppliedFix, []issue.ValidationIssue)
}

// IssueVerifier triages uncertain findings into real and false positive.
type IssueVerifier interface {
	Verify(ctx context.Context, code string, issues []issue.ValidationIssue) (real, falsePositives []issue.ValidationIssue)
}

// RenderInspector renders the artifact and reports defects actually
// visible in the output frames.
type RenderInspector interface {
	Inspect(ctx context.Context, code string, issues []issue.ValidationIssue) ([]issue.ValidationIssue, error)
}

// Recorder persists session progress for audit. All methods are
// best-effort; the refiner never fails because recording did.
type Recorder interface {
	SessionStarted(sessionID, code string)
	TurnCompleted(sessionID string, rec TurnRecord)
	SessionFinished(sessionID, code string, clean bool, turns int)
}

// StuckError is returned when the model goes two consecutive repair
// turns without changing the artifact. It carries the best code so far
// and the issues that defeated the loop.
type StuckError struct {
	Code   string
	Issues []issue.ValidationIssue
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("refinement stuck: model made no progress on %d issues over two turns", len(e.Issues))
}

// Outcome is the result of one refinement run.
type Outcome struct {
	SessionID string
	Code      string
	// Clean means the artifact executes and nothing certain remains.
	// Uncertain spatial suspicions may still be listed in Remaining.
	Clean     bool
	Turns     int
	Remaining []issue.ValidationIssue
}

// Refiner owns the collaborators and drives sessions to completion.
type Refiner struct {
	static    StaticValidator
	runtime   RuntimeValidator
	fixer     DeterministicFixer
	verifier  IssueVerifier
	inspector RenderInspector // nil disables the render confirmation pass
	llm       *llmFixer
	recorder  Recorder // nil disables audit
	cfg       config.RefinerConfig
}

// New assembles a refiner. inspector and recorder are optional.
func New(static StaticValidator, runtime RuntimeValidator, fx DeterministicFixer,
	verifier IssueVerifier, inspector RenderInspector, client model.Client,
	recorder Recorder, cfg config.RefinerConfig) *Refiner {
	return &Refiner{
		static:    static,
		runtime:   runtime,
		fixer:     fx,
		verifier:  verifier,
		inspector: inspector,
		llm:       &llmFixer{client: client, maxIssues: cfg.MaxLLMIssues},
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Refine runs the full loop on one artifact. It terminates after at most
// MaxAttempts turns, earlier when the artifact comes out clean or the
// model stops making progress.
func (r *Refiner) Refine(ctx context.Context, code string) (Outcome, error) {
	session := newSession(code, r.cfg.FixHistorySize)
	logging.Refiner("session %s started (%d bytes, max %d turns)", session.ID, len(code), r.cfg.MaxAttempts)
	if r.recorder != nil {
		r.recorder.SessionStarted(session.ID, code)
	}

	var lastIssues []issue.ValidationIssue
	for session.turn = 1; session.turn <= r.cfg.MaxAttempts; session.turn++ {
		if err := ctx.Err(); err != nil {
			return r.finish(session, false, lastIssues), err
		}

		outcome, done, err := r.runTurn(ctx, session, &lastIssues)
		if done || err != nil {
			return outcome, err
		}
	}

	// Turn budget exhausted. The artifact is still usable when everything
	// left is an unconfirmed spatial suspicion.
	clean := issue.NewResult(lastIssues).OnlyUncertainRemain()
	logging.Refiner("session %s exhausted %d turns, clean=%v, %d issues remain",
		session.ID, r.cfg.MaxAttempts, clean, len(lastIssues))
	return r.finish(session, clean, lastIssues), nil
}

// runTurn executes one turn. done=true means the outcome is final.
func (r *Refiner) runTurn(ctx context.Context, session *Session, lastIssues *[]issue.ValidationIssue) (Outcome, bool, error) {
	rec := TurnRecord{Turn: session.turn}

	// Gate 1: the artifact must parse and pass the security scan before
	// anything executes.
	sres := r.static.Validate(ctx, session.code)
	if !sres.Valid {
		*lastIssues = sres.Issues
		rec.Issues = sres.Issues
		logging.Refiner("turn %d: static validation failed with %d issues", session.turn, len(sres.Issues))
		return r.llmTurn(ctx, session, rec, sres.Critical())
	}

	// Unconditional rewrites of known-bad constructs.
	patched, patternFixes := fixer.ApplyKnownPatterns(session.code)
	session.code = patched
	rec.Fixes = append(rec.Fixes, patternFixes...)

	// Gate 2: execute.
	rres := r.runtime.Validate(ctx, session.code, r.cfg.EnableSpatial, "")
	*lastIssues = rres.Issues
	rec.Issues = rres.Issues
	if rres.Valid && len(rres.Issues) == 0 {
		session.record(rec)
		r.recordTurn(session, rec)
		logging.Refiner("turn %d: artifact clean", session.turn)
		return r.finish(session, true, nil), true, nil
	}

	// Triage: certain issues are acted on, uncertain ones are memoized or
	// verified, advisory leftovers are ignored.
	var certain, uncertain []issue.ValidationIssue
	for _, is := range rres.Issues {
		switch {
		case is.IsCertain():
			certain = append(certain, is)
		case is.IsUncertain():
			uncertain = append(uncertain, is)
		}
	}

	needVerify, whitelisted := session.whitelist.FilterUncertain(uncertain)
	if len(whitelisted) > 0 {
		logging.Refiner("turn %d: %d issues suppressed by whitelist", session.turn, len(whitelisted))
	}
	var real, deferred []issue.ValidationIssue
	if len(needVerify) > 0 {
		if r.verifier == nil {
			// No cheap probe available; the suspicions stay unresolved
			// for the render tier or the exhaustion check to settle.
			deferred = needVerify
			logging.Refiner("turn %d: no verifier, deferring %d uncertain issues", session.turn, len(deferred))
		} else {
			var falsePos []issue.ValidationIssue
			real, falsePos = r.verifier.Verify(ctx, session.code, needVerify)
			session.whitelist.AddAll(falsePos)
		}
	}

	active := append(certain, real...)
	if len(active) == 0 {
		session.record(rec)
		r.recordTurn(session, rec)
		if len(deferred) > 0 {
			return Outcome{}, false, nil
		}
		logging.Refiner("turn %d: every remaining finding dismissed", session.turn)
		return r.finish(session, true, nil), true, nil
	}

	// Deterministic fixes first; they are free and cannot regress.
	var toAuto, needModel []issue.ValidationIssue
	for _, is := range active {
		if is.ShouldAutoFix() {
			toAuto = append(toAuto, is)
		} else {
			needModel = append(needModel, is)
		}
	}
	fixedCode, applied, notFixed := r.fixer.Fix(session.code, toAuto)
	session.code = fixedCode
	rec.Fixes = append(rec.Fixes, applied...)
	needModel = append(needModel, notFixed...)

	if len(needModel) == 0 {
		session.record(rec)
		r.recordTurn(session, rec)
		return Outcome{}, false, nil // revalidate next turn
	}

	// Render shortcut: the artifact executes and everything left is about
	// geometry. Confirm against actual frames instead of burning repair
	// turns on suspicions.
	if rres.Valid && allSpatial(needModel) {
		outcome, done, err := r.renderConfirm(ctx, session, &rec, &needModel)
		if done || err != nil {
			return outcome, done, err
		}
	}

	return r.llmTurn(ctx, session, rec, needModel)
}

// renderConfirm runs the vision pass over the remaining spatial issues.
// done=true means the session finished clean.
func (r *Refiner) renderConfirm(ctx context.Context, session *Session, rec *TurnRecord, needModel *[]issue.ValidationIssue) (Outcome, bool, error) {
	if r.inspector == nil {
		session.record(*rec)
		r.recordTurn(session, *rec)
		logging.Refiner("turn %d: only spatial suspicions remain, accepting as renderable", session.turn)
		return r.finish(session, true, *needModel), true, nil
	}

	seen, err := r.inspector.Inspect(ctx, session.code, *needModel)
	if err != nil {
		logging.RefinerWarn("turn %d: render inspection failed, keeping suspicions: %v", session.turn, err)
		return Outcome{}, false, nil
	}
	if len(seen) == 0 {
		session.whitelist.AddAll(*needModel)
		session.record(*rec)
		r.recordTurn(session, *rec)
		logging.Refiner("turn %d: render confirmed clean, %d suspicions whitelisted", session.turn, len(*needModel))
		return r.finish(session, true, nil), true, nil
	}

	logging.Refiner("turn %d: render inspection confirmed %d visible defects", session.turn, len(seen))
	*needModel = append(*needModel, seen...)
	return Outcome{}, false, nil
}

// llmTurn runs one model repair and updates the circuit breaker.
func (r *Refiner) llmTurn(ctx context.Context, session *Session, rec TurnRecord, issues []issue.ValidationIssue) (Outcome, bool, error) {
	newCode, err := r.llm.Fix(ctx, session, issues)
	rec.LLMUsed = true

	changed := err == nil && newCode != session.code
	session.noteLLMOutcome(changed)
	if changed {
		session.code = newCode
	}

	session.record(rec)
	r.recordTurn(session, rec)

	if session.stuck() {
		logging.RefinerError("session %s stuck after %d turns", session.ID, session.turn)
		return r.finish(session, false, issues), true, &StuckError{Code: session.code, Issues: issues}
	}
	if err != nil {
		logging.RefinerWarn("turn %d: model repair failed: %v", session.turn, err)
	}
	return Outcome{}, false, nil
}

func (r *Refiner) finish(session *Session, clean bool, remaining []issue.ValidationIssue) Outcome {
	turns := session.turn
	if turns > r.cfg.MaxAttempts {
		turns = r.cfg.MaxAttempts
	}
	if r.recorder != nil {
		r.recorder.SessionFinished(session.ID, session.code, clean, turns)
	}
	return Outcome{
		SessionID: session.ID,
		Code:      session.code,
		Clean:     clean,
		Turns:     turns,
		Remaining: remaining,
	}
}

func (r *Refiner) recordTurn(session *Session, rec TurnRecord) {
	if r.recorder != nil {
		r.recorder.TurnCompleted(session.ID, rec)
	}
}

func allSpatial(issues []issue.ValidationIssue) bool {
	for _, is := range issues {
		if !is.IsSpatial() {
			return false
		}
	}
	return len(issues) > 0
}
