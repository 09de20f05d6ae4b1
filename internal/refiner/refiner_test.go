package refiner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"scenefix/internal/config"
	"scenefix/internal/fixer"
	"scenefix/internal/issue"
	"scenefix/internal/model"
)

// fakeStatic returns queued results, repeating the last one when drained.
type fakeStatic struct {
	mu      sync.Mutex
	results []issue.ValidationResult
	calls   int
}

func (f *fakeStatic) Validate(ctx context.Context, code string) issue.ValidationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return issue.NewResult(nil)
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

type fakeRuntime struct {
	mu      sync.Mutex
	results []issue.ValidationResult
	calls   int
	codes   []string
}

func (f *fakeRuntime) Validate(ctx context.Context, code string, enableSpatial bool, framesDir string) issue.ValidationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.codes = append(f.codes, code)
	if len(f.results) == 0 {
		return issue.NewResult(nil)
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

// fakeVerifier confirms everything as real unless told otherwise.
type fakeVerifier struct {
	mu        sync.Mutex
	falseKeys map[string]bool
	calls     int
	seen      [][]issue.ValidationIssue
}

func (f *fakeVerifier) Verify(ctx context.Context, code string, issues []issue.ValidationIssue) (real, falsePositives []issue.ValidationIssue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, issues)
	for _, is := range issues {
		if f.falseKeys[is.WhitelistKey()] {
			falsePositives = append(falsePositives, is)
		} else {
			real = append(real, is.PromoteConfidence())
		}
	}
	return real, falsePositives
}

type fakeInspector struct {
	issues []issue.ValidationIssue
	err    error
	calls  int
}

func (f *fakeInspector) Inspect(ctx context.Context, code string, issues []issue.ValidationIssue) ([]issue.ValidationIssue, error) {
	f.calls++
	return f.issues, f.err
}

// fakeClient returns queued responses for LLM fix calls.
type fakeClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeClient) Generate(ctx context.Context, req model.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.calls > len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[f.calls-1], nil
}

func (f *fakeClient) GenerateVision(ctx context.Context, req model.VisionRequest) (string, error) {
	return "", errors.New("not a vision client")
}

func testConfig() config.RefinerConfig {
	return config.RefinerConfig{
		MaxAttempts:    5,
		MaxLLMIssues:   8,
		FixHistorySize: 5,
		EnableSpatial:  true,
	}
}

func newTestRefiner(static StaticValidator, runtime RuntimeValidator, verifier IssueVerifier,
	inspector RenderInspector, client model.Client, cfg config.RefinerConfig) *Refiner {
	frame := config.FrameConfig{HalfWidth: 7.11, HalfHeight: 4.0, SafeMargin: 0.25}
	return New(static, runtime, fixer.New(frame), verifier, inspector, client, nil, cfg)
}

func criticalRuntime(msg string) issue.ValidationIssue {
	return issue.ValidationIssue{
		Severity:   issue.SeverityCritical,
		Confidence: issue.ConfidenceHigh,
		Category:   issue.CategoryRuntime,
		Message:    msg,
	}
}

func spatialSuspicion(obj string, x float64) issue.ValidationIssue {
	return issue.ValidationIssue{
		Severity:    issue.SeverityWarning,
		Confidence:  issue.ConfidenceLow,
		Category:    issue.CategoryOutOfBounds,
		Message:     obj + " may be off screen",
		Line:        1,
		AutoFixable: true,
		Details:     map[string]any{"object": obj, "x": x, "y": 0.0},
	}
}

func TestRefineCleanFirstTurn(t *testing.T) {
	r := newTestRefiner(&fakeStatic{}, &fakeRuntime{}, &fakeVerifier{}, nil, &fakeClient{}, testConfig())

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("clean artifact must finish clean")
	}
	if out.Turns != 1 {
		t.Errorf("turns = %d, want 1", out.Turns)
	}
	if out.SessionID == "" {
		t.Error("outcome must carry a session id")
	}
}

func TestRefineStaticFailureGoesToModel(t *testing.T) {
	static := &fakeStatic{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySyntax,
			Message:    "invalid syntax near line 4",
			Line:       4,
		}}),
		issue.NewResult(nil),
	}}
	client := &fakeClient{responses: []string{"```python\nfixed code\n```"}}
	r := newTestRefiner(static, &fakeRuntime{}, &fakeVerifier{}, nil, client, testConfig())

	out, err := r.Refine(context.Background(), "broken code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("repaired artifact must finish clean")
	}
	if out.Code != "fixed code" {
		t.Errorf("code = %q, want model output", out.Code)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
	if out.Turns != 2 {
		t.Errorf("turns = %d, want 2 (fix then revalidate)", out.Turns)
	}
}

func TestRefineCircuitBreaker(t *testing.T) {
	static := &fakeStatic{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySyntax,
			Message:    "invalid syntax",
		}}),
	}}
	// The model keeps returning the input unchanged.
	client := &fakeClient{responses: []string{"```python\nbroken code\n```"}}
	r := newTestRefiner(static, &fakeRuntime{}, &fakeVerifier{}, nil, client, testConfig())

	_, err := r.Refine(context.Background(), "broken code")
	var stuck *StuckError
	if !errors.As(err, &stuck) {
		t.Fatalf("want StuckError, got %v", err)
	}
	if stuck.Code != "broken code" {
		t.Errorf("stuck error must carry the last code, got %q", stuck.Code)
	}
	if len(stuck.Issues) == 0 {
		t.Error("stuck error must carry the defeated issues")
	}
	if client.calls != 2 {
		t.Errorf("breaker must trip after exactly 2 unproductive turns, got %d calls", client.calls)
	}
}

func TestRefineTerminatesWithinBudget(t *testing.T) {
	// Runtime keeps failing with the same certain issue; the model keeps
	// producing a new (still broken) artifact so the breaker never trips.
	runtime := &fakeRuntime{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{criticalRuntime("always broken")}),
	}}
	client := &fakeClient{responses: []string{
		"```python\nv1\n```", "```python\nv2\n```", "```python\nv3\n```",
		"```python\nv4\n```", "```python\nv5\n```", "```python\nv6\n```",
	}}
	cfg := testConfig()
	cfg.MaxAttempts = 3
	r := newTestRefiner(&fakeStatic{}, runtime, &fakeVerifier{}, nil, client, cfg)

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if out.Clean {
		t.Fatal("certain issue remaining at exhaustion is not clean")
	}
	if out.Turns != 3 {
		t.Errorf("turns = %d, want exactly the budget", out.Turns)
	}
	if runtime.calls != 3 {
		t.Errorf("runtime validations = %d, want 3", runtime.calls)
	}
}

func TestRefineKnownPatternsWithoutModel(t *testing.T) {
	code := "class S(Scene):\n    def construct(self):\n        self.wait(0)\n        self.wait(1)\n"
	client := &fakeClient{}
	r := newTestRefiner(&fakeStatic{}, &fakeRuntime{}, &fakeVerifier{}, nil, client, testConfig())

	out, err := r.Refine(context.Background(), code)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if strings.Contains(out.Code, "self.wait(0)") {
		t.Error("zero wait must be removed by the pattern pass")
	}
	if client.calls != 0 {
		t.Errorf("pattern fixes must not use the model, got %d calls", client.calls)
	}
}

func TestRefineSpatialShortcutWithoutInspector(t *testing.T) {
	// Runtime passes but reports a spatial suspicion that the verifier
	// confirms; the fixer cannot place it (no usable line/details drift),
	// so without an inspector the artifact is accepted as renderable.
	suspicion := issue.ValidationIssue{
		Severity:   issue.SeverityWarning,
		Confidence: issue.ConfidenceLow,
		Category:   issue.CategoryTextOverlap,
		Message:    "labels may overlap",
	}
	runtime := &fakeRuntime{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{suspicion}),
	}}
	client := &fakeClient{}
	r := newTestRefiner(&fakeStatic{}, runtime, &fakeVerifier{}, nil, client, testConfig())

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("executable artifact with only spatial suspicions must be accepted")
	}
	if len(out.Remaining) != 1 {
		t.Errorf("remaining suspicions must be reported, got %d", len(out.Remaining))
	}
	if client.calls != 0 {
		t.Errorf("shortcut must not use the model, got %d calls", client.calls)
	}
}

func TestRefineNoVerifierDefersUncertain(t *testing.T) {
	// Without a verifier the suspicion can never be confirmed or
	// dismissed; the loop runs out its budget and the artifact is
	// accepted because nothing certain remains.
	runtime := &fakeRuntime{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{{
			Severity:   issue.SeverityWarning,
			Confidence: issue.ConfidenceLow,
			Category:   issue.CategoryOutOfBounds,
			Message:    "label may be off screen",
		}}),
	}}
	client := &fakeClient{}
	cfg := testConfig()
	cfg.MaxAttempts = 3
	r := newTestRefiner(&fakeStatic{}, runtime, nil, nil, client, cfg)

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("only uncertain findings at exhaustion must still be accepted")
	}
	if out.Turns != 3 {
		t.Errorf("turns = %d, want the full budget", out.Turns)
	}
	if len(out.Remaining) != 1 {
		t.Errorf("deferred suspicion must be reported, got %d remaining", len(out.Remaining))
	}
	if client.calls != 0 {
		t.Errorf("deferred suspicions must not reach the model, got %d calls", client.calls)
	}
}

func TestLLMFixDeduplicatesBeforeCap(t *testing.T) {
	dup := criticalRuntime("NameError: name 'circle' is not defined")
	distinct := criticalRuntime("ZeroDivisionError: division by zero")
	client := &fakeClient{responses: []string{"```python\nfixed\n```"}}
	f := &llmFixer{client: client, maxIssues: 2}
	s := newSession("code", 5)

	_, err := f.Fix(context.Background(), s, []issue.ValidationIssue{dup, dup, dup, distinct})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	prompt := client.prompts[0]
	if got := strings.Count(prompt, dup.Message); got != 1 {
		t.Errorf("duplicate issue listed %d times in the prompt, want once", got)
	}
	if !strings.Contains(prompt, distinct.Message) {
		t.Error("distinct issue must not be crowded out of the capped batch")
	}
}

func TestRefineInspectorConfirmsClean(t *testing.T) {
	suspicion := issue.ValidationIssue{
		Severity:   issue.SeverityWarning,
		Confidence: issue.ConfidenceLow,
		Category:   issue.CategoryOutOfBounds,
		Message:    "label may be off screen",
	}
	runtime := &fakeRuntime{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{suspicion}),
	}}
	inspector := &fakeInspector{}
	r := newTestRefiner(&fakeStatic{}, runtime, &fakeVerifier{}, inspector, &fakeClient{}, testConfig())

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("render-confirmed artifact must finish clean")
	}
	if inspector.calls != 1 {
		t.Errorf("inspector calls = %d, want 1", inspector.calls)
	}
}

func TestRefineWhitelistSuppressesAcrossTurns(t *testing.T) {
	suspicion := issue.ValidationIssue{
		Severity:   issue.SeverityWarning,
		Confidence: issue.ConfidenceLow,
		Category:   issue.CategoryOutOfBounds,
		Message:    "label may be off screen at t=1.0",
		Details:    map[string]any{"object": "label", "x": 8.0, "time_sec": 1.0},
	}
	// Same defect reported again at a different timestamp plus a certain
	// runtime failure that keeps the loop going.
	recurrence := suspicion
	recurrence.Details = map[string]any{"object": "label", "x": 8.0, "time_sec": 3.5}

	runtime := &fakeRuntime{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{suspicion, criticalRuntime("broken")}),
		issue.NewResult([]issue.ValidationIssue{recurrence, criticalRuntime("still broken")}),
		issue.NewResult(nil),
	}}
	verifier := &fakeVerifier{falseKeys: map[string]bool{suspicion.WhitelistKey(): true}}
	client := &fakeClient{responses: []string{"```python\nv1\n```", "```python\nv2\n```"}}
	r := newTestRefiner(&fakeStatic{}, runtime, verifier, nil, client, testConfig())

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("expected eventual clean finish")
	}
	if verifier.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1 (recurrence must hit the whitelist)", verifier.calls)
	}
}

func TestRefineExhaustionWithOnlyUncertainIsClean(t *testing.T) {
	// The verifier keeps confirming the suspicion as real but the model
	// cannot fix it; at exhaustion only the uncertain finding remains.
	suspicion := issue.ValidationIssue{
		Severity:   issue.SeverityWarning,
		Confidence: issue.ConfidenceLow,
		Category:   issue.CategoryObjectOcclusion,
		Message:    "box may hide label",
	}
	runtime := &fakeRuntime{results: []issue.ValidationResult{
		issue.NewResult([]issue.ValidationIssue{suspicion}),
	}}
	inspector := &fakeInspector{err: errors.New("render unavailable")}
	client := &fakeClient{responses: []string{
		"```python\nv1\n```", "```python\nv2\n```", "```python\nv3\n```",
		"```python\nv4\n```", "```python\nv5\n```",
	}}
	cfg := testConfig()
	cfg.MaxAttempts = 2
	r := newTestRefiner(&fakeStatic{}, runtime, &fakeVerifier{}, inspector, client, cfg)

	out, err := r.Refine(context.Background(), "code")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !out.Clean {
		t.Fatal("exhaustion with only uncertain findings left must still be usable")
	}
}

func TestRefineContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRefiner(&fakeStatic{}, &fakeRuntime{}, &fakeVerifier{}, nil, &fakeClient{}, testConfig())

	_, err := r.Refine(ctx, "code")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSessionHistoryRing(t *testing.T) {
	s := newSession("code", 3)
	for i := 1; i <= 5; i++ {
		s.record(TurnRecord{Turn: i})
	}
	h := s.History()
	if len(h) != 3 {
		t.Fatalf("history length = %d, want 3", len(h))
	}
	if h[0].Turn != 3 || h[2].Turn != 5 {
		t.Errorf("history must keep the most recent turns, got %v", h)
	}
}

func TestExtractCodeBlock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "fenced python", in: "```python\nx = 1\n```", want: "x = 1", ok: true},
		{name: "fenced plain", in: "```\nx = 1\n```", want: "x = 1", ok: true},
		{name: "prose around fence", in: "Here you go:\n```python\nx = 1\n```\nDone.", want: "x = 1", ok: true},
		{name: "unterminated fence", in: "```python\nx = 1", want: "x = 1", ok: true},
		{name: "bare code", in: "from manim import *\ndef construct(self): pass", want: "from manim import *\ndef construct(self): pass", ok: true},
		{name: "pure prose", in: "I cannot fix this.", want: "", ok: false},
		{name: "empty fence", in: "```python\n```", want: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractCodeBlock(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractCodeBlock(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
