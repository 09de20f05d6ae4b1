package fixer

import (
	"strings"
	"testing"
)

func TestRemoveZeroWaits(t *testing.T) {
	code := `class S(Scene):
    def construct(self):
        self.wait(0)
        self.wait(1)
        self.wait(0.0)
        self.wait(0.5)
`
	fixed, fixes := removeZeroWaits(code)
	if len(fixes) != 2 {
		t.Fatalf("want 2 removals, got %d", len(fixes))
	}
	if strings.Contains(fixed, "self.wait(0)") || strings.Contains(fixed, "self.wait(0.0)") {
		t.Error("zero waits still present")
	}
	if !strings.Contains(fixed, "self.wait(1)") || !strings.Contains(fixed, "self.wait(0.5)") {
		t.Error("positive waits must survive")
	}
}

func TestRenameDeprecated(t *testing.T) {
	code := "self.play(ShowCreation(circle), FadeInFrom(label, UP))\n"
	fixed, fixes := renameDeprecated(code)
	if len(fixes) != 2 {
		t.Fatalf("want 2 renames, got %d: %v", len(fixes), fixes)
	}
	if !strings.Contains(fixed, "Create(circle)") {
		t.Errorf("ShowCreation not renamed: %q", fixed)
	}
	if !strings.Contains(fixed, "FadeIn(label, UP)") {
		t.Errorf("FadeInFrom not renamed: %q", fixed)
	}
}

func TestRenameDeprecatedWordBoundary(t *testing.T) {
	code := "self.play(MyShowCreationHelper(x))\n"
	fixed, fixes := renameDeprecated(code)
	if len(fixes) != 0 || fixed != code {
		t.Fatalf("identifier containing a deprecated name must not change: %q", fixed)
	}
}

func TestClampRateFuncs(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
		hits int
	}{
		{
			name: "unknown clamped",
			code: "self.play(Write(t), rate_func=super_bounce)\n",
			want: "rate_func=smooth",
			hits: 1,
		},
		{
			name: "known kept",
			code: "self.play(Write(t), rate_func=there_and_back)\n",
			want: "rate_func=there_and_back",
			hits: 0,
		},
		{
			name: "qualified kept",
			code: "self.play(Write(t), rate_func=rate_functions.ease_in_sine)\n",
			want: "rate_functions.ease_in_sine",
			hits: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixed, fixes := clampRateFuncs(tt.code)
			if len(fixes) != tt.hits {
				t.Fatalf("got %d fixes, want %d", len(fixes), tt.hits)
			}
			if !strings.Contains(fixed, tt.want) {
				t.Errorf("result %q missing %q", fixed, tt.want)
			}
		})
	}
}

func TestApplyKnownPatternsIdempotent(t *testing.T) {
	code := `class S(Scene):
    def construct(self):
        self.wait(0)
        self.play(ShowCreation(c), rate_func=bouncy)
`
	once, fixes := ApplyKnownPatterns(code)
	if len(fixes) != 3 {
		t.Fatalf("want 3 fixes on first pass, got %d: %v", len(fixes), fixes)
	}
	twice, again := ApplyKnownPatterns(once)
	if len(again) != 0 {
		t.Fatalf("second pass must be a no-op, applied %v", again)
	}
	if twice != once {
		t.Error("second pass changed the code")
	}
}
