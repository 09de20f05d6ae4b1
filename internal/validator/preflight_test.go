package validator

import (
	"context"
	"math"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"

	"scenefix/internal/config"
	"scenefix/internal/issue"
)

func runPreflight(t *testing.T, code string, spatial bool) []issue.ValidationIssue {
	t.Helper()
	src := []byte(code)
	tree, err := parsePython(context.Background(), src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer tree.Close()
	pf := &preflight{
		frame:         config.FrameConfig{HalfWidth: 7.11, HalfHeight: 4.0, SafeMargin: 0.25},
		enableSpatial: spatial,
	}
	return pf.check(tree.RootNode(), src)
}

func TestPreflightNegativeWait(t *testing.T) {
	code := `from manim import *
class S(Scene):
    def construct(self):
        self.wait(2 - 5)
`
	issues := runPreflight(t, code, false)
	if len(issues) != 1 {
		t.Fatalf("want 1 issue, got %d: %v", len(issues), issues)
	}
	is := issues[0]
	if is.Category != issue.CategoryRuntime || is.Severity != issue.SeverityCritical {
		t.Errorf("want critical runtime, got %s/%s", is.Severity, is.Category)
	}
	if is.Line != 4 {
		t.Errorf("line = %d, want 4", is.Line)
	}
}

func TestPreflightNegativeRunTime(t *testing.T) {
	code := `from manim import *
class S(Scene):
    def construct(self):
        self.play(Write(t), run_time=-1.5)
`
	issues := runPreflight(t, code, false)
	if len(issues) != 1 {
		t.Fatalf("want 1 issue, got %d", len(issues))
	}
}

func TestPreflightUnknownWaitIsSilent(t *testing.T) {
	code := `from manim import *
class S(Scene):
    def construct(self):
        self.wait(duration)
        self.wait(1.5)
`
	if issues := runPreflight(t, code, false); len(issues) != 0 {
		t.Fatalf("non-foldable or positive durations must not be flagged: %v", issues)
	}
}

func TestPreflightCollectionIndex(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{
			name: "table row out of range",
			code: `t = Table([["a", "b"], ["c", "d"]])
row = t.get_rows()[2]
`,
			want: 1,
		},
		{
			name: "vgroup index out of range",
			code: `g = VGroup(a, b, c)
x = g[3]
`,
			want: 1,
		},
		{
			name: "in range",
			code: `t = Table([["a"], ["b"], ["c"]])
row = t.get_rows()[2]
`,
			want: 0,
		},
		{
			name: "negative in range",
			code: `g = VGroup(a, b)
x = g[-2]
`,
			want: 0,
		},
		{
			name: "variable index unknown",
			code: `g = VGroup(a, b)
x = g[i]
`,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := runPreflight(t, tt.code, false)
			if len(issues) != tt.want {
				t.Fatalf("got %d issues, want %d: %v", len(issues), tt.want, issues)
			}
		})
	}
}

func TestPreflightDuplicateAdds(t *testing.T) {
	code := `from manim import *
class S(Scene):
    def construct(self):
        self.add(title)
        self.add(box)
        self.add(title)
`
	issues := runPreflight(t, code, false)
	if len(issues) != 1 {
		t.Fatalf("want 1 duplicate-add issue, got %d: %v", len(issues), issues)
	}
	is := issues[0]
	if is.Category != issue.CategoryVisibility {
		t.Errorf("category = %s, want %s", is.Category, issue.CategoryVisibility)
	}
	if is.Line != 6 {
		t.Errorf("line = %d, want 6", is.Line)
	}
}

func TestPreflightSpatialOutOfBounds(t *testing.T) {
	code := `from manim import *
class S(Scene):
    def construct(self):
        label = Text("hi")
        label.move_to([8.5, 0, 0])
        box = Square()
        box.shift(RIGHT * 2)
`
	issues := runPreflight(t, code, true)
	if len(issues) != 1 {
		t.Fatalf("want 1 out-of-bounds issue, got %d: %v", len(issues), issues)
	}
	is := issues[0]
	if is.Category != issue.CategoryOutOfBounds {
		t.Errorf("category = %s, want %s", is.Category, issue.CategoryOutOfBounds)
	}
	if is.Confidence != issue.ConfidenceLow {
		t.Errorf("literal-geometry findings must be low confidence, got %s", is.Confidence)
	}
	if !is.IsUncertain() {
		t.Error("spatial low-confidence finding must route through verification")
	}
}

func TestPreflightSpatialDisabled(t *testing.T) {
	code := `label = Text("hi")
label.move_to([9.0, 0, 0])
`
	if issues := runPreflight(t, code, false); len(issues) != 0 {
		t.Fatalf("spatial checks disabled, got %v", issues)
	}
}

func TestPreflightTextOverlap(t *testing.T) {
	code := `a = Text("one")
b = Text("two")
a.move_to([0, 1, 0])
b.move_to([0.5, 1.2, 0])
`
	issues := runPreflight(t, code, true)
	if len(issues) != 1 {
		t.Fatalf("want 1 overlap issue, got %d: %v", len(issues), issues)
	}
	if issues[0].Category != issue.CategoryTextOverlap {
		t.Errorf("category = %s, want %s", issues[0].Category, issue.CategoryTextOverlap)
	}
}

func TestFoldConst(t *testing.T) {
	tests := []struct {
		expr string
		want float64
		ok   bool
	}{
		{"3", 3, true},
		{"2.5", 2.5, true},
		{"-4", -4, true},
		{"-(1 + 2)", -3, true},
		{"2 * 3.5", 7, true},
		{"10 / 4", 2.5, true},
		{"1 / 0", 0, false},
		{"x + 1", 0, false},
		{"abs(-2)", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			src := []byte("v = " + tt.expr + "\n")
			tree, err := parsePython(context.Background(), src)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			defer tree.Close()

			expr := findAssignmentValue(t, tree.RootNode())
			got, ok := foldConst(expr, src)
			if ok != tt.ok {
				t.Fatalf("foldConst(%q) ok = %v, want %v", tt.expr, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("foldConst(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func findAssignmentValue(t *testing.T, root *sitter.Node) *sitter.Node {
	t.Helper()
	var value *sitter.Node
	walk(root, func(n *sitter.Node) {
		if value == nil && n.Type() == "assignment" {
			value = n.ChildByFieldName("right")
		}
	})
	if value == nil {
		t.Fatal("no assignment found in fixture")
	}
	return value
}
