package validator

import (
	"context"
	"testing"

	"scenefix/internal/config"
	"scenefix/internal/issue"
)

const validScene = `from manim import *

class DemoScene(Scene):
    def construct(self):
        title = Text("hello")
        self.play(Write(title))
        self.wait(1)
`

func newStatic(t *testing.T) *StaticValidator {
	t.Helper()
	return NewStaticValidator(config.LinterConfig{}, nil, config.DefaultTimeouts())
}

func TestStaticValidateCleanCode(t *testing.T) {
	result := newStatic(t).Validate(context.Background(), validScene)
	if !result.Valid {
		t.Fatalf("expected clean code to be valid, got issues: %v", result.Issues)
	}
}

func TestStaticValidateSyntaxError(t *testing.T) {
	code := `from manim import *

class DemoScene(Scene):
    def construct(self)
        self.wait(1)
`
	result := newStatic(t).Validate(context.Background(), code)
	if result.Valid {
		t.Fatal("expected missing colon to invalidate the code")
	}
	if len(result.Issues) != 1 {
		t.Fatalf("syntax errors must short-circuit to a single issue, got %d", len(result.Issues))
	}
	is := result.Issues[0]
	if is.Category != issue.CategorySyntax {
		t.Errorf("category = %s, want %s", is.Category, issue.CategorySyntax)
	}
	if is.Severity != issue.SeverityCritical || is.Confidence != issue.ConfidenceHigh {
		t.Errorf("want critical/high, got %s/%s", is.Severity, is.Confidence)
	}
	if is.Line == 0 {
		t.Error("syntax issue should carry a line number")
	}
}

func TestStaticValidateSecurity(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{
			name: "os import",
			code: "import os\n" + validScene,
			want: "forbidden import",
		},
		{
			name: "from subprocess",
			code: "from subprocess import run\n" + validScene,
			want: "forbidden import",
		},
		{
			name: "urllib submodule",
			code: "import urllib.request\n" + validScene,
			want: "forbidden import",
		},
		{
			name: "eval call",
			code: validScene + "\nx = eval(\"1+1\")\n",
			want: "forbidden call",
		},
		{
			name: "dunder import",
			code: validScene + "\nm = __import__(\"socket\")\n",
			want: "forbidden",
		},
	}

	v := newStatic(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(context.Background(), tt.code)
			if result.Valid {
				t.Fatal("expected a security violation")
			}
			found := false
			for _, is := range result.Issues {
				if is.Category == issue.CategorySecurity {
					found = true
					if is.Severity != issue.SeverityCritical || is.Confidence != issue.ConfidenceHigh {
						t.Errorf("security issues must be critical/high, got %s/%s", is.Severity, is.Confidence)
					}
				}
			}
			if !found {
				t.Errorf("no security issue reported for %q", tt.name)
			}
		})
	}
}

func TestStaticValidateAllowsMathImports(t *testing.T) {
	code := "import math\nimport numpy as np\n" + validScene
	result := newStatic(t).Validate(context.Background(), code)
	if !result.Valid {
		t.Fatalf("math/numpy imports must pass, got: %v", result.Issues)
	}
}

func TestStaticValidateIsDeterministic(t *testing.T) {
	v := newStatic(t)
	code := "import os\n" + validScene
	a := v.Validate(context.Background(), code)
	b := v.Validate(context.Background(), code)
	if len(a.Issues) != len(b.Issues) {
		t.Fatalf("validation not deterministic: %d vs %d issues", len(a.Issues), len(b.Issues))
	}
	for i := range a.Issues {
		if a.Issues[i].WhitelistKey() != b.Issues[i].WhitelistKey() {
			t.Errorf("issue %d keys diverge across identical runs", i)
		}
	}
}
