// Package validator implements the pre-execution and execution-time
// defect detectors. The static validator parses the artifact and flags
// syntax, security and execution-blocking lint defects; the runtime
// validator dry-runs it in the sandbox and adds semantic preflight checks.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"scenefix/internal/config"
	"scenefix/internal/issue"
	"scenefix/internal/logging"
	"scenefix/internal/sandbox"
)

// deniedImports are Python modules the generated scene must never touch.
// Scene code needs math and manim, nothing process- or network-shaped.
var deniedImports = map[string]bool{
	"os": true, "sys": true, "subprocess": true, "shutil": true,
	"socket": true, "ctypes": true, "pickle": true, "importlib": true,
	"urllib": true, "requests": true, "http": true, "pathlib": true,
}

// deniedCalls are dynamic-execution builtins and process escapes.
var deniedCalls = map[string]bool{
	"eval": true, "exec": true, "compile": true, "__import__": true,
	"open": true, "os.system": true, "os.popen": true,
}

// CommandRunner is the slice of the sandbox the linter needs.
type CommandRunner interface {
	Execute(ctx context.Context, cmd sandbox.Command) (*sandbox.ExecutionResult, error)
}

// StaticValidator flags defects without executing the artifact.
// Validation is pure: the same code always yields the same issue list.
type StaticValidator struct {
	linter   config.LinterConfig
	runner   CommandRunner
	timeouts config.Timeouts
}

// NewStaticValidator creates a static validator. runner may be nil, in
// which case the external lint pass is skipped.
func NewStaticValidator(linter config.LinterConfig, runner CommandRunner, timeouts config.Timeouts) *StaticValidator {
	return &StaticValidator{linter: linter, runner: runner, timeouts: timeouts}
}

// Validate parses the artifact and runs the security and lint scans.
// A parse failure short-circuits: later checks assume a valid tree.
// Internal failures surface as a single SYSTEM issue, never a panic.
func (v *StaticValidator) Validate(ctx context.Context, code string) (result issue.ValidationResult) {
	timer := logging.StartTimer(logging.CategoryStatic, "static validation")
	defer timer.StopWithThreshold(v.timeouts.StaticValidation)

	defer func() {
		if r := recover(); r != nil {
			logging.StaticWarn("static validation panicked: %v", r)
			result = issue.NewResult([]issue.ValidationIssue{{
				Severity:   issue.SeverityCritical,
				Confidence: issue.ConfidenceHigh,
				Category:   issue.CategorySystem,
				Message:    fmt.Sprintf("static validator internal failure: %v", r),
			}})
		}
	}()

	src := []byte(code)
	tree, err := parsePython(ctx, src)
	if err != nil {
		return issue.NewResult([]issue.ValidationIssue{{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySyntax,
			Message:    fmt.Sprintf("failed to parse scene code: %v", err),
			Line:       1,
		}})
	}
	defer tree.Close()

	if errNode := firstErrorNode(tree.RootNode()); errNode != nil {
		line := int(errNode.StartPoint().Row) + 1
		logging.Static("syntax error at line %d", line)
		return issue.NewResult([]issue.ValidationIssue{{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategorySyntax,
			Message:    fmt.Sprintf("invalid syntax near line %d", line),
			Line:       line,
			FixHint:    "regenerate or repair the statement at this line",
		}})
	}

	var issues []issue.ValidationIssue
	issues = append(issues, v.securityScan(tree.RootNode(), src)...)
	issues = append(issues, v.runLinter(ctx, code)...)

	logging.Static("static validation: %d issues", len(issues))
	return issue.NewResult(issues)
}

// securityScan walks the tree for deny-listed imports and calls.
func (v *StaticValidator) securityScan(root *sitter.Node, src []byte) []issue.ValidationIssue {
	var issues []issue.ValidationIssue

	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement", "import_from_statement":
			for _, mod := range importedModules(n, src) {
				base := strings.SplitN(mod, ".", 2)[0]
				if deniedImports[base] {
					issues = append(issues, issue.ValidationIssue{
						Severity:   issue.SeverityCritical,
						Confidence: issue.ConfidenceHigh,
						Category:   issue.CategorySecurity,
						Message:    fmt.Sprintf("forbidden import %q", mod),
						Line:       int(n.StartPoint().Row) + 1,
						FixHint:    "remove the import; scene code must not touch the host system",
						Details:    map[string]any{"module": mod},
					})
				}
			}
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return
			}
			name := string(src[fn.StartByte():fn.EndByte()])
			if deniedCalls[name] {
				issues = append(issues, issue.ValidationIssue{
					Severity:   issue.SeverityCritical,
					Confidence: issue.ConfidenceHigh,
					Category:   issue.CategorySecurity,
					Message:    fmt.Sprintf("forbidden call to %s()", name),
					Line:       int(n.StartPoint().Row) + 1,
					Details:    map[string]any{"callee": name},
				})
			}
		}
	})

	return issues
}

// ruffFinding is the subset of ruff's JSON output we consume.
type ruffFinding struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row int `json:"row"`
	} `json:"location"`
}

// runLinter delegates to the external linter restricted to rules that
// would abort execution. Linter unavailability is a logged skip, never a
// validation failure.
func (v *StaticValidator) runLinter(ctx context.Context, code string) []issue.ValidationIssue {
	if v.runner == nil || v.linter.Binary == "" {
		return nil
	}

	dir, err := os.MkdirTemp("", "scenefix-lint-*")
	if err != nil {
		logging.StaticWarn("lint skipped, no temp dir: %v", err)
		return nil
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "scene.py")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		logging.StaticWarn("lint skipped, cannot write scene: %v", err)
		return nil
	}

	result, err := v.runner.Execute(ctx, sandbox.Command{
		Binary: v.linter.Binary,
		Arguments: []string{
			"check", path,
			"--select", strings.Join(v.linter.Rules, ","),
			"--output-format", "json",
		},
		Timeout: v.timeouts.StaticValidation,
	})
	if err != nil || !result.Success || result.Killed {
		logging.StaticWarn("linter unavailable, skipping: err=%v", err)
		return nil
	}

	var findings []ruffFinding
	if jsonErr := json.Unmarshal([]byte(result.Stdout), &findings); jsonErr != nil {
		logging.StaticWarn("unparseable linter output, skipping: %v", jsonErr)
		return nil
	}

	var issues []issue.ValidationIssue
	for _, f := range findings {
		issues = append(issues, issue.ValidationIssue{
			Severity:   issue.SeverityCritical,
			Confidence: issue.ConfidenceHigh,
			Category:   issue.CategoryLint,
			Message:    fmt.Sprintf("%s: %s", f.Code, f.Message),
			Line:       f.Location.Row,
			Details:    map[string]any{"rule": f.Code},
		})
	}
	return issues
}

// parsePython parses source with tree-sitter. A fresh parser per call
// keeps the validator safe for concurrent sessions.
func parsePython(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// firstErrorNode returns the first ERROR or MISSING node in the tree.
func firstErrorNode(root *sitter.Node) *sitter.Node {
	var found *sitter.Node
	walk(root, func(n *sitter.Node) {
		if found == nil && (n.Type() == "ERROR" || n.IsMissing()) {
			found = n
		}
	})
	return found
}

// walk visits every node depth-first.
func walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}

// importedModules extracts the module names from an import node.
func importedModules(n *sitter.Node, src []byte) []string {
	var mods []string
	if n.Type() == "import_from_statement" {
		if mod := n.ChildByFieldName("module_name"); mod != nil {
			mods = append(mods, string(src[mod.StartByte():mod.EndByte()]))
		}
		return mods
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			mods = append(mods, string(src[child.StartByte():child.EndByte()]))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				mods = append(mods, string(src[name.StartByte():name.EndByte()]))
			}
		}
	}
	return mods
}
