package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"scenefix/internal/config"
	"scenefix/internal/issue"
)

// preflight runs semantic checks on a syntactically valid tree: defects
// that would only surface at runtime or on screen, caught before any
// subprocess is spawned. Spatial heuristics are deliberately reported at
// LOW confidence; they estimate geometry from literals and feed the
// verification path rather than triggering repairs directly.
type preflight struct {
	frame         config.FrameConfig
	enableSpatial bool
}

func (p *preflight) check(root *sitter.Node, src []byte) []issue.ValidationIssue {
	var issues []issue.ValidationIssue

	issues = append(issues, p.checkWaitDurations(root, src)...)
	issues = append(issues, p.checkCollectionIndices(root, src)...)
	issues = append(issues, p.checkDuplicateAdds(root, src)...)
	if p.enableSpatial {
		issues = append(issues, p.checkPlacements(root, src)...)
	}

	return dedupe(issues)
}

// checkWaitDurations flags wait and run_time values that fold to a
// negative constant. Manim raises on these at animation time.
func (p *preflight) checkWaitDurations(root *sitter.Node, src []byte) []issue.ValidationIssue {
	var issues []issue.ValidationIssue

	walk(root, func(n *sitter.Node) {
		if n.Type() != "call" {
			return
		}
		fn := n.ChildByFieldName("function")
		args := n.ChildByFieldName("arguments")
		if fn == nil || args == nil {
			return
		}
		callee := text(fn, src)

		if strings.HasSuffix(callee, ".wait") && args.NamedChildCount() > 0 {
			if v, ok := foldConst(args.NamedChild(0), src); ok && v < 0 {
				issues = append(issues, issue.ValidationIssue{
					Severity:   issue.SeverityCritical,
					Confidence: issue.ConfidenceHigh,
					Category:   issue.CategoryRuntime,
					Message:    fmt.Sprintf("wait duration folds to %.2f, durations must be non-negative", v),
					Line:       int(n.StartPoint().Row) + 1,
					Details:    map[string]any{"duration": v},
				})
			}
		}

		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			if arg.Type() != "keyword_argument" {
				continue
			}
			name := arg.ChildByFieldName("name")
			value := arg.ChildByFieldName("value")
			if name == nil || value == nil || text(name, src) != "run_time" {
				continue
			}
			if v, ok := foldConst(value, src); ok && v <= 0 {
				issues = append(issues, issue.ValidationIssue{
					Severity:   issue.SeverityCritical,
					Confidence: issue.ConfidenceHigh,
					Category:   issue.CategoryRuntime,
					Message:    fmt.Sprintf("run_time folds to %.2f, animation durations must be positive", v),
					Line:       int(arg.StartPoint().Row) + 1,
					Details:    map[string]any{"run_time": v},
				})
			}
		}
	})

	return issues
}

// checkCollectionIndices tracks names assigned from Table/Matrix/VGroup
// constructors with literal row lists and flags constant subscripts that
// fall outside the literal's length.
func (p *preflight) checkCollectionIndices(root *sitter.Node, src []byte) []issue.ValidationIssue {
	sizes := map[string]int{}

	walk(root, func(n *sitter.Node) {
		if n.Type() != "assignment" {
			return
		}
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "call" {
			return
		}
		fn := right.ChildByFieldName("function")
		args := right.ChildByFieldName("arguments")
		if fn == nil || args == nil {
			return
		}
		callee := text(fn, src)
		switch callee {
		case "Table", "MobjectTable", "Matrix", "VGroup", "Group":
		default:
			return
		}
		if callee == "VGroup" || callee == "Group" {
			sizes[text(left, src)] = int(args.NamedChildCount())
			return
		}
		if args.NamedChildCount() > 0 && args.NamedChild(0).Type() == "list" {
			sizes[text(left, src)] = int(args.NamedChild(0).NamedChildCount())
		}
	})

	var issues []issue.ValidationIssue
	walk(root, func(n *sitter.Node) {
		if n.Type() != "subscript" {
			return
		}
		value := n.ChildByFieldName("value")
		sub := n.ChildByFieldName("subscript")
		if value == nil || sub == nil {
			return
		}

		// x[i] and x.get_rows()[i] both index the tracked literal.
		var name string
		switch {
		case value.Type() == "identifier":
			name = text(value, src)
		case value.Type() == "call":
			fn := value.ChildByFieldName("function")
			if fn != nil && fn.Type() == "attribute" {
				attr := fn.ChildByFieldName("attribute")
				obj := fn.ChildByFieldName("object")
				if attr != nil && obj != nil && obj.Type() == "identifier" &&
					(text(attr, src) == "get_rows" || text(attr, src) == "get_entries") {
					name = text(obj, src)
				}
			}
		}
		size, tracked := sizes[name]
		if !tracked {
			return
		}

		idx, ok := foldConst(sub, src)
		if !ok || idx != math.Trunc(idx) {
			return
		}
		i := int(idx)
		if i >= size || i < -size {
			issues = append(issues, issue.ValidationIssue{
				Severity:   issue.SeverityCritical,
				Confidence: issue.ConfidenceMedium,
				Category:   issue.CategoryRuntime,
				Message:    fmt.Sprintf("index %d out of range for %s with %d elements", i, name, size),
				Line:       int(n.StartPoint().Row) + 1,
				Details:    map[string]any{"object": name, "index": i, "size": size},
			})
		}
	})

	return issues
}

// checkDuplicateAdds flags identical self.add(...) statements repeated
// within the scene. Adding the same object twice stacks overlays and is
// almost always a copy-paste slip, but not certain enough to auto-repair.
func (p *preflight) checkDuplicateAdds(root *sitter.Node, src []byte) []issue.ValidationIssue {
	seen := map[string]int{}
	var issues []issue.ValidationIssue

	walk(root, func(n *sitter.Node) {
		if n.Type() != "call" {
			return
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || text(fn, src) != "self.add" {
			return
		}
		stmt := strings.TrimSpace(text(n, src))
		line := int(n.StartPoint().Row) + 1
		if first, dup := seen[stmt]; dup {
			issues = append(issues, issue.ValidationIssue{
				Severity:   issue.SeverityWarning,
				Confidence: issue.ConfidenceMedium,
				Category:   issue.CategoryVisibility,
				Message:    fmt.Sprintf("duplicate %s, first added at line %d", stmt, first),
				Line:       line,
				Details:    map[string]any{"statement": stmt, "first_line": first},
			})
			return
		}
		seen[stmt] = line
	})

	return issues
}

// textPlacement is one literally positioned text object.
type textPlacement struct {
	name string
	line int
	x, y float64
}

// checkPlacements estimates geometry from literal coordinates: move_to
// and shift targets past the frame edge, and pairs of text objects placed
// within overlap distance of each other.
func (p *preflight) checkPlacements(root *sitter.Node, src []byte) []issue.ValidationIssue {
	var issues []issue.ValidationIssue
	var texts []textPlacement
	textNames := p.collectTextNames(root, src)

	walk(root, func(n *sitter.Node) {
		if n.Type() != "call" {
			return
		}
		fn := n.ChildByFieldName("function")
		args := n.ChildByFieldName("arguments")
		if fn == nil || args == nil || fn.Type() != "attribute" {
			return
		}
		attr := fn.ChildByFieldName("attribute")
		obj := fn.ChildByFieldName("object")
		if attr == nil || obj == nil {
			return
		}
		method := text(attr, src)
		if method != "move_to" && method != "shift" {
			return
		}
		x, y, ok := foldPoint(args, src)
		if !ok {
			return
		}

		name := text(obj, src)
		line := int(n.StartPoint().Row) + 1
		limX := p.frame.HalfWidth - p.frame.SafeMargin
		limY := p.frame.HalfHeight - p.frame.SafeMargin
		if math.Abs(x) > limX || math.Abs(y) > limY {
			issues = append(issues, issue.ValidationIssue{
				Severity:    issue.SeverityWarning,
				Confidence:  issue.ConfidenceLow,
				Category:    issue.CategoryOutOfBounds,
				Message:     fmt.Sprintf("%s placed at (%.1f, %.1f), outside the safe frame area", name, x, y),
				Line:        line,
				AutoFixable: true,
				Details:     map[string]any{"object": name, "x": x, "y": y},
			})
		}
		if method == "move_to" && textNames[name] {
			texts = append(texts, textPlacement{name: name, line: line, x: x, y: y})
		}
	})

	// Pairs of text objects within roughly a line height of each other.
	for i := 0; i < len(texts); i++ {
		for j := i + 1; j < len(texts); j++ {
			a, b := texts[i], texts[j]
			if math.Abs(a.x-b.x) < 2.0 && math.Abs(a.y-b.y) < 0.6 {
				issues = append(issues, issue.ValidationIssue{
					Severity:    issue.SeverityWarning,
					Confidence:  issue.ConfidenceLow,
					Category:    issue.CategoryTextOverlap,
					Message:     fmt.Sprintf("%s and %s are placed close enough to overlap", a.name, b.name),
					Line:        b.line,
					AutoFixable: true,
					Details: map[string]any{
						"object_a": a.name, "object_b": b.name,
						"dx": math.Abs(a.x - b.x), "dy": math.Abs(a.y - b.y),
					},
				})
			}
		}
	}

	return issues
}

// collectTextNames finds names bound to Text/MathTex/Tex constructors.
func (p *preflight) collectTextNames(root *sitter.Node, src []byte) map[string]bool {
	names := map[string]bool{}
	walk(root, func(n *sitter.Node) {
		if n.Type() != "assignment" {
			return
		}
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "call" {
			return
		}
		fn := right.ChildByFieldName("function")
		if fn == nil {
			return
		}
		switch text(fn, src) {
		case "Text", "Tex", "MathTex", "MarkupText", "Paragraph":
			names[text(left, src)] = true
		}
	})
	return names
}

// foldPoint extracts (x, y) from the first argument of a placement call:
// a literal list/tuple of coordinates, or a direction constant scaled by
// a foldable factor (RIGHT*4.2, UP * 3).
func foldPoint(args *sitter.Node, src []byte) (float64, float64, bool) {
	if args.NamedChildCount() == 0 {
		return 0, 0, false
	}
	arg := args.NamedChild(0)

	switch arg.Type() {
	case "list", "tuple":
		if arg.NamedChildCount() < 2 {
			return 0, 0, false
		}
		x, okX := foldConst(arg.NamedChild(0), src)
		y, okY := foldConst(arg.NamedChild(1), src)
		if okX && okY {
			return x, y, true
		}
	case "binary_operator":
		left := arg.ChildByFieldName("left")
		right := arg.ChildByFieldName("right")
		op := arg.ChildByFieldName("operator")
		if left == nil || right == nil || op == nil || text(op, src) != "*" {
			return 0, 0, false
		}
		dir, scale := left, right
		if left.Type() != "identifier" {
			dir, scale = right, left
		}
		dx, dy, ok := directionVector(text(dir, src))
		if !ok {
			return 0, 0, false
		}
		v, ok := foldConst(scale, src)
		if !ok {
			return 0, 0, false
		}
		return dx * v, dy * v, true
	case "identifier":
		dx, dy, ok := directionVector(text(arg, src))
		if ok {
			return dx, dy, true
		}
	}
	return 0, 0, false
}

// directionVector maps the manim direction constants to unit vectors.
func directionVector(name string) (float64, float64, bool) {
	switch name {
	case "LEFT":
		return -1, 0, true
	case "RIGHT":
		return 1, 0, true
	case "UP":
		return 0, 1, true
	case "DOWN":
		return 0, -1, true
	case "UL":
		return -1, 1, true
	case "UR":
		return 1, 1, true
	case "DL":
		return -1, -1, true
	case "DR":
		return 1, -1, true
	case "ORIGIN":
		return 0, 0, true
	}
	return 0, 0, false
}

// foldConst evaluates numeric literal expressions: integers, floats,
// unary minus, parentheses, and the four arithmetic operators. Anything
// touching a name is unknown.
func foldConst(n *sitter.Node, src []byte) (float64, bool) {
	switch n.Type() {
	case "integer", "float":
		v, err := strconv.ParseFloat(text(n, src), 64)
		return v, err == nil
	case "unary_operator":
		arg := n.ChildByFieldName("argument")
		op := n.ChildByFieldName("operator")
		if arg == nil || op == nil {
			return 0, false
		}
		v, ok := foldConst(arg, src)
		if !ok {
			return 0, false
		}
		switch text(op, src) {
		case "-":
			return -v, true
		case "+":
			return v, true
		}
		return 0, false
	case "parenthesized_expression":
		if n.NamedChildCount() != 1 {
			return 0, false
		}
		return foldConst(n.NamedChild(0), src)
	case "binary_operator":
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		op := n.ChildByFieldName("operator")
		if left == nil || right == nil || op == nil {
			return 0, false
		}
		a, okA := foldConst(left, src)
		b, okB := foldConst(right, src)
		if !okA || !okB {
			return 0, false
		}
		switch text(op, src) {
		case "+":
			return a + b, true
		case "-":
			return a - b, true
		case "*":
			return a * b, true
		case "/":
			if b == 0 {
				return 0, false
			}
			return a / b, true
		}
	}
	return 0, false
}

// text returns the source text of a node.
func text(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

// dedupe drops issues identical in category, line and message. The same
// defect can be reached through more than one check.
func dedupe(issues []issue.ValidationIssue) []issue.ValidationIssue {
	seen := map[string]bool{}
	out := issues[:0]
	for _, is := range issues {
		key := fmt.Sprintf("%s|%d|%s", is.Category, is.Line, is.Message)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, is)
	}
	return out
}
