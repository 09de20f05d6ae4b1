package issue

// ValidationResult is the outcome of one validator pass over an artifact.
// Valid is false iff any CRITICAL issue is present. Partition views are
// computed on demand; only the ordered issue list is stored.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Issues    []ValidationIssue `json:"issues"`
	RawOutput string            `json:"raw_output,omitempty"`
}

// NewResult builds a result from an issue list, deriving Valid.
func NewResult(issues []ValidationIssue) ValidationResult {
	r := ValidationResult{Valid: true, Issues: issues}
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			r.Valid = false
			break
		}
	}
	return r
}

// Critical returns the CRITICAL issues in order.
func (r ValidationResult) Critical() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			out = append(out, is)
		}
	}
	return out
}

// Spatial returns issues in the four spatial categories.
func (r ValidationResult) Spatial() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.IsSpatial() {
			out = append(out, is)
		}
	}
	return out
}

// NonSpatial returns everything outside the spatial categories.
func (r ValidationResult) NonSpatial() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if !is.IsSpatial() {
			out = append(out, is)
		}
	}
	return out
}

// OnlyUncertainRemain reports whether every issue in the result is an
// uncertain spatial/visual finding. The refiner uses this to decide that an
// exhausted session is still good enough to render.
func (r ValidationResult) OnlyUncertainRemain() bool {
	if len(r.Issues) == 0 {
		return false
	}
	for _, is := range r.Issues {
		if !is.IsUncertain() {
			return false
		}
	}
	return true
}

// Merge appends the other result's issues and recomputes Valid.
func (r ValidationResult) Merge(other ValidationResult) ValidationResult {
	merged := make([]ValidationIssue, 0, len(r.Issues)+len(other.Issues))
	merged = append(merged, r.Issues...)
	merged = append(merged, other.Issues...)
	out := NewResult(merged)
	out.RawOutput = r.RawOutput
	if out.RawOutput == "" {
		out.RawOutput = other.RawOutput
	}
	return out
}
