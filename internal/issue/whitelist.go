package issue

// Whitelist memoizes uncertain issues that the verifier confirmed harmless.
// It lives for exactly one refinement session: the refiner resets it before
// touching a new artifact so that a false positive learned on one scene can
// never suppress a real defect in another. No persistence, no expiry.
//
// A session is single-threaded, so no locking here.
type Whitelist struct {
	entries map[string]string // whitelist key -> short description
}

// NewWhitelist returns an empty whitelist.
func NewWhitelist() *Whitelist {
	return &Whitelist{entries: make(map[string]string)}
}

// Reset discards all entries. Must be called at the start of every session.
func (w *Whitelist) Reset() {
	w.entries = make(map[string]string)
}

// Add records an issue as a confirmed false positive.
func (w *Whitelist) Add(is ValidationIssue) {
	w.entries[is.WhitelistKey()] = is.Message
}

// AddAll records a batch of confirmed false positives.
func (w *Whitelist) AddAll(issues []ValidationIssue) {
	for _, is := range issues {
		w.Add(is)
	}
}

// IsWhitelisted reports whether an issue matches a known false positive.
// Matching is by whitelist key, so line numbers and timestamps are ignored.
func (w *Whitelist) IsWhitelisted(is ValidationIssue) bool {
	_, ok := w.entries[is.WhitelistKey()]
	return ok
}

// Len returns the number of memoized false positives.
func (w *Whitelist) Len() int {
	return len(w.entries)
}

// FilterUncertain splits issues into those that still need verification and
// those already confirmed harmless this session. Certain issues are not the
// whitelist's business and are returned in needVerification untouched by
// callers that pre-partition; this method only consults the memo.
func (w *Whitelist) FilterUncertain(issues []ValidationIssue) (needVerification, alreadyWhitelisted []ValidationIssue) {
	for _, is := range issues {
		if w.IsWhitelisted(is) {
			alreadyWhitelisted = append(alreadyWhitelisted, is)
		} else {
			needVerification = append(needVerification, is)
		}
	}
	return needVerification, alreadyWhitelisted
}
