package types

// History is the full, append-only conversation: an ordered sequence of
// Contents. Invariant: every FunctionCall part must, before the next user
// Content completes, be paired by id with exactly one FunctionResponse part
// appearing no earlier in the sequence than the call. No orphan calls cross
// user-turn boundaries.
type History struct {
	contents []Content
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{}
}

// Append adds a Content to the end of the history. History is append-only;
// callers must never mutate a Content once appended.
func (h *History) Append(c Content) {
	h.contents = append(h.contents, c)
}

// Contents returns the full sequence. The returned slice is owned by the
// caller's read; callers must not mutate it in place.
func (h *History) Contents() []Content {
	return h.contents
}

// Len returns the number of Contents.
func (h *History) Len() int {
	return len(h.contents)
}

// Replace atomically swaps the full content sequence, used by the
// HistoryCompressor to substitute a summarized prefix.
func (h *History) Replace(contents []Content) {
	h.contents = contents
}

// Clone returns an independent copy of the history, safe to hand to a
// Turn so the Turn never mutates the Client's committed history directly.
func (h *History) Clone() *History {
	out := make([]Content, len(h.contents))
	copy(out, h.contents)
	return &History{contents: out}
}

// UnresolvedCalls returns the ids of FunctionCall parts that have not yet
// been paired with a FunctionResponse anywhere later in the sequence.
// Used by the HistoryCompressor to avoid splitting a call/response pair
// across the summarized/unsummarized boundary.
func (h *History) UnresolvedCalls() map[string]bool {
	pending := make(map[string]bool)
	for _, c := range h.contents {
		for _, call := range c.FunctionCalls() {
			pending[call.ID] = true
		}
		for _, resp := range c.FunctionResponses() {
			delete(pending, resp.ID)
		}
	}
	return pending
}

// Validate checks the call/response pairing invariant across the full
// history: every FunctionCall id has exactly one FunctionResponse with a
// matching id appearing at or after it.
func (h *History) Validate() error {
	seenCalls := make(map[string]int)
	seenResponses := make(map[string]int)
	for i, c := range h.contents {
		for _, call := range c.FunctionCalls() {
			if _, dup := seenCalls[call.ID]; dup {
				return &DuplicateCallError{ID: call.ID}
			}
			seenCalls[call.ID] = i
		}
		for _, resp := range c.FunctionResponses() {
			if _, dup := seenResponses[resp.ID]; dup {
				return &DuplicateResponseError{ID: resp.ID}
			}
			seenResponses[resp.ID] = i
		}
	}
	for id, callIdx := range seenCalls {
		respIdx, ok := seenResponses[id]
		if !ok {
			return &UnpairedCallError{ID: id}
		}
		if respIdx < callIdx {
			return &OutOfOrderResponseError{ID: id}
		}
	}
	return nil
}

// DuplicateCallError indicates the same FunctionCall id appeared twice.
type DuplicateCallError struct{ ID string }

func (e *DuplicateCallError) Error() string { return "duplicate function call id: " + e.ID }

// DuplicateResponseError indicates the same FunctionResponse id appeared twice.
type DuplicateResponseError struct{ ID string }

func (e *DuplicateResponseError) Error() string { return "duplicate function response id: " + e.ID }

// UnpairedCallError indicates a FunctionCall has no matching FunctionResponse.
type UnpairedCallError struct{ ID string }

func (e *UnpairedCallError) Error() string { return "unpaired function call id: " + e.ID }

// OutOfOrderResponseError indicates a FunctionResponse appeared before its call.
type OutOfOrderResponseError struct{ ID string }

func (e *OutOfOrderResponseError) Error() string {
	return "function response appeared before its call: " + e.ID
}
