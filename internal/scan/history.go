package scan

import "sync"

// DefaultHistoryCap matches the fifty most recent scans kept per session.
const DefaultHistoryCap = 50

// History is the append-only session ledger of results, newest first,
// bounded to a cap. It lives in memory only and dies with the session.
type History struct {
	mu    sync.Mutex
	cap   int
	items []Result
}

// NewHistory creates an empty ledger holding at most cap results.
func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &History{cap: cap}
}

// Push prepends a result, evicting the oldest entry past the cap.
func (h *History) Push(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append([]Result{r}, h.items...)
	if len(h.items) > h.cap {
		h.items = h.items[:h.cap]
	}
}

// Recent returns a copy of the ledger, newest first.
func (h *History) Recent() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Result, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of recorded results.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}
