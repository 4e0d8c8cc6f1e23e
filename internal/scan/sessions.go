package scan

import "sync"

// Sessions tracks one recorder per authenticated operator. A recorder is
// created on first use and dropped at logout, which is what clears the
// session history.
type Sessions struct {
	mu     sync.Mutex
	active map[string]*Recorder
	newRec func(op Operator) *Recorder
}

// NewSessions creates a registry; newRec builds a fresh recorder for an
// operator starting a session.
func NewSessions(newRec func(op Operator) *Recorder) *Sessions {
	return &Sessions{active: make(map[string]*Recorder), newRec: newRec}
}

// Get returns the operator's recorder, creating one if the session is new.
func (s *Sessions) Get(op Operator) *Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.active[op.ID]; ok {
		return rec
	}
	rec := s.newRec(op)
	s.active[op.ID] = rec
	return rec
}

// End drops the operator's session and with it the history ledger.
func (s *Sessions) End(operatorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, operatorID)
}
