package notify

import "sync"

// SeenTracker records the newest message date observed per thread for
// the life of the process. It keeps re-emitted history from notifying
// twice and survives device switches.
type SeenTracker struct {
	mu   sync.Mutex
	seen map[int64]int64
}

// NewSeenTracker creates an empty tracker.
func NewSeenTracker() *SeenTracker {
	return &SeenTracker{seen: make(map[int64]int64)}
}

// Accept reports whether a message date advances the thread's
// watermark, recording it when it does. Dates at or below the
// watermark are rejected.
func (s *SeenTracker) Accept(threadID, date int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if date <= s.seen[threadID] {
		return false
	}
	s.seen[threadID] = date
	return true
}

// Mark raises the watermark without the accept check, as when a
// thread's history is loaded into view.
func (s *SeenTracker) Mark(threadID, date int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if date > s.seen[threadID] {
		s.seen[threadID] = date
	}
}

// Last returns the current watermark for a thread, 0 when unseen.
func (s *SeenTracker) Last(threadID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[threadID]
}
