// Package store keeps the in-memory conversation state for one device:
// the ordered conversation list and an LRU cache of loaded threads.
package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/connectd/connectd/internal/sms"
)

// MaxConversations caps the conversation list; the applet only ever
// shows the most recent threads.
const MaxConversations = 20

// Store is the per-device conversation state. All methods are safe for
// concurrent use.
type Store struct {
	mu            sync.Mutex
	device        string
	conversations []sms.ConversationSummary
	cache         *lru.Cache[int64, []sms.Message]
	current       int64
}

// New creates a store for a device with room for cacheThreads loaded
// threads. The floor is two: one slot for the pinned thread, one for
// everything else, so pinning can never be starved out.
func New(device string, cacheThreads int) (*Store, error) {
	if cacheThreads < 2 {
		cacheThreads = 2
	}
	cache, err := lru.New[int64, []sms.Message](cacheThreads)
	if err != nil {
		return nil, err
	}
	return &Store{device: device, cache: cache}, nil
}

// Device returns the device ID this store belongs to.
func (s *Store) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// UpsertConversation merges a summary into the list. A stale summary
// (older timestamp than the stored one for the same thread) is ignored.
// Returns whether the list changed.
func (s *Store) UpsertConversation(summary sms.ConversationSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cur := range s.conversations {
		if cur.ThreadID != summary.ThreadID {
			continue
		}
		if summary.Timestamp < cur.Timestamp {
			return false
		}
		if summary.Timestamp == cur.Timestamp &&
			summary.LastMessage == cur.LastMessage &&
			summary.Unread == cur.Unread {
			return false
		}
		s.conversations[i] = summary
		s.resortLocked()
		return true
	}

	s.conversations = append(s.conversations, summary)
	s.resortLocked()
	return true
}

// ReplaceConversations swaps in a full snapshot, already deduplicated
// per thread.
func (s *Store) ReplaceConversations(summaries []sms.ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]sms.ConversationSummary(nil), summaries...)
	s.resortLocked()
}

// Conversations returns a copy of the ordered list.
func (s *Store) Conversations() []sms.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sms.ConversationSummary(nil), s.conversations...)
}

func (s *Store) resortLocked() {
	sms.SortSummaries(s.conversations)
	if len(s.conversations) > MaxConversations {
		s.conversations = s.conversations[:MaxConversations]
	}
}

// SetCurrent pins a thread: the viewed thread is never the eviction
// victim. Pass 0 to unpin.
func (s *Store) SetCurrent(threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = threadID
	if threadID != 0 {
		s.cache.Get(threadID)
	}
}

// Current returns the pinned thread ID, 0 when none.
func (s *Store) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetMessages replaces the cached messages of a thread.
func (s *Store) SetMessages(threadID int64, msgs []sms.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(threadID, append([]sms.Message(nil), msgs...))
}

// addLocked inserts into the LRU, touching the pinned thread first so
// eviction falls on an unviewed one.
func (s *Store) addLocked(threadID int64, msgs []sms.Message) {
	if s.current != 0 && s.current != threadID {
		s.cache.Get(s.current)
	}
	s.cache.Add(threadID, msgs)
}

// Messages returns the cached messages of a thread, marking it
// recently used.
func (s *Store) Messages(threadID int64) ([]sms.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.cache.Get(threadID)
	if !ok {
		return nil, false
	}
	return append([]sms.Message(nil), msgs...), true
}

// InsertMessage adds a single message to a cached thread, keeping date
// order. Messages with a known UID are deduplicated; the strictly newer
// copy wins. Returns whether the cache changed. A miss on the thread is
// not an error, the thread is simply not cached.
func (s *Store) InsertMessage(msg sms.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.cache.Peek(msg.ThreadID)
	if !ok {
		return false
	}

	if msg.UID != 0 {
		for i, cur := range msgs {
			if cur.UID != msg.UID {
				continue
			}
			if msg.Date <= cur.Date && msg.Body == cur.Body && msg.Read == cur.Read {
				return false
			}
			updated := append([]sms.Message(nil), msgs...)
			updated[i] = msg
			sms.SortMessages(updated)
			s.addLocked(msg.ThreadID, updated)
			return true
		}
	}

	updated := append(append([]sms.Message(nil), msgs...), msg)
	sms.SortMessages(updated)
	s.addLocked(msg.ThreadID, updated)
	return true
}

// PrependOlder merges an older page into a cached thread. Messages
// whose UID is already present are skipped. Returns how many messages
// were actually added.
func (s *Store) PrependOlder(threadID int64, older []sms.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.cache.Peek(threadID)
	if !ok {
		s.addLocked(threadID, append([]sms.Message(nil), older...))
		return len(older)
	}

	seen := make(map[int32]bool, len(msgs))
	for _, m := range msgs {
		if m.UID != 0 {
			seen[m.UID] = true
		}
	}

	added := 0
	updated := append([]sms.Message(nil), msgs...)
	for _, m := range older {
		if m.UID != 0 && seen[m.UID] {
			continue
		}
		updated = append(updated, m)
		added++
	}
	if added == 0 {
		return 0
	}
	sms.SortMessages(updated)
	s.addLocked(threadID, updated)
	return added
}

// DropThread removes a thread from the cache.
func (s *Store) DropThread(threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(threadID)
}

// CachedThreads returns how many threads are currently cached.
func (s *Store) CachedThreads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
