// Package sync implements the conversation synchronization engine:
// the conversation-list sync and thread-load state machines plus the
// service that drives them against the KDE Connect daemon.
package sync

import "github.com/connectd/connectd/internal/sms"

// Event is one observable outcome of a machine step. Concrete types
// below; the service maps them onto bus publications.
type Event any

// SyncStarted opens a conversation-list sync run.
type SyncStarted struct {
	Device string
	RunID  string
}

// ConversationReceived carries one new-or-updated conversation
// summary. Cached summaries are delivered before any live one.
type ConversationReceived struct {
	Device  string
	Summary sms.ConversationSummary
	Cached  bool
}

// SyncComplete closes a list sync run. Emitted exactly once per run.
type SyncComplete struct {
	Device string
	RunID  string
}

// LoadStarted opens a thread load.
type LoadStarted struct {
	Device   string
	ThreadID int64
}

// MessagesLoaded delivers a fully collected thread page, sorted by
// date ascending. Total is nil when the daemon never reported a count
// before the deadline.
type MessagesLoaded struct {
	Device   string
	ThreadID int64
	Messages []sms.Message
	Total    *uint64
}

// OlderMessagesLoaded delivers an older page for an already-open
// thread.
type OlderMessagesLoaded struct {
	Device   string
	ThreadID int64
	Messages []sms.Message
	Total    *uint64
}
