package sync

import (
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/connectd/connectd/internal/sms"
)

const (
	// listTimeout bounds a full list sync; with cached conversations on
	// screen the run is cut short, the cache already covers the view.
	listTimeout       = 20 * time.Second
	listTimeoutCached = 3 * time.Second

	// activityWindow closes a run once the daemon has gone quiet after
	// delivering data.
	activityWindow = 500 * time.Millisecond

	// TickInterval is how often drivers should call Tick.
	TickInterval = 50 * time.Millisecond
)

const (
	listInit           = "init"
	listEmittingCached = "emitting_cached"
	listListening      = "listening"
	listComplete       = "complete"
)

const (
	listTriggerStart   = "start"
	listTriggerFlushed = "flushed"
	listTriggerFinish  = "finish"
	listTriggerCancel  = "cancel"
)

// ListSync is one conversation-list sync run for one device. Cached
// summaries are emitted before anything the daemon sends; completion
// is emitted exactly once, on quiescence or timeout. Not safe for
// concurrent use; the service serializes access.
type ListSync struct {
	device string
	runID  string
	sm     *stateless.StateMachine

	cached []sms.ConversationSummary
	latest map[int64]sms.ConversationSummary

	deadline time.Time
	lastData time.Time
	sawData  bool
}

// NewListSync prepares a run. The cached snapshot may be empty; when
// it is not, the run uses the short deadline.
func NewListSync(device string, cached []sms.ConversationSummary, now time.Time) *ListSync {
	sm := stateless.NewStateMachine(listInit)
	sm.Configure(listInit).
		Permit(listTriggerStart, listEmittingCached).
		Permit(listTriggerCancel, listComplete)
	sm.Configure(listEmittingCached).
		Permit(listTriggerFlushed, listListening).
		Permit(listTriggerCancel, listComplete)
	sm.Configure(listListening).
		Permit(listTriggerFinish, listComplete).
		Permit(listTriggerCancel, listComplete)
	sm.Configure(listComplete)

	deadline := now.Add(listTimeout)
	if len(cached) > 0 {
		deadline = now.Add(listTimeoutCached)
	}

	return &ListSync{
		device:   device,
		runID:    uuid.NewString(),
		sm:       sm,
		cached:   cached,
		latest:   make(map[int64]sms.ConversationSummary),
		deadline: deadline,
	}
}

// RunID identifies the run in logs and events.
func (l *ListSync) RunID() string { return l.runID }

// Done reports whether the run has finished.
func (l *ListSync) Done() bool { return l.sm.MustState() == listComplete }

// Start opens the run by replaying every cached summary, newest
// first. SyncStarted follows from Listen once the snapshot is in.
func (l *ListSync) Start() []Event {
	if err := l.sm.Fire(listTriggerStart); err != nil {
		return nil
	}

	events := make([]Event, 0, len(l.cached))
	for _, summary := range l.cached {
		l.latest[summary.ThreadID] = summary
		events = append(events, ConversationReceived{Device: l.device, Summary: summary, Cached: true})
	}
	return events
}

// Seed feeds the activeConversations snapshot, emitting whatever the
// cache replay did not already cover.
func (l *ListSync) Seed(summaries []sms.ConversationSummary) []Event {
	if l.sm.MustState() != listEmittingCached {
		return nil
	}
	var events []Event
	for _, summary := range summaries {
		if !l.fresher(summary) {
			continue
		}
		l.latest[summary.ThreadID] = summary
		events = append(events, ConversationReceived{Device: l.device, Summary: summary})
	}
	return events
}

// Listen moves the run to live signals and announces it.
func (l *ListSync) Listen() []Event {
	if err := l.sm.Fire(listTriggerFlushed); err != nil {
		return nil
	}
	return []Event{SyncStarted{Device: l.device, RunID: l.runID}}
}

// Observe feeds one conversationCreated or conversationUpdated message
// into the run. Stale and unchanged summaries are swallowed.
func (l *ListSync) Observe(msg *sms.Message, now time.Time) []Event {
	if l.sm.MustState() != listListening {
		return nil
	}

	l.sawData = true
	l.lastData = now

	summary := msg.Summary()
	if !l.fresher(summary) {
		return nil
	}
	l.latest[summary.ThreadID] = summary
	return []Event{ConversationReceived{Device: l.device, Summary: summary}}
}

// Progress records daemon activity that carries no summary, such as a
// conversationLoaded announcement mid-sync. Resets the activity window
// without emitting anything.
func (l *ListSync) Progress(now time.Time) {
	if l.sm.MustState() != listListening {
		return
	}
	l.sawData = true
	l.lastData = now
}

// fresher reports whether a summary adds anything over what was
// already emitted for its thread.
func (l *ListSync) fresher(summary sms.ConversationSummary) bool {
	cur, ok := l.latest[summary.ThreadID]
	if !ok {
		return true
	}
	if summary.Timestamp < cur.Timestamp {
		return false
	}
	return summary.Timestamp != cur.Timestamp ||
		summary.LastMessage != cur.LastMessage ||
		summary.Unread != cur.Unread
}

// Tick advances the clock. Returns the SyncComplete event when the run
// just finished.
func (l *ListSync) Tick(now time.Time) []Event {
	if l.sm.MustState() != listListening {
		return nil
	}

	quiet := l.sawData && now.Sub(l.lastData) >= activityWindow
	if !quiet && now.Before(l.deadline) {
		return nil
	}
	if err := l.sm.Fire(listTriggerFinish); err != nil {
		return nil
	}
	return []Event{SyncComplete{Device: l.device, RunID: l.runID}}
}

// Cancel aborts the run without a completion event, as on device
// switch.
func (l *ListSync) Cancel() {
	_ = l.sm.Fire(listTriggerCancel)
}
