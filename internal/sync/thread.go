package sync

import (
	"time"

	"github.com/qmuntal/stateless"

	"github.com/connectd/connectd/internal/sms"
)

const (
	// messageFetchTimeout bounds a thread load end to end.
	messageFetchTimeout = 10 * time.Second

	// drainWindow keeps a load open briefly after conversationLoaded;
	// the daemon may still have message signals in flight.
	drainWindow = 5 * time.Millisecond
)

const (
	threadCollecting = "collecting"
	threadDraining   = "draining"
	threadComplete   = "complete"
)

const (
	threadTriggerLoaded = "loaded"
	threadTriggerFinish = "finish"
	threadTriggerCancel = "cancel"
)

// ThreadLoad is one thread-loading run: collect streamed messages for
// a thread until the daemon announces completion, the stream goes
// quiet, or the deadline passes. Not safe for concurrent use.
type ThreadLoad struct {
	device   string
	threadID int64
	older    bool
	sm       *stateless.StateMachine

	byUID map[int32]sms.Message
	noUID []sms.Message
	total *uint64

	deadline   time.Time
	drainUntil time.Time
	lastData   time.Time
	sawData    bool
}

// NewThreadLoad prepares a load. older marks a pagination request for
// an already-open thread.
func NewThreadLoad(device string, threadID int64, older bool, now time.Time) *ThreadLoad {
	sm := stateless.NewStateMachine(threadCollecting)
	sm.Configure(threadCollecting).
		Permit(threadTriggerLoaded, threadDraining).
		Permit(threadTriggerFinish, threadComplete).
		Permit(threadTriggerCancel, threadComplete)
	sm.Configure(threadDraining).
		Permit(threadTriggerFinish, threadComplete).
		Permit(threadTriggerCancel, threadComplete)
	sm.Configure(threadComplete)

	return &ThreadLoad{
		device:   device,
		threadID: threadID,
		older:    older,
		sm:       sm,
		byUID:    make(map[int32]sms.Message),
		deadline: now.Add(messageFetchTimeout),
	}
}

// ThreadID returns the thread this load collects.
func (t *ThreadLoad) ThreadID() int64 { return t.threadID }

// Done reports whether the load has finished.
func (t *ThreadLoad) Done() bool { return t.sm.MustState() == threadComplete }

// Observe feeds one streamed message. Messages of other threads are
// ignored, duplicates collapse on UID.
func (t *ThreadLoad) Observe(msg *sms.Message, now time.Time) {
	if t.Done() || msg.ThreadID != t.threadID {
		return
	}
	t.sawData = true
	t.lastData = now

	if msg.UID == 0 {
		t.noUID = append(t.noUID, *msg)
		return
	}
	if cur, ok := t.byUID[msg.UID]; ok && msg.Date <= cur.Date {
		return
	}
	t.byUID[msg.UID] = *msg
}

// Loaded handles the daemon's conversationLoaded announcement and
// switches to the drain window. A count below what was already
// collected is clamped up so pagination never stops early.
func (t *ThreadLoad) Loaded(threadID int64, count uint64, now time.Time) {
	if threadID != t.threadID {
		return
	}
	if err := t.sm.Fire(threadTriggerLoaded); err != nil {
		return
	}
	if collected := uint64(t.collectedCount()); count < collected {
		count = collected
	}
	t.total = &count
	t.drainUntil = now.Add(drainWindow)
}

// Tick advances the clock. Returns the load result event when the run
// just finished, nil otherwise.
func (t *ThreadLoad) Tick(now time.Time) []Event {
	switch t.sm.MustState() {
	case threadCollecting:
		quiet := t.sawData && now.Sub(t.lastData) >= activityWindow
		if !quiet && now.Before(t.deadline) {
			return nil
		}
	case threadDraining:
		if now.Before(t.drainUntil) && now.Before(t.deadline) {
			return nil
		}
	default:
		return nil
	}

	if err := t.sm.Fire(threadTriggerFinish); err != nil {
		return nil
	}
	return []Event{t.result()}
}

// Cancel aborts the load without a result.
func (t *ThreadLoad) Cancel() {
	_ = t.sm.Fire(threadTriggerCancel)
}

func (t *ThreadLoad) collectedCount() int {
	return len(t.byUID) + len(t.noUID)
}

func (t *ThreadLoad) collect() []sms.Message {
	msgs := make([]sms.Message, 0, t.collectedCount())
	for _, m := range t.byUID {
		msgs = append(msgs, m)
	}
	msgs = append(msgs, t.noUID...)
	sms.SortMessages(msgs)
	return msgs
}

func (t *ThreadLoad) result() Event {
	msgs := t.collect()
	total := t.total
	if total != nil && *total < uint64(len(msgs)) {
		clamped := uint64(len(msgs))
		total = &clamped
	}
	if t.older {
		return OlderMessagesLoaded{Device: t.device, ThreadID: t.threadID, Messages: msgs, Total: total}
	}
	return MessagesLoaded{Device: t.device, ThreadID: t.threadID, Messages: msgs, Total: total}
}
