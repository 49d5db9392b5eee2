package sync

import (
	"testing"
	"time"

	"github.com/connectd/connectd/internal/sms"
)

func threadMsg(thread int64, uid int32, date int64, body string) *sms.Message {
	return &sms.Message{
		Body:      body,
		Addresses: []string{"5550100"},
		Date:      date,
		Direction: sms.DirectionInbox,
		Read:      true,
		ThreadID:  thread,
		UID:       uid,
		SubID:     -1,
	}
}

func finish(t *testing.T, run *ThreadLoad, now time.Time) Event {
	t.Helper()
	events := run.Tick(now)
	if len(events) != 1 {
		t.Fatalf("Tick() = %d events, want 1 result", len(events))
	}
	return events[0]
}

func TestThreadLoadStreamsThenLoaded(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	run.Observe(threadMsg(7, 2, 200, "b"), now.Add(10*time.Millisecond))
	run.Observe(threadMsg(7, 1, 100, "a"), now.Add(20*time.Millisecond))
	run.Observe(threadMsg(8, 3, 150, "other"), now.Add(30*time.Millisecond))

	run.Loaded(7, 30, now.Add(40*time.Millisecond))

	// Still inside the drain window.
	if got := run.Tick(now.Add(42 * time.Millisecond)); len(got) != 0 {
		t.Fatal("completed inside drain window")
	}
	// A buffered signal arriving during the drain is still absorbed.
	run.Observe(threadMsg(7, 3, 300, "c"), now.Add(43*time.Millisecond))

	result := finish(t, run, now.Add(46*time.Millisecond))
	loaded, ok := result.(MessagesLoaded)
	if !ok {
		t.Fatalf("result = %T, want MessagesLoaded", result)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(loaded.Messages))
	}
	for i, want := range []string{"a", "b", "c"} {
		if loaded.Messages[i].Body != want {
			t.Errorf("message %d = %q, want %q", i, loaded.Messages[i].Body, want)
		}
	}
	if loaded.Total == nil || *loaded.Total != 30 {
		t.Errorf("total = %v, want 30", loaded.Total)
	}
}

func TestThreadLoadLoadedBeforeUpdates(t *testing.T) {
	// The daemon may emit loaded before the buffered updated signals
	// are delivered; the drain window catches them.
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	run.Loaded(7, 2, now)
	run.Observe(threadMsg(7, 1, 100, "a"), now.Add(time.Millisecond))
	run.Observe(threadMsg(7, 2, 200, "b"), now.Add(2*time.Millisecond))

	result := finish(t, run, now.Add(6*time.Millisecond))
	loaded := result.(MessagesLoaded)
	if len(loaded.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(loaded.Messages))
	}
	if loaded.Total == nil || *loaded.Total != 2 {
		t.Errorf("total = %v, want 2", loaded.Total)
	}
}

func TestThreadLoadWrongThreadLoadedIgnored(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	run.Loaded(8, 10, now)
	if run.Done() {
		t.Fatal("loaded for another thread must not finish the run")
	}
	if got := run.Tick(now.Add(10 * time.Millisecond)); len(got) != 0 {
		t.Error("run completed from a foreign loaded signal")
	}
}

func TestThreadLoadTimeoutHasNilTotal(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	run.Observe(threadMsg(7, 1, 100, "a"), now)
	// Keep feeding inside the activity window so only the hard timeout
	// can close the run.
	last := now
	for last.Sub(now) < messageFetchTimeout {
		last = last.Add(400 * time.Millisecond)
		run.Observe(threadMsg(7, 1, 100, "a"), last)
	}

	result := finish(t, run, now.Add(messageFetchTimeout))
	loaded := result.(MessagesLoaded)
	if loaded.Total != nil {
		t.Errorf("total = %d, want nil on timeout", *loaded.Total)
	}
	if len(loaded.Messages) != 1 {
		t.Errorf("got %d messages, want the collected one", len(loaded.Messages))
	}
}

func TestThreadLoadActivityTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	run.Observe(threadMsg(7, 1, 100, "a"), now)
	if got := run.Tick(now.Add(400 * time.Millisecond)); len(got) != 0 {
		t.Fatal("completed before activity window elapsed")
	}
	result := finish(t, run, now.Add(600*time.Millisecond))
	if loaded := result.(MessagesLoaded); len(loaded.Messages) != 1 {
		t.Errorf("got %d messages", len(loaded.Messages))
	}
}

func TestThreadLoadClampsUndercount(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	for uid := int32(1); uid <= 5; uid++ {
		run.Observe(threadMsg(7, uid, int64(uid)*100, "m"), now)
	}
	// A count below the collected size would stop pagination early.
	run.Loaded(7, 2, now)

	result := finish(t, run, now.Add(10*time.Millisecond))
	loaded := result.(MessagesLoaded)
	if loaded.Total == nil || *loaded.Total != 5 {
		t.Errorf("total = %v, want clamped to 5", loaded.Total)
	}
}

func TestThreadLoadDedupsByUID(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)

	run.Observe(threadMsg(7, 1, 100, "first"), now)
	run.Observe(threadMsg(7, 1, 100, "first again"), now)
	run.Observe(threadMsg(7, 1, 150, "edited"), now)

	result := finish(t, run, now.Add(time.Second))
	loaded := result.(MessagesLoaded)
	if len(loaded.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(loaded.Messages))
	}
	if loaded.Messages[0].Body != "edited" {
		t.Errorf("kept %q, want the newer copy", loaded.Messages[0].Body)
	}
}

func TestThreadLoadOlderFlavor(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, true, now)

	run.Observe(threadMsg(7, 1, 100, "a"), now)
	run.Loaded(7, 1, now)

	result := finish(t, run, now.Add(10*time.Millisecond))
	if _, ok := result.(OlderMessagesLoaded); !ok {
		t.Fatalf("result = %T, want OlderMessagesLoaded", result)
	}
}

func TestThreadLoadCancel(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewThreadLoad("d1", 7, false, now)
	run.Cancel()
	if !run.Done() {
		t.Fatal("cancelled load should be done")
	}
	if got := run.Tick(now.Add(time.Minute)); len(got) != 0 {
		t.Errorf("cancelled load emitted %d events", len(got))
	}
}
