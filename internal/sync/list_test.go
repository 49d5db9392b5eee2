package sync

import (
	"testing"
	"time"

	"github.com/connectd/connectd/internal/sms"
)

func listMsg(thread int64, uid int32, date int64, body string) *sms.Message {
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

func drainTo(t *testing.T, events []Event, complete *int, received *[]ConversationReceived) {
	t.Helper()
	for _, e := range events {
		switch ev := e.(type) {
		case SyncComplete:
			*complete++
		case ConversationReceived:
			*received = append(*received, ev)
		}
	}
}

func TestListSyncColdOpen(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewListSync("d1", nil, now)

	var received []ConversationReceived
	completes := 0

	drainTo(t, run.Start(), &completes, &received)
	drainTo(t, run.Seed(nil), &completes, &received)

	events := run.Listen()
	if len(events) != 1 {
		t.Fatalf("Listen() = %d events, want SyncStarted only", len(events))
	}
	if _, ok := events[0].(SyncStarted); !ok {
		t.Fatalf("Listen() emitted %T", events[0])
	}

	// Three updates inside 300 ms, two for the same thread.
	drainTo(t, run.Observe(listMsg(100, 1, 1000, "hi"), now.Add(100*time.Millisecond)), &completes, &received)
	drainTo(t, run.Observe(listMsg(100, 2, 1500, "ok"), now.Add(200*time.Millisecond)), &completes, &received)
	drainTo(t, run.Observe(listMsg(200, 3, 1200, "hello"), now.Add(300*time.Millisecond)), &completes, &received)

	// Quiet before the activity window elapses: no completion yet.
	drainTo(t, run.Tick(now.Add(700*time.Millisecond)), &completes, &received)
	if completes != 0 {
		t.Fatal("completed before activity window elapsed")
	}

	// 500 ms of silence after the last data closes the run.
	drainTo(t, run.Tick(now.Add(850*time.Millisecond)), &completes, &received)
	if completes != 1 {
		t.Fatalf("completes = %d, want 1", completes)
	}
	if !run.Done() {
		t.Fatal("run should be done")
	}

	if len(received) != 3 {
		t.Fatalf("received %d summaries, want 3", len(received))
	}
	last := received[len(received)-1]
	if last.Summary.ThreadID != 200 || last.Summary.LastMessage != "hello" {
		t.Errorf("last summary = %+v", last.Summary)
	}

	// Further ticks never emit a second completion.
	drainTo(t, run.Tick(now.Add(5*time.Second)), &completes, &received)
	if completes != 1 {
		t.Errorf("completes = %d after extra tick, want 1", completes)
	}
}

func TestListSyncLoadedProgressExtendsRun(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewListSync("d1", nil, now)
	run.Start()
	run.Seed(nil)
	run.Listen()

	run.Observe(listMsg(1, 1, 1000, "hi"), now)

	// conversationLoaded progress inside the window keeps the run open
	// past the original activity deadline.
	run.Progress(now.Add(400 * time.Millisecond))
	if got := run.Tick(now.Add(700 * time.Millisecond)); len(got) != 0 {
		t.Fatal("run closed despite loaded progress")
	}

	// Silence after the last progress bump closes it.
	got := run.Tick(now.Add(950 * time.Millisecond))
	if len(got) != 1 {
		t.Fatalf("Tick() = %d events, want SyncComplete", len(got))
	}
	if _, ok := got[0].(SyncComplete); !ok {
		t.Fatalf("got %T, want SyncComplete", got[0])
	}
}

func TestListSyncCachedReplayPrecedesSignals(t *testing.T) {
	now := time.Unix(0, 0)
	cached := []sms.ConversationSummary{
		{ThreadID: 1, Addresses: []string{"5550100"}, LastMessage: "cached", Timestamp: 900},
	}
	run := NewListSync("d1", cached, now)

	events := run.Start()
	if len(events) != 1 {
		t.Fatalf("Start() = %d events, want 1 cached summary", len(events))
	}
	cr, ok := events[0].(ConversationReceived)
	if !ok || !cr.Cached {
		t.Fatalf("Start() emitted %+v, want cached summary", events[0])
	}

	run.Listen()

	// The live echo of the cached summary is swallowed.
	if got := run.Observe(listMsg(1, 1, 900, "cached"), now); len(got) != 0 {
		t.Errorf("unchanged echo emitted %d events", len(got))
	}
	// A fresher message for the same thread passes.
	if got := run.Observe(listMsg(1, 2, 1000, "newer"), now); len(got) != 1 {
		t.Errorf("fresher summary emitted %d events, want 1", len(got))
	}
}

func TestListSyncSeedDedupsAgainstCache(t *testing.T) {
	now := time.Unix(0, 0)
	cached := []sms.ConversationSummary{
		{ThreadID: 1, Addresses: []string{"5550100"}, LastMessage: "same", Timestamp: 500},
	}
	run := NewListSync("d1", cached, now)
	run.Start()

	snapshot := []sms.ConversationSummary{
		{ThreadID: 1, Addresses: []string{"5550100"}, LastMessage: "same", Timestamp: 500},
		{ThreadID: 2, Addresses: []string{"5550101"}, LastMessage: "new", Timestamp: 600},
	}
	events := run.Seed(snapshot)
	if len(events) != 1 {
		t.Fatalf("Seed() = %d events, want only the unseen thread", len(events))
	}
	if cr := events[0].(ConversationReceived); cr.Summary.ThreadID != 2 {
		t.Errorf("seeded thread = %d, want 2", cr.Summary.ThreadID)
	}
}

func TestListSyncHardTimeoutWithoutData(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewListSync("d1", nil, now)
	run.Start()
	run.Listen()

	if got := run.Tick(now.Add(19 * time.Second)); len(got) != 0 {
		t.Fatal("completed before hard timeout")
	}
	got := run.Tick(now.Add(20 * time.Second))
	if len(got) != 1 {
		t.Fatalf("Tick at deadline = %d events, want SyncComplete", len(got))
	}
	if _, ok := got[0].(SyncComplete); !ok {
		t.Fatalf("got %T, want SyncComplete", got[0])
	}
}

func TestListSyncShortDeadlineWithCache(t *testing.T) {
	now := time.Unix(0, 0)
	cached := []sms.ConversationSummary{
		{ThreadID: 1, Addresses: []string{"5550100"}, LastMessage: "m", Timestamp: 100},
	}
	run := NewListSync("d1", cached, now)
	run.Start()
	run.Listen()

	if got := run.Tick(now.Add(3 * time.Second)); len(got) != 1 {
		t.Fatalf("cached run should close at the short deadline, got %d events", len(got))
	}
}

func TestListSyncCancelEmitsNothing(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewListSync("d1", nil, now)
	run.Start()
	run.Listen()
	run.Cancel()

	if !run.Done() {
		t.Fatal("cancelled run should be done")
	}
	if got := run.Tick(now.Add(time.Minute)); len(got) != 0 {
		t.Errorf("cancelled run emitted %d events", len(got))
	}
	if got := run.Observe(listMsg(1, 1, 100, "late"), now); len(got) != 0 {
		t.Errorf("cancelled run observed %d events", len(got))
	}
}

func TestListSyncStaleSummarySwallowed(t *testing.T) {
	now := time.Unix(0, 0)
	run := NewListSync("d1", nil, now)
	run.Start()
	run.Listen()

	run.Observe(listMsg(1, 2, 2000, "new"), now)
	if got := run.Observe(listMsg(1, 1, 1000, "old"), now); len(got) != 0 {
		t.Errorf("stale summary emitted %d events", len(got))
	}
}
