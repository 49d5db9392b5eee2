// Package view owns the conversation state behind the applet UI: one
// store per device, a paginator per open thread, and the scope guards
// that drop events for views no longer on screen.
package view

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/bus"
	"github.com/connectd/connectd/internal/config"
	"github.com/connectd/connectd/internal/notify"
	"github.com/connectd/connectd/internal/outbox"
	"github.com/connectd/connectd/internal/page"
	"github.com/connectd/connectd/internal/sms"
	"github.com/connectd/connectd/internal/store"
	syncengine "github.com/connectd/connectd/internal/sync"
)

// Loader runs sync protocols against the daemon.
type Loader interface {
	SyncConversationList(ctx context.Context, device string, cached []sms.ConversationSummary) error
	LoadThread(ctx context.Context, device string, threadID int64, start, count int32, older bool) error
}

// Sender dispatches outgoing messages.
type Sender interface {
	Send(ctx context.Context, device string, threadID int64, addresses []string, body string, subID int64) error
}

// ScrollSnap asks the renderer to move the viewport to a relative
// position (0 top, 1 bottom).
type ScrollSnap struct {
	ThreadID  int64
	RelativeY float64
}

// Snapshot is the render-ready view of the current state.
type Snapshot struct {
	Device        string
	Conversations []sms.ConversationSummary
	ThreadID      int64
	Messages      []sms.Message
	Syncing       bool
	LoadingThread bool
	HasMore       bool
}

// Model applies bus events to per-device stores and issues loads. All
// exported methods are safe for concurrent use.
type Model struct {
	log    *zap.Logger
	bus    *bus.Bus
	cfg    config.Sms
	loader Loader
	sender Sender
	seen   *notify.SeenTracker

	mu            sync.Mutex
	stores        map[string]*store.Store
	device        string
	thread        int64
	pager         *page.Paginator
	syncing       bool
	loading       bool
	anchorOffset  float64
	anchorHeight  float64
	cancelSync    context.CancelFunc
	cancelLoading context.CancelFunc
}

// NewModel wires the view model.
func NewModel(log *zap.Logger, b *bus.Bus, cfg config.Sms, loader Loader, sender Sender, seen *notify.SeenTracker) *Model {
	return &Model{
		log:    log.Named("view"),
		bus:    b,
		cfg:    cfg,
		loader: loader,
		sender: sender,
		seen:   seen,
		stores: make(map[string]*store.Store),
	}
}

// Run consumes SMS events until ctx is cancelled.
func (m *Model) Run(ctx context.Context) error {
	events, cancel := m.bus.Subscribe("sms.", 256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-events:
			m.Apply(ctx, evt)
		}
	}
}

// OpenSmsView selects a device and starts a conversation-list sync.
// Cached conversations from an earlier visit render immediately.
func (m *Model) OpenSmsView(ctx context.Context, device string) {
	m.mu.Lock()
	if m.cancelSync != nil {
		m.cancelSync()
	}
	m.device = device
	m.thread = 0
	st := m.storeForLocked(device)
	cached := st.Conversations()
	syncCtx, cancel := context.WithCancel(ctx)
	m.cancelSync = cancel
	m.syncing = true
	m.mu.Unlock()

	go func() {
		if err := m.loader.SyncConversationList(syncCtx, device, cached); err != nil && syncCtx.Err() == nil {
			m.log.Warn("conversation sync failed", zap.String("device", device), zap.Error(err))
		}
	}()
}

// CloseSmsView drops the device scope; in-flight events for it are
// discarded from here on.
func (m *Model) CloseSmsView() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelSync != nil {
		m.cancelSync()
		m.cancelSync = nil
	}
	if m.cancelLoading != nil {
		m.cancelLoading()
		m.cancelLoading = nil
	}
	if st, ok := m.stores[m.device]; ok {
		st.SetCurrent(0)
	}
	m.device = ""
	m.thread = 0
	m.pager = nil
	m.syncing = false
	m.loading = false
}

// OpenConversation pins a thread and loads its first page. Cached
// messages render immediately; the load refreshes them.
func (m *Model) OpenConversation(ctx context.Context, threadID int64) {
	m.mu.Lock()
	if m.device == "" {
		m.mu.Unlock()
		return
	}
	device := m.device
	m.thread = threadID
	m.pager = page.New(m.cfg.PageSize)
	st := m.storeForLocked(device)
	st.SetCurrent(threadID)
	if m.cancelLoading != nil {
		m.cancelLoading()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	m.cancelLoading = cancel
	m.loading = true
	m.mu.Unlock()

	go m.load(loadCtx, device, threadID, 0, int32(m.cfg.PageSize), false)
}

// CloseConversation unpins the thread; its messages stay cached.
func (m *Model) CloseConversation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelLoading != nil {
		m.cancelLoading()
		m.cancelLoading = nil
	}
	if st, ok := m.stores[m.device]; ok {
		st.SetCurrent(0)
	}
	m.thread = 0
	m.pager = nil
	m.loading = false
}

// Scrolled feeds a scroll position; near the top it kicks off an
// older-page load and remembers the geometry for re-anchoring.
func (m *Model) Scrolled(ctx context.Context, offsetY, contentHeight float64) {
	m.mu.Lock()
	if m.pager == nil || m.thread == 0 || !m.pager.ShouldPrefetch(offsetY) {
		m.mu.Unlock()
		return
	}
	if !m.pager.BeginLoad() {
		m.mu.Unlock()
		return
	}
	device, thread := m.device, m.thread
	start, count := m.pager.NextRange()
	m.anchorOffset = offsetY
	m.anchorHeight = contentHeight
	loadCtx, cancel := context.WithCancel(ctx)
	m.cancelLoading = cancel
	m.mu.Unlock()

	go m.load(loadCtx, device, thread, start, count, true)
}

// SendMessage sends to the open thread using its known addresses.
func (m *Model) SendMessage(ctx context.Context, body string) error {
	m.mu.Lock()
	device, thread := m.device, m.thread
	var addresses []string
	if st, ok := m.stores[device]; ok {
		for _, c := range st.Conversations() {
			if c.ThreadID == thread {
				addresses = c.Addresses
				break
			}
		}
	}
	m.mu.Unlock()

	return m.sender.Send(ctx, device, thread, addresses, body, -1)
}

// SendNew sends to a recipient without an open conversation.
func (m *Model) SendNew(ctx context.Context, device, address, body string) error {
	return m.sender.Send(ctx, device, 0, []string{address}, body, -1)
}

func (m *Model) load(ctx context.Context, device string, threadID int64, start, count int32, older bool) {
	if err := m.loader.LoadThread(ctx, device, threadID, start, count, older); err != nil && ctx.Err() == nil {
		m.log.Warn("thread load failed",
			zap.String("device", device),
			zap.Int64("thread", threadID),
			zap.Error(err))
		m.mu.Lock()
		if m.pager != nil && m.thread == threadID {
			m.pager.AbortLoad()
			m.loading = false
		}
		m.mu.Unlock()
	}
}

// Apply folds one bus event into the model. Events outside the
// current device or thread scope are dropped silently.
func (m *Model) Apply(ctx context.Context, evt bus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch p := evt.Payload.(type) {
	case syncengine.SyncStarted:
		if p.Device == m.device {
			m.syncing = true
		}
	case syncengine.SyncComplete:
		if p.Device == m.device {
			m.syncing = false
		}
	case syncengine.ConversationReceived:
		if p.Device != m.device {
			return
		}
		m.storeForLocked(p.Device).UpsertConversation(p.Summary)
	case syncengine.MessagesLoaded:
		if p.Device != m.device || p.ThreadID != m.thread {
			return
		}
		st := m.storeForLocked(p.Device)
		// A refresh with fewer messages than are cached is a partial
		// page (the post-send reload); keep the paginated history.
		if cur, ok := st.Messages(p.ThreadID); ok && len(p.Messages) < len(cur) {
			for _, msg := range p.Messages {
				m.seen.Mark(p.ThreadID, msg.Date)
			}
			m.loading = false
			return
		}
		st.SetMessages(p.ThreadID, p.Messages)
		for _, msg := range p.Messages {
			m.seen.Mark(p.ThreadID, msg.Date)
		}
		if m.pager != nil {
			m.pager.InitialLoaded(len(p.Messages), p.Total)
		}
		m.loading = false
		m.snapLocked(p.ThreadID, 1)
	case syncengine.OlderMessagesLoaded:
		if p.Device != m.device || p.ThreadID != m.thread {
			return
		}
		st := m.storeForLocked(p.Device)
		added := st.PrependOlder(p.ThreadID, p.Messages)
		if m.pager != nil {
			m.pager.CompleteLoad(added, p.Total)
		}
		anchor := page.AnchorAfterPrepend(m.anchorOffset, m.anchorHeight, added)
		m.snapLocked(p.ThreadID, anchor)
	case outbox.MessageSent:
		if p.Device != m.device {
			return
		}
		st := m.storeForLocked(p.Device)
		st.InsertMessage(p.Message)
		st.UpsertConversation(p.Message.Summary())
	case outbox.ReloadRequested:
		if p.Device != m.device || p.ThreadID != m.thread {
			return
		}
		device, thread := p.Device, p.ThreadID
		go m.load(ctx, device, thread, 0, int32(m.cfg.PageSize), false)
	case outbox.SendFailed:
		m.log.Warn("send failed",
			zap.String("device", p.Device),
			zap.Int64("thread", p.ThreadID),
			zap.String("reason", p.Reason))
	}
}

func (m *Model) snapLocked(threadID int64, relativeY float64) {
	m.bus.Publish(bus.Event{
		Kind:      bus.KindScrollSnap,
		Timestamp: time.Now(),
		Payload:   ScrollSnap{ThreadID: threadID, RelativeY: relativeY},
	})
}

func (m *Model) storeForLocked(device string) *store.Store {
	if st, ok := m.stores[device]; ok {
		return st
	}
	st, err := store.New(device, m.cfg.CacheThreads)
	if err != nil {
		// Capacity is validated by config; reaching this means a bug.
		panic(err)
	}
	m.stores[device] = st
	return st
}

// Snapshot returns the current render state.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Device:        m.device,
		ThreadID:      m.thread,
		Syncing:       m.syncing,
		LoadingThread: m.loading,
	}
	if st, ok := m.stores[m.device]; ok {
		snap.Conversations = st.Conversations()
		if m.thread != 0 {
			snap.Messages, _ = st.Messages(m.thread)
		}
	}
	if m.pager != nil {
		snap.HasMore = m.pager.HasMore()
	}
	return snap
}
