package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/bus"
	"github.com/connectd/connectd/internal/kdebus"
	"github.com/connectd/connectd/internal/sms"
)

const (
	fallbackPollInterval = 500 * time.Millisecond
	fallbackPollAttempts = 5
)

// ErrStreamEnded reports a signal subscription that closed mid-run,
// usually a bus disconnect.
var ErrStreamEnded = errors.New("sync: signal stream ended")

// Caller is the slice of the bus adapter the engine needs.
type Caller interface {
	Subscribe(iface, member string) (<-chan kdebus.Signal, func(), error)
	Invoke(ctx context.Context, path, iface, method string, args ...any) ([]any, error)
}

// Service runs sync protocols against the daemon and publishes their
// events on the process bus.
type Service struct {
	log *zap.Logger
	bus *bus.Bus
	kde Caller
	now func() time.Time
}

// NewService wires the engine to the adapter and the event bus.
func NewService(log *zap.Logger, b *bus.Bus, kde Caller) *Service {
	return &Service{
		log: log.Named("sync"),
		bus: b,
		kde: kde,
		now: time.Now,
	}
}

// SyncConversationList runs one conversation-list sync for a device.
// cached is the already-known list, replayed before anything live.
// Blocks until the run completes or ctx is cancelled.
func (s *Service) SyncConversationList(ctx context.Context, device string, cached []sms.ConversationSummary) error {
	created, cancelCreated, err := s.kde.Subscribe(kdebus.ConversationsInterface, "conversationCreated")
	if err != nil {
		return err
	}
	defer cancelCreated()
	updated, cancelUpdated, err := s.kde.Subscribe(kdebus.ConversationsInterface, "conversationUpdated")
	if err != nil {
		return err
	}
	defer cancelUpdated()
	loaded, cancelLoaded, err := s.kde.Subscribe(kdebus.ConversationsInterface, "conversationLoaded")
	if err != nil {
		return err
	}
	defer cancelLoaded()

	run := NewListSync(device, cached, s.now())
	s.log.Info("conversation list sync started",
		zap.String("device", device),
		zap.String("run", run.RunID()),
		zap.Int("cached", len(cached)))
	s.publish(run.Start())

	// Snapshot first; stale is fine, signals refresh it.
	if body, err := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface, "activeConversations"); err != nil {
		s.log.Warn("activeConversations failed", zap.String("device", device), zap.Error(err))
	} else if len(body) > 0 {
		if values, ok := body[0].([]any); ok {
			s.publish(run.Seed(sms.ParseConversations(values)))
		}
	}

	if _, err := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface, "requestAllConversationThreads"); err != nil {
		s.log.Warn("requestAllConversationThreads failed", zap.String("device", device), zap.Error(err))
	}
	s.publish(run.Listen())

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for !run.Done() {
		select {
		case <-ctx.Done():
			run.Cancel()
			return ctx.Err()
		case sig, ok := <-created:
			if !ok {
				run.Cancel()
				return ErrStreamEnded
			}
			s.observeList(run, device, sig)
		case sig, ok := <-updated:
			if !ok {
				run.Cancel()
				return ErrStreamEnded
			}
			s.observeList(run, device, sig)
		case sig, ok := <-loaded:
			if !ok {
				run.Cancel()
				return ErrStreamEnded
			}
			// Carries no summary but proves the daemon is still working
			// through threads; keeps a slow sync from timing out.
			if kdebus.DeviceIDFromPath(sig.Path) == device {
				run.Progress(s.now())
			}
		case <-ticker.C:
			s.publish(run.Tick(s.now()))
		}
	}

	s.log.Info("conversation list sync complete",
		zap.String("device", device),
		zap.String("run", run.RunID()))
	return nil
}

func (s *Service) observeList(run *ListSync, device string, sig kdebus.Signal) {
	if kdebus.DeviceIDFromPath(sig.Path) != device || len(sig.Body) == 0 {
		return
	}
	msg, err := sms.ParseMessage(sig.Body[0])
	if err != nil {
		s.log.Debug("unparseable conversation signal", zap.Error(err))
		return
	}
	s.publish(run.Observe(msg, s.now()))
}

// LoadThread loads one page of a thread. start and count select the
// message range; older marks a pagination request. Blocks until the
// load completes or ctx is cancelled.
func (s *Service) LoadThread(ctx context.Context, device string, threadID int64, start, count int32, older bool) error {
	s.bus.Publish(bus.Event{
		Kind:      bus.KindLoadStarted,
		Timestamp: s.now(),
		Payload:   LoadStarted{Device: device, ThreadID: threadID},
	})

	updated, cancelUpdated, err := s.kde.Subscribe(kdebus.ConversationsInterface, "conversationUpdated")
	if err != nil {
		return s.loadThreadFallback(ctx, device, threadID, start, count, older)
	}
	defer cancelUpdated()
	loaded, cancelLoaded, err := s.kde.Subscribe(kdebus.ConversationsInterface, "conversationLoaded")
	if err != nil {
		return s.loadThreadFallback(ctx, device, threadID, start, count, older)
	}
	defer cancelLoaded()

	run := NewThreadLoad(device, threadID, older, s.now())
	if _, err := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface,
		"requestConversation", threadID, start, count); err != nil {
		s.log.Warn("requestConversation failed",
			zap.String("device", device),
			zap.Int64("thread", threadID),
			zap.Error(err))
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for !run.Done() {
		select {
		case <-ctx.Done():
			run.Cancel()
			return ctx.Err()
		case sig, ok := <-updated:
			if !ok {
				run.Cancel()
				return ErrStreamEnded
			}
			if kdebus.DeviceIDFromPath(sig.Path) != device || len(sig.Body) == 0 {
				continue
			}
			msg, err := sms.ParseMessage(sig.Body[0])
			if err != nil {
				continue
			}
			run.Observe(msg, s.now())
		case sig, ok := <-loaded:
			if !ok {
				run.Cancel()
				return ErrStreamEnded
			}
			if kdebus.DeviceIDFromPath(sig.Path) != device {
				continue
			}
			id, total, ok := parseLoadedArgs(sig.Body)
			if !ok {
				continue
			}
			run.Loaded(id, total, s.now())
		case <-ticker.C:
			s.publish(run.Tick(s.now()))
		}
	}
	return nil
}

// loadThreadFallback polls activeConversations when signal
// subscription is unavailable, keeping the largest snapshot seen.
func (s *Service) loadThreadFallback(ctx context.Context, device string, threadID int64, start, count int32, older bool) error {
	s.log.Warn("signal subscription unavailable, polling",
		zap.String("device", device),
		zap.Int64("thread", threadID))

	if _, err := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface,
		"requestConversation", threadID, start, count); err != nil {
		s.log.Warn("requestConversation failed", zap.Error(err))
	}

	var best []sms.Message
	for attempt := 0; attempt < fallbackPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fallbackPollInterval):
		}

		body, err := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface, "activeConversations")
		if err != nil {
			continue
		}
		if len(body) == 0 {
			continue
		}
		values, ok := body[0].([]any)
		if !ok {
			continue
		}
		if msgs := sms.ParseThreadMessages(values, threadID); len(msgs) > len(best) {
			best = msgs
		}
	}

	var result Event
	if older {
		result = OlderMessagesLoaded{Device: device, ThreadID: threadID, Messages: best}
	} else {
		result = MessagesLoaded{Device: device, ThreadID: threadID, Messages: best}
	}
	s.publish([]Event{result})
	return nil
}

// publish maps machine events onto the process bus.
func (s *Service) publish(events []Event) {
	for _, e := range events {
		kind := ""
		switch e.(type) {
		case SyncStarted:
			kind = bus.KindSyncStarted
		case ConversationReceived:
			kind = bus.KindConversationReceived
		case SyncComplete:
			kind = bus.KindSyncComplete
		case LoadStarted:
			kind = bus.KindLoadStarted
		case MessagesLoaded:
			kind = bus.KindMessagesLoaded
		case OlderMessagesLoaded:
			kind = bus.KindOlderMessagesLoaded
		default:
			continue
		}
		s.bus.Publish(bus.Event{Kind: kind, Timestamp: s.now(), Payload: e})
	}
}

// parseLoadedArgs decodes a conversationLoaded signal body.
func parseLoadedArgs(body []any) (int64, uint64, bool) {
	if len(body) < 2 {
		return 0, 0, false
	}
	id, ok := toInt64(body[0])
	if !ok {
		return 0, 0, false
	}
	count, ok := toInt64(body[1])
	if !ok || count < 0 {
		return 0, 0, false
	}
	return id, uint64(count), true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		if n > 1<<62 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
