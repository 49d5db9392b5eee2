// Package outbox sends SMS through the daemon and keeps the UI
// honest about it: an optimistic placeholder right away, an
// authoritative reload shortly after.
package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/bus"
	"github.com/connectd/connectd/internal/kdebus"
	"github.com/connectd/connectd/internal/sms"
)

// postSendDelay is how long to wait before reloading the thread; the
// phone needs a moment to persist the sent message.
const postSendDelay = 2 * time.Second

var (
	ErrEmptyBody        = errors.New("outbox: message body is empty")
	ErrNoAddress        = errors.New("outbox: no recipient address")
	ErrInvalidAddress   = errors.New("outbox: recipient address is invalid")
	ErrGroupUnsupported = errors.New("outbox: group messages are not supported")
)

// Caller is the slice of the bus adapter the sender needs.
type Caller interface {
	Invoke(ctx context.Context, path, iface, method string, args ...any) ([]any, error)
}

// MessageSent carries the optimistic placeholder for a sent message.
// Its UID is 0; the authoritative record replaces it on reload.
type MessageSent struct {
	Device  string
	Message sms.Message
}

// SendFailed reports a send the daemon refused.
type SendFailed struct {
	Device   string
	ThreadID int64
	Reason   string
}

// ReloadRequested asks for a thread refresh after a send settles.
type ReloadRequested struct {
	Device   string
	ThreadID int64
}

// wireAddress is the daemon's single-string address struct.
type wireAddress struct {
	Address string
}

// Sender validates and dispatches outgoing messages.
type Sender struct {
	log   *zap.Logger
	bus   *bus.Bus
	kde   Caller
	now   func() time.Time
	delay time.Duration
}

// NewSender wires the sender to the adapter and the event bus.
func NewSender(log *zap.Logger, b *bus.Bus, kde Caller) *Sender {
	return &Sender{
		log:   log.Named("outbox"),
		bus:   b,
		kde:   kde,
		now:   time.Now,
		delay: postSendDelay,
	}
}

// Send dispatches one message. threadID 0 means a new conversation.
// On success the placeholder is published immediately and a reload is
// scheduled; on failure nothing is mutated.
func (s *Sender) Send(ctx context.Context, device string, threadID int64, addresses []string, body string, subID int64) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	unique := uniqueAddresses(addresses)
	if len(unique) == 0 {
		return ErrNoAddress
	}
	if len(unique) > 1 {
		return ErrGroupUnsupported
	}
	for _, a := range unique {
		if !sms.ValidAddress(a) {
			return ErrInvalidAddress
		}
	}

	if err := s.invoke(ctx, device, threadID, unique, body, subID); err != nil {
		s.log.Warn("send failed",
			zap.String("device", device),
			zap.Int64("thread", threadID),
			zap.Error(err))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindSendFailed,
			Timestamp: s.now(),
			Payload:   SendFailed{Device: device, ThreadID: threadID, Reason: err.Error()},
		})
		return err
	}

	now := s.now()
	placeholder := sms.Message{
		Body:      body,
		Addresses: unique,
		Date:      now.UnixMilli(),
		Direction: sms.DirectionSent,
		Read:      true,
		ThreadID:  threadID,
		UID:       0,
		SubID:     subID,
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSent,
		Timestamp: now,
		Payload:   MessageSent{Device: device, Message: placeholder},
	})

	time.AfterFunc(s.delay, func() {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindReloadRequested,
			Timestamp: s.now(),
			Payload:   ReloadRequested{Device: device, ThreadID: threadID},
		})
	})
	return nil
}

// invoke tries sendSms first, then the conversation-level fallbacks
// for daemons without the sms plugin.
func (s *Sender) invoke(ctx context.Context, device string, threadID int64, addresses []string, body string, subID int64) error {
	wire := make([]dbus.Variant, 0, len(addresses))
	for _, a := range addresses {
		wire = append(wire, dbus.MakeVariant(wireAddress{Address: a}))
	}
	attachments := []dbus.Variant{}

	_, err := s.kde.Invoke(ctx, kdebus.SmsPath(device), kdebus.SmsInterface,
		"sendSms", wire, body, attachments, subID)
	if err == nil {
		return nil
	}
	s.log.Debug("sendSms unavailable, falling back", zap.Error(err))

	if threadID > 0 {
		_, ferr := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface,
			"replyToConversation", threadID, body, attachments)
		if ferr == nil {
			return nil
		}
		return errors.Join(err, ferr)
	}

	_, ferr := s.kde.Invoke(ctx, kdebus.DevicePath(device), kdebus.ConversationsInterface,
		"sendWithoutConversation", wire, body, attachments)
	if ferr == nil {
		return nil
	}
	return errors.Join(err, ferr)
}

// uniqueAddresses collapses the list under suffix equivalence,
// keeping first spellings.
func uniqueAddresses(addresses []string) []string {
	var out []string
	for _, a := range addresses {
		if strings.TrimSpace(a) == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if sms.SameNumber(seen, a) || seen == a {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}
