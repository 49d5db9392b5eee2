// Package notify turns daemon signals into desktop notifications,
// with freshness, dedup and cross-process single-winner gating.
package notify

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/config"
	"github.com/connectd/connectd/internal/kdebus"
	"github.com/connectd/connectd/internal/lock"
	"github.com/connectd/connectd/internal/sms"
)

const (
	// smsFreshness drops re-emitted history during sync; only messages
	// this recent notify.
	smsFreshness = 30 * time.Second

	// fileNotifyTimeout expires file-received notifications quickly.
	fileNotifyTimeout = 4 * time.Second
)

// subscriber is the slice of the bus adapter the gate needs.
type subscriber interface {
	Subscribe(iface, member string) (<-chan kdebus.Signal, func(), error)
	GetProperty(ctx context.Context, path, iface, prop string) (any, error)
}

// NameResolver maps an address to a display name, when known.
type NameResolver interface {
	NameFor(address string) (string, bool)
}

// Gate consumes conversation, telephony and share signals and decides
// which deserve a desktop notification.
type Gate struct {
	log      *zap.Logger
	cfg      config.Notifications
	kde      subscriber
	notifier Notifier
	seen     *SeenTracker
	locks    *lock.Dir
	names    NameResolver
	now      func() time.Time
}

// NewGate wires the notification gate.
func NewGate(log *zap.Logger, cfg config.Notifications, kde subscriber, notifier Notifier, seen *SeenTracker, locks *lock.Dir, names NameResolver) *Gate {
	return &Gate{
		log:      log.Named("notify"),
		cfg:      cfg,
		kde:      kde,
		notifier: notifier,
		seen:     seen,
		locks:    locks,
		names:    names,
		now:      time.Now,
	}
}

// Run subscribes to the signal streams and dispatches until ctx is
// cancelled. Each dispatch runs in its own goroutine so a slow
// notification server never stalls the streams.
func (g *Gate) Run(ctx context.Context) error {
	if !g.cfg.Enabled {
		g.log.Info("notifications disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	updated, cancelUpdated, err := g.kde.Subscribe(kdebus.ConversationsInterface, "conversationUpdated")
	if err != nil {
		return err
	}
	defer cancelUpdated()
	calls, cancelCalls, err := g.kde.Subscribe(kdebus.TelephonyInterface, "callReceived")
	if err != nil {
		return err
	}
	defer cancelCalls()
	shares, cancelShares, err := g.kde.Subscribe(kdebus.ShareInterface, "shareReceived")
	if err != nil {
		return err
	}
	defer cancelShares()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-updated:
			if !ok {
				return errors.New("notify: conversation stream ended")
			}
			if n, guard, ok := g.smsNotification(sig); ok {
				go g.dispatch(ctx, n, guard)
			}
		case sig, ok := <-calls:
			if !ok {
				return errors.New("notify: telephony stream ended")
			}
			if n, ok := g.callNotification(ctx, sig); ok {
				go g.dispatch(ctx, n, nil)
			}
		case sig, ok := <-shares:
			if !ok {
				return errors.New("notify: share stream ended")
			}
			if n, guard, ok := g.shareNotification(sig); ok {
				go g.dispatch(ctx, n, guard)
			}
		}
	}
}

// dispatch shows one notification, holding the dedup lock for the
// duration so racing processes and repeated signals stay quiet.
func (g *Gate) dispatch(ctx context.Context, n Notification, guard *lock.Guard) {
	defer guard.Release()
	if err := g.notifier.Notify(ctx, n); err != nil {
		g.log.Warn("notification dispatch failed", zap.Error(err))
	}
}

// smsNotification applies the incoming-SMS rules: Inbox only, fresh,
// monotonic per thread, and single winner across processes.
func (g *Gate) smsNotification(sig kdebus.Signal) (Notification, *lock.Guard, bool) {
	if len(sig.Body) == 0 {
		return Notification{}, nil, false
	}
	msg, err := sms.ParseMessage(sig.Body[0])
	if err != nil {
		return Notification{}, nil, false
	}
	if msg.Direction != sms.DirectionInbox {
		return Notification{}, nil, false
	}
	if g.now().UnixMilli()-msg.Date > smsFreshness.Milliseconds() {
		return Notification{}, nil, false
	}
	if !g.seen.Accept(msg.ThreadID, msg.Date) {
		return Notification{}, nil, false
	}

	guard, err := g.locks.Acquire(fmt.Sprintf("sms:%d:%d", msg.ThreadID, msg.Date))
	if err != nil {
		if !errors.Is(err, lock.ErrHeld) {
			g.log.Warn("notification lock failed", zap.Error(err))
		}
		return Notification{}, nil, false
	}
	return g.renderSms(msg), guard, true
}

func (g *Gate) renderSms(msg *sms.Message) Notification {
	summary := "New SMS"
	if g.cfg.ShowSender {
		sender := msg.PrimaryAddress()
		if name, ok := g.names.NameFor(sender); ok {
			sender = name
		}
		summary = "SMS from " + sender
	}
	body := "New message"
	if g.cfg.ShowBody {
		body = msg.Body
	}
	return Notification{Summary: summary, Body: body, Urgency: UrgencyNormal, TimeoutMs: -1}
}

// callNotification handles telephony events. Incoming calls are
// critical, missed calls normal; other events are ignored.
func (g *Gate) callNotification(ctx context.Context, sig kdebus.Signal) (Notification, bool) {
	if !g.cfg.Calls || len(sig.Body) < 2 {
		return Notification{}, false
	}
	event, _ := sig.Body[0].(string)
	phone, _ := sig.Body[1].(string)
	contact := ""
	if len(sig.Body) > 2 {
		contact, _ = sig.Body[2].(string)
	}

	var summary string
	urgency := UrgencyNormal
	switch event {
	case "callReceived":
		summary = "Incoming call"
		urgency = UrgencyCritical
	case "missedCall":
		summary = "Missed call"
	default:
		return Notification{}, false
	}

	who := contact
	if who == "" {
		who = phone
	}
	if name, ok := g.names.NameFor(phone); ok {
		who = name
	}

	device := kdebus.DeviceIDFromPath(sig.Path)
	if name := g.deviceName(ctx, device); name != "" {
		summary += " on " + name
	}
	return Notification{Summary: summary, Body: who, Urgency: urgency, TimeoutMs: -1}, true
}

// shareNotification handles received files. The daemon emits the
// signal several times per transfer and more than one process may be
// listening; the URL lock picks one winner.
func (g *Gate) shareNotification(sig kdebus.Signal) (Notification, *lock.Guard, bool) {
	if !g.cfg.Files || len(sig.Body) == 0 {
		return Notification{}, nil, false
	}
	url, _ := sig.Body[0].(string)
	if url == "" {
		return Notification{}, nil, false
	}

	guard, err := g.locks.Acquire("share:" + url)
	if err != nil {
		if !errors.Is(err, lock.ErrHeld) {
			g.log.Warn("notification lock failed", zap.Error(err))
		}
		return Notification{}, nil, false
	}

	name := path.Base(strings.TrimPrefix(url, "file://"))
	return Notification{
		Summary:   "File received",
		Body:      name,
		Urgency:   UrgencyNormal,
		TimeoutMs: int32(fileNotifyTimeout.Milliseconds()),
	}, guard, true
}

func (g *Gate) deviceName(ctx context.Context, deviceID string) string {
	if deviceID == "" {
		return ""
	}
	v, err := g.kde.GetProperty(ctx, kdebus.DevicePath(deviceID), kdebus.DeviceInterface, "name")
	if err != nil {
		return ""
	}
	name, _ := v.(string)
	return name
}
