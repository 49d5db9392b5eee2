package notify

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// Urgency levels of the desktop notification spec.
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = "/org/freedesktop/Notifications"
	notifyIface = "org.freedesktop.Notifications"
)

// Notification is one desktop notification to dispatch.
type Notification struct {
	Summary string
	Body    string
	Urgency byte
	// TimeoutMs is the expiry passed to the server; -1 for the server
	// default.
	TimeoutMs int32
}

// Notifier dispatches desktop notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// remoteCaller is the slice of the bus adapter the notifier needs.
type remoteCaller interface {
	InvokeOn(ctx context.Context, dest, path, iface, method string, args ...any) ([]any, error)
}

type desktopNotifier struct {
	kde remoteCaller
}

// NewDesktopNotifier dispatches through org.freedesktop.Notifications
// on the session bus.
func NewDesktopNotifier(kde remoteCaller) Notifier {
	return &desktopNotifier{kde: kde}
}

func (d *desktopNotifier) Notify(ctx context.Context, n Notification) error {
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(n.Urgency)}
	_, err := d.kde.InvokeOn(ctx, notifyDest, notifyPath, notifyIface, "Notify",
		"connectd", uint32(0), "", n.Summary, n.Body, []string{}, hints, n.TimeoutMs)
	return err
}
