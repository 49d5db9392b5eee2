// Package devices keeps the paired-device list current by watching
// daemon signals and refreshing through the daemon, with a debounce so
// chatty plugins cannot stampede the bus.
package devices

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/bus"
	"github.com/connectd/connectd/internal/kdebus"
)

// refreshDebounce swallows refresh triggers that arrive on the heels
// of another.
const refreshDebounce = 3 * time.Second

// Device is one entry of the daemon's device list.
type Device struct {
	ID              string
	Name            string
	Type            string
	Reachable       bool
	Paired          bool
	BatteryLevel    int
	BatteryCharging bool
}

// ListChanged is the payload of a device-list refresh.
type ListChanged struct {
	Devices []Device
}

// adapter is the slice of the bus adapter the refresher needs.
type adapter interface {
	Subscribe(iface, member string) (<-chan kdebus.Signal, func(), error)
	Invoke(ctx context.Context, path, iface, method string, args ...any) ([]any, error)
	GetProperty(ctx context.Context, path, iface, prop string) (any, error)
}

// watchedSignals are the only members that warrant a refresh.
var watchedSignals = map[string][]string{
	kdebus.DaemonInterface:        {"deviceAdded", "deviceRemoved", "deviceVisibilityChanged", "announcedNameChanged"},
	kdebus.DeviceInterface:        {"reachableChanged", "trustedChanged", "pairingRequest", "hasPairingRequestsChanged"},
	kdebus.BatteryInterface:       {"refreshed"},
	kdebus.NotificationsInterface: {"notificationPosted", "notificationRemoved"},
	kdebus.PropertiesInterface:    {"PropertiesChanged"},
}

// Refresher publishes the device list on the event bus whenever the
// daemon reports a relevant change.
type Refresher struct {
	log *zap.Logger
	bus *bus.Bus
	kde adapter
	now func() time.Time

	mu          sync.Mutex
	lastTrigger time.Time
}

// NewRefresher wires the refresher.
func NewRefresher(log *zap.Logger, b *bus.Bus, kde adapter) *Refresher {
	return &Refresher{
		log: log.Named("devices"),
		bus: b,
		kde: kde,
		now: time.Now,
	}
}

// Run refreshes once, then watches signals until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	signals := make(chan kdebus.Signal, 64)
	var cancels []func()
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for iface, members := range watchedSignals {
		for _, member := range members {
			ch, cancel, err := r.kde.Subscribe(iface, member)
			if err != nil {
				return err
			}
			cancels = append(cancels, cancel)
			go forward(ch, signals)
		}
	}

	r.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signals:
			if !r.shouldRefresh() {
				continue
			}
			go r.Refresh(ctx)
		}
	}
}

func forward(in <-chan kdebus.Signal, out chan<- kdebus.Signal) {
	for sig := range in {
		select {
		case out <- sig:
		default:
		}
	}
}

// shouldRefresh applies the debounce: at most one refresh per window.
func (r *Refresher) shouldRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastTrigger) < refreshDebounce {
		return false
	}
	r.lastTrigger = now
	return true
}

// Refresh fetches the device list and publishes it.
func (r *Refresher) Refresh(ctx context.Context) {
	body, err := r.kde.Invoke(ctx, kdebus.BasePath, kdebus.DaemonInterface, "devices")
	if err != nil {
		r.log.Warn("device list fetch failed", zap.Error(err))
		return
	}
	if len(body) == 0 {
		return
	}
	ids, ok := body[0].([]string)
	if !ok {
		r.log.Warn("unexpected device list shape")
		return
	}

	devices := make([]Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, r.describe(ctx, id))
	}

	r.bus.Publish(bus.Event{
		Kind:      bus.KindDeviceListChanged,
		Timestamp: r.now(),
		Payload:   ListChanged{Devices: devices},
	})
	r.log.Debug("device list refreshed", zap.Int("count", len(devices)))
}

func (r *Refresher) describe(ctx context.Context, id string) Device {
	d := Device{ID: id, BatteryLevel: -1}
	path := kdebus.DevicePath(id)

	if v, err := r.kde.GetProperty(ctx, path, kdebus.DeviceInterface, "name"); err == nil {
		d.Name, _ = v.(string)
	}
	if v, err := r.kde.GetProperty(ctx, path, kdebus.DeviceInterface, "type"); err == nil {
		d.Type, _ = v.(string)
	}
	if v, err := r.kde.GetProperty(ctx, path, kdebus.DeviceInterface, "isReachable"); err == nil {
		d.Reachable, _ = v.(bool)
	}
	if v, err := r.kde.GetProperty(ctx, path, kdebus.DeviceInterface, "isTrusted"); err == nil {
		d.Paired, _ = v.(bool)
	}

	if d.Reachable && d.Paired {
		batteryPath := kdebus.BatteryPath(id)
		if v, err := r.kde.GetProperty(ctx, batteryPath, kdebus.BatteryInterface, "charge"); err == nil {
			if charge, ok := toInt(v); ok {
				d.BatteryLevel = charge
			}
		}
		if v, err := r.kde.GetProperty(ctx, batteryPath, kdebus.BatteryInterface, "isCharging"); err == nil {
			d.BatteryCharging, _ = v.(bool)
		}
	}
	return d
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
