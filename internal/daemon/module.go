// Package daemon composes the applet daemon: session-bus adapter,
// sync engine, notification gate and device watcher, wired with fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/connectd/connectd/internal/bus"
	"github.com/connectd/connectd/internal/config"
	"github.com/connectd/connectd/internal/contacts"
	"github.com/connectd/connectd/internal/devices"
	"github.com/connectd/connectd/internal/kdebus"
	"github.com/connectd/connectd/internal/lock"
	"github.com/connectd/connectd/internal/logging"
	"github.com/connectd/connectd/internal/notify"
	"github.com/connectd/connectd/internal/outbox"
	"github.com/connectd/connectd/internal/session"
	"github.com/connectd/connectd/internal/status"
	intsync "github.com/connectd/connectd/internal/sync"
	"github.com/connectd/connectd/internal/view"
)

// Params holds the resolved startup configuration passed to the fx
// module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideAdapter,
			provideLockDir,
			provideSeenTracker,
			provideContactDB,
			provideContactBook,
			provideNotifier,
			provideGate,
			provideSyncService,
			provideSender,
			provideRefresher,
			provideViewModel,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(session.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideAdapter(logger *zap.Logger) *kdebus.Adapter {
	return kdebus.New(logger)
}

func provideLockDir() (*lock.Dir, error) {
	return lock.NewDir(session.LockDir())
}

func provideSeenTracker() *notify.SeenTracker {
	return notify.NewSeenTracker()
}

func provideContactDB(logger *zap.Logger) (*contacts.DB, error) {
	db, err := contacts.OpenDB(session.ContactDBPath())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("contact cache ready", zap.String("path", session.ContactDBPath()))
	return db, nil
}

func provideContactBook(logger *zap.Logger, db *contacts.DB) *contacts.Book {
	return contacts.NewBook(logger, db)
}

func provideNotifier(adapter *kdebus.Adapter) notify.Notifier {
	return notify.NewDesktopNotifier(adapter)
}

func provideGate(logger *zap.Logger, cfg *config.Config, adapter *kdebus.Adapter, notifier notify.Notifier, seen *notify.SeenTracker, locks *lock.Dir, book *contacts.Book) *notify.Gate {
	return notify.NewGate(logger, cfg.Notifications, adapter, notifier, seen, locks, book)
}

func provideSyncService(logger *zap.Logger, b *bus.Bus, adapter *kdebus.Adapter) *intsync.Service {
	return intsync.NewService(logger, b, adapter)
}

func provideSender(logger *zap.Logger, b *bus.Bus, adapter *kdebus.Adapter) *outbox.Sender {
	return outbox.NewSender(logger, b, adapter)
}

func provideRefresher(logger *zap.Logger, b *bus.Bus, adapter *kdebus.Adapter) *devices.Refresher {
	return devices.NewRefresher(logger, b, adapter)
}

func provideViewModel(logger *zap.Logger, b *bus.Bus, cfg *config.Config, svc *intsync.Service, sender *outbox.Sender, seen *notify.SeenTracker) *view.Model {
	return view.NewModel(logger, b, cfg.Sms, svc, sender, seen)
}

func registerLifecycle(lc fx.Lifecycle, logger *zap.Logger, machine *status.Machine, adapter *kdebus.Adapter, gate *notify.Gate, refresher *devices.Refresher, model *view.Model, book *contacts.Book, db *contacts.DB, b *bus.Bus) {
	var cancelRun context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			cancelRun = cancel

			adapter.OnStateChange(func(connected bool) {
				if connected {
					_ = machine.Transition(status.Watching)
				} else {
					_ = machine.Transition(status.Reconnecting)
				}
			})

			_ = machine.Transition(status.Connecting)

			go func() {
				if err := adapter.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error("bus adapter stopped", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()
			go func() {
				if err := gate.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error("notification gate stopped", zap.Error(err))
				}
			}()
			go func() {
				if err := refresher.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error("device refresher stopped", zap.Error(err))
				}
			}()
			go func() {
				_ = model.Run(runCtx)
			}()
			go loadContactsOnDeviceChange(runCtx, b, book)

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if cancelRun != nil {
				cancelRun()
			}
			adapter.Close()
			if err := db.Close(); err != nil {
				logger.Warn("contact cache close failed", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// loadContactsOnDeviceChange refreshes the contact book whenever a
// paired device (re)appears, so name resolution follows the synced
// address book.
func loadContactsOnDeviceChange(ctx context.Context, b *bus.Bus, book *contacts.Book) {
	events, cancel := b.Subscribe(bus.KindDeviceListChanged, 8)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			changed, ok := evt.Payload.(devices.ListChanged)
			if !ok {
				continue
			}
			for _, d := range changed.Devices {
				if d.Reachable && d.Paired {
					book.LoadForDevice(d.ID)
					break
				}
			}
		}
	}
}
