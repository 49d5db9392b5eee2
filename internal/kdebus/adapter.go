// Package kdebus wraps the session-bus connection to the KDE Connect
// daemon: method calls, signal subscriptions and reconnection.
package kdebus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by calls made while the bus is down.
var ErrNotConnected = errors.New("kdebus: not connected to session bus")

const (
	retryDelay = 5 * time.Second

	// subscriberBuffer bounds each subscriber channel; a slow consumer
	// drops signals rather than stalling the pump.
	subscriberBuffer = 64
)

// Signal is one D-Bus signal delivered to a subscriber.
type Signal struct {
	Path string
	Name string
	Body []any
}

type subscriber struct {
	key string
	ch  chan Signal
}

// Adapter owns the session-bus connection. Subscriptions survive
// reconnects; method calls fail fast while disconnected.
type Adapter struct {
	log *zap.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	subs    map[string][]*subscriber
	onState func(connected bool)
	closed  bool

	dropped atomic.Uint64
}

// New creates a disconnected adapter. Call Run to connect.
func New(log *zap.Logger) *Adapter {
	return &Adapter{
		log:  log.Named("kdebus"),
		subs: make(map[string][]*subscriber),
	}
}

// OnStateChange registers a callback invoked after each connect and
// disconnect. Must be called before Run.
func (a *Adapter) OnStateChange(fn func(connected bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = fn
}

// Run connects to the session bus and keeps the connection alive until
// ctx is cancelled, redialing with backoff after failures.
func (a *Adapter) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryDelay
	policy.MaxInterval = 2 * time.Minute
	policy.MaxElapsedTime = 0

	for {
		if err := a.connect(); err != nil {
			a.log.Warn("session bus connect failed", zap.Error(err))
		} else {
			policy.Reset()
			a.pump(ctx)
		}

		if ctx.Err() != nil {
			a.disconnect()
			return ctx.Err()
		}

		wait := policy.NextBackOff()
		a.log.Info("reconnecting to session bus", zap.Duration("in", wait))
		select {
		case <-ctx.Done():
			a.disconnect()
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (a *Adapter) connect() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.conn = conn
	keys := make([]string, 0, len(a.subs))
	for key := range a.subs {
		keys = append(keys, key)
	}
	onState := a.onState
	a.mu.Unlock()

	for _, key := range keys {
		if err := addMatch(conn, key); err != nil {
			a.log.Warn("signal match failed", zap.String("signal", key), zap.Error(err))
		}
	}

	a.log.Info("connected to session bus")
	if onState != nil {
		onState(true)
	}
	return nil
}

// pump routes incoming signals to subscribers until the connection
// drops or ctx is cancelled.
func (a *Adapter) pump(ctx context.Context) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	ch := make(chan *dbus.Signal, 256)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				a.log.Warn("session bus connection lost")
				a.disconnect()
				return
			}
			a.dispatch(sig)
		}
	}
}

func (a *Adapter) dispatch(sig *dbus.Signal) {
	out := Signal{Path: string(sig.Path), Name: sig.Name, Body: sig.Body}

	a.mu.Lock()
	targets := append([]*subscriber(nil), a.subs[sig.Name]...)
	a.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- out:
		default:
			a.dropped.Add(1)
			a.log.Warn("subscriber lagging, signal dropped", zap.String("signal", sig.Name))
		}
	}
}

// Dropped returns how many signals were dropped on lagging
// subscribers.
func (a *Adapter) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Adapter) disconnect() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	onState := a.onState
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
		if onState != nil {
			onState(false)
		}
	}
}

// Close tears the connection down and closes all subscriber channels.
func (a *Adapter) Close() {
	a.disconnect()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, subs := range a.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	a.subs = make(map[string][]*subscriber)
}

// Subscribe delivers every signal of the given interface and member.
// The returned cancel function detaches the subscriber and closes the
// channel.
func (a *Adapter) Subscribe(iface, member string) (<-chan Signal, func(), error) {
	key := iface + "." + member
	sub := &subscriber{key: key, ch: make(chan Signal, subscriberBuffer)}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, nil, errors.New("kdebus: adapter closed")
	}
	first := len(a.subs[key]) == 0
	a.subs[key] = append(a.subs[key], sub)
	conn := a.conn
	a.mu.Unlock()

	if first && conn != nil {
		if err := addMatch(conn, key); err != nil {
			a.removeSubscriber(sub)
			return nil, nil, err
		}
	}

	cancel := func() { a.removeSubscriber(sub) }
	return sub.ch, cancel, nil
}

func (a *Adapter) removeSubscriber(sub *subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := a.subs[sub.key]
	for i, cur := range subs {
		if cur != sub {
			continue
		}
		a.subs[sub.key] = append(subs[:i], subs[i+1:]...)
		close(sub.ch)
		return
	}
}

func addMatch(conn *dbus.Conn, key string) error {
	i := lastDot(key)
	return conn.AddMatchSignal(
		dbus.WithMatchInterface(key[:i]),
		dbus.WithMatchMember(key[i+1:]),
	)
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// Invoke calls a method on a KDE Connect object and returns the reply
// body.
func (a *Adapter) Invoke(ctx context.Context, path, iface, method string, args ...any) ([]any, error) {
	return a.InvokeOn(ctx, Service, path, iface, method, args...)
}

// InvokeOn calls a method on an arbitrary bus destination.
func (a *Adapter) InvokeOn(ctx context.Context, dest, path, iface, method string, args ...any) ([]any, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	obj := conn.Object(dest, dbus.ObjectPath(path))
	call := obj.CallWithContext(ctx, iface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Body, nil
}

// GetProperty reads one property of a KDE Connect object.
func (a *Adapter) GetProperty(ctx context.Context, path, iface, prop string) (any, error) {
	body, err := a.Invoke(ctx, path, PropertiesInterface, "Get", iface, prop)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("kdebus: empty property reply")
	}
	if v, ok := body[0].(dbus.Variant); ok {
		return v.Value(), nil
	}
	return body[0], nil
}
