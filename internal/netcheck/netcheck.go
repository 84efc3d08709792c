// Package netcheck answers "is the network reachable" and watches for changes.
package netcheck

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Probe reports network reachability.
type Probe interface {
	Reachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

// Reachable implements Probe.
func (f ProbeFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// Always is a Probe that is always reachable.
var Always Probe = ProbeFunc(func(context.Context) bool { return true })

// DialProbe considers the network reachable when a TCP connection to Address
// can be opened within Timeout.
type DialProbe struct {
	Address string
	Timeout time.Duration
}

// NewDialProbe derives the probe address from an API base URL.
func NewDialProbe(baseURL string, timeout time.Duration) (*DialProbe, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" || u.Scheme == "wss" {
			port = "443"
		}
	}
	return &DialProbe{Address: net.JoinHostPort(u.Hostname(), port), Timeout: timeout}, nil
}

// Reachable implements Probe.
func (p *DialProbe) Reachable(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Watcher polls a Probe and notifies listeners on every transition.
type Watcher struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	connected bool
	known     bool
	listeners []func(bool)
}

// NewWatcher creates a watcher. Call Start to begin polling.
func NewWatcher(probe Probe, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{probe: probe, interval: interval, logger: logger}
}

// OnChange registers fn to be called with the new state on each transition.
func (w *Watcher) OnChange(fn func(connected bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Connected returns the last observed state (true before the first check).
func (w *Watcher) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.known || w.connected
}

// Reachable implements Probe with the last observed state, so callers can
// precheck without a network round trip.
func (w *Watcher) Reachable(context.Context) bool {
	return w.Connected()
}

// Check probes once and notifies listeners if the state changed.
func (w *Watcher) Check(ctx context.Context) bool {
	up := w.probe.Reachable(ctx)

	w.mu.Lock()
	changed := !w.known || w.connected != up
	w.connected, w.known = up, true
	listeners := append([]func(bool){}, w.listeners...)
	w.mu.Unlock()

	if changed {
		w.logger.Info("Network reachability changed", "connected", up)
		for _, fn := range listeners {
			fn(up)
		}
	}
	return up
}

// Start polls until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	w.Check(ctx)
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
