package netcheck

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestDialProbe_ReachableListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	p, err := NewDialProbe("http://"+ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("NewDialProbe: %v", err)
	}
	if !p.Reachable(context.Background()) {
		t.Error("expected listener to be reachable")
	}

	addr := ln.Addr().String()
	ln.Close()
	closed := &DialProbe{Address: addr, Timeout: 200 * time.Millisecond}
	if closed.Reachable(context.Background()) {
		t.Error("expected closed port to be unreachable")
	}
}

func TestNewDialProbe_DefaultPorts(t *testing.T) {
	p, _ := NewDialProbe("https://api.example.com", time.Second)
	if p.Address != "api.example.com:443" {
		t.Errorf("got %s", p.Address)
	}
	p, _ = NewDialProbe("http://api.example.com/v1", time.Second)
	if p.Address != "api.example.com:80" {
		t.Errorf("got %s", p.Address)
	}
}

func TestWatcher_NotifiesOnTransitionsOnly(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	w := NewWatcher(ProbeFunc(func(context.Context) bool { return up.Load() }), time.Hour, nil)

	var calls []bool
	w.OnChange(func(c bool) { calls = append(calls, c) })

	ctx := context.Background()
	w.Check(ctx)
	w.Check(ctx)
	up.Store(false)
	w.Check(ctx)
	w.Check(ctx)
	up.Store(true)
	w.Check(ctx)

	want := []bool{true, false, true}
	if len(calls) != len(want) {
		t.Fatalf("got %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("got %v, want %v", calls, want)
		}
	}
	if !w.Connected() {
		t.Error("expected connected after last check")
	}
}

func TestWatcher_ReachableReflectsLastCheck(t *testing.T) {
	w := NewWatcher(ProbeFunc(func(context.Context) bool { return false }), time.Hour, nil)
	if !w.Reachable(context.Background()) {
		t.Error("expected reachable before the first check")
	}
	w.Check(context.Background())
	if w.Reachable(context.Background()) {
		t.Error("expected unreachable after a failed check")
	}
}
