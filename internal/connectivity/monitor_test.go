package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thiagokf/chatd/internal/bus"
)

// flipProber toggles between reachable and unreachable under test control.
type flipProber struct {
	mu   sync.Mutex
	down bool
}

func (f *flipProber) set(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flipProber) probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("unreachable")
	}
	return nil
}

func TestMonitorEmitsTransitions(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	p := &flipProber{}
	m := NewMonitor(p.probe, b, nil, 10*time.Millisecond)
	m.Start(context.Background())
	defer m.Stop()

	select {
	case evt := <-ch:
		if evt.Kind != "net.online" {
			t.Errorf("first event = %q, want net.online", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for net.online")
	}
	if !m.Online() {
		t.Error("Online() = false after successful probe")
	}

	p.set(true)
	select {
	case evt := <-ch:
		if evt.Kind != "net.offline" {
			t.Errorf("event = %q, want net.offline", evt.Kind)
		}
		tr, ok := evt.Payload.(Transition)
		if !ok || tr.Online {
			t.Errorf("payload = %v, want offline transition", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for net.offline")
	}
}

func TestMonitorNoDuplicateEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	p := &flipProber{}
	m := NewMonitor(p.probe, b, nil, 5*time.Millisecond)
	m.Start(context.Background())
	defer m.Stop()

	// First transition to online.
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first event")
	}

	// Stable connectivity must not re-emit.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event while stable: %v", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManualCheck(t *testing.T) {
	b := bus.New()
	p := &flipProber{down: true}
	m := NewMonitor(p.probe, b, nil, time.Hour)

	if m.Check(context.Background()) {
		t.Error("Check() = true while prober is down")
	}
	p.set(false)
	if !m.Check(context.Background()) {
		t.Error("Check() = false after prober recovered")
	}
}
