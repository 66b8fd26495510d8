package updates

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/komodoctl/komodoctl/internal/eventbus"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/testutil"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (s *statusLog) record(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *statusLog) contains(st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.statuses {
		if got == st {
			return true
		}
	}
	return false
}

func (s *statusLog) last() (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return 0, false
	}
	return s.statuses[len(s.statuses)-1], true
}

func newTestProvider(t *testing.T, srv *testutil.CoreServer, clk *testingclock.FakeClock, opts ...ProviderOption) *Provider {
	t.Helper()
	logger, _ := newLogger()
	opts = append([]ProviderOption{WithClock(clk), WithLogger(logger)}, opts...)
	p := NewProvider(Config{BaseURL: srv.URL, Credential: protocol.JWTCredential("jwt")}, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go func() {
			for ctx.Err() == nil {
				clk.Step(500 * time.Millisecond)
				time.Sleep(2 * time.Millisecond)
			}
		}()
		_ = p.Stop(ctx)
	})
	return p
}

func TestProviderFansOutToSubscribers(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	clk := testingclock.NewFakeClock(time.Now())
	statuses := &statusLog{}
	p := newTestProvider(t, srv, clk, WithStatusHandler(statuses.record))

	var a, b atomic.Int32
	p.Subscribe("table", func(protocol.UpdateEvent) { a.Add(1) })
	p.Subscribe("toast", func(protocol.UpdateEvent) { panic("toast broke") })
	p.Subscribe("sidebar", func(protocol.UpdateEvent) { b.Add(1) })

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, "connected", func() bool { return p.Status() == StatusConnected })
	if !srv.WaitForUpdateConnections(1, 2*time.Second) {
		t.Fatalf("socket not registered")
	}

	srv.BroadcastUpdate(sampleEvent("u1", protocol.TargetBuild))
	waitUntil(t, "delivery", func() bool { return a.Load() == 1 && b.Load() == 1 })

	if !statuses.contains(StatusConnecting) || !statuses.contains(StatusConnected) {
		t.Fatalf("statuses = %v", statuses.statuses)
	}
	if p.LoopState() != LoopStreaming {
		t.Fatalf("loop state = %v", p.LoopState())
	}
}

func TestProviderReconnectRetiresOldGeneration(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	clk := testingclock.NewFakeClock(time.Now())
	p := newTestProvider(t, srv, clk)

	var received atomic.Int32
	p.Subscribe("counter", func(protocol.UpdateEvent) { received.Add(1) })

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, "first connection", func() bool { return p.Status() == StatusConnected })

	if err := p.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if p.Generation() != 2 {
		t.Fatalf("generation = %d", p.Generation())
	}
	stepUntil(t, clk, "single live socket", func() bool {
		return srv.UpdateDials() == 2 && srv.UpdateConnections() == 1 && p.Status() == StatusConnected
	})

	srv.BroadcastUpdate(sampleEvent("u2", protocol.TargetRepo))
	waitUntil(t, "delivery", func() bool { return received.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := received.Load(); got != 1 {
		t.Fatalf("event delivered %d times, want 1", got)
	}
}

func TestProviderStopClosesSocketAndRegistry(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	clk := testingclock.NewFakeClock(time.Now())
	statuses := &statusLog{}
	p := newTestProvider(t, srv, clk, WithStatusHandler(statuses.record))
	sub := p.Subscribe("x", func(protocol.UpdateEvent) {})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, "connected", func() bool { return p.Status() == StatusConnected })
	if !srv.WaitForUpdateConnections(1, 2*time.Second) {
		t.Fatalf("socket not registered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			clk.Step(500 * time.Millisecond)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.Status() != StatusDisconnected {
		t.Fatalf("status = %v", p.Status())
	}
	if last, ok := statuses.last(); !ok || last != StatusDisconnected {
		t.Fatalf("status handler last saw %v, want %v", last, StatusDisconnected)
	}
	if p.Subscribers() != 0 {
		t.Fatalf("registry not cleared")
	}
	if !sub.Closed() {
		t.Fatalf("subscription still open after Stop")
	}
	if !srv.WaitForUpdateConnections(0, 2*time.Second) {
		t.Fatalf("socket still open after Stop")
	}
	if err := p.Reconnect(); !errors.Is(err, ErrProviderStopped) {
		t.Fatalf("Reconnect after Stop = %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrProviderStopped) {
		t.Fatalf("Start after Stop = %v", err)
	}
}

func TestProviderConnectHandlerRunsBeforeConnected(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	clk := testingclock.NewFakeClock(time.Now())

	var p *Provider
	var connects atomic.Int32
	var sawConnected atomic.Bool
	p = newTestProvider(t, srv, clk, WithRetryTimeout(time.Second), WithConnectHandler(func() {
		connects.Add(1)
		if p.Status() == StatusConnected {
			sawConnected.Store(true)
		}
	}))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, "first connection", func() bool { return p.Status() == StatusConnected })
	if connects.Load() != 1 {
		t.Fatalf("connect handler ran %d times, want 1", connects.Load())
	}
	if !srv.WaitForUpdateConnections(1, 2*time.Second) {
		t.Fatalf("socket not registered")
	}

	srv.DropUpdateConnections()
	stepUntil(t, clk, "second connection", func() bool {
		return connects.Load() == 2 && p.Status() == StatusConnected
	})
	if sawConnected.Load() {
		t.Fatalf("connect handler ran after status was already connected")
	}
}

func TestProviderScopedSubscription(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	p := newTestProvider(t, srv, testingclock.NewFakeClock(time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	sub := p.SubscribeAnonymous(func(protocol.UpdateEvent) {}, eventbus.WithContext(ctx))
	if p.Subscribers() != 1 || sub.Key() == "" {
		t.Fatalf("anonymous subscription not registered")
	}
	cancel()
	waitUntil(t, "scoped removal", func() bool { return p.Subscribers() == 0 })

	p.Subscribe("k", func(protocol.UpdateEvent) {})
	if !p.Unsubscribe("k") || p.Subscribers() != 0 {
		t.Fatalf("Unsubscribe failed")
	}
}

func TestProviderReconnectBeforeStart(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	p := newTestProvider(t, srv, testingclock.NewFakeClock(time.Now()))
	if err := p.Reconnect(); err == nil {
		t.Fatalf("expected error reconnecting an unstarted provider")
	}
}
