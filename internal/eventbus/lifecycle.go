package eventbus

import (
	"context"
	"sync"
)

// SubscriptionGroup closes a set of subscriptions together.
type SubscriptionGroup struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add tracks subscriptions for CloseAll. Nil subscriptions are ignored and
// ones already closed are dropped from the group.
func (g *SubscriptionGroup) Add(subs ...*Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	live := g.subs[:0]
	for _, sub := range g.subs {
		if !sub.Closed() {
			live = append(live, sub)
		}
	}
	g.subs = live
	for _, sub := range subs {
		if sub != nil {
			g.subs = append(g.subs, sub)
		}
	}
}

// Len returns the number of tracked subscriptions.
func (g *SubscriptionGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// CloseAll closes every tracked subscription and empties the group.
func (g *SubscriptionGroup) CloseAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// ServiceLifecycle tracks the context, subscriptions and worker goroutines
// of a long-running service.
type ServiceLifecycle struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	subs   SubscriptionGroup
	wg     sync.WaitGroup
}

// Start derives the service context from ctx.
func (l *ServiceLifecycle) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// Context returns the service context, or a cancelled context before Start.
func (l *ServiceLifecycle) Context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return l.ctx
}

// AddSubscriptions registers subscriptions that Stop closes.
func (l *ServiceLifecycle) AddSubscriptions(subs ...*Subscription) {
	l.subs.Add(subs...)
}

// Go runs worker on a tracked goroutine with the service context.
func (l *ServiceLifecycle) Go(worker func(ctx context.Context)) {
	if worker == nil {
		return
	}
	ctx := l.Context()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		worker(ctx)
	}()
}

// Stop cancels the service context and closes tracked subscriptions.
func (l *ServiceLifecycle) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.subs.CloseAll()
}

// Wait blocks until every worker returns or ctx is done.
func (l *ServiceLifecycle) Wait(ctx context.Context) error {
	return WaitForWorkers(ctx, &l.wg)
}

// Shutdown is Stop followed by Wait.
func (l *ServiceLifecycle) Shutdown(ctx context.Context) error {
	l.Stop()
	return l.Wait(ctx)
}

// WaitForWorkers waits for wg or returns ctx.Err() when ctx is done first.
func WaitForWorkers(ctx context.Context, wg *sync.WaitGroup) error {
	if wg == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
