// Package eventbus provides the keyed subscriber registry that fans out
// update events, plus lifecycle helpers for the services that own one.
package eventbus

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives one event.
type Handler[T any] func(event T)

// Registry maps subscriber keys to handlers. Each key holds at most one
// handler; subscribing again under a key replaces the previous handler.
// Publish delivers to a snapshot of the handlers, so handlers may
// subscribe or unsubscribe while being dispatched.
type Registry[T any] struct {
	logger *log.Logger
	name   string

	mu       sync.Mutex
	handlers map[string]*entry[T]
	nextSeq  uint64
}

type entry[T any] struct {
	key     string
	seq     uint64
	handler Handler[T]
}

// Option customises a Registry.
type Option func(*options)

type options struct {
	logger *log.Logger
	name   string
}

// WithLogger overrides the logger used for handler panics.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName labels the registry in log lines.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry[T any](opts ...Option) *Registry[T] {
	o := options{logger: log.Default(), name: "registry"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[T]{
		logger:   o.logger,
		name:     o.name,
		handlers: make(map[string]*entry[T]),
	}
}

// SubscribeOption customises a single subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	ctx context.Context
}

// WithContext removes the subscription automatically when ctx is done.
func WithContext(ctx context.Context) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.ctx = ctx
	}
}

// Subscription is the capability to remove one registration.
type Subscription struct {
	key    string
	once   sync.Once
	close  func()
	closed atomic.Bool

	mu   sync.Mutex
	stop func() bool
}

// Key returns the subscriber key.
func (s *Subscription) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// Close removes the registration. It does nothing if the key has since
// been taken over by a newer registration. Safe to call repeatedly.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.close()
		s.closed.Store(true)
	})
}

// Closed reports whether Close has run.
func (s *Subscription) Closed() bool {
	return s == nil || s.closed.Load()
}

// watch ties the subscription to ctx. AfterFunc may fire Close on another
// goroutine before it returns, so stop is published under mu.
func (s *Subscription) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// Subscribe registers handler under key, replacing any existing handler.
func (r *Registry[T]) Subscribe(key string, handler Handler[T], opts ...SubscribeOption) *Subscription {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	r.nextSeq++
	e := &entry[T]{key: key, seq: r.nextSeq, handler: handler}
	r.handlers[key] = e
	r.mu.Unlock()

	sub := &Subscription{
		key:   key,
		close: func() { r.remove(e) },
	}
	if cfg.ctx != nil {
		sub.watch(cfg.ctx)
	}
	return sub
}

// SubscribeAnonymous registers handler under a freshly generated key.
func (r *Registry[T]) SubscribeAnonymous(handler Handler[T], opts ...SubscribeOption) *Subscription {
	return r.Subscribe(uuid.NewString(), handler, opts...)
}

// Unsubscribe removes whatever handler is registered under key and
// reports whether one was present.
func (r *Registry[T]) Unsubscribe(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[key]
	delete(r.handlers, key)
	return ok
}

func (r *Registry[T]) remove(e *entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.handlers[e.key]; ok && current == e {
		delete(r.handlers, e.key)
	}
}

// Len returns the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Keys returns the registered keys in registration order.
func (r *Registry[T]) Keys() []string {
	snapshot := r.snapshot()
	keys := make([]string, len(snapshot))
	for i, e := range snapshot {
		keys[i] = e.key
	}
	return keys
}

// Reset removes every handler.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.handlers)
}

func (r *Registry[T]) snapshot() []*entry[T] {
	r.mu.Lock()
	out := make([]*entry[T], 0, len(r.handlers))
	for _, e := range r.handlers {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Publish invokes every handler registered at the time of the call, in
// registration order, and returns how many were invoked. A panicking
// handler is logged and does not stop delivery to the others.
func (r *Registry[T]) Publish(event T) int {
	handlers := r.snapshot()
	for _, e := range handlers {
		r.deliver(e, event)
	}
	return len(handlers)
}

func (r *Registry[T]) deliver(e *entry[T], event T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("[eventbus] %s: handler %q panicked: %v", r.name, e.key, rec)
		}
	}()
	e.handler(event)
}
