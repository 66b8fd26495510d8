package updates

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/komodoctl/komodoctl/internal/eventbus"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/socket"
)

// Status is the connection indicator exposed to callers.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrProviderStopped is returned when reconnecting a stopped provider.
var ErrProviderStopped = errors.New("updates: provider stopped")

// Provider owns the update channel: one reconnect loop at a time and the
// subscriber registry its events fan out to.
type Provider struct {
	cfg          Config
	clock        clock.WithTicker
	logger       *log.Logger
	retryTimeout time.Duration
	onStatus     func(Status)
	onConnect    func()

	registry  *eventbus.Registry[protocol.UpdateEvent]
	lifecycle eventbus.ServiceLifecycle

	mu         sync.Mutex
	started    bool
	stopped    bool
	generation uint64
	token      *CancelToken
	loop       *Loop
	status     Status
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithClock sets the clock driving readiness polls and retry delays.
func WithClock(clk clock.WithTicker) ProviderOption {
	return func(p *Provider) {
		if clk != nil {
			p.clock = clk
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *log.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetryTimeout sets the delay between reconnects.
func WithRetryTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.retryTimeout = d
	}
}

// WithStatusHandler registers a callback for connection status changes.
func WithStatusHandler(fn func(Status)) ProviderOption {
	return func(p *Provider) {
		p.onStatus = fn
	}
}

// WithConnectHandler registers fn to run after every successful login,
// before the status becomes StatusConnected. Events sent while the socket
// was down are lost, so owners of derived state resync here.
func WithConnectHandler(fn func()) ProviderOption {
	return func(p *Provider) {
		p.onConnect = fn
	}
}

// NewProvider creates a provider for the update socket described by cfg.
func NewProvider(cfg Config, opts ...ProviderOption) *Provider {
	p := &Provider{
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: cfg.logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Logger == nil {
		p.cfg.Logger = p.logger
	}
	p.registry = eventbus.NewRegistry[protocol.UpdateEvent](
		eventbus.WithLogger(p.logger),
		eventbus.WithName("updates"),
	)
	return p
}

// Start begins the first connection cycle. Calling Start again is a no-op.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrProviderStopped
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.lifecycle.Start(ctx)
	return p.Reconnect()
}

// Reconnect retires the running loop by cancelling its token and starts a
// fresh loop with a new token and generation.
func (p *Provider) Reconnect() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrProviderStopped
	}
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("updates: provider not started")
	}
	if p.token != nil {
		p.token.Cancel()
	}
	p.generation++
	gen := p.generation
	token := NewCancelToken()
	p.token = token
	loop := NewLoop(p.dialFunc(), p.clock, p.logger)
	p.loop = loop
	p.mu.Unlock()

	p.setStatus(gen, StatusConnecting)
	p.lifecycle.Go(func(ctx context.Context) {
		loop.Run(ctx, token, LoopOptions{
			RetryTimeout: p.retryTimeout,
			Current:      func() bool { return p.isCurrent(gen) },
			OnLogin: func() {
				if p.onConnect != nil && p.isCurrent(gen) {
					p.onConnect()
				}
				p.setStatus(gen, StatusConnected)
			},
			OnUpdate: func(ev protocol.UpdateEvent) {
				if p.isCurrent(gen) {
					p.registry.Publish(ev)
				}
			},
			OnClose: func(err error) {
				if err != nil {
					p.logger.Printf("[updates] socket closed: %v", err)
				}
				p.setStatus(gen, StatusConnecting)
			},
			OnCancel: func() {
				p.setStatus(gen, StatusDisconnected)
			},
		})
	})
	return nil
}

func (p *Provider) dialFunc() DialFunc {
	cfg := p.cfg
	return func(ctx context.Context, cb Callbacks) (*socket.Conn, error) {
		return Dial(ctx, cfg, cb)
	}
}

// Stop cancels the running loop, waits for it to exit, closes every
// subscription handed out by Subscribe and clears the registry. A stopped
// provider cannot be restarted.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	if p.token != nil {
		p.token.Cancel()
	}
	p.generation++
	changed := p.status != StatusDisconnected
	p.status = StatusDisconnected
	fn := p.onStatus
	p.mu.Unlock()

	if changed && fn != nil {
		fn(StatusDisconnected)
	}
	err := p.lifecycle.Shutdown(ctx)
	p.registry.Reset()
	return err
}

func (p *Provider) isCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == gen
}

// setStatus records s if gen is still the running generation.
func (p *Provider) setStatus(gen uint64, s Status) {
	p.mu.Lock()
	if p.generation != gen || p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	fn := p.onStatus
	p.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// Status returns the current connection status.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Generation returns the number of loops started so far.
func (p *Provider) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// LoopState reports the state of the running loop.
func (p *Provider) LoopState() LoopState {
	p.mu.Lock()
	loop := p.loop
	p.mu.Unlock()
	if loop == nil {
		return LoopIdle
	}
	return loop.State()
}

// Subscribe registers handler under key, replacing any handler already
// registered there. Pass eventbus.WithContext to scope it to a caller.
func (p *Provider) Subscribe(key string, handler eventbus.Handler[protocol.UpdateEvent], opts ...eventbus.SubscribeOption) *eventbus.Subscription {
	sub := p.registry.Subscribe(key, handler, opts...)
	p.lifecycle.AddSubscriptions(sub)
	return sub
}

// SubscribeAnonymous registers handler under a generated key.
func (p *Provider) SubscribeAnonymous(handler eventbus.Handler[protocol.UpdateEvent], opts ...eventbus.SubscribeOption) *eventbus.Subscription {
	sub := p.registry.SubscribeAnonymous(handler, opts...)
	p.lifecycle.AddSubscriptions(sub)
	return sub
}

// Unsubscribe removes the handler registered under key.
func (p *Provider) Unsubscribe(key string) bool {
	return p.registry.Unsubscribe(key)
}

// Subscribers returns the number of registered handlers.
func (p *Provider) Subscribers() int {
	return p.registry.Len()
}
