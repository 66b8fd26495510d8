package updates

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/komodoctl/komodoctl/internal/constants"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/socket"
)

// LoopState is the reconnect loop's position in its connection cycle.
type LoopState int

const (
	LoopIdle LoopState = iota
	LoopConnecting
	LoopLoginSent
	LoopStreaming
	LoopClosed
	LoopStopped
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopConnecting:
		return "connecting"
	case LoopLoginSent:
		return "login_sent"
	case LoopStreaming:
		return "streaming"
	case LoopClosed:
		return "closed"
	case LoopStopped:
		return "stopped"
	default:
		return fmt.Sprintf("loop_state(%d)", int(s))
	}
}

// DialFunc opens one update socket. Dial bound to a Config is the usual
// implementation.
type DialFunc func(ctx context.Context, cb Callbacks) (*socket.Conn, error)

// LoopOptions configures one Run of the reconnect loop.
type LoopOptions struct {
	OnLogin  func()
	OnUpdate func(protocol.UpdateEvent)
	// OnClose fires after each socket closes.
	OnClose func(err error)
	// OnCancel fires once when the loop exits because it was cancelled.
	OnCancel func()

	// NoRetry makes the loop return after the first socket closes.
	NoRetry bool
	// RetryTimeout is the delay between reconnects. Zero means 5s.
	RetryTimeout time.Duration
	// Current, when set, must keep returning true for the loop to dial.
	// Owners use it to retire loops from older generations.
	Current func() bool
}

// Loop keeps an update socket connected until cancelled. A Loop runs at
// most once.
type Loop struct {
	dial   DialFunc
	clock  clock.WithTicker
	logger *log.Logger

	mu    sync.Mutex
	state LoopState
	conn  *socket.Conn
	dials int
}

// NewLoop creates a loop that opens sockets with dial.
func NewLoop(dial DialFunc, clk clock.WithTicker, logger *log.Logger) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{dial: dial, clock: clk, logger: logger}
}

// State reports where the loop is in its cycle. While a socket is up the
// state follows the socket: connecting, login sent, then streaming.
func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LoopConnecting || l.conn == nil {
		return l.state
	}
	switch l.conn.State() {
	case socket.StateOpen:
		return LoopLoginSent
	case socket.StateLoggedIn:
		return LoopStreaming
	case socket.StateClosed:
		return LoopClosed
	default:
		return LoopConnecting
	}
}

// Dials returns how many sockets the loop has opened.
func (l *Loop) Dials() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials
}

func (l *Loop) setState(s LoopState, conn *socket.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	l.conn = conn
}

// Run connects, waits for the socket to close, sleeps RetryTimeout and
// reconnects, forever. It returns only when token is cancelled (after
// calling OnCancel once), when ctx is done, or after the first close when
// NoRetry is set. Cancelling ctx cancels token.
func (l *Loop) Run(ctx context.Context, token *CancelToken, opts LoopOptions) {
	stop := context.AfterFunc(ctx, token.Cancel)
	defer stop()

	retry := opts.RetryTimeout
	if retry <= 0 {
		retry = constants.DefaultRetryTimeout
	}

	for {
		if l.cancelled(token, opts) {
			l.setState(LoopStopped, nil)
			if opts.OnCancel != nil {
				opts.OnCancel()
			}
			return
		}

		l.setState(LoopConnecting, nil)
		conn, err := l.dial(ctx, Callbacks{
			OnLogin:  opts.OnLogin,
			OnUpdate: opts.OnUpdate,
			OnClose:  opts.OnClose,
		})
		if err != nil {
			l.logger.Printf("[updates] connect failed: %v", err)
		} else {
			l.mu.Lock()
			l.conn = conn
			l.dials++
			l.mu.Unlock()
			l.awaitClose(token, conn)
		}
		l.setState(LoopClosed, nil)

		if opts.NoRetry && !token.Cancelled() {
			l.setState(LoopStopped, nil)
			return
		}
		if !token.Cancelled() {
			l.sleep(token, retry)
		}
	}
}

func (l *Loop) cancelled(token *CancelToken, opts LoopOptions) bool {
	if token.Cancelled() {
		return true
	}
	return opts.Current != nil && !opts.Current()
}

// awaitClose polls the socket every readiness interval until it has
// closed, closing it first if the token is cancelled.
func (l *Loop) awaitClose(token *CancelToken, conn *socket.Conn) {
	ticker := l.clock.NewTicker(constants.ReadinessPollInterval)
	defer ticker.Stop()

	cancelled := token.Done()
	for {
		if conn.State() == socket.StateClosed {
			return
		}
		select {
		case <-ticker.C():
		case <-cancelled:
			cancelled = nil
			_ = conn.Close()
		}
		if token.Cancelled() {
			_ = conn.Close()
		}
	}
}

func (l *Loop) sleep(token *CancelToken, d time.Duration) {
	timer := l.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-token.Done():
	}
}
