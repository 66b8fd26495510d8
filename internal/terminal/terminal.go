// Package terminal connects interactive shells on Komodo servers,
// containers, deployments and stack services.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gorilla/websocket"

	"github.com/komodoctl/komodoctl/internal/frame"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/socket"
)

// Callbacks receive session events on the session's read goroutine.
type Callbacks struct {
	// OnLogin fires once the core accepts the login.
	OnLogin func()
	// OnMessage receives raw terminal output, unframed.
	OnMessage func(data []byte)
	// OnClose fires exactly once, for peer closes, transport errors and
	// local Close alike.
	OnClose func()
}

// Client opens terminal sessions against one core.
type Client struct {
	baseURL    string
	credential protocol.Credential
	dialer     *websocket.Dialer
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the logger used for dropped writes and close reasons.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a terminal client for the core at baseURL.
func NewClient(baseURL string, credential protocol.Credential, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		credential: credential,
		dialer:     socket.NewDialer(nil),
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is one interactive terminal connection. It never reconnects on
// its own; use Reconnect to replace it.
type Session struct {
	client    *Client
	target    protocol.TerminalTarget
	callbacks Callbacks
	conn      *socket.Conn
}

// Connect opens a session to target. Connection failures are reported
// through OnClose; the returned error covers only invalid arguments.
func (c *Client) Connect(ctx context.Context, target protocol.TerminalTarget, cb Callbacks) (*Session, error) {
	if target == nil {
		return nil, errors.New("terminal: target is nil")
	}
	u, err := socket.URL(c.baseURL, target.SocketPath(), target.SocketQuery())
	if err != nil {
		return nil, fmt.Errorf("terminal: %w", err)
	}

	s := &Session{client: c, target: target, callbacks: cb}
	s.conn = socket.Open(ctx, socket.Config{
		URL:        u,
		Credential: c.credential,
		Dialer:     c.dialer,
	}, socket.Handlers{
		OnLogin: cb.OnLogin,
		OnMessage: func(_ int, data []byte) {
			if cb.OnMessage != nil {
				cb.OnMessage(data)
			}
		},
		OnClose: func(err error) {
			if err != nil {
				c.logger.Printf("[terminal] %s closed: %v", target.SocketPath(), err)
			}
			if cb.OnClose != nil {
				cb.OnClose()
			}
		},
	})
	return s, nil
}

// Target returns the session's target.
func (s *Session) Target() protocol.TerminalTarget {
	return s.target
}

// State returns the underlying connection state.
func (s *Session) State() socket.State {
	return s.conn.State()
}

// Done is closed after OnClose has fired.
func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

// SendStdin writes a stdin frame. Input sent while the session is not open
// is dropped; the return value reports whether it was written.
func (s *Session) SendStdin(text string) bool {
	return s.send(frame.EncodeStdin(text))
}

// SendResize writes a resize frame, dropped like SendStdin when not open.
func (s *Session) SendResize(rows, cols uint16) bool {
	return s.send(frame.EncodeResize(rows, cols))
}

func (s *Session) send(msg []byte) bool {
	err := s.conn.WriteBinary(msg)
	switch {
	case err == nil:
		return true
	case errors.Is(err, socket.ErrNotReady):
		return false
	default:
		s.client.logger.Printf("[terminal] write to %s failed: %v", s.target.SocketPath(), err)
		return false
	}
}

// Close closes the session. OnClose fires once even if Close is repeated.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Reconnect closes this session and opens a fresh one to the same target
// with the same callbacks.
func (s *Session) Reconnect(ctx context.Context) (*Session, error) {
	_ = s.Close()
	return s.client.Connect(ctx, s.target, s.callbacks)
}
