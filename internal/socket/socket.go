// Package socket implements the login-gated websocket connection shared by
// the update channel and terminal sessions.
package socket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/komodoctl/komodoctl/internal/constants"
	"github.com/komodoctl/komodoctl/internal/protocol"
)

// State is the logical state of a Conn. Transitions are monotonic:
// Connecting, Open (transport up, login sent), LoggedIn, Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateLoggedIn
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateLoggedIn:
		return "logged_in"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Ready reports whether writes are accepted in this state.
func (s State) Ready() bool {
	return s == StateOpen || s == StateLoggedIn
}

// ErrNotReady is returned by writes attempted outside the ready states.
var ErrNotReady = errors.New("socket: connection not ready")

// Config describes a single socket to open.
type Config struct {
	URL        string
	Credential protocol.Credential
	Dialer     *websocket.Dialer
	Header     http.Header
}

// Handlers receive connection events. All handlers run on the connection's
// read goroutine, in arrival order.
type Handlers struct {
	// OnLogin fires once when the core acknowledges the login.
	OnLogin func()
	// OnMessage receives every other inbound message.
	OnMessage func(messageType int, data []byte)
	// OnClose fires exactly once. err is nil for a normal or local close.
	OnClose func(err error)
}

// Conn is one websocket connection to the core.
type Conn struct {
	cfg      Config
	handlers Handlers

	state atomic.Int32

	mu      sync.Mutex
	ws      *websocket.Conn
	closing bool
	cancel  context.CancelFunc

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewDialer builds the websocket dialer used for every core socket.
func NewDialer(tlsConfig *tls.Config) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  constants.WebsocketHandshakeTimeout,
		EnableCompression: true,
		TLSClientConfig:   tlsConfig,
	}
}

// URL converts an HTTP base URL into the websocket URL of path with query.
func URL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("socket: parse base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socket: base url %q missing host", base)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Open starts connecting in the background and returns immediately in the
// Connecting state. Dial and login failures surface only through OnClose.
// Cancelling ctx closes the connection.
func Open(ctx context.Context, cfg Config, handlers Handlers) *Conn {
	if cfg.Dialer == nil {
		cfg.Dialer = NewDialer(nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		cfg:      cfg,
		handlers: handlers,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	go c.run(ctx)
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection has closed and OnClose has returned.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the close error after Done is closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection. It is safe to call repeatedly and from
// within handlers; OnClose still fires exactly once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(constants.WebsocketCloseTimeout))
	c.writeMu.Unlock()
	return ws.Close()
}

// WriteBinary sends one binary message. It returns ErrNotReady unless the
// connection is open.
func (c *Conn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// WriteText sends one text message. It returns ErrNotReady unless the
// connection is open.
func (c *Conn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	if !c.State().Ready() {
		return ErrNotReady
	}
	c.mu.Lock()
	ws := c.ws
	closing := c.closing
	c.mu.Unlock()
	if ws == nil || closing {
		return ErrNotReady
	}
	return c.writeRaw(ws, messageType, data)
}

func (c *Conn) writeRaw(ws *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(constants.WebsocketWriteTimeout))
	return ws.WriteMessage(messageType, data)
}

func (c *Conn) run(ctx context.Context) {
	login, err := c.cfg.Credential.LoginMessage()
	if err != nil {
		c.finish(fmt.Errorf("socket: login message: %w", err))
		return
	}

	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if c.isClosing() {
			err = nil
		} else {
			err = fmt.Errorf("socket: dial %s: %w", c.cfg.URL, err)
		}
		c.finish(err)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		c.finish(nil)
		return
	}
	c.ws = ws
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.state.Store(int32(StateOpen))
	if err := c.writeRaw(ws, websocket.TextMessage, login); err != nil {
		_ = ws.Close()
		c.finish(fmt.Errorf("socket: send login: %w", err))
		return
	}

	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			_ = ws.Close()
			if c.isClosing() || isNormalClose(err) {
				err = nil
			}
			c.finish(err)
			return
		}

		if c.State() == StateOpen && messageType == websocket.TextMessage && string(payload) == protocol.LoggedIn {
			c.state.CompareAndSwap(int32(StateOpen), int32(StateLoggedIn))
			if c.handlers.OnLogin != nil {
				c.handlers.OnLogin()
			}
			continue
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(messageType, payload)
		}
	}
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.err = err
		c.cancel()
		if c.handlers.OnClose != nil {
			c.handlers.OnClose(err)
		}
		close(c.done)
	})
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF)
}
