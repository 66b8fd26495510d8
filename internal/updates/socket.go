// Package updates maintains the update socket: a login-gated feed of
// server-side state changes with automatic reconnects and keyed fan-out.
package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/gorilla/websocket"

	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/sanitize"
	"github.com/komodoctl/komodoctl/internal/socket"
)

// Config locates the update socket.
type Config struct {
	BaseURL    string
	Credential protocol.Credential
	Dialer     *websocket.Dialer
	Logger     *log.Logger
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Callbacks receive events from one update socket.
type Callbacks struct {
	OnLogin  func()
	OnUpdate func(protocol.UpdateEvent)
	OnClose  func(err error)
}

// Dial opens exactly one update socket and never reconnects it. Messages
// that are not valid update events are logged and skipped.
func Dial(ctx context.Context, cfg Config, cb Callbacks) (*socket.Conn, error) {
	u, err := socket.URL(cfg.BaseURL, protocol.PathUpdateSocket, nil)
	if err != nil {
		return nil, fmt.Errorf("updates: %w", err)
	}
	logger := cfg.logger()

	return socket.Open(ctx, socket.Config{
		URL:        u,
		Credential: cfg.Credential,
		Dialer:     cfg.Dialer,
	}, socket.Handlers{
		OnLogin: cb.OnLogin,
		OnMessage: func(_ int, data []byte) {
			var ev protocol.UpdateEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				logger.Printf("[updates] discarding message %q: %v", sanitize.Preview(data, 128), err)
				return
			}
			if cb.OnUpdate != nil {
				cb.OnUpdate(ev)
			}
		},
		OnClose: cb.OnClose,
	}), nil
}
