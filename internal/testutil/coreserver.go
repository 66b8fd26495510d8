// Package testutil provides an in-process fake of the Komodo core API for
// package tests: the RPC namespaces, the update socket, terminal sockets
// and streaming exec endpoints.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/komodoctl/komodoctl/internal/frame"
	"github.com/komodoctl/komodoctl/internal/protocol"
)

// RPCHandler answers one RPC request type. Returning a []byte body writes
// it verbatim, anything else is JSON encoded.
type RPCHandler func(params json.RawMessage) (status int, body any)

// TerminalHandler drives a logged-in terminal socket.
type TerminalHandler func(conn *websocket.Conn, r *http.Request)

// RecordedRequest captures an RPC request for assertions.
type RecordedRequest struct {
	Namespace string
	Type      string
	Params    json.RawMessage
	Header    http.Header
}

// CoreServer is a fake core API backed by httptest.
type CoreServer struct {
	*httptest.Server

	t        testing.TB
	upgrader websocket.Upgrader

	mu          sync.Mutex
	rpc         map[string]RPCHandler
	exec        map[string]http.HandlerFunc
	terminal    TerminalHandler
	rejectLogin bool
	logins      []string
	requests    []RecordedRequest
	updateConns map[*websocket.Conn]struct{}
	dials       int
	changed     chan struct{}
}

// NewCoreServer starts a fake core and registers cleanup with t.
func NewCoreServer(t testing.TB) *CoreServer {
	t.Helper()
	s := &CoreServer{
		t:           t,
		rpc:         make(map[string]RPCHandler),
		exec:        make(map[string]http.HandlerFunc),
		updateConns: make(map[*websocket.Conn]struct{}),
		changed:     make(chan struct{}),
		terminal:    EchoTerminal,
	}

	mux := http.NewServeMux()
	for _, ns := range []protocol.Namespace{
		protocol.NamespaceAuth,
		protocol.NamespaceUser,
		protocol.NamespaceRead,
		protocol.NamespaceWrite,
		protocol.NamespaceExecute,
	} {
		mux.HandleFunc("/"+string(ns), s.handleRPC(ns))
	}
	mux.HandleFunc(protocol.PathUpdateSocket, s.handleUpdateSocket)
	for _, p := range []string{
		protocol.PathTerminalSocket,
		protocol.PathContainerTerminalSocket,
		protocol.PathDeploymentTerminalSocket,
		protocol.PathStackTerminalSocket,
	} {
		mux.HandleFunc(p, s.handleTerminalSocket)
	}
	mux.HandleFunc("/terminal/", s.handleExec)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// HandleRPC registers a handler for namespace/type.
func (s *CoreServer) HandleRPC(ns protocol.Namespace, typ string, h RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpc[string(ns)+"/"+typ] = h
}

// HandleExec registers a streaming exec handler for an execute path.
func (s *CoreServer) HandleExec(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec[path] = h
}

// HandleTerminal replaces the logged-in terminal behaviour.
func (s *CoreServer) HandleTerminal(h TerminalHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal = h
}

// RejectLogins makes subsequent socket logins fail.
func (s *CoreServer) RejectLogins(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLogin = reject
}

// Logins returns the raw login messages received so far.
func (s *CoreServer) Logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logins...)
}

// Requests returns the RPC requests received so far.
func (s *CoreServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// UpdateDials returns how many update sockets have been accepted.
func (s *CoreServer) UpdateDials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// UpdateConnections returns the number of live, logged-in update sockets.
func (s *CoreServer) UpdateConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updateConns)
}

// WaitForUpdateConnections blocks until exactly n update sockets are live.
func (s *CoreServer) WaitForUpdateConnections(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		count := len(s.updateConns)
		changed := s.changed
		s.mu.Unlock()
		if count == n {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

// BroadcastUpdate sends ev as JSON to every live update socket and returns
// how many sockets received it.
func (s *CoreServer) BroadcastUpdate(ev any) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.t.Errorf("testutil: marshal update: %v", err)
		return 0
	}
	return s.BroadcastRaw(payload)
}

// BroadcastRaw sends a raw text message to every live update socket.
func (s *CoreServer) BroadcastRaw(payload []byte) int {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.updateConns))
	for c := range s.updateConns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err == nil {
			sent++
		}
	}
	return sent
}

// DropUpdateConnections closes every live update socket from the server side.
func (s *CoreServer) DropUpdateConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.updateConns))
	for c := range s.updateConns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}

func (s *CoreServer) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *CoreServer) handleRPC(ns protocol.Namespace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Type   string          `json:"type"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorBody{Error: "invalid request body", Trace: []string{err.Error()}})
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Namespace: string(ns),
			Type:      req.Type,
			Params:    req.Params,
			Header:    r.Header.Clone(),
		})
		h := s.rpc[string(ns)+"/"+req.Type]
		s.mu.Unlock()

		if h == nil {
			writeJSON(w, http.StatusNotFound, protocol.ErrorBody{Error: "unknown request type " + req.Type, Trace: []string{}})
			return
		}
		status, body := h(req.Params)
		writeJSON(w, status, body)
	}
}

func (s *CoreServer) handleExec(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h := s.exec[r.URL.Path]
	s.mu.Unlock()
	if h == nil {
		writeJSON(w, http.StatusNotFound, protocol.ErrorBody{Error: "no exec handler", Trace: []string{}})
		return
	}
	h(w, r)
}

// login performs the server side of the socket handshake. It returns false
// when the login was rejected and the socket closed.
func (s *CoreServer) login(conn *websocket.Conn) bool {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.logins = append(s.logins, string(msg))
	reject := s.rejectLogin
	s.mu.Unlock()

	if reject {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ERROR: invalid login"))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return false
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(protocol.LoggedIn)) == nil
}

func (s *CoreServer) handleUpdateSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.dials++
	s.mu.Unlock()

	if !s.login(conn) {
		return
	}

	s.mu.Lock()
	s.updateConns[conn] = struct{}{}
	s.notifyLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.updateConns, conn)
		s.notifyLocked()
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *CoreServer) handleTerminalSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !s.login(conn) {
		return
	}

	s.mu.Lock()
	h := s.terminal
	s.mu.Unlock()
	h(conn, r)
}

// EchoTerminal writes stdin frames back as raw output and answers resize
// frames with a "resize <rows>x<cols>" text line.
func EchoTerminal(conn *websocket.Conn, _ *http.Request) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		tag, payload, err := frame.Split(msg)
		if err != nil {
			continue
		}
		switch tag {
		case frame.TagStdin:
			_ = conn.WriteMessage(websocket.BinaryMessage, payload)
		case frame.TagResize:
			r, err := frame.DecodeResize(msg)
			if err != nil {
				continue
			}
			line := []byte("resize " + strconv.Itoa(int(r.Rows)) + "x" + strconv.Itoa(int(r.Cols)))
			_ = conn.WriteMessage(websocket.BinaryMessage, line)
		}
	}
}

// StreamChunks returns an exec handler that flushes each chunk separately
// and then ends the response.
func StreamChunks(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch b := body.(type) {
	case []byte:
		_, _ = w.Write(b)
	default:
		_ = json.NewEncoder(w).Encode(b)
	}
}
