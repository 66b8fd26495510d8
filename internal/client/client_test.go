package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/komodoctl/komodoctl/internal/client"
	"github.com/komodoctl/komodoctl/internal/config"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/terminal"
	"github.com/komodoctl/komodoctl/internal/testutil"
	"github.com/komodoctl/komodoctl/internal/updates"
)

func newClient(t *testing.T, srv *testutil.CoreServer, opts client.Options) *client.Client {
	t.Helper()
	opts.Address = srv.URL
	opts.Credential = protocol.JWTCredential("jwt")
	opts.Logger = log.New(io.Discard, "", 0)
	c, err := client.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func terminalCallbacks(loggedIn chan<- struct{}) terminal.Callbacks {
	return terminal.Callbacks{
		OnLogin: func() {
			select {
			case loggedIn <- struct{}{}:
			default:
			}
		},
	}
}

func TestNewRequiresAddressAndCredential(t *testing.T) {
	if _, err := client.New(client.Options{Credential: protocol.JWTCredential("jwt")}); !errors.Is(err, config.ErrNoAddress) {
		t.Fatalf("missing address: got %v", err)
	}
	if _, err := client.New(client.Options{Address: "http://localhost:9120"}); !errors.Is(err, protocol.ErrNoCredential) {
		t.Fatalf("missing credential: got %v", err)
	}
}

func TestUpdatesInvalidateCachedReads(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleRPC(protocol.NamespaceRead, "ListStacks", func(json.RawMessage) (int, any) {
		return 200, []string{"stack-a"}
	})

	var statuses []updates.Status
	statusCh := make(chan updates.Status, 8)
	c := newClient(t, srv, client.Options{OnStatus: func(s updates.Status) { statusCh <- s }})

	var stacks []string
	if err := c.Cache().Read(context.Background(), "ListStacks", nil, &stacks); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := c.Cache().Read(context.Background(), "ListStacks", nil, &stacks); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := len(srv.Requests()); got != 1 {
		t.Fatalf("server saw %d reads, want 1", got)
	}

	if err := c.Updates().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for len(statuses) == 0 || statuses[len(statuses)-1] != updates.StatusConnected {
		select {
		case s := <-statusCh:
			statuses = append(statuses, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("never connected, statuses %v", statuses)
		}
	}
	if !srv.WaitForUpdateConnections(1, 2*time.Second) {
		t.Fatalf("update socket not registered")
	}

	srv.BroadcastUpdate(protocol.UpdateEvent{
		ID:     "u1",
		Target: protocol.NewTarget(protocol.TargetStack, "stack-a"),
		Status: protocol.UpdateComplete,
	})
	waitUntil(t, "cache invalidation", func() bool { return c.Cache().Len() == 0 })

	if err := c.Cache().Read(context.Background(), "ListStacks", nil, &stacks); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := len(srv.Requests()); got != 2 {
		t.Fatalf("server saw %d reads after invalidation, want 2", got)
	}
}

func TestReconnectPurgesCachedReads(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	var mu sync.Mutex
	stacks := []string{"stack-a"}
	srv.HandleRPC(protocol.NamespaceRead, "ListStacks", func(json.RawMessage) (int, any) {
		mu.Lock()
		defer mu.Unlock()
		return 200, append([]string(nil), stacks...)
	})

	statusCh := make(chan updates.Status, 16)
	c := newClient(t, srv, client.Options{
		RetryTimeout: 50 * time.Millisecond,
		OnStatus:     func(s updates.Status) { statusCh <- s },
	})
	waitConnected := func(what string) {
		t.Helper()
		for {
			select {
			case s := <-statusCh:
				if s == updates.StatusConnected {
					return
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("never connected (%s)", what)
			}
		}
	}

	if err := c.Updates().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitConnected("first login")
	if !srv.WaitForUpdateConnections(1, 2*time.Second) {
		t.Fatalf("update socket not registered")
	}

	var got []string
	if err := c.Cache().Read(context.Background(), "ListStacks", nil, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("first read = %v", got)
	}

	mu.Lock()
	stacks = append(stacks, "stack-b")
	mu.Unlock()
	srv.DropUpdateConnections()
	waitConnected("after reconnect")

	if err := c.Cache().Read(context.Background(), "ListStacks", nil, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 || got[1] != "stack-b" {
		t.Fatalf("after reconnect: %v, server has [stack-a stack-b]", got)
	}
}

func TestCloseClosesCacheSubscription(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	c := newClient(t, srv, client.Options{})
	if c.Updates().Subscribers() != 1 {
		t.Fatalf("cache not subscribed, %d subscribers", c.Updates().Subscribers())
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Updates().Subscribers() != 0 {
		t.Fatalf("subscribers after Close = %d", c.Updates().Subscribers())
	}
}

func TestExecutorStreamsThroughRPCClient(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteDeployment, testutil.StreamChunks("hello\n", "__KOMODO_EXIT_CODE:3\n"))
	c := newClient(t, srv, client.Options{})

	stream, err := c.Executor().ExecuteStream(context.Background(), protocol.DeploymentExec{Deployment: "web", Shell: "sh"}, "echo hello")
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	defer stream.Close()

	var lines []string
	for line := range stream.Lines() {
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[0] != "hello" {
		t.Fatalf("lines = %q", lines)
	}
	if code, ok := stream.ExitCode(); !ok || code != "3" {
		t.Fatalf("exit code = %q, %v", code, ok)
	}
}

func TestTerminalsShareCredential(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	c := newClient(t, srv, client.Options{})

	loggedIn := make(chan struct{}, 1)
	session, err := c.Terminals().Connect(context.Background(), protocol.ServerTerminal{Server: "s", Terminal: "t"}, terminalCallbacks(loggedIn))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer session.Close()

	select {
	case <-loggedIn:
	case <-time.After(2 * time.Second):
		t.Fatalf("terminal never logged in")
	}
	if logins := srv.Logins(); len(logins) == 0 {
		t.Fatalf("server recorded no login")
	}
}

func TestFromEnvironment(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(config.EnvProfile, "")
	t.Setenv(config.EnvAddress, srv.URL)
	t.Setenv(config.EnvJWT, "")
	t.Setenv(config.EnvAPIKey, "key")
	t.Setenv(config.EnvAPISecret, "secret")
	t.Setenv(config.EnvTLSInsecure, "")
	t.Setenv(config.EnvTLSCACert, "")
	t.Setenv(config.EnvTLSServerName, "")

	c, err := client.FromEnvironment("", client.Options{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	defer c.Close(context.Background())

	if c.Address() != srv.URL {
		t.Fatalf("address = %q", c.Address())
	}
	if cred := c.RPC().Credential(); cred.Type != protocol.CredentialAPIKey || cred.Key != "key" {
		t.Fatalf("credential = %v", cred)
	}
}
