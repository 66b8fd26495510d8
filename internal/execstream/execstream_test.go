package execstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"testing"

	"github.com/komodoctl/komodoctl/internal/execstream"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/rpc"
	"github.com/komodoctl/komodoctl/internal/testutil"
)

var target = protocol.ServerTerminal{Server: "srv", Terminal: "main"}

func newExecutor(t *testing.T, srv *testutil.CoreServer) *execstream.Executor {
	t.Helper()
	c, err := rpc.New(srv.URL, protocol.JWTCredential("jwt"))
	if err != nil {
		t.Fatalf("rpc.New: %v", err)
	}
	return execstream.New(c)
}

type finish struct {
	code   string
	ok     bool
	called int
}

func run(t *testing.T, exec *execstream.Executor, tgt protocol.TerminalTarget) ([]string, finish, error) {
	t.Helper()
	var lines []string
	var f finish
	err := exec.Execute(context.Background(), tgt, "ls", execstream.Callbacks{
		OnLine: func(line string) { lines = append(lines, line) },
		OnFinish: func(code string, ok bool) {
			f.code, f.ok = code, ok
			f.called++
		},
	})
	return lines, f, err
}

func TestExecuteWithSentinel(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteTerminal, testutil.StreamChunks("a\n", "b\n", "__KOMODO_EXIT_CODE__:0\n"))

	lines, f, err := run(t, newExecutor(t, srv), target)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"a", "b", "__KOMODO_EXIT_CODE__:0"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	if f.called != 1 || !f.ok || f.code != "0" {
		t.Fatalf("finish = %+v", f)
	}
}

func TestExecuteWithoutSentinel(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteTerminal, testutil.StreamChunks("a\n"))

	lines, f, err := run(t, newExecutor(t, srv), target)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"a"}) {
		t.Fatalf("lines = %q", lines)
	}
	if f.called != 1 || f.ok || f.code == "0" {
		t.Fatalf("finish = %+v, want no exit code", f)
	}
}

func TestExecuteServerSentinelForm(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteContainer, testutil.StreamChunks("out\n__KOMODO_EXIT_CODE:", "137\n"))

	lines, f, err := run(t, newExecutor(t, srv), protocol.ContainerExec{Server: "s", Container: "c", Shell: "sh"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"out", "__KOMODO_EXIT_CODE:137"}) {
		t.Fatalf("lines = %q", lines)
	}
	if !f.ok || f.code != "137" {
		t.Fatalf("finish = %+v", f)
	}
}

func TestExecuteStopsAtSentinel(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteTerminal, testutil.StreamChunks("x\n__KOMODO_EXIT_CODE__:3\ntrailing prompt$ "))

	lines, f, err := run(t, newExecutor(t, srv), target)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"x", "__KOMODO_EXIT_CODE__:3"}) {
		t.Fatalf("lines = %q", lines)
	}
	if f.code != "3" {
		t.Fatalf("code = %q", f.code)
	}
}

func TestExecuteFlushesPartialLineOnFailure(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteTerminal, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "a\npart")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})

	lines, f, err := run(t, newExecutor(t, srv), target)
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !reflect.DeepEqual(lines, []string{"a", "part"}) {
		t.Fatalf("lines = %q", lines)
	}
	if f.called != 1 || f.ok {
		t.Fatalf("finish = %+v", f)
	}
}

func TestExecuteRejectsBeforeOutput(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	srv.HandleExec(protocol.PathExecuteDeployment, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(protocol.ErrorBody{Error: "deployment not running"})
	})

	exec := newExecutor(t, srv)
	finished := false
	err := exec.Execute(context.Background(), protocol.DeploymentExec{Deployment: "api"}, "ls", execstream.Callbacks{
		OnFinish: func(string, bool) { finished = true },
	})
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
	if finished {
		t.Fatalf("OnFinish called for rejected stream")
	}
}

func TestExecuteStreamLazyAndSinglePass(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	type execBody struct {
		Stack, Service, Shell, Command string
	}
	bodies := make(chan execBody, 1)
	srv.HandleExec(protocol.PathExecuteStack, func(w http.ResponseWriter, r *http.Request) {
		var body execBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		testutil.StreamChunks("1\n2\n3\n")(w, r)
	})

	exec := newExecutor(t, srv)
	stream, err := exec.ExecuteStream(context.Background(), protocol.StackExec{Stack: "st", Service: "db", Shell: "sh"}, "seq 3")
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	body := <-bodies
	if body.Command != "seq 3" || body.Stack != "st" || body.Service != "db" {
		t.Fatalf("body = %+v", body)
	}

	var first []string
	for line := range stream.Lines() {
		first = append(first, line)
		if len(first) == 2 {
			break
		}
	}
	if !reflect.DeepEqual(first, []string{"1", "2"}) {
		t.Fatalf("first = %q", first)
	}
	for range stream.Lines() {
		t.Fatalf("stream yielded after being consumed")
	}
	if _, ok := stream.ExitCode(); ok {
		t.Fatalf("unexpected exit code")
	}
}

func TestExecuteNilTarget(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	if _, err := newExecutor(t, srv).ExecuteStream(context.Background(), nil, "ls"); err == nil {
		t.Fatalf("expected error")
	}
}
