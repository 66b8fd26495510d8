package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/komodoctl/komodoctl/internal/config"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/rpc"
	"github.com/komodoctl/komodoctl/internal/testutil"
)

// useCore points the CLI at srv with a JWT and an isolated profile file.
func useCore(t *testing.T, srv *testutil.CoreServer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(config.EnvConfig, path)
	t.Setenv(config.EnvProfile, "")
	t.Setenv(config.EnvAddress, "")
	t.Setenv(config.EnvJWT, "")
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvAPISecret, "")
	t.Setenv(config.EnvTLSInsecure, "")
	t.Setenv(config.EnvTLSCACert, "")
	t.Setenv(config.EnvTLSServerName, "")
	if srv != nil {
		t.Setenv(config.EnvAddress, srv.URL)
		t.Setenv(config.EnvJWT, "test-jwt")
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", input: "  "},
		{name: "json", input: `{"server": "prod", "limit": 5}`, want: map[string]any{"server": "prod", "limit": 5}},
		{name: "yaml", input: "server: prod\nquery:\n  tags: [a, b]\n", want: map[string]any{"server": "prod"}},
		{name: "invalid", input: "{invalid", wantErr: true},
		{name: "not an object", input: "[1, 2]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseParams: %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil params, got %v", got)
				}
				return
			}
			m := got.(map[string]any)
			for k, v := range tt.want {
				if m[k] != v {
					t.Fatalf("%s = %v, want %v", k, m[k], v)
				}
			}
			if _, err := json.Marshal(got); err != nil {
				t.Fatalf("params not JSON encodable: %v", err)
			}
		})
	}
}

func TestNormalizeYAMLNonStringKeys(t *testing.T) {
	got, err := parseParams("1: numeric\ntrue: boolean\n")
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	m := got.(map[string]any)
	if m["1"] != "numeric" || m["true"] != "boolean" {
		t.Fatalf("unexpected keys: %v", m)
	}
}

func TestTargetFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    protocol.TerminalTarget
		wantErr bool
	}{
		{name: "server terminal", args: []string{"--server", "s", "--terminal", "main", "--init", "bash"}, want: protocol.ServerTerminal{Server: "s", Terminal: "main", Init: "bash"}},
		{name: "container", args: []string{"--server", "s", "--container", "c", "--shell", "sh"}, want: protocol.ContainerExec{Server: "s", Container: "c", Shell: "sh"}},
		{name: "deployment", args: []string{"--deployment", "web"}, want: protocol.DeploymentExec{Deployment: "web"}},
		{name: "stack", args: []string{"--stack", "st", "--service", "api"}, want: protocol.StackExec{Stack: "st", Service: "api"}},
		{name: "none", args: nil, wantErr: true},
		{name: "two targets", args: []string{"--deployment", "web", "--stack", "st", "--service", "api"}, wantErr: true},
		{name: "stack without service", args: []string{"--stack", "st"}, wantErr: true},
		{name: "container without server", args: []string{"--container", "c"}, wantErr: true},
		{name: "terminal without server", args: []string{"--terminal", "main"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "x"}
			addTargetFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			got, err := targetFromFlags(cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("targetFromFlags: %v", err)
			}
			if got != tt.want {
				t.Fatalf("target = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestReadCommand(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	useCore(t, srv)
	srv.HandleRPC(protocol.NamespaceRead, "GetServer", func(params json.RawMessage) (int, any) {
		return http.StatusOK, map[string]any{"name": "prod-1", "params": json.RawMessage(params)}
	})

	stdout, _, err := runCLI(t, "read", "GetServer", "server: prod-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(stdout, `"name": "prod-1"`) {
		t.Fatalf("unexpected output %q", stdout)
	}
	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Header.Get("authorization") != "test-jwt" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
	if !strings.Contains(string(reqs[0].Params), `"server":"prod-1"`) {
		t.Fatalf("params = %s", reqs[0].Params)
	}
}

func TestReadParamsFile(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	useCore(t, srv)
	srv.HandleRPC(protocol.NamespaceRead, "ListStacks", func(json.RawMessage) (int, any) {
		return http.StatusOK, []string{}
	})

	paramsPath := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(paramsPath, []byte("query:\n  tags: [prod]\n"), 0o600); err != nil {
		t.Fatalf("write params: %v", err)
	}
	if _, _, err := runCLI(t, "read", "ListStacks", "--params-file", paramsPath); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(srv.Requests()[0].Params); !strings.Contains(got, `"tags":["prod"]`) {
		t.Fatalf("params = %s", got)
	}

	if _, _, err := runCLI(t, "read", "ListStacks", "{}", "--params-file", paramsPath); err == nil {
		t.Fatalf("expected error when params are given twice")
	}
}

func TestCallCommandErrors(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	useCore(t, srv)

	if _, _, err := runCLI(t, "call", "bogus", "ListStacks"); err == nil {
		t.Fatalf("expected namespace error")
	}

	_, stderr, err := runCLI(t, "--json", "call", "write", "UpdateNothing")
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 rpc error, got %v", err)
	}
	if !strings.Contains(stderr, `"success": false`) {
		t.Fatalf("json error output missing: %q", stderr)
	}
}

func TestExecuteWithPoll(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	useCore(t, srv)
	srv.HandleRPC(protocol.NamespaceExecute, "DeployStack", func(json.RawMessage) (int, any) {
		return http.StatusOK, map[string]any{"_id": map[string]string{"$oid": "u1"}, "operation": "DeployStack", "status": "InProgress"}
	})
	srv.HandleRPC(protocol.NamespaceRead, "GetUpdate", func(json.RawMessage) (int, any) {
		return http.StatusOK, map[string]any{
			"_id":       map[string]string{"$oid": "u1"},
			"operation": "DeployStack",
			"status":    "Complete",
			"success":   true,
			"target":    map[string]string{"type": "Stack", "id": "web"},
		}
	})

	stdout, _, err := runCLI(t, "execute", "DeployStack", "stack: web", "--poll")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"u1", "DeployStack", "Complete", "ok", "Stack(web)"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("output %q missing %q", stdout, want)
		}
	}
}

func TestExecuteSummaryBatch(t *testing.T) {
	result := &rpc.ExecuteResult{Batch: []protocol.BatchItem{
		{Status: protocol.BatchStatusOk, Update: &protocol.Update{ObjectID: protocol.ObjectID{OID: "a"}, Status: protocol.UpdateComplete, Success: true}},
		{Status: protocol.BatchStatusErr, Err: &protocol.BatchItemErr{Name: "web-2", Error: protocol.ErrorBody{Error: "not found"}}},
	}}
	got := executeSummary(result)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "a ") || lines[1] != "web-2  error: not found" {
		t.Fatalf("summary = %q", got)
	}
}

func TestExecExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		wantCode int
		wantErr  bool
		wantOut  string
	}{
		{name: "success", chunks: []string{"hello\n", "__KOMODO_EXIT_CODE:0\n"}, wantOut: "hello\n"},
		{name: "failure", chunks: []string{"oops\n__KOMODO_EXIT_CODE__:3\n"}, wantCode: 3, wantErr: true, wantOut: "oops\n"},
		{name: "no code", chunks: []string{"partial"}, wantCode: 1, wantErr: true, wantOut: "partial\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewCoreServer(t)
			useCore(t, srv)
			srv.HandleExec(protocol.PathExecuteDeployment, testutil.StreamChunks(tt.chunks...))

			stdout, _, err := runCLI(t, "exec", "--deployment", "web", "--", "echo", "hello")
			if stdout != tt.wantOut {
				t.Fatalf("stdout = %q, want %q", stdout, tt.wantOut)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("exec: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			var exitErr *exitCodeError
			if tt.wantCode > 1 && (!errors.As(err, &exitErr) || exitErr.code != tt.wantCode) {
				t.Fatalf("expected exit code %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestLoginAndLogout(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	path := useCore(t, nil)
	srv.HandleRPC(protocol.NamespaceRead, "GetVersion", func(json.RawMessage) (int, any) {
		return http.StatusOK, map[string]string{"version": "1.17.5"}
	})

	stdout, _, err := runCLI(t, "--json", "login", "--url", srv.URL, "--api-key", "k", "--api-secret", "s", "--name", "lab")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(stdout, `"core_version": "1.17.5"`) {
		t.Fatalf("login output %q", stdout)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("profile file not written: %v", err)
	}

	file, err := config.Load()
	if err != nil || file == nil {
		t.Fatalf("Load: %v", err)
	}
	if p := file.Profile("lab"); p == nil || p.Credential.Key != "k" || file.Current != "lab" {
		t.Fatalf("stored profile %+v", p)
	}

	stdout, _, err = runCLI(t, "login", "--show")
	if err != nil {
		t.Fatalf("login --show: %v", err)
	}
	if !strings.Contains(stdout, "api-key(k)") || strings.Contains(stdout, `"s"`) {
		t.Fatalf("show output %q", stdout)
	}

	if _, _, err := runCLI(t, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	file, _ = config.Load()
	if file.Profile("lab") != nil {
		t.Fatalf("profile still stored after logout")
	}
	if _, _, err := runCLI(t, "logout", "--name", "lab"); err == nil {
		t.Fatalf("expected error removing a missing profile")
	}
}

func TestLoginRejectsBadInput(t *testing.T) {
	useCore(t, nil)
	cases := [][]string{
		{"login", "--jwt", "x"},
		{"login", "--url", "https://core", "--no-verify"},
		{"login", "--url", "https://core", "--jwt", "x", "--api-key", "k", "--no-verify"},
		{"login", "--url", "https://core", "--api-key", "k", "--no-verify"},
		{"login", "--url", "ftp://core", "--jwt", "x", "--no-verify"},
	}
	for _, args := range cases {
		if _, _, err := runCLI(t, args...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	srv := testutil.NewCoreServer(t)
	useCore(t, srv)
	srv.HandleRPC(protocol.NamespaceRead, "GetVersion", func(json.RawMessage) (int, any) {
		return http.StatusOK, map[string]string{"version": "1.17.5"}
	})

	stdout, _, err := runCLI(t, "--json", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(stdout), &data); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if data["core"] != "1.17.5" || data["client"] != "dev" {
		t.Fatalf("unexpected version output %v", data)
	}
}

func TestVersionCommandCoreUnavailable(t *testing.T) {
	useCore(t, nil)
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(stdout, "Core:   unavailable") {
		t.Fatalf("unexpected output %q", stdout)
	}
}
