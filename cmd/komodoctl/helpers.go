package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/komodoctl/komodoctl/internal/client"
	"github.com/komodoctl/komodoctl/internal/constants"
	"github.com/komodoctl/komodoctl/internal/protocol"
)

// newClient builds a core client from --profile, KOMODO_* and the profile
// file. Transport warnings go to stderr.
func newClient(cmd *cobra.Command, opts client.Options) (*client.Client, error) {
	profile, _ := cmd.Flags().GetString("profile")
	if opts.Logger == nil {
		opts.Logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}
	return client.FromEnvironment(profile, opts)
}

// contextWithShutdownTimeout bounds cleanup after the command context is
// gone.
func contextWithShutdownTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.WebsocketCloseTimeout+time.Second)
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadParams returns the request parameters from --params-file or the
// positional argument at index. Both accept JSON or YAML. Missing params
// yield nil, which the RPC client sends as {}.
func loadParams(cmd *cobra.Command, args []string, index int) (any, error) {
	path, _ := cmd.Flags().GetString("params-file")
	path = strings.TrimSpace(path)
	if path != "" && len(args) > index {
		return nil, fmt.Errorf("params given both inline and with --params-file")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		return parseParams(string(data))
	}
	if len(args) > index {
		return parseParams(args[index])
	}
	return nil, nil
}

// parseParams decodes a JSON or YAML document into a JSON-encodable value.
func parseParams(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("invalid YAML/JSON params: %w", err)
	}
	value = normalizeYAML(value)
	if _, ok := value.(map[string]any); !ok && value != nil {
		return nil, fmt.Errorf("params must be an object, got %T", value)
	}
	return value, nil
}

func normalizeYAML(value any) any {
	return normalizeYAMLWithDepth(value, 0, 1024)
}

func normalizeYAMLWithDepth(value any, depth, maxDepth int) any {
	if depth >= maxDepth {
		return fmt.Sprint(value)
	}

	switch v := value.(type) {
	case map[any]any:
		m := make(map[string]any, len(v))
		for key, val := range v {
			keyStr, ok := key.(string)
			if !ok {
				keyStr = fmt.Sprint(key)
			}
			m[keyStr] = normalizeYAMLWithDepth(val, depth+1, maxDepth)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(v))
		for key, val := range v {
			m[key] = normalizeYAMLWithDepth(val, depth+1, maxDepth)
		}
		return m
	case []any:
		result := make([]any, len(v))
		for i, elem := range v {
			result[i] = normalizeYAMLWithDepth(elem, depth+1, maxDepth)
		}
		return result
	default:
		return v
	}
}

// parseNamespace maps a namespace argument to its API route.
func parseNamespace(raw string) (protocol.Namespace, error) {
	ns := protocol.Namespace(strings.ToLower(strings.TrimSpace(raw)))
	if !ns.Valid() {
		return "", fmt.Errorf("unknown namespace %q (want auth, user, read, write or execute)", raw)
	}
	return ns, nil
}

// updateSummary renders an Update as one line.
func updateSummary(u *protocol.Update) string {
	result := "failed"
	if u.Success {
		result = "ok"
	}
	return fmt.Sprintf("%s  %-24s %-10s %-7s %s", u.ID(), u.Operation, u.Status, result, u.Target)
}

func eventSummary(ev protocol.UpdateEvent) string {
	result := "failed"
	if ev.Success {
		result = "ok"
	}
	return fmt.Sprintf("%s  %-24s %-10s %-7s %s", ev.ID, ev.Operation, ev.Status, result, ev.Target)
}
