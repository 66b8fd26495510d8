package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/komodoctl/komodoctl/internal/client"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/rpc"
)

func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <namespace> <type> [params]",
		Short: "Send a raw request to any API namespace",
		Example: `  komodoctl call read ListStacks
  komodoctl call write UpdateStack '{"id": "web", "config": {"auto_pull": true}}'`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          callRequest,
	}
	cmd.Flags().String("params-file", "", "Read params from a JSON or YAML file")
	return cmd
}

func newReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "read <type> [params]",
		Short:         "Send a read request",
		Example:       `  komodoctl read GetServer 'server: prod-1'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          readRequest,
	}
	cmd.Flags().String("params-file", "", "Read params from a JSON or YAML file")
	return cmd
}

func newExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <type> [params]",
		Short: "Send an execute request, optionally waiting for the update to complete",
		Example: `  komodoctl execute DeployStack 'stack: web' --poll
  komodoctl execute BatchDeployStack '{"pattern": "web-*"}' --poll`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          executeRequest,
	}
	cmd.Flags().String("params-file", "", "Read params from a JSON or YAML file")
	cmd.Flags().Bool("poll", false, "Wait until the resulting update(s) complete")
	return cmd
}

func newPollCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "poll <update-id>",
		Short:         "Wait for an update to complete",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          pollUpdate,
	}
}

func callRequest(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	ns, err := parseNamespace(args[0])
	if err != nil {
		return out.Error("Invalid namespace", err)
	}
	return sendRequest(cmd, out, ns, args[1], args, 2)
}

func readRequest(cmd *cobra.Command, args []string) error {
	return sendRequest(cmd, newOutputFormatter(cmd), protocol.NamespaceRead, args[0], args, 1)
}

func sendRequest(cmd *cobra.Command, out *OutputFormatter, ns protocol.Namespace, typ string, args []string, paramsIndex int) error {
	params, err := loadParams(cmd, args, paramsIndex)
	if err != nil {
		return out.Error("Invalid params", err)
	}

	c, err := newClient(cmd, client.Options{})
	if err != nil {
		return out.Error("Failed to configure client", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	defer c.Close(ctx)

	var result json.RawMessage
	if err := c.RPC().Call(ctx, ns, typ, params, &result); err != nil {
		return out.Error(fmt.Sprintf("%s %s failed", ns, typ), err)
	}
	return out.Print(result)
}

func executeRequest(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	poll, _ := cmd.Flags().GetBool("poll")
	if !poll {
		return sendRequest(cmd, out, protocol.NamespaceExecute, args[0], args, 1)
	}

	params, err := loadParams(cmd, args, 1)
	if err != nil {
		return out.Error("Invalid params", err)
	}

	c, err := newClient(cmd, client.Options{})
	if err != nil {
		return out.Error("Failed to configure client", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	defer c.Close(ctx)

	result, err := c.RPC().ExecuteAndPoll(ctx, args[0], params)
	if err != nil {
		return out.Error(fmt.Sprintf("execute %s failed", args[0]), err)
	}
	if out.jsonMode {
		return out.Print(result)
	}
	return out.Print(executeSummary(result))
}

func executeSummary(result *rpc.ExecuteResult) string {
	if !result.IsBatch() {
		return updateSummary(result.Update)
	}
	lines := make([]string, 0, len(result.Batch))
	for _, item := range result.Batch {
		switch {
		case item.OK():
			lines = append(lines, updateSummary(item.Update))
		case item.Err != nil:
			lines = append(lines, fmt.Sprintf("%s  error: %s", item.Err.Name, item.Err.Error.Error))
		default:
			lines = append(lines, fmt.Sprintf("unexpected batch item status %q", item.Status))
		}
	}
	return strings.Join(lines, "\n")
}

func pollUpdate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newClient(cmd, client.Options{})
	if err != nil {
		return out.Error("Failed to configure client", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	defer c.Close(ctx)

	update, err := c.RPC().PollUpdateUntilComplete(ctx, args[0])
	if err != nil {
		return out.Error("Failed to poll update", err)
	}
	if out.jsonMode {
		return out.Print(update)
	}
	return out.Print(updateSummary(update))
}
