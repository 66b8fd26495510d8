package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/komodoctl/komodoctl/internal/client"
	"github.com/komodoctl/komodoctl/internal/execstream"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/terminal"
)

// addTargetFlags registers the flags that select a terminal target.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "Server name or id (server terminals and container exec)")
	cmd.Flags().String("terminal", "", "Terminal name on the server")
	cmd.Flags().String("init", "", "Command run when a server terminal is first created")
	cmd.Flags().String("container", "", "Container name (requires --server)")
	cmd.Flags().String("deployment", "", "Deployment name or id")
	cmd.Flags().String("stack", "", "Stack name or id (requires --service)")
	cmd.Flags().String("service", "", "Stack service name")
	cmd.Flags().String("shell", "", "Shell used for container, deployment and stack exec (server default when empty)")
}

// targetFromFlags resolves exactly one terminal target from the flags.
func targetFromFlags(cmd *cobra.Command) (protocol.TerminalTarget, error) {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}
	server, terminalName, initCmd := get("server"), get("terminal"), get("init")
	container, deployment := get("container"), get("deployment")
	stack, service, shell := get("stack"), get("service"), get("shell")

	selected := 0
	for _, v := range []string{terminalName, container, deployment, stack} {
		if v != "" {
			selected++
		}
	}
	if selected != 1 {
		return nil, errors.New("select exactly one of --terminal, --container, --deployment or --stack")
	}

	switch {
	case deployment != "":
		return protocol.DeploymentExec{Deployment: deployment, Shell: shell}, nil
	case stack != "":
		if service == "" {
			return nil, errors.New("--stack requires --service")
		}
		return protocol.StackExec{Stack: stack, Service: service, Shell: shell}, nil
	case container != "":
		if server == "" {
			return nil, errors.New("--container requires --server")
		}
		return protocol.ContainerExec{Server: server, Container: container, Shell: shell}, nil
	default:
		if server == "" {
			return nil, errors.New("--terminal requires --server")
		}
		return protocol.ServerTerminal{Server: server, Terminal: terminalName, Init: initCmd}, nil
	}
}

func newTerminalCommand() *cobra.Command {
	terminalCmd := &cobra.Command{
		Use:           "terminal",
		Short:         "Interactive terminal commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Attach this terminal to a remote terminal or container shell",
		Example: `  komodoctl terminal connect --server prod-1 --terminal main
  komodoctl terminal connect --stack web --service api --shell bash`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          connectTerminal,
	}
	addTargetFlags(connectCmd)

	terminalCmd.AddCommand(connectCmd)
	return terminalCmd
}

func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command...>",
		Short: "Run one command on a target and exit with its exit code",
		Example: `  komodoctl exec --server prod-1 --terminal main -- df -h
  komodoctl exec --deployment web -- cat /etc/os-release`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          execCommand,
	}
	addTargetFlags(cmd)
	return cmd
}

func connectTerminal(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)

	target, err := targetFromFlags(cmd)
	if err != nil {
		return out.Error("Invalid target", err)
	}

	c, err := newClient(cmd, client.Options{})
	if err != nil {
		return out.Error("Failed to configure client", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	defer c.Close(ctx)

	stdinFd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(stdinFd)

	var session *terminal.Session
	sendResize := func() {
		if !interactive || session == nil {
			return
		}
		cols, rows, err := term.GetSize(stdinFd)
		if err != nil {
			return
		}
		session.SendResize(uint16(rows), uint16(cols))
	}

	loggedIn := make(chan struct{}, 1)
	stdout := cmd.OutOrStdout()
	session, err = c.Terminals().Connect(ctx, target, terminal.Callbacks{
		OnLogin: func() {
			select {
			case loggedIn <- struct{}{}:
			default:
			}
		},
		OnMessage: func(data []byte) {
			_, _ = stdout.Write(data)
		},
	})
	if err != nil {
		return out.Error("Failed to open terminal", err)
	}
	defer session.Close()

	if interactive {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return out.Error("Failed to set raw mode", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	sigChan := make(chan os.Signal, 2)
	notifyAttachSignals(sigChan)
	defer stopAttachSignals(sigChan)

	errChan := make(chan error, 1)
	go func() {
		buffer := make([]byte, 1024)
		for {
			n, err := cmd.InOrStdin().Read(buffer)
			if n > 0 {
				session.SendStdin(string(buffer[:n]))
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errChan <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-loggedIn:
			sendResize()
		case sig := <-sigChan:
			if isResizeSignal(sig) {
				sendResize()
				continue
			}
			return nil
		case <-session.Done():
			return nil
		case <-ctx.Done():
			return nil
		case err := <-errChan:
			return out.Error("Failed to read input", err)
		}
	}
}

func execCommand(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	target, err := targetFromFlags(cmd)
	if err != nil {
		return out.Error("Invalid target", err)
	}
	command := strings.Join(args, " ")

	c, err := newClient(cmd, client.Options{})
	if err != nil {
		return out.Error("Failed to configure client", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	defer c.Close(ctx)

	stdout := cmd.OutOrStdout()
	var (
		exitCode string
		reported bool
	)
	err = c.Executor().Execute(ctx, target, command, execstream.Callbacks{
		OnLine: func(line string) {
			if _, ok := protocol.ParseExitSentinel(line); ok {
				return
			}
			fmt.Fprintln(stdout, line)
		},
		OnFinish: func(code string, ok bool) {
			exitCode, reported = code, ok
		},
	})
	if err != nil {
		return out.Error("Command stream failed", err)
	}
	if !reported {
		return out.Error("Command finished without reporting an exit code", nil)
	}

	code, err := strconv.Atoi(exitCode)
	if err != nil {
		return out.Error(fmt.Sprintf("Command reported a non-numeric exit code %q", exitCode), nil)
	}
	if code != 0 {
		return &exitCodeError{code: code, err: fmt.Errorf("remote command exited with status %d", code)}
	}
	return nil
}
