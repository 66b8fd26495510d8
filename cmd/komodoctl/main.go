package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	komodoversion "github.com/komodoctl/komodoctl/internal/version"
)

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	stdout   io.Writer
	stderr   io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{
		jsonMode: jsonMode,
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
	}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data any) error {
	if !f.jsonMode {
		if s, ok := data.(string); ok {
			fmt.Fprintln(f.stdout, s)
			return nil
		}
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.stdout, string(jsonBytes))
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Fprintln(f.stdout, message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]any{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(f.stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(f.stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(f.stderr, message)
		}
	}
	if err == nil {
		return &reportedError{err: errors.New(message)}
	}
	return &reportedError{err: fmt.Errorf("%s: %w", message, err)}
}

// reportedError marks an error the formatter has already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// exitCodeError carries a process exit status out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "komodoctl",
		Short: "komodoctl - command line client for the Komodo core API",
		Long: `komodoctl talks to a Komodo core: typed read, write and execute calls,
live update notifications, interactive terminals and one-shot command execution
on servers, containers, deployments and stacks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = komodoversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("profile", "", "Connection profile to use (defaults to KOMODO_PROFILE or the current profile)")

	rootCmd.AddCommand(
		newCallCommand(),
		newReadCommand(),
		newExecuteCommand(),
		newPollCommand(),
		newUpdatesCommand(),
		newTerminalCommand(),
		newExecCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
