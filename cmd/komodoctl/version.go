package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/komodoctl/komodoctl/internal/client"
	komodoversion "github.com/komodoctl/komodoctl/internal/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Show client and core versions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runVersion,
	}
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := komodoversion.String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var coreVersion string
	var coreReachable bool
	var coreErr error
	c, err := newClient(cmd, client.Options{Logger: log.New(io.Discard, "", 0)})
	if err == nil {
		defer c.Close(ctx)
		coreVersion, coreErr = c.RPC().CoreVersion(ctx)
		coreReachable = coreErr == nil
	} else {
		coreErr = err
	}

	if out.jsonMode {
		data := map[string]any{
			"client": clientVersion,
		}
		if coreReachable {
			if coreVersion != "" {
				data["core"] = coreVersion
			} else {
				data["core"] = "unknown"
			}
			if w := komodoversion.CheckVersionMismatch(coreVersion); w != "" {
				data["mismatch"] = true
				data["warning"] = w
			}
		} else {
			data["core"] = nil
			if coreErr != nil {
				data["core_error"] = coreErr.Error()
			}
		}
		return out.Print(data)
	}

	fmt.Fprintf(out.stdout, "Client: %s\n", komodoversion.FormatVersion(clientVersion))
	if coreReachable {
		if coreVersion != "" {
			fmt.Fprintf(out.stdout, "Core:   %s\n", komodoversion.FormatVersion(coreVersion))
		} else {
			fmt.Fprintln(out.stdout, "Core:   reachable (version unknown)")
		}
		if w := komodoversion.CheckVersionMismatch(coreVersion); w != "" {
			fmt.Fprintln(out.stdout, w)
		}
	} else {
		fmt.Fprintf(out.stdout, "Core:   unavailable (%v)\n", coreErr)
	}

	return nil
}
