package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/komodoctl/komodoctl/internal/client"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/updates"
)

func newUpdatesCommand() *cobra.Command {
	updatesCmd := &cobra.Command{
		Use:           "updates",
		Short:         "Update notification commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	watchCmd := &cobra.Command{
		Use:           "watch",
		Short:         "Stream update notifications, reconnecting when the socket drops",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          watchUpdates,
	}
	watchCmd.Flags().StringSlice("kind", nil, "Only show updates for these target kinds (repeatable)")
	watchCmd.Flags().Duration("retry", 0, "Delay between reconnects (default 5s)")
	watchCmd.Flags().Bool("status", false, "Print connection status changes to stderr")

	updatesCmd.AddCommand(watchCmd)
	return updatesCmd
}

func watchUpdates(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)

	kinds, _ := cmd.Flags().GetStringSlice("kind")
	filter, err := parseKindFilter(kinds)
	if err != nil {
		return out.Error("Invalid --kind", err)
	}
	showStatus, _ := cmd.Flags().GetBool("status")
	retry, _ := cmd.Flags().GetDuration("retry")

	var onStatus func(updates.Status)
	if showStatus {
		onStatus = func(s updates.Status) {
			fmt.Fprintf(out.stderr, "[%s] %s\n", time.Now().Format(time.TimeOnly), s)
		}
	}

	c, err := newClient(cmd, client.Options{OnStatus: onStatus, RetryTimeout: retry})
	if err != nil {
		return out.Error("Failed to configure client", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	provider := c.Updates()

	events := make(chan protocol.UpdateEvent, 64)
	sub := provider.Subscribe("cli-"+uuid.NewString(), func(ev protocol.UpdateEvent) {
		if filter != nil && !filter[ev.Target.Kind] {
			return
		}
		select {
		case events <- ev:
		default:
			fmt.Fprintf(out.stderr, "dropping update %s: output is behind\n", ev.ID)
		}
	})
	defer sub.Close()

	if err := provider.Start(ctx); err != nil {
		return out.Error("Failed to start update channel", err)
	}

	for {
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := contextWithShutdownTimeout()
			defer stopCancel()
			return c.Close(stopCtx)
		case ev := <-events:
			if out.jsonMode {
				data, err := json.Marshal(ev)
				if err != nil {
					return out.Error("Failed to encode update", err)
				}
				fmt.Fprintln(out.stdout, string(data))
				continue
			}
			fmt.Fprintln(out.stdout, eventSummary(ev))
		}
	}
}

func parseKindFilter(names []string) (map[protocol.TargetKind]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	filter := make(map[protocol.TargetKind]bool, len(names))
	for _, name := range names {
		kind := protocol.ParseTargetKind(name)
		if kind == protocol.TargetUnknown {
			return nil, fmt.Errorf("unknown target kind %q", name)
		}
		filter[kind] = true
	}
	return filter, nil
}
