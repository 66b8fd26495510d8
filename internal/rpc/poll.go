package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/komodoctl/komodoctl/internal/protocol"
)

// GetUpdate reads one Update entity by id.
func (c *Client) GetUpdate(ctx context.Context, id string) (*protocol.Update, error) {
	var u protocol.Update
	if err := c.Read(ctx, "GetUpdate", map[string]string{"id": id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CoreVersion returns the version string reported by the core.
func (c *Client) CoreVersion(ctx context.Context) (string, error) {
	var res struct {
		Version string `json:"version"`
	}
	if err := c.Read(ctx, "GetVersion", nil, &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// PollUpdateUntilComplete reads the Update every poll interval until its
// status is Complete. It has no attempt limit: bound it with ctx. Any RPC
// error aborts the poll.
func (c *Client) PollUpdateUntilComplete(ctx context.Context, id string) (*protocol.Update, error) {
	for {
		u, err := c.GetUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if u.Complete() {
			return u, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}
	}
}

// ExecuteResult is the outcome of ExecuteAndPoll: either one completed
// Update or a batch in input order.
type ExecuteResult struct {
	Update *protocol.Update
	Batch  []protocol.BatchItem
}

// IsBatch reports whether the execution was a batch.
func (r *ExecuteResult) IsBatch() bool {
	return r.Batch != nil
}

// MarshalJSON encodes whichever form the result holds.
func (r ExecuteResult) MarshalJSON() ([]byte, error) {
	if r.Batch != nil {
		return json.Marshal(r.Batch)
	}
	return json.Marshal(r.Update)
}

// ExecuteAndPoll runs an execute request and waits for the resulting
// Update(s) to complete. Batch items that already failed are passed
// through untouched; successful ones are polled concurrently.
func (c *Client) ExecuteAndPoll(ctx context.Context, typ string, params any) (*ExecuteResult, error) {
	var raw json.RawMessage
	if err := c.Execute(ctx, typ, params, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []protocol.BatchItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("rpc: decode batch response: %w", err)
		}
		batch, err := c.pollBatch(ctx, items)
		if err != nil {
			return nil, err
		}
		return &ExecuteResult{Batch: batch}, nil
	}

	var u protocol.Update
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, fmt.Errorf("rpc: decode update response: %w", err)
	}
	done, err := c.PollUpdateUntilComplete(ctx, u.ID())
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{Update: done}, nil
}

func (c *Client) pollBatch(ctx context.Context, items []protocol.BatchItem) ([]protocol.BatchItem, error) {
	out := make([]protocol.BatchItem, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		if !item.OK() {
			continue
		}
		g.Go(func() error {
			u, err := c.PollUpdateUntilComplete(gctx, item.Update.ID())
			if err != nil {
				return err
			}
			out[i] = protocol.BatchItem{Status: protocol.BatchStatusOk, Update: u}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
