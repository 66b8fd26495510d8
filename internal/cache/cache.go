// Package cache keeps recent read responses and drops them when the update
// channel reports a change to the resources they describe.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/komodoctl/komodoctl/internal/protocol"
)

// DefaultSize is the number of read responses kept when no size is given.
const DefaultSize = 256

// Reader performs an uncached read request.
type Reader interface {
	Read(ctx context.Context, typ string, params, out any) error
}

type entry struct {
	typ  string
	body json.RawMessage
}

// ReadCache memoises read requests by type and parameters.
type ReadCache struct {
	reader Reader
	logger *log.Logger
	size   int

	mu      sync.Mutex
	entries *lru.Cache[string, entry]
	// epoch increments on every invalidation so reads that started before
	// it do not store their (possibly stale) response.
	epoch uint64
}

// Option customises a ReadCache.
type Option func(*ReadCache)

// WithSize bounds the number of cached responses.
func WithSize(n int) Option {
	return func(c *ReadCache) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *ReadCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache in front of reader.
func New(reader Reader, opts ...Option) (*ReadCache, error) {
	if reader == nil {
		return nil, fmt.Errorf("cache: reader is nil")
	}
	c := &ReadCache{
		reader: reader,
		logger: log.Default(),
		size:   DefaultSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	entries, err := lru.New[string, entry](c.size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Key returns the cache key for a read of typ with params.
func Key(typ string, params any) (string, error) {
	if params == nil {
		params = struct{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache: encode params: %w", err)
	}
	return typ + "\x00" + string(data), nil
}

// Read answers from the cache when possible and otherwise forwards to the
// reader, storing the raw response. Errors are never cached.
func (c *ReadCache) Read(ctx context.Context, typ string, params, out any) error {
	key, err := Key(typ, params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cached, ok := c.entries.Get(key)
	epoch := c.epoch
	c.mu.Unlock()

	if ok {
		err := decode(cached.body, out)
		if err == nil {
			return nil
		}
		c.logger.Printf("[cache] dropping undecodable %s entry: %v", typ, err)
		c.mu.Lock()
		c.entries.Remove(key)
		c.mu.Unlock()
	}

	var body json.RawMessage
	if err := c.reader.Read(ctx, typ, params, &body); err != nil {
		return err
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.entries.Add(key, entry{typ: typ, body: body})
	}
	c.mu.Unlock()

	return decode(body, out)
}

func decode(body json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cache: decode response: %w", err)
	}
	return nil
}

// HandleUpdate drops every entry the event may have made stale and returns
// how many were removed. Update and alert listings always go; resource
// reads go when their type names the event's target kind. System and
// unknown targets clear the whole cache.
func (c *ReadCache) HandleUpdate(ev protocol.UpdateEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++

	switch ev.Target.Kind {
	case protocol.TargetSystem, protocol.TargetUnknown:
		n := c.entries.Len()
		c.entries.Purge()
		return n
	}

	noun := ev.Target.Kind.String()
	removed := 0
	for _, key := range c.entries.Keys() {
		cached, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if invalidates(noun, cached.typ) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

func invalidates(noun, typ string) bool {
	return strings.Contains(typ, "Update") ||
		strings.Contains(typ, "Alert") ||
		strings.Contains(typ, noun)
}

// Purge empties the cache.
func (c *ReadCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries.Purge()
}

// Len returns the number of cached responses.
func (c *ReadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
