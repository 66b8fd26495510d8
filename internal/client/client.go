// Package client assembles the transport components for one Komodo core:
// the typed RPC client, terminal sessions, streaming exec, the update
// channel and the read cache it invalidates.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/komodoctl/komodoctl/internal/cache"
	"github.com/komodoctl/komodoctl/internal/config"
	"github.com/komodoctl/komodoctl/internal/constants"
	"github.com/komodoctl/komodoctl/internal/execstream"
	"github.com/komodoctl/komodoctl/internal/protocol"
	"github.com/komodoctl/komodoctl/internal/rpc"
	"github.com/komodoctl/komodoctl/internal/socket"
	"github.com/komodoctl/komodoctl/internal/terminal"
	"github.com/komodoctl/komodoctl/internal/updates"
)

// cacheSubscriberKey is the registry key the read cache listens under.
const cacheSubscriberKey = "read-cache"

// Options configure New. Address and Credential are required.
type Options struct {
	Address    string
	Credential protocol.Credential
	TLSConfig  *tls.Config

	// HTTPClient replaces the default client built from TLSConfig.
	HTTPClient *http.Client
	Logger     *log.Logger
	Clock      clock.WithTicker

	CacheSize    int
	RetryTimeout time.Duration
	OnStatus     func(updates.Status)
}

// Client bundles every transport for one core and credential.
type Client struct {
	address string

	rpc       *rpc.Client
	terminals *terminal.Client
	executor  *execstream.Executor
	updates   *updates.Provider
	cache     *cache.ReadCache
}

// New builds a client from explicit options.
func New(opts Options) (*Client, error) {
	address := strings.TrimRight(strings.TrimSpace(opts.Address), "/")
	if address == "" {
		return nil, config.ErrNoAddress
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.HTTPRequestTimeout}
		if opts.TLSConfig != nil {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.TLSClientConfig = opts.TLSConfig
			httpClient.Transport = transport
		}
	}

	rpcOpts := []rpc.Option{rpc.WithHTTPClient(httpClient)}
	if opts.Clock != nil {
		rpcOpts = append(rpcOpts, rpc.WithClock(opts.Clock))
	}
	rpcClient, err := rpc.New(address, opts.Credential, rpcOpts...)
	if err != nil {
		return nil, err
	}

	dialer := socket.NewDialer(opts.TLSConfig)

	readCache, err := cache.New(rpcClient, cache.WithSize(opts.CacheSize), cache.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	// Events sent while the socket was down are gone, so every login
	// starts from an empty cache.
	providerOpts := []updates.ProviderOption{
		updates.WithLogger(logger),
		updates.WithRetryTimeout(opts.RetryTimeout),
		updates.WithStatusHandler(opts.OnStatus),
		updates.WithConnectHandler(readCache.Purge),
	}
	if opts.Clock != nil {
		providerOpts = append(providerOpts, updates.WithClock(opts.Clock))
	}
	provider := updates.NewProvider(updates.Config{
		BaseURL:    address,
		Credential: opts.Credential,
		Dialer:     dialer,
		Logger:     logger,
	}, providerOpts...)

	c := &Client{
		address:   address,
		rpc:       rpcClient,
		terminals: terminal.NewClient(address, opts.Credential, terminal.WithDialer(dialer), terminal.WithLogger(logger)),
		executor:  execstream.New(rpcClient, execstream.WithLogger(logger)),
		updates:   provider,
		cache:     readCache,
	}
	provider.Subscribe(cacheSubscriberKey, func(ev protocol.UpdateEvent) {
		readCache.HandleUpdate(ev)
	})
	return c, nil
}

// FromProfile builds a client for a resolved profile. Fields set in opts
// other than Address, Credential and TLSConfig are kept.
func FromProfile(profile config.Profile, opts Options) (*Client, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	tlsConfig, err := profile.TLSConfig()
	if err != nil {
		return nil, err
	}
	opts.Address = profile.Address
	opts.Credential = profile.Credential
	opts.TLSConfig = tlsConfig
	return New(opts)
}

// FromEnvironment resolves the named profile (see config.Resolve) and builds
// a client for it.
func FromEnvironment(profile string, opts Options) (*Client, error) {
	resolved, err := config.Resolve(profile)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return FromProfile(resolved, opts)
}

// Address returns the core base URL.
func (c *Client) Address() string {
	return c.address
}

// RPC returns the typed RPC client.
func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

// Terminals returns the terminal session client.
func (c *Client) Terminals() *terminal.Client {
	return c.terminals
}

// Executor returns the streaming command executor.
func (c *Client) Executor() *execstream.Executor {
	return c.executor
}

// Updates returns the update channel provider. It is not started until the
// caller calls Start.
func (c *Client) Updates() *updates.Provider {
	return c.updates
}

// Cache returns the read cache kept fresh by the update channel.
func (c *Client) Cache() *cache.ReadCache {
	return c.cache
}

// Close stops the update channel and drops cached reads. Stop also closes
// the cache's subscription.
func (c *Client) Close(ctx context.Context) error {
	err := c.updates.Stop(ctx)
	c.cache.Purge()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("client: stop updates: %w", err)
	}
	return nil
}
