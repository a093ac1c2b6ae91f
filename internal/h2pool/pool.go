// Package h2pool dials backend origins over plaintext HTTP/2
// PRIOR_KNOWLEDGE and bounds per-backend concurrency, per spec §4.6.
package h2pool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// ErrUnknownBackend is returned for a backend address the pool was never
// configured with (spec §7 UnknownBackend).
var ErrUnknownBackend = errors.New("unknown backend address")

// ErrBackendTimeout is returned when an attempt exceeds its per-request
// deadline (spec §7 BackendTimeout).
var ErrBackendTimeout = errors.New("backend request timed out")

const (
	// DefaultConcurrency is the default per-backend semaphore size.
	DefaultConcurrency = 64
	// DefaultDeadline is the default per-attempt timeout.
	DefaultDeadline = 2 * time.Second
)

type backendClient struct {
	transport *http2.Transport
	sem       chan struct{}
}

// Pool is a registry of per-backend HTTP/2 clients, each limited to a fixed
// number of concurrent in-flight requests.
type Pool struct {
	concurrency int
	deadline    time.Duration

	mu       sync.RWMutex
	backends map[string]*backendClient
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithConcurrency overrides the default per-backend concurrency limit.
func WithConcurrency(n int) Option {
	return func(p *Pool) { p.concurrency = n }
}

// WithDeadline overrides the default per-attempt deadline.
func WithDeadline(d time.Duration) Option {
	return func(p *Pool) { p.deadline = d }
}

// New creates an empty pool. Backends are registered with Register as the
// configuration is loaded.
func New(opts ...Option) *Pool {
	p := &Pool{
		concurrency: DefaultConcurrency,
		deadline:    DefaultDeadline,
		backends:    make(map[string]*backendClient),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a backend address to the pool, building its dedicated
// HTTP/2 PRIOR_KNOWLEDGE transport: no TLS, a plain TCP dial in place of
// DialTLS, matching spec §4.6/§6's plaintext-to-origin requirement.
func (p *Pool) Register(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.backends[addr]; ok {
		return
	}
	p.backends[addr] = &backendClient{
		transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, _ string, _ *tls.Config) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, network, addr)
			},
		},
		sem: make(chan struct{}, p.concurrency),
	}
}

// Send dispatches a request to the named backend, racing it against the
// pool's per-attempt deadline. The caller must have already set req's
// Host/URL to the target backend (see internal/bridge.BuildBackendRequest).
func (p *Pool) Send(ctx context.Context, addr string, req *http.Request) (*http.Response, error) {
	p.mu.RLock()
	client, ok := p.backends[addr]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, addr)
	}

	select {
	case client.sem <- struct{}{}:
		defer func() { <-client.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()
	req = req.WithContext(attemptCtx)

	resp, err := client.transport.RoundTrip(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrBackendTimeout, addr)
		}
		return nil, fmt.Errorf("backend transport error (%s): %w", addr, err)
	}
	return resp, nil
}
