// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bufbuild/upstream/attribute"
	"github.com/bufbuild/upstream/internal/dlist"
	"github.com/bufbuild/upstream/resolver"
	"github.com/bufbuild/upstream/router"
	"github.com/bufbuild/upstream/session"
	"github.com/bufbuild/upstream/strref"
	"go.uber.org/zap"
)

var (
	// ErrNoBackend is returned when no backend pattern matches a request.
	ErrNoBackend = errors.New("no backend configured for this request")
	// ErrBackendUnavailable is returned when a session to the matched
	// backend could not be established. The session's error, or
	// ErrConnectTimeout, is wrapped alongside it.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrConnectTimeout is wrapped in ErrBackendUnavailable when a session
	// is not established within the connect timeout.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrPoolClosed is returned by Connect after Close.
	ErrPoolClosed = errors.New("pool is closed")
)

// Backend is a group of servers that requests are routed to.
type Backend struct {
	// Pattern selects the requests for this backend, as "host/path". A
	// path ending in "/" matches every path below it; any other path
	// matches only itself. A pattern without a path matches every request
	// for its host. See the router package for the details.
	Pattern string
	// Host and Service are what sessions to this backend resolve and
	// connect to. Host is also the name the backend's TLS certificate must
	// be valid for.
	Host, Service string
	// Attributes are attached to the endpoint of every session opened to
	// this backend, on top of those set by the resolver.
	Attributes attribute.Values
}

// Pool routes requests to backends and opens TLS sessions to them. It is
// safe for concurrent use.
type Pool struct {
	tlsConfig *tls.Config
	opts      poolOptions
	table     atomic.Pointer[routeTable]
	closing   chan struct{}

	mu sync.Mutex
	// +checklocks:mu
	sessions dlist.List[*session.Session]
	// +checklocks:mu
	closed bool
}

type routeTable struct {
	router   *router.Router
	backends []Backend
}

// NewPool returns a pool for the given backends. A backend whose pattern
// repeats an earlier one replaces it. tlsConfig is used for every session;
// it may be nil to use the system roots.
func NewPool(tlsConfig *tls.Config, backends []Backend, options ...Option) *Pool {
	var opts poolOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	pool := &Pool{
		tlsConfig: tlsConfig,
		opts:      opts,
		closing:   make(chan struct{}),
	}
	pool.table.Store(newRouteTable(backends))
	return pool
}

func newRouteTable(backends []Backend) *routeTable {
	patterns := make([]string, len(backends))
	for i, backend := range backends {
		patterns[i] = backend.Pattern
	}
	r, _ := router.NewFromPatterns(patterns...)
	return &routeTable{
		router:   r,
		backends: append([]Backend(nil), backends...),
	}
}

// Reload replaces the configured backends. Route and Connect calls that
// are already running keep using the previous configuration; sessions that
// are already open are not affected.
func (p *Pool) Reload(backends []Backend) {
	p.table.Store(newRouteTable(backends))
	p.opts.logger.Info("backends reloaded", zap.Int("backends", len(backends)))
}

// Route returns the backend for a request with the given host (which may
// include a port) and path (which may include a query), along with its
// index in the configured backends.
func (p *Pool) Route(host, path string) (Backend, int, error) {
	table := p.table.Load()
	index := table.router.Match(strref.NewStringRef(host), strref.NewStringRef(path), router.NoMatch)
	p.opts.metrics.ObserveRoute(index != router.NoMatch)
	if index == router.NoMatch {
		return Backend{}, router.NoMatch, fmt.Errorf("%w: %s%s", ErrNoBackend, host, path)
	}
	return table.backends[index], index, nil
}

// Connect routes the request and opens a session to the matched backend,
// waiting until it is established. The returned Conn must be closed by the
// caller. ctx only bounds the wait; the session itself lives until the Conn
// is closed, the pool is closed, or the pool's root context is done.
func (p *Pool) Connect(ctx context.Context, host, path string) (*Conn, error) {
	backend, index, err := p.Route(host, path)
	if err != nil {
		return nil, err
	}
	logger := p.opts.logger.With(zap.String("pattern", backend.Pattern), zap.Int("backend", index))
	receiver := newConnectReceiver()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	sess := session.New(p.opts.rootCtx, p.tlsConfig, backend.Host, backend.Service, receiver,
		session.WithResolveProber(p.backendProber(backend)),
		session.WithDialFunc(p.opts.dialFunc),
		session.WithLogger(logger),
		session.WithMetrics(p.opts.metrics),
		session.WithClock(p.opts.clock),
	)
	handle := p.sessions.PushBack(sess)
	p.mu.Unlock()

	timer := p.opts.clock.NewTimer(p.opts.connectTimeout)
	defer timer.Stop()
	select {
	case endpoint := <-receiver.connected:
		logger.Debug("backend connected", zap.Stringer("endpoint", endpoint))
		return &Conn{Session: sess, pool: p, handle: handle}, nil
	case err = <-receiver.failed:
	case <-timer.Chan():
		err = fmt.Errorf("%w after %v", ErrConnectTimeout, p.opts.connectTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	case <-p.opts.rootCtx.Done():
		err = p.opts.rootCtx.Err()
	case <-p.closing:
		err = ErrPoolClosed
	}
	p.release(handle)
	logger.Warn("backend unavailable", zap.Error(err))
	return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, backend.Pattern, err)
}

// Close shuts down every session opened by the pool that has not been
// closed yet. Connect fails with ErrPoolClosed afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.closing)
	}
	sessions := p.sessions.Drain()
	p.mu.Unlock()
	for _, sess := range sessions {
		sess.Shutdown()
	}
}

func (p *Pool) release(handle dlist.Handle) {
	p.mu.Lock()
	sess, ok := p.sessions.Remove(handle)
	p.mu.Unlock()
	if ok {
		sess.Shutdown()
	}
}

func (p *Pool) liveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions.Len()
}

// backendProber resolves through the pool's prober and adds the backend's
// attributes to every address.
func (p *Pool) backendProber(backend Backend) resolver.ResolveProber {
	if backend.Attributes.Len() == 0 {
		return p.opts.prober
	}
	return resolver.ResolveProberFunc(func(ctx context.Context, host, service string) ([]resolver.Address, time.Duration, error) {
		addresses, ttl, err := p.opts.prober.ResolveOnce(ctx, host, service)
		if err != nil {
			return nil, 0, err
		}
		for i := range addresses {
			addresses[i].Attributes = addresses[i].Attributes.Merge(backend.Attributes)
		}
		return addresses, ttl, nil
	})
}

// Conn is an established session opened by a Pool.
type Conn struct {
	*session.Session
	pool   *Pool
	handle dlist.Handle
}

// Close shuts the session down and forgets it. It is safe to call more
// than once.
func (c *Conn) Close() {
	c.pool.release(c.handle)
	c.Session.Shutdown()
}

type connectReceiver struct {
	connected chan resolver.Address
	failed    chan error
}

func newConnectReceiver() *connectReceiver {
	return &connectReceiver{
		connected: make(chan resolver.Address, 1),
		failed:    make(chan error, 1),
	}
}

func (r *connectReceiver) OnConnected(endpoint resolver.Address) {
	r.connected <- endpoint
}

func (r *connectReceiver) OnNotConnected(err error) {
	r.failed <- err
}
