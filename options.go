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
	"net"
	"time"

	"github.com/bufbuild/upstream/internal"
	"github.com/bufbuild/upstream/metrics"
	"github.com/bufbuild/upstream/resolver"
	"go.uber.org/zap"
)

// Option is an option used to customize the behavior of a Pool.
type Option interface {
	apply(*poolOptions)
}

// WithRootContext configures the root context of the sessions a pool opens.
// If not specified, [context.Background] is used. Cancelling it tears down
// every session, so it should only be cancelled once the pool is no longer
// in use.
func WithRootContext(ctx context.Context) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.rootCtx = ctx
	})
}

// WithResolveProber configures how backend hosts are resolved. If not
// specified, the system resolver is used, preferring IPv4 addresses when a
// name has both A and AAAA records. Wrap the prober with
// [resolver.NewCachingProber] to avoid resolving a host on every Connect.
func WithResolveProber(prober resolver.ResolveProber) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.prober = prober
	})
}

// WithDialer configures the pool to use the given function to establish
// network connections. If no WithDialer option is provided, a default
// [net.Dialer] is used that uses a 30-second dial timeout and configures
// the connection to use TCP keep-alive every 30 seconds.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithLogger configures the logger for the pool and its sessions. If not
// specified, nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.logger = logger
	})
}

// WithMetrics configures where route lookups and connection outcomes are
// recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.metrics = m
	})
}

// WithConnectTimeout limits how long Connect waits for a session to be
// established, from name resolution to the end of the TLS handshake. If
// zero or no WithConnectTimeout option is used, a default of 10 seconds is
// used.
func WithConnectTimeout(duration time.Duration) Option {
	return optionFunc(func(opts *poolOptions) {
		opts.connectTimeout = duration
	})
}

type optionFunc func(*poolOptions)

func (f optionFunc) apply(opts *poolOptions) {
	f(opts)
}

type poolOptions struct {
	rootCtx        context.Context //nolint:containedctx
	prober         resolver.ResolveProber
	dialFunc       func(ctx context.Context, network, addr string) (net.Conn, error)
	logger         *zap.Logger
	metrics        *metrics.Metrics
	connectTimeout time.Duration
	clock          internal.Clock
}

func (opts *poolOptions) applyDefaults() {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if opts.prober == nil {
		opts.prober = resolver.NewDNSProber(net.DefaultResolver, "ip", resolver.PreferIPv4)
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.connectTimeout == 0 {
		opts.connectTimeout = 10 * time.Second
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}
