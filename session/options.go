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

package session

import (
	"context"
	"net"
	"time"

	"github.com/bufbuild/upstream/internal"
	"github.com/bufbuild/upstream/metrics"
	"github.com/bufbuild/upstream/resolver"
	"go.uber.org/zap"
)

const defaultReadBufferSize = 8 << 10

//nolint:gochecknoglobals
var (
	defaultDialer = &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
)

// Option is an option used to customize a Session.
type Option interface {
	apply(*options)
}

// WithResolveProber configures how the target host is resolved. If not
// specified, the system resolver is used, preferring IPv4 addresses when a
// name has both A and AAAA records.
func WithResolveProber(prober resolver.ResolveProber) Option {
	return optionFunc(func(opts *options) {
		opts.prober = prober
	})
}

// WithDialFunc configures the function used to establish transport
// connections. If not specified, a [net.Dialer] with a 30-second dial
// timeout and 30-second TCP keep-alive is used.
func WithDialFunc(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return optionFunc(func(opts *options) {
		opts.dialFunc = dialFunc
	})
}

// WithLogger configures the logger used to trace state transitions. The
// default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *options) {
		opts.logger = logger
	})
}

// WithMetrics configures where connection outcomes are recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(opts *options) {
		opts.metrics = m
	})
}

// WithClock configures the clock used to measure connection latency.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(opts *options) {
		opts.clock = clock
	})
}

// WithReadBufferSize sets the size of the buffer that reads are done into.
// The default is 8 KiB.
func WithReadBufferSize(size int) Option {
	return optionFunc(func(opts *options) {
		opts.readBufferSize = size
	})
}

type optionFunc func(*options)

func (f optionFunc) apply(opts *options) {
	f(opts)
}

type options struct {
	prober         resolver.ResolveProber
	dialFunc       func(ctx context.Context, network, addr string) (net.Conn, error)
	logger         *zap.Logger
	metrics        *metrics.Metrics
	clock          internal.Clock
	readBufferSize int
}

func (opts *options) applyDefaults() {
	if opts.prober == nil {
		opts.prober = resolver.NewDNSProber(net.DefaultResolver, "ip", resolver.PreferIPv4)
	}
	if opts.dialFunc == nil {
		opts.dialFunc = defaultDialer.DialContext
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}
}
