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

// Package session implements the client side of a TLS connection to one
// backend. A Session resolves the backend's host, connects to the resolved
// addresses in order, performs a TLS handshake that verifies the peer's
// certificate against the host, and requires the peer to agree to HTTP/2
// through ALPN. The outcome is reported exactly once to a Receiver.
//
// All work happens on goroutines owned by the session. Callbacks are
// serialized: at most one Receiver, ReadHandler, or WriteHandler call runs at
// any time for a given session, and none starts after Shutdown returns or
// after the session's context is done.
package session

import (
	"context"
	"crypto/tls"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bufbuild/upstream/metrics"
	"github.com/bufbuild/upstream/resolver"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Receiver is notified of the outcome of establishing a session.
type Receiver interface {
	// OnConnected is called once the session is ready for I/O, with the
	// address the connection was made to.
	OnConnected(endpoint resolver.Address)
	// OnNotConnected is called when the session could not be established.
	// The error is a *Error.
	OnNotConnected(err error)
}

// ReadHandler receives the result of a read. The data slice aliases the
// session's read buffer and is only valid for the duration of the call.
type ReadHandler func(data []byte, err error)

// WriteHandler receives the result of a write: the number of bytes written,
// which is the full length of the buffer unless err is non-nil.
type WriteHandler func(n int, err error)

// Session is a client TLS connection to a single backend.
type Session struct {
	host, service string
	tlsConfig     *tls.Config
	receiver      Receiver
	opts          options
	logger        *zap.Logger

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time
	state  atomic.Int32

	// callbackMu serializes callbacks. Shutdown never acquires it, so a
	// callback may shut its own session down.
	callbackMu sync.Mutex

	mu sync.Mutex
	// +checklocks:mu
	closed bool
	// +checklocks:mu
	detached bool
	// +checklocks:mu
	conn *tls.Conn
	// +checklocks:mu
	endpoint resolver.Address
	// +checklocks:mu
	err error

	// readMu is held while readBuf is filled and while a ReadHandler runs.
	readMu  sync.Mutex
	readBuf []byte
	reading atomic.Bool
	writing atomic.Bool
}

// New creates a session to host and service and immediately starts
// establishing it. The session lives until Shutdown is called or ctx is
// done; once connected, a done ctx shuts the session down as Shutdown does.
//
// The given TLS config is cloned. Its ServerName is replaced by host, so the
// peer's certificate must be valid for host. If it offers no application
// protocols, "h2" is offered.
func New(
	ctx context.Context,
	tlsConfig *tls.Config,
	host, service string,
	receiver Receiver,
	opts ...Option,
) *Session {
	var sessionOpts options
	for _, opt := range opts {
		opt.apply(&sessionOpts)
	}
	sessionOpts.applyDefaults()
	ctx, cancel := context.WithCancel(ctx)
	session := &Session{
		host:      host,
		service:   service,
		tlsConfig: clientConfig(tlsConfig, host),
		receiver:  receiver,
		opts:      sessionOpts,
		logger:    sessionOpts.logger.With(zap.String("host", host), zap.String("service", service)),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		start:     sessionOpts.clock.Now(),
		readBuf:   make([]byte, sessionOpts.readBufferSize),
	}
	session.state.Store(int32(StateResolving))
	go session.run()
	return session
}

func clientConfig(base *tls.Config, host string) *tls.Config {
	var config *tls.Config
	if base == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		config = base.Clone()
	}
	config.ServerName = trimBrackets(host)
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{http2.NextProtoTLS}
	}
	return config
}

// Host returns the host the session was created for.
func (s *Session) Host() string {
	return s.host
}

// Service returns the service (port) the session was created for.
func (s *Session) Service() string {
	return s.service
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done returns a channel that is closed once the session has reached a
// terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the session failed with, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Endpoint returns the address the session connected to. The second result
// is false if the session is not connected.
func (s *Session) Endpoint() (resolver.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, s.conn != nil
}

// NegotiatedProtocol returns the application protocol agreed on during the
// handshake, or the empty string if the session is not connected.
func (s *Session) NegotiatedProtocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ConnectionState().NegotiatedProtocol
}

// Read starts reading into the session's read buffer. The handler is called
// with the bytes read, or the error the read failed with. Only one read may
// be outstanding; another read may be started from within the handler.
func (s *Session) Read(handler ReadHandler) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	if !s.reading.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}
	go func() {
		s.readMu.Lock()
		defer s.readMu.Unlock()
		n, err := conn.Read(s.readBuf)
		s.reading.Store(false)
		s.deliver(func() {
			handler(s.readBuf[:n], err)
		})
	}()
	return nil
}

// Write starts writing all of data. The caller must not modify data until
// the handler is called. Only one write may be outstanding.
func (s *Session) Write(data []byte, handler WriteHandler) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	if !s.writing.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}
	go func() {
		n, err := conn.Write(data)
		s.writing.Store(false)
		s.deliver(func() {
			handler(n, err)
		})
	}()
	return nil
}

// HTTP2ClientConn hands the established connection to an HTTP/2 client
// connection created by transport (or a zero http2.Transport if nil).
// Read and Write return ErrDetached afterwards. Shutdown still closes the
// underlying connection.
func (s *Session) HTTP2ClientConn(transport *http2.Transport) (*http2.ClientConn, error) {
	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if s.detached {
		s.mu.Unlock()
		return nil, ErrDetached
	}
	if s.reading.Load() || s.writing.Load() {
		s.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	s.detached = true
	conn := s.conn
	s.mu.Unlock()
	if transport == nil {
		transport = &http2.Transport{}
	}
	return transport.NewClientConn(conn)
}

// Shutdown closes the session. Pending resolution, connection attempts, and
// I/O are cancelled and their callbacks are never invoked. Errors from
// closing the connection are ignored. Calling Shutdown more than once, or
// after the session failed, is harmless.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
		s.opts.metrics.SessionClosed()
		s.logger.Debug("session shut down")
	}
}

func (s *Session) activeConn() (*tls.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed || s.conn == nil:
		return nil, ErrNotConnected
	case s.detached:
		return nil, ErrDetached
	}
	return s.conn, nil
}

func (s *Session) run() {
	defer close(s.done)

	addresses, _, err := s.opts.prober.ResolveOnce(s.ctx, s.host, s.service)
	if err == nil && len(addresses) == 0 {
		err = errNoAddresses
	}
	if err != nil {
		s.fail(ErrUnresolvedHost, "", err)
		return
	}

	s.transition(StateConnecting)
	rawConn, endpoint, err := s.dial(addresses)
	if err != nil {
		s.fail(ErrConnectFailed, endpoint.HostPort, err)
		return
	}

	s.transition(StateHandshaking)
	conn := tls.Client(rawConn, s.tlsConfig)
	if err := conn.HandshakeContext(s.ctx); err != nil {
		_ = rawConn.Close()
		s.fail(ErrHandshakeFailed, endpoint.HostPort, err)
		return
	}

	s.transition(StateVerifying)
	protocol := conn.ConnectionState().NegotiatedProtocol
	if protocol == "" || !slices.Contains(s.tlsConfig.NextProtos, protocol) {
		_ = conn.Close()
		s.fail(ErrProtocolNotNegotiated, endpoint.HostPort, nil)
		return
	}

	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		s.fail(ErrConnectFailed, endpoint.HostPort, s.ctx.Err())
		return
	}
	s.conn = conn
	s.endpoint = endpoint
	s.mu.Unlock()
	context.AfterFunc(s.ctx, s.Shutdown)

	s.transition(StateConnected)
	s.opts.metrics.SessionOpened()
	s.opts.metrics.ObserveConnect(metrics.ResultConnected, s.opts.clock.Since(s.start))
	s.logger.Debug("session connected",
		zap.Stringer("endpoint", endpoint),
		zap.String("protocol", protocol),
	)
	s.deliver(func() {
		s.receiver.OnConnected(endpoint)
	})
}

func (s *Session) dial(addresses []resolver.Address) (net.Conn, resolver.Address, error) {
	var lastErr error
	var last resolver.Address
	for _, address := range addresses {
		if err := s.ctx.Err(); err != nil {
			return nil, address, err
		}
		conn, err := s.opts.dialFunc(s.ctx, "tcp", address.HostPort)
		if err == nil {
			return conn, address, nil
		}
		s.logger.Debug("connect attempt failed", zap.Stringer("address", address), zap.Error(err))
		last, lastErr = address, err
	}
	return nil, last, lastErr
}

// fail moves the session to StateFailed and, unless the session was shut
// down or its context is done, reports the failure.
func (s *Session) fail(kind error, addr string, cause error) {
	s.transition(StateFailed)
	defer s.cancel()
	elapsed := s.opts.clock.Since(s.start)
	if s.ctx.Err() != nil || s.isClosed() {
		s.opts.metrics.ObserveConnect(metrics.ResultCancelled, elapsed)
		s.logger.Debug("session cancelled before it was established")
		return
	}
	err := &Error{
		Kind:    kind,
		Host:    s.host,
		Service: s.service,
		Addr:    addr,
		Err:     cause,
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.opts.metrics.ObserveConnect(resultFor(kind), elapsed)
	s.logger.Debug("session failed", zap.Error(err))
	s.deliver(func() {
		s.receiver.OnNotConnected(err)
	})
}

// transition moves the session forward to next. Moving backwards or out of
// a terminal state is refused.
func (s *Session) transition(next State) bool {
	for {
		current := State(s.state.Load())
		if current.Terminal() || next <= current {
			return false
		}
		if s.state.CompareAndSwap(int32(current), int32(next)) {
			s.logger.Debug("session state changed", zap.Stringer("state", next))
			return true
		}
	}
}

// deliver runs callback unless the session was shut down or its context
// is done.
func (s *Session) deliver(callback func()) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	if s.isClosed() || s.ctx.Err() != nil {
		return
	}
	callback()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
