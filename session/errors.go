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
	"errors"
	"net"
	"strings"

	"github.com/bufbuild/upstream/metrics"
)

// Error kinds reported through Receiver.OnNotConnected. Use errors.Is to
// tell them apart.
var (
	// ErrUnresolvedHost means name resolution failed or produced no
	// addresses.
	ErrUnresolvedHost = errors.New("unresolved host")
	// ErrConnectFailed means a transport connection could not be made to
	// any resolved address. The error of the last attempt is preserved.
	ErrConnectFailed = errors.New("connect failed")
	// ErrHandshakeFailed means the TLS handshake failed, including when the
	// peer's certificate does not match the target host.
	ErrHandshakeFailed = errors.New("TLS handshake failed")
	// ErrProtocolNotNegotiated means the handshake succeeded but the peer
	// did not agree to any of the offered application protocols.
	ErrProtocolNotNegotiated = errors.New("no application protocol negotiated")
)

var (
	// ErrNotConnected is returned by I/O methods called before the session
	// is connected, after it failed, or after it was shut down.
	ErrNotConnected = errors.New("session is not connected")
	// ErrOperationInProgress is returned when a read (or write) is started
	// while another one is still outstanding.
	ErrOperationInProgress = errors.New("operation already in progress")
	// ErrDetached is returned by I/O methods once the stream has been handed
	// to an HTTP/2 client connection.
	ErrDetached = errors.New("session stream was handed off")

	errNoAddresses = errors.New("resolver returned no addresses")
)

// Error describes why a session could not be established.
type Error struct {
	// Kind is one of ErrUnresolvedHost, ErrConnectFailed, ErrHandshakeFailed
	// or ErrProtocolNotNegotiated.
	Kind error
	// Host and Service are the session's target.
	Host, Service string
	// Addr is the resolved address involved, if any.
	Addr string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(net.JoinHostPort(trimBrackets(e.Host), e.Service))
	if e.Addr != "" {
		b.WriteString(" via ")
		b.WriteString(e.Addr)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and
// errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func resultFor(kind error) string {
	switch kind {
	case ErrUnresolvedHost:
		return metrics.ResultUnresolvedHost
	case ErrConnectFailed:
		return metrics.ResultConnectFailed
	case ErrHandshakeFailed:
		return metrics.ResultHandshakeFailed
	case ErrProtocolNotNegotiated:
		return metrics.ResultProtocolNotNegotiated
	default:
		return metrics.ResultCancelled
	}
}

func trimBrackets(host string) string {
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
