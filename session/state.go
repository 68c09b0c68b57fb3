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

import "fmt"

// State is a stage in the life of a Session. A session only ever moves
// forward through the states; StateConnected and StateFailed are final.
type State int32

const (
	// StateResolving is the initial state: the target host is being
	// resolved to transport addresses.
	StateResolving State = iota
	// StateConnecting means transport connections are being attempted
	// against the resolved addresses, in order.
	StateConnecting
	// StateHandshaking means a transport connection is established and the
	// TLS handshake is in progress.
	StateHandshaking
	// StateVerifying means the handshake completed and the negotiated
	// application protocol is being checked.
	StateVerifying
	// StateConnected means the session is usable for reads and writes.
	StateConnected
	// StateFailed means the session could not be established, or was shut
	// down before it was.
	StateFailed
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateConnected || s == StateFailed
}

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateVerifying:
		return "verifying"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
