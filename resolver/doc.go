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

// Package resolver turns a backend's host and service into the transport
// addresses a connection can be attempted against.
//
// The core interface is [ResolveProber], a single-shot lookup that also
// reports how long its answer may be reused. Three implementations are
// included:
//
//   - [NewDNSProber] uses a [net.Resolver], i.e. the system's configured
//     name resolution, and filters results by address family.
//   - [NewDNSServerProber] sends A and AAAA queries straight to one
//     nameserver and reports the record TTLs it returns.
//   - [NewCachingProber] wraps another prober, reusing answers until their
//     TTL expires and collapsing concurrent lookups for the same name.
//
// # Attributes
//
// A resolved [Address] may carry type-safe metadata in its Attributes
// field. [NewDNSServerProber] tags every address with the [RecordTTL] of
// the record it came from:
//
//	ttl, ok := attribute.GetValue(addr.Attributes, resolver.RecordTTL)
package resolver
