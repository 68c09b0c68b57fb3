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

package resolver

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/bufbuild/upstream/attribute"
)

// AddressFamilyAffinity is an option that allows control over the preference
// for which addresses to consider when resolving, based on their address
// family.
type AddressFamilyAffinity int

const (
	// AllFamilies will result in all addresses being used, regardless of
	// their address family.
	AllFamilies AddressFamilyAffinity = iota

	// PreferIPv4 will result in only IPv4 addresses being used, if any
	// IPv4 addresses are present. If no IPv4 addresses are resolved, then
	// all addresses will be used.
	PreferIPv4

	// PreferIPv6 will result in only IPv6 addresses being used, if any
	// IPv6 addresses are present. If no IPv6 addresses are resolved, then
	// all addresses will be used.
	PreferIPv6
)

// RecordTTL is the attribute key under which probers that know the TTL of
// the record an address came from record it.
//
//nolint:gochecknoglobals
var RecordTTL = attribute.NewKey[time.Duration]()

// ResolveProber is an interface for types that provide single-shot name
// resolution.
type ResolveProber interface {
	// ResolveOnce resolves host once and returns the addresses to try, in
	// the order they should be tried. The service is a port number or a
	// well-known service name such as "https"; every returned address
	// carries the resulting port.
	//
	// The second return value is how long the result may be reused, or 0
	// if there is no known TTL value.
	ResolveOnce(
		ctx context.Context,
		host, service string,
	) (
		results []Address,
		ttl time.Duration,
		err error,
	)
}

// ResolveProberFunc adapts an ordinary function to a ResolveProber.
type ResolveProberFunc func(ctx context.Context, host, service string) ([]Address, time.Duration, error)

// ResolveOnce implements ResolveProber.
func (f ResolveProberFunc) ResolveOnce(ctx context.Context, host, service string) ([]Address, time.Duration, error) {
	return f(ctx, host, service)
}

// Address contains a resolved address to a host, and any attributes that may be
// associated with a host/address.
type Address struct {
	// HostPort stores the host:port pair of the resolved address.
	HostPort string

	// Attributes is a collection of arbitrary key/value pairs.
	Attributes attribute.Values
}

// String returns the address's host:port.
func (a Address) String() string {
	return a.HostPort
}

// NewDNSProber creates a prober that resolves names with the given
// [net.Resolver]. The network must be one of "ip", "ip4" or "ip6". Because
// net.Resolver does not expose record TTLs, the returned TTL is always 0.
// The affinity value can be used to prefer either IPv4 or IPv6 addresses
// when a name has both A and AAAA records.
func NewDNSProber(
	resolver *net.Resolver,
	network string,
	affinity AddressFamilyAffinity,
) ResolveProber {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &dnsResolveProber{
		resolver: resolver,
		network:  network,
		affinity: affinity,
	}
}

type dnsResolveProber struct {
	resolver *net.Resolver
	network  string
	affinity AddressFamilyAffinity
}

func (r *dnsResolveProber) ResolveOnce(
	ctx context.Context,
	host, service string,
) ([]Address, time.Duration, error) {
	port, err := r.resolver.LookupPort(ctx, "tcp", service)
	if err != nil {
		return nil, 0, err
	}
	addresses, err := r.resolver.LookupNetIP(ctx, r.network, trimBrackets(host))
	if err != nil {
		return nil, 0, err
	}
	addresses = filterFamily(addresses, r.affinity)
	result := make([]Address, len(addresses))
	for i, address := range addresses {
		result[i].HostPort = net.JoinHostPort(address.Unmap().String(), strconv.Itoa(port))
	}
	return result, 0, nil
}

func filterFamily(addresses []netip.Addr, affinity AddressFamilyAffinity) []netip.Addr {
	var keep func(netip.Addr) bool
	switch affinity {
	case AllFamilies:
		return addresses
	case PreferIPv4:
		keep = func(a netip.Addr) bool { return a.Is4() || a.Is4In6() }
	case PreferIPv6:
		keep = func(a netip.Addr) bool { return a.Is6() && !a.Is4In6() }
	}
	filtered := make([]netip.Addr, 0, len(addresses))
	for _, address := range addresses {
		if keep(address) {
			filtered = append(filtered, address)
		}
	}
	if len(filtered) == 0 {
		return addresses
	}
	return filtered
}

// trimBrackets removes the brackets of an IPv6 literal, as it appears in a
// URL authority.
func trimBrackets(host string) string {
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}

// lookupPort resolves a service name to a port without touching DNS for
// numeric services.
func lookupPort(ctx context.Context, service string) (int, error) {
	if port, err := strconv.ParseUint(strings.TrimSpace(service), 10, 16); err == nil {
		return int(port), nil
	}
	return net.DefaultResolver.LookupPort(ctx, "tcp", service)
}
