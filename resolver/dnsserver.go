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
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/bufbuild/upstream/attribute"
	"github.com/miekg/dns"
)

// DNSServerOption is an option for NewDNSServerProber.
type DNSServerOption interface {
	applyToDNSServer(*dnsServerProber)
}

// WithDNSNetwork selects which address families are queried: "ip" (the
// default) sends both A and AAAA queries, "ip4" only A, "ip6" only AAAA.
func WithDNSNetwork(network string) DNSServerOption {
	return dnsServerOptionFunc(func(p *dnsServerProber) {
		p.network = network
	})
}

// WithDNSClient configures the client used to exchange messages with the
// nameserver. By default a UDP client with a five second timeout is used.
func WithDNSClient(client *dns.Client) DNSServerOption {
	return dnsServerOptionFunc(func(p *dnsServerProber) {
		p.client = client
	})
}

// NewDNSServerProber creates a prober that queries the nameserver at server
// ("host:port") directly. Unlike NewDNSProber it reports the smallest TTL of
// the answer records, so it pairs well with NewCachingProber. Addresses are
// returned A records first, each tagged with its RecordTTL.
func NewDNSServerProber(server string, opts ...DNSServerOption) ResolveProber {
	prober := &dnsServerProber{
		server:  server,
		network: "ip",
	}
	for _, opt := range opts {
		opt.applyToDNSServer(prober)
	}
	if prober.client == nil {
		prober.client = &dns.Client{Net: "udp", Timeout: 5 * time.Second}
	}
	return prober
}

type dnsServerOptionFunc func(*dnsServerProber)

func (f dnsServerOptionFunc) applyToDNSServer(p *dnsServerProber) {
	f(p)
}

type dnsServerProber struct {
	server  string
	network string
	client  *dns.Client
}

func (p *dnsServerProber) ResolveOnce(
	ctx context.Context,
	host, service string,
) ([]Address, time.Duration, error) {
	port, err := lookupPort(ctx, service)
	if err != nil {
		return nil, 0, err
	}
	portStr := strconv.Itoa(port)
	host = trimBrackets(host)
	if ip, err := netip.ParseAddr(host); err == nil {
		return []Address{{HostPort: net.JoinHostPort(ip.Unmap().String(), portStr)}}, 0, nil
	}

	var qtypes []uint16
	switch p.network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	var (
		results []Address
		minTTL  time.Duration
		seenTTL bool
	)
	for _, qtype := range qtypes {
		answer, err := p.query(ctx, host, qtype)
		if err != nil {
			return nil, 0, err
		}
		for _, rr := range answer {
			var ip net.IP
			switch rr := rr.(type) {
			case *dns.A:
				ip = rr.A
			case *dns.AAAA:
				ip = rr.AAAA
			default:
				continue
			}
			ttl := time.Duration(rr.Header().Ttl) * time.Second
			if !seenTTL || ttl < minTTL {
				minTTL, seenTTL = ttl, true
			}
			results = append(results, Address{
				HostPort:   net.JoinHostPort(ip.String(), portStr),
				Attributes: attribute.NewValues(RecordTTL.Value(ttl)),
			})
		}
	}
	if len(results) == 0 {
		return nil, 0, &net.DNSError{Err: "no such host", Name: host, Server: p.server, IsNotFound: true}
	}
	return results, minTTL, nil
}

func (p *dnsServerProber) query(ctx context.Context, host string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true
	reply, _, err := p.client.ExchangeContext(ctx, msg, p.server)
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", dns.TypeToString[qtype], host, err)
	}
	switch reply.Rcode {
	case dns.RcodeSuccess:
		return reply.Answer, nil
	case dns.RcodeNameError:
		// NXDOMAIN for one family is reported once no family has answers.
		return nil, nil
	default:
		return nil, &net.DNSError{
			Err:    dns.RcodeToString[reply.Rcode],
			Name:   host,
			Server: p.server,
		}
	}
}
