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
	"slices"
	"sync"
	"time"

	"github.com/bufbuild/upstream/internal"
	"golang.org/x/sync/singleflight"
)

const sharedLookupTimeout = 30 * time.Second

// NewCachingProber wraps prober so that each answer is reused until it
// expires. Answers that come without a TTL are kept for defaultTTL.
// Concurrent lookups of the same host and service share a single call to
// the underlying prober, which runs to completion (for at most 30 seconds)
// even if the caller that started it gives up. Errors are never cached.
func NewCachingProber(prober ResolveProber, defaultTTL time.Duration) ResolveProber {
	return &cachingProber{
		prober:     prober,
		defaultTTL: defaultTTL,
		clock:      internal.NewRealClock(),
		entries:    map[string]cacheEntry{},
	}
}

type cachingProber struct {
	prober     ResolveProber
	defaultTTL time.Duration
	clock      internal.Clock
	group      singleflight.Group

	mu sync.Mutex
	// +checklocks:mu
	entries map[string]cacheEntry
}

type cacheEntry struct {
	addresses []Address
	expiry    time.Time
}

func (c *cachingProber) ResolveOnce(
	ctx context.Context,
	host, service string,
) ([]Address, time.Duration, error) {
	key := net.JoinHostPort(host, service)
	if addresses, ttl, ok := c.lookup(key); ok {
		return addresses, ttl, nil
	}
	results := c.group.DoChan(key, func() (any, error) {
		// Shared by every caller for key; outlives any one of them.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		addresses, ttl, err := c.prober.ResolveOnce(lookupCtx, host, service)
		if err != nil {
			return nil, err
		}
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		entry := cacheEntry{addresses: addresses, expiry: c.clock.Now().Add(ttl)}
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	var result singleflight.Result
	select {
	case result = <-results:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	if result.Err != nil {
		return nil, 0, result.Err
	}
	entry := result.Val.(cacheEntry) //nolint:forcetypeassert
	return slices.Clone(entry.addresses), entry.expiry.Sub(c.clock.Now()), nil
}

func (c *cachingProber) lookup(key string) ([]Address, time.Duration, bool) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	if !now.Before(entry.expiry) {
		delete(c.entries, key)
		return nil, 0, false
	}
	return slices.Clone(entry.addresses), entry.expiry.Sub(now), true
}
