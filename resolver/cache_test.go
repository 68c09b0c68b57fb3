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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bufbuild/upstream/internal/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCachingProberTTL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	prober := NewCachingProber(ResolveProberFunc(func(_ context.Context, host, service string) ([]Address, time.Duration, error) {
		calls.Add(1)
		return []Address{{HostPort: host + ":" + service}}, 30 * time.Second, nil
	}), time.Minute)
	testClock := clocktest.NewFakeClock()
	prober.(*cachingProber).clock = testClock //nolint:errcheck

	ctx := context.Background()
	addresses, ttl, err := prober.ResolveOnce(ctx, "10.0.0.1", "443")
	require.NoError(t, err)
	assert.Equal(t, []Address{{HostPort: "10.0.0.1:443"}}, addresses)
	assert.Equal(t, 30*time.Second, ttl)
	assert.Equal(t, int32(1), calls.Load())

	testClock.Advance(10 * time.Second)
	addresses, ttl, err = prober.ResolveOnce(ctx, "10.0.0.1", "443")
	require.NoError(t, err)
	assert.Len(t, addresses, 1)
	assert.Equal(t, 20*time.Second, ttl)
	assert.Equal(t, int32(1), calls.Load())

	// Mutating a returned slice does not corrupt the cache.
	addresses[0].HostPort = "mutated"

	testClock.Advance(20 * time.Second)
	addresses, _, err = prober.ResolveOnce(ctx, "10.0.0.1", "443")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:443", addresses[0].HostPort)
	assert.Equal(t, int32(2), calls.Load())

	_, _, err = prober.ResolveOnce(ctx, "10.0.0.1", "80")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCachingProberDefaultTTLAndErrors(t *testing.T) {
	t.Parallel()

	errLookup := errors.New("lookup failed")
	var (
		calls atomic.Int32
		fail  atomic.Bool
	)
	prober := NewCachingProber(ResolveProberFunc(func(context.Context, string, string) ([]Address, time.Duration, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, 0, errLookup
		}
		return []Address{{HostPort: "10.0.0.1:443"}}, 0, nil
	}), time.Minute)
	testClock := clocktest.NewFakeClock()
	prober.(*cachingProber).clock = testClock //nolint:errcheck

	ctx := context.Background()
	fail.Store(true)
	_, _, err := prober.ResolveOnce(ctx, "example.com", "443")
	require.ErrorIs(t, err, errLookup)
	_, _, err = prober.ResolveOnce(ctx, "example.com", "443")
	require.ErrorIs(t, err, errLookup)
	assert.Equal(t, int32(2), calls.Load())

	fail.Store(false)
	_, ttl, err := prober.ResolveOnce(ctx, "example.com", "443")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	fail.Store(true)
	testClock.Advance(59 * time.Second)
	_, _, err = prober.ResolveOnce(ctx, "example.com", "443")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	testClock.Advance(time.Second)
	_, _, err = prober.ResolveOnce(ctx, "example.com", "443")
	require.ErrorIs(t, err, errLookup)
	assert.Equal(t, int32(4), calls.Load())
}

func TestCachingProberCollapsesConcurrentLookups(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	prober := NewCachingProber(ResolveProberFunc(func(context.Context, string, string) ([]Address, time.Duration, error) {
		calls.Add(1)
		<-release
		return []Address{{HostPort: "10.0.0.1:443"}}, time.Minute, nil
	}), time.Minute)

	var grp errgroup.Group
	for i := 0; i < 10; i++ {
		grp.Go(func() error {
			addresses, _, err := prober.ResolveOnce(context.Background(), "example.com", "443")
			if err == nil && len(addresses) != 1 {
				return errors.New("unexpected addresses")
			}
			return err
		})
	}
	// We wait a small amount of real time, to make sure that all goroutines
	// have had a chance to join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)
	close(release)
	require.NoError(t, grp.Wait())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachingProberSharedLookupSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	prober := NewCachingProber(ResolveProberFunc(func(ctx context.Context, _, _ string) ([]Address, time.Duration, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []Address{{HostPort: "10.0.0.1:443"}}, time.Minute, nil
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}), time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	first := make(chan error, 1)
	go func() {
		_, _, err := prober.ResolveOnce(firstCtx, "example.com", "443")
		first <- err
	}()
	<-started
	second := make(chan error, 1)
	go func() {
		addresses, _, err := prober.ResolveOnce(context.Background(), "example.com", "443")
		if err == nil && len(addresses) != 1 {
			err = errors.New("unexpected addresses")
		}
		second <- err
	}()
	// We wait a small amount of real time, to make sure that the second
	// caller has joined the in-flight lookup.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}
	select {
	case err := <-second:
		t.Fatalf("second caller returned before the lookup finished: %v", err)
	default:
	}

	close(release)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), calls.Load())
}
