package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxpoynt/platform/internal/circuitbreaker"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", []byte("1"), 0)
	l.Set("b", []byte("2"), 0)

	// Touch a so b becomes the eviction candidate.
	_, ok := l.Get("a")
	require.True(t, ok)

	l.Set("c", []byte("3"), 0)
	assert.Equal(t, 2, l.Len())

	_, ok = l.Get("b")
	assert.False(t, ok)
	_, ok = l.Get("a")
	assert.True(t, ok)
	_, ok = l.Get("c")
	assert.True(t, ok)
}

func TestLRUTTLExpiry(t *testing.T) {
	l := NewLRU(10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Set("k", []byte("v"), time.Minute)
	_, ok := l.Get("k")
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	_, ok = l.Get("k")
	assert.False(t, ok)
	// Expired entry was removed on access.
	assert.Equal(t, 0, l.Len())

	// Zero TTL never expires.
	l.Set("p", []byte("v"), 0)
	now = now.Add(1000 * time.Hour)
	_, ok = l.Get("p")
	assert.True(t, ok)
}

func TestLRUUpdateExistingKey(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", []byte("1"), 0)
	l.Set("b", []byte("2"), 0)
	l.Set("a", []byte("updated"), 0)

	v, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("updated"), v)
	assert.Equal(t, 2, l.Len())
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "tenant:org1:profile", TenantKey("org1", "profile"))
	assert.Equal(t, "global:vat-schedule", TenantKey("", "vat-schedule"))
	assert.Equal(t, "global:vat-schedule", GlobalKey("vat-schedule"))
}

// fakeRemote implements RemoteClient in memory, optionally failing every call.
type fakeRemote struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	sets   int
	broken bool
	err    error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte), err: context.DeadlineExceeded}
}

func (f *fakeRemote) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.broken {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRemote) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.broken {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRemote) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRemote) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func TestTieredReadPathRepopulatesL1(t *testing.T) {
	remote := newFakeRemote()
	tc := New(Config{L1Capacity: 10}, remote, nil)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "global:k", map[string]string{"name": "adebayo"}, time.Minute))

	// Drop L1 so the next read goes remote.
	tc.l1.Delete("global:k")
	var out map[string]string
	require.NoError(t, tc.Get(ctx, "global:k", &out))
	assert.Equal(t, "adebayo", out["name"])
	remoteReads := remote.getCount()

	// Now L1 is repopulated: another read stays local.
	out = nil
	require.NoError(t, tc.Get(ctx, "global:k", &out))
	assert.Equal(t, "adebayo", out["name"])
	assert.Equal(t, remoteReads, remote.getCount())
}

func TestTieredMiss(t *testing.T) {
	tc := New(Config{L1Capacity: 10}, newFakeRemote(), nil)
	var out string
	err := tc.Get(context.Background(), "global:absent", &out)
	require.ErrorIs(t, err, ErrMiss)
}

func TestTieredCompressesLargePayloads(t *testing.T) {
	remote := newFakeRemote()
	tc := New(Config{L1Capacity: 10, CompressThreshold: 64}, remote, nil)
	ctx := context.Background()

	big := make([]string, 100)
	for i := range big {
		big[i] = "lagos island market stall"
	}
	require.NoError(t, tc.Set(ctx, "global:big", big, time.Minute))

	remote.mu.Lock()
	stored := remote.data["global:big"]
	remote.mu.Unlock()
	require.NotEmpty(t, stored)
	assert.Equal(t, gzipMagic, stored[:2])

	// The read path transparently decompresses.
	tc.l1.Delete("global:big")
	var out []string
	require.NoError(t, tc.Get(ctx, "global:big", &out))
	assert.Equal(t, big, out)
}

func TestTieredAbsorbsRemoteFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.broken = true
	tc := New(Config{L1Capacity: 10}, remote, nil)
	ctx := context.Background()

	// Writes never fail the caller on L2 errors.
	require.NoError(t, tc.Set(ctx, "global:k", "v", time.Minute))

	// L1 still serves the value even though L2 is down.
	var out string
	require.NoError(t, tc.Get(ctx, "global:k", &out))
	assert.Equal(t, "v", out)

	// A pure L2 read converts the failure into a miss.
	tc.l1.Delete("global:k")
	err := tc.Get(ctx, "global:k", &out)
	require.ErrorIs(t, err, ErrMiss)
}

func TestColdMissesLeaveBreakerClosed(t *testing.T) {
	remote := newFakeRemote()
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "cache-test",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		OnStateChange:    func(string, circuitbreaker.State, circuitbreaker.State) {},
	})
	tc := New(Config{L1Capacity: 10}, remote, breaker)
	ctx := context.Background()

	// A healthy remote answering "no such key" is not a dependency failure.
	var out string
	for i := 0; i < 10; i++ {
		require.ErrorIs(t, tc.Get(ctx, "global:cold", &out), ErrMiss)
	}
	assert.Equal(t, circuitbreaker.StateClosed, tc.BreakerState())
	// Nothing was short-circuited: every read reached the remote.
	assert.Equal(t, 10, remote.getCount())
}

func TestTieredBreakerShortCircuitsRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.broken = true
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "cache-test",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		OnStateChange:    func(string, circuitbreaker.State, circuitbreaker.State) {},
	})
	tc := New(Config{L1Capacity: 10}, remote, breaker)
	ctx := context.Background()

	var out string
	for i := 0; i < 3; i++ {
		_ = tc.Get(ctx, "global:k", &out)
	}
	require.Equal(t, circuitbreaker.StateOpen, tc.BreakerState())
	callsWhenOpened := remote.getCount()

	// Open breaker: remote is no longer called, reads degrade to misses.
	err := tc.Get(ctx, "global:k", &out)
	require.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, callsWhenOpened, remote.getCount())
}
