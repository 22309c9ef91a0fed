package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote down")

func quietConfig(threshold uint32, recovery time.Duration) Config {
	return Config{
		Name:             "test",
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		OnStateChange:    func(string, State, State) {},
	}
}

func fail(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error { return errRemote })
}

func succeed(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error { return nil })
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(quietConfig(3, time.Hour))

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, fail(b), errRemote)
		assert.Equal(t, StateClosed, b.State())
	}
	require.ErrorIs(t, fail(b), errRemote)
	assert.Equal(t, StateOpen, b.State())

	// Open short-circuits without invoking fn.
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	b := New(quietConfig(3, time.Hour))

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.NoError(t, succeed(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))
	// Still below threshold thanks to the intervening success.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New(quietConfig(1, 20*time.Millisecond))

	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes the breaker.
	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := New(quietConfig(1, 20*time.Millisecond))

	require.Error(t, fail(b))
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, fail(b), errRemote)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(quietConfig(1, 20*time.Millisecond))

	require.Error(t, fail(b))
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	go b.Execute(context.Background(), func(context.Context) error {
		close(probeStarted)
		<-release
		return nil
	})
	<-probeStarted

	// Second caller is rejected while the probe is in flight.
	err := succeed(b)
	require.ErrorIs(t, err, ErrCircuitOpen)
	close(release)
}

func TestBreakerDefaults(t *testing.T) {
	b := New(Config{Name: "cache"})
	assert.Equal(t, "cache", b.Name())
	assert.Equal(t, StateClosed, b.State())
	// Zero-valued fields inherit the platform defaults.
	assert.Equal(t, uint32(10), b.cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, b.cfg.RecoveryTimeout)
}

func TestManagerReusesBreakersPerName(t *testing.T) {
	m := NewManager(quietConfig(5, time.Minute))

	a := m.Get("redis")
	b := m.Get("redis")
	c := m.Get("object-store")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "redis", a.Name())

	states := m.States()
	assert.Equal(t, "CLOSED", states["redis"])
	assert.Equal(t, "CLOSED", states["object-store"])
}
