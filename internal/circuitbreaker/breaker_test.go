package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, threshold int, opts ...Option) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(clock.Now))
	return New(t.Name(), threshold, time.Minute, opts...), clock
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3)

	assert.ErrorIs(t, b.Do(fail), errUpstream)
	assert.ErrorIs(t, b.Do(fail), errUpstream)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Do(fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(t, 3)

	_ = b.Do(fail)
	_ = b.Do(fail)
	require.NoError(t, b.Do(succeed))
	_ = b.Do(fail)
	_ = b.Do(fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, clock := newTestBreaker(t, 1)
		_ = b.Do(fail)
		require.Equal(t, StateOpen, b.State())

		clock.Advance(59 * time.Second)
		assert.ErrorIs(t, b.Do(succeed), ErrOpen)

		clock.Advance(time.Second)
		require.NoError(t, b.Do(succeed))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, clock := newTestBreaker(t, 1)
		_ = b.Do(fail)
		clock.Advance(time.Minute)

		assert.ErrorIs(t, b.Do(fail), errUpstream)
		assert.Equal(t, StateOpen, b.State())
		assert.ErrorIs(t, b.Do(succeed), ErrOpen)
	})
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, clock := newTestBreaker(t, 1)
	_ = b.Do(fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	probing := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailureFilter(t *testing.T) {
	b, clock := newTestBreaker(t, 2, WithFailureFilter(func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}))
	cancelled := func() error { return context.Canceled }

	for range 5 {
		assert.ErrorIs(t, b.Do(cancelled), context.Canceled)
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(fail)
	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	// A cancelled probe neither closes the circuit nor restarts the cooldown.
	clock.Advance(time.Minute)
	assert.ErrorIs(t, b.Do(cancelled), context.Canceled)
	assert.Equal(t, StateOpen, b.State())
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("defaults", 0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
	assert.Equal(t, "defaults", b.Name())
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b, _ := newTestBreaker(t, 1000)
	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(func() error {
				calls.Add(1)
				if i%2 == 0 {
					return errUpstream
				}
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), calls.Load())
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
