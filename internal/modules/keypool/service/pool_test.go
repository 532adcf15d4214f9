package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper_bot/pkg/logger"
)

func init() {
	logger.InfoLogger = zap.NewNop()
	logger.FatalLogger = zap.NewNop()
}

func newTestPool(t *testing.T, keys ...string) *Pool {
	t.Helper()
	p, err := NewPool(keys, 6*time.Hour, 1000)
	require.NoError(t, err)
	return p
}

func TestNewPoolNoKeys(t *testing.T) {
	t.Parallel()

	_, err := NewPool(nil, time.Hour, 1)
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestPickKeySkipsCoolingKey(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb")
	p.MarkCooling("key-aaaa")

	for i := 0; i < 10; i++ {
		k, ok := p.PickKey()
		require.True(t, ok)
		assert.Equal(t, "key-bbbb", k)
	}
}

func TestPickKeyAllCooling(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb")
	p.MarkCooling("key-aaaa")
	p.MarkCooling("key-bbbb")

	_, ok := p.PickKey()
	assert.False(t, ok)
	assert.Equal(t, 2, p.CoolingCount())
}

func TestPickKeyRotates(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb")

	first, ok := p.PickKey()
	require.True(t, ok)
	second, ok := p.PickKey()
	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestCooldownExpires(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa")
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	p.now = func() time.Time { return now }

	p.MarkCooling("key-aaaa")
	_, ok := p.PickKey()
	require.False(t, ok)

	now = base.Add(6*time.Hour + time.Second)
	k, ok := p.PickKey()
	require.True(t, ok)
	assert.Equal(t, "key-aaaa", k)
}

func TestWithFailoverRotatesOnRateLimit(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb")

	var calls []string
	err := p.WithFailover(context.Background(), func(_ context.Context, key string) error {
		calls = append(calls, key)
		if len(calls) == 1 {
			return &RateLimitError{Key: key}
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0], calls[1])
	assert.Equal(t, 1, p.CoolingCount())
}

func TestWithFailoverExhaustion(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb", "key-cccc")

	calls := 0
	err := p.WithFailover(context.Background(), func(_ context.Context, key string) error {
		calls++
		return &RateLimitError{Key: key}
	})
	assert.ErrorIs(t, err, ErrKeysExhausted)
	assert.Equal(t, 3, calls, "at most one call per key")
}

func TestWithFailoverPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb")
	boom := errors.New("provider down")

	calls := 0
	err := p.WithFailover(context.Background(), func(_ context.Context, _ string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "no rotation on non-rate-limit errors")
	assert.Equal(t, 0, p.CoolingCount())
}

func TestWithFailoverConcurrent(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, "key-aaaa", "key-bbbb", "key-cccc", "key-dddd")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := p.WithFailover(context.Background(), func(_ context.Context, key string) error {
				if n%5 == 0 {
					return &RateLimitError{Key: key}
				}
				return nil
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrKeysExhausted)
			}
		}(i)
	}
	wg.Wait()
}

func TestIsRateLimitWrapped(t *testing.T) {
	t.Parallel()

	inner := &RateLimitError{Key: "key-aaaa", Cause: errors.New("429")}
	assert.True(t, IsRateLimit(errors.Wrap(inner, "batch quotes")))
	assert.False(t, IsRateLimit(errors.New("timeout")))
}
