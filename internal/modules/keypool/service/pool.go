package service

import (
	"context"
	"sync"
	"time"

	"paper_bot/pkg/logger"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var (
	ErrNoKeys        = errors.New("keypool: no keys configured")
	ErrKeysExhausted = errors.New("keypool: all keys exhausted")
)

// RateLimitError marks a provider failure as a rate-limit condition; anything
// else propagates through WithFailover untouched.
type RateLimitError struct {
	Key   string
	Cause error
}

func (e *RateLimitError) Error() string {
	if e.Cause == nil {
		return "rate limited (key " + mask(e.Key) + ")"
	}
	return "rate limited (key " + mask(e.Key) + "): " + e.Cause.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Pool owns the rotation cursor and the per-key cooldown map. All state lives
// on the injected value, nothing is package-global.
type Pool struct {
	mu        sync.Mutex
	keys      []string
	cursor    int
	coolUntil map[string]time.Time

	cooldown time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewPool(keys []string, cooldown time.Duration, requestsPerSec float64) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}
	return &Pool{
		keys:      keys,
		coolUntil: make(map[string]time.Time, len(keys)),
		cooldown:  cooldown,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		now:       time.Now,
	}, nil
}

// PickKey advances the shared cursor and returns the first key that is not
// cooling down, scanning forward cyclically. ok is false when every key cools.
func (p *Pool) PickKey() (key string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.keys); i++ {
		p.cursor = (p.cursor + 1) % len(p.keys)
		k := p.keys[p.cursor]
		if until, cooling := p.coolUntil[k]; cooling && now.Before(until) {
			continue
		}
		return k, true
	}
	return "", false
}

// MarkCooling suspends a key for the pool's cooldown window.
func (p *Pool) MarkCooling(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coolUntil[key] = p.now().Add(p.cooldown)
}

func (p *Pool) CoolingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := 0
	for _, until := range p.coolUntil {
		if now.Before(until) {
			n++
		}
	}
	return n
}

// WithFailover executes fn with one key per attempt. A rate-limit failure
// cools the key and rotates to the next one; any other error propagates
// immediately. At most len(keys) provider calls are made.
func (p *Pool) WithFailover(ctx context.Context, fn func(ctx context.Context, key string) error) error {
	for attempt := 0; attempt < len(p.keys); attempt++ {
		key, ok := p.PickKey()
		if !ok {
			return ErrKeysExhausted
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx, key)
		if err == nil {
			return nil
		}
		if !IsRateLimit(err) {
			return err
		}

		p.MarkCooling(key)
		logger.Warn("keypool: key %s rate limited, cooling for %s", mask(key), p.cooldown)
	}
	return ErrKeysExhausted
}

func mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
