// internal/membership/throttle.go
package membership

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// LoginThrottle limits login attempts per username. Limiters for usernames
// not seen recently are evicted once size of them are held.
type LoginThrottle struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewLoginThrottle allows perMinute attempts per username with a burst of
// the same size. A non-positive perMinute disables throttling.
func NewLoginThrottle(perMinute, size int) (*LoginThrottle, error) {
	if perMinute <= 0 {
		return &LoginThrottle{}, nil
	}

	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}
	return &LoginThrottle{
		limiters: cache,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}, nil
}

// Allow reports whether another attempt for username may proceed now.
func (t *LoginThrottle) Allow(username string) bool {
	if t == nil || t.limiters == nil {
		return true
	}
	key := strings.ToLower(username)

	t.mu.Lock()
	limiter, ok := t.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters.Add(key, limiter)
	}
	t.mu.Unlock()

	return limiter.Allow()
}
