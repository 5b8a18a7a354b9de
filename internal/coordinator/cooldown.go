package coordinator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type cooldownKind string

const (
	coolDraw   cooldownKind = "draw"
	coolResume cooldownKind = "resume"
	coolPause  cooldownKind = "pause"
)

type cooldownKey struct {
	session string
	player  string
	kind    cooldownKind
}

// cooldowns limits repeated negotiation requests per player and session.
// Limiters are evaluated at the injected time, never the wall clock.
type cooldowns struct {
	mu    sync.Mutex
	every map[cooldownKind]time.Duration
	m     map[cooldownKey]*rate.Limiter
}

func newCooldowns(every map[cooldownKind]time.Duration) *cooldowns {
	return &cooldowns{every: every, m: make(map[cooldownKey]*rate.Limiter)}
}

func (c *cooldowns) limiter(k cooldownKey) *rate.Limiter {
	d := c.every[k.kind]
	if d <= 0 {
		return nil
	}
	l := c.m[k]
	if l == nil {
		l = rate.NewLimiter(rate.Every(d), 1)
		c.m[k] = l
	}
	return l
}

// wait returns how long k must still wait, zero when allowed.
func (c *cooldowns) wait(k cooldownKey, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.limiter(k)
	if l == nil {
		return 0
	}
	tokens := l.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) * float64(c.every[k.kind]))
}

func (c *cooldowns) use(k cooldownKey, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l := c.limiter(k); l != nil {
		l.AllowN(now, 1)
	}
}

// forget drops all limiters of a finished session.
func (c *cooldowns) forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.m {
		if k.session == sessionID {
			delete(c.m, k)
		}
	}
}
