package failover

import (
	"sync"
	"time"
)

type CooldownConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier int
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 4,
	}
}

// cooldowns tracks consecutive failures per provider id. Concurrent
// pipeline runs share one tracker.
type cooldowns struct {
	mu     sync.Mutex
	config CooldownConfig
	state  map[string]*backoff
}

type backoff struct {
	errors int
	until  time.Time
}

func newCooldowns(cfg CooldownConfig) *cooldowns {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &cooldowns{config: cfg, state: make(map[string]*backoff)}
}

func (c *cooldowns) active(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.state[id]
	return ok && now.Before(b.until)
}

func (c *cooldowns) fail(id string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.state[id]
	if !ok {
		b = &backoff{}
		c.state[id] = b
	}
	b.errors++
	d := c.duration(b.errors)
	b.until = now.Add(d)
	return d
}

func (c *cooldowns) reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, id)
}

func (c *cooldowns) duration(errors int) time.Duration {
	d := c.config.Initial
	for i := 1; i < errors; i++ {
		d *= time.Duration(c.config.Multiplier)
		if d > c.config.Max {
			return c.config.Max
		}
	}
	return d
}
