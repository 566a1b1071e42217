// Package failover sends completion requests to a fallback model when the
// primary backend is rate limited, rejects the credentials or fails with a
// server error.
package failover

import (
	"context"
	"slices"
	"time"

	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/provider"
)

// Controller satisfies completion.LLM. Each request goes to the first model
// whose provider is not cooling down; a recoverable failure puts that
// provider in cooldown and moves on to the next model. Other errors are
// returned as is.
type Controller struct {
	registry  *provider.Registry
	models    []provider.ModelRef
	cooldowns *cooldowns
	now       func() time.Time
}

type Option func(*Controller)

func WithCooldown(cfg CooldownConfig) Option {
	return func(c *Controller) { c.cooldowns = newCooldowns(cfg) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(registry *provider.Registry, primary provider.ModelRef, fallbacks []provider.ModelRef, opts ...Option) *Controller {
	models := []provider.ModelRef{primary}
	for _, m := range fallbacks {
		if !slices.Contains(models, m) {
			models = append(models, m)
		}
	}
	c := &Controller{
		registry:  registry,
		models:    models,
		cooldowns: newCooldowns(DefaultCooldownConfig()),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Models returns the primary model followed by the fallbacks.
func (c *Controller) Models() []provider.ModelRef { return slices.Clone(c.models) }

func (c *Controller) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	log := logger.Get(ctx)
	exhausted := &AllExhaustedError{}
	for _, m := range c.models {
		exhausted.Attempted = append(exhausted.Attempted, m.String())
		if c.cooldowns.active(m.Provider(), c.now()) {
			continue
		}
		p, model, err := c.registry.Resolve(m)
		if err != nil {
			return nil, err
		}
		r := *req
		r.Model = model
		resp, err := p.Complete(ctx, &r)
		if err == nil {
			c.cooldowns.reset(m.Provider())
			return resp, nil
		}
		if !recoverable(err) {
			return nil, err
		}
		d := c.cooldowns.fail(m.Provider(), c.now())
		log.Warn("model failed, trying next", "model", m.String(), "cooldown", d, "error", err)
		exhausted.Last = err
	}
	return nil, exhausted
}

func recoverable(err error) bool {
	return provider.IsRetryable(err) || provider.IsAuthError(err)
}
