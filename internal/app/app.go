// Package app wires configuration into ready-to-use flows.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/structflow/structflow/internal/calendar"
	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/config"
	"github.com/structflow/structflow/internal/failover"
	"github.com/structflow/structflow/internal/handlers"
	"github.com/structflow/structflow/internal/metrics"
	"github.com/structflow/structflow/internal/pipeline"
	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/store"
	"github.com/structflow/structflow/internal/tools"
)

// App owns the long-lived dependencies. The event store is opened on first
// use so commands that never touch it do not create a database.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	client  *completion.Client
	rules   *tools.Rules
	redis   *redis.Client
	weather *handlers.Weather

	dbOnce sync.Once
	db     *store.DB
	events *store.EventStore
	dbErr  error
}

type Option func(*appOptions)

type appOptions struct {
	llm completion.LLM
}

// WithLLM replaces the configured provider.
func WithLLM(llm completion.LLM) Option {
	return func(o *appOptions) { o.llm = llm }
}

func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o appOptions
	for _, fn := range opts {
		fn(&o)
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		rules:   tools.NewRules(cfg.Tools.Rules),
	}

	llm, model := o.llm, provider.ModelRef(cfg.Model).Model()
	if llm == nil {
		var err error
		if llm, model, err = resolveModel(cfg, log); err != nil {
			return nil, err
		}
	}
	a.client = completion.New(llm, completion.Config{
		Model:     model,
		Strict:    cfg.Strict,
		MaxTokens: cfg.MaxTokens,
	}, completion.WithMetrics(a.metrics))

	weatherOpts := []handlers.WeatherOption{}
	if cfg.Tools.WeatherURL != "" {
		weatherOpts = append(weatherOpts, handlers.WithWeatherURL(cfg.Tools.WeatherURL))
	}
	if cfg.Cache.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		weatherOpts = append(weatherOpts, handlers.WithCache(handlers.NewRedisCache(a.redis, "structflow:"), cfg.Cache.TTL))
	}
	a.weather = handlers.NewWeather(weatherOpts...)
	return a, nil
}

func resolveModel(cfg *config.Config, log *slog.Logger) (completion.LLM, string, error) {
	reg := provider.NewRegistry()
	for _, pc := range cfg.ProviderConfigs() {
		p, err := provider.FromConfig(pc)
		if err != nil {
			return nil, "", err
		}
		if err := reg.Register(p); err != nil {
			return nil, "", err
		}
	}
	ref, err := provider.ParseModelRef(cfg.Model)
	if err != nil {
		return nil, "", err
	}
	p, model, err := reg.Resolve(ref)
	if err != nil {
		return nil, "", fmt.Errorf("model %s: %w", ref, err)
	}
	warnPromptOnlyJSON(log, p, ref)
	if len(cfg.Fallbacks) == 0 {
		return p, model, nil
	}
	fallbacks := make([]provider.ModelRef, 0, len(cfg.Fallbacks))
	for _, f := range cfg.Fallbacks {
		fref, err := provider.ParseModelRef(f)
		if err != nil {
			return nil, "", fmt.Errorf("fallback: %w", err)
		}
		fp, _, err := reg.Resolve(fref)
		if err != nil {
			return nil, "", fmt.Errorf("fallback %s: %w", fref, err)
		}
		warnPromptOnlyJSON(log, fp, fref)
		fallbacks = append(fallbacks, fref)
	}
	return failover.NewController(reg, ref, fallbacks), model, nil
}

// warnPromptOnlyJSON flags models that will not get response_format. Replies
// are still parsed and validated, so a stray prose reply surfaces as a parse
// error rather than bad data.
func warnPromptOnlyJSON(log *slog.Logger, p provider.Provider, ref provider.ModelRef) {
	if provider.PromptOnlyJSON(p, ref.Model()) {
		log.Warn("model has no JSON mode, structured output relies on the prompt", "model", ref.String())
	}
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Logger() *slog.Logger { return a.log }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
func (a *App) Client() *completion.Client { return a.client }
func (a *App) Weather() *handlers.Weather { return a.weather }

// Events opens the event store on first use.
func (a *App) Events(ctx context.Context) (*store.EventStore, error) {
	a.dbOnce.Do(func() {
		a.db, a.dbErr = store.Open(ctx, store.Options{
			Driver:  a.cfg.Store.Driver,
			DataDir: a.cfg.Store.DataDir,
			DSN:     a.cfg.Store.DSN,
		})
		if a.dbErr == nil {
			a.events = store.NewEventStore(a.db)
		}
	})
	return a.events, a.dbErr
}

func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func (a *App) dispatcherOptions() []tools.DispatcherOption {
	return []tools.DispatcherOption{tools.WithMetrics(a.metrics)}
}

func (a *App) calendarOptions() []calendar.Option {
	opts := []calendar.Option{
		calendar.WithPipelineOptions(pipeline.WithMetrics(a.metrics), pipeline.WithRules(a.rules)),
	}
	if t := a.cfg.Calendar.Threshold; t != nil {
		opts = append(opts, calendar.WithThreshold(*t))
	}
	return opts
}

func (a *App) Chain() (*calendar.Chain, error) {
	return calendar.NewChain(a.client, a.calendarOptions()...)
}

func (a *App) Router(ctx context.Context) (*calendar.Router, error) {
	events, err := a.Events(ctx)
	if err != nil {
		return nil, err
	}
	return calendar.NewRouter(a.client, events, a.dispatcherOptions(), a.calendarOptions()...)
}

// Scripts builds the Lua tools declared in the config.
func (a *App) Scripts() ([]tools.Descriptor, error) {
	out := make([]tools.Descriptor, 0, len(a.cfg.Tools.Scripts))
	for _, sc := range a.cfg.Tools.Scripts {
		params, err := scriptParameters(sc.Parameters)
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", sc.Name, err)
		}
		d, err := handlers.Script{
			Name:        sc.Name,
			Description: sc.Description,
			Path:        sc.Path,
			Parameters:  params,
		}.Tool()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Requests builds the HTTP request tools declared in the config.
func (a *App) Requests() ([]tools.Descriptor, error) {
	out := make([]tools.Descriptor, 0, len(a.cfg.Tools.Requests))
	for _, rc := range a.cfg.Tools.Requests {
		params, err := scriptParameters(rc.Parameters)
		if err != nil {
			return nil, fmt.Errorf("request %q: %w", rc.Name, err)
		}
		out = append(out, handlers.Request{
			Name:        rc.Name,
			Description: rc.Description,
			Method:      rc.Method,
			URL:         rc.URL,
			Body:        rc.Body,
			Headers:     rc.Headers,
			RequiredEnv: rc.RequiredEnv,
			Parameters:  params,
		}.Tool())
	}
	return out, nil
}

func scriptParameters(ps []config.ParamConfig) (*schema.Descriptor, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	fields := make([]schema.Field, 0, len(ps))
	for _, p := range ps {
		fields = append(fields, schema.Field{
			Name:        p.Name,
			Description: p.Description,
			Type:        schema.DataType(p.Type),
			Required:    p.Required,
			Values:      p.Values,
			Items:       schema.DataType(p.Items),
		})
	}
	return schema.New(fields...)
}
