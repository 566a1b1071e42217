// Package config loads the YAML configuration and applies STRUCTFLOW_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/structflow/structflow/internal/provider"
)

const (
	envVarPrefix = "STRUCTFLOW"

	DefaultModel   = "deepseek/deepseek-chat"
	DefaultBaseURL = "https://api.deepseek.com/v1"
)

type Config struct {
	Log       LogConfig                 `yaml:"log"`
	Model     string                    `yaml:"model"`
	Fallbacks []string                  `yaml:"fallbacks"`
	Strict    bool                      `yaml:"strict_json"`
	MaxTokens int                       `yaml:"max_tokens"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Store     StoreConfig               `yaml:"store"`
	Cache     CacheConfig               `yaml:"cache"`
	Tools     ToolsConfig               `yaml:"tools"`
	Calendar  CalendarConfig            `yaml:"calendar"`
	Metrics   MetricsConfig             `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	API     string            `yaml:"api"`
	Models  []ModelDefinition `yaml:"models"`
}

type ModelDefinition struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	ContextWindow int      `yaml:"context_window"`
	MaxTokens     int      `yaml:"max_tokens"`
	Features      []string `yaml:"features"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

// CacheConfig enables the Redis cache for weather lookups when RedisAddr is
// set.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

type ToolsConfig struct {
	WeatherURL    string          `yaml:"weather_url"`
	KnowledgeBase string          `yaml:"knowledge_base"`
	MaxRounds     int             `yaml:"max_rounds"`
	Rules         []string        `yaml:"rules"`
	Scripts       []ScriptConfig  `yaml:"scripts"`
	Requests      []RequestConfig `yaml:"requests"`
}

// ScriptConfig declares a Lua tool.
type ScriptConfig struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Path        string        `yaml:"path"`
	Parameters  []ParamConfig `yaml:"parameters"`
}

// RequestConfig declares a tool that makes one templated HTTP request.
// url, body and header values may use {{env.X}} and {{args.Y}}.
type RequestConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Body        string            `yaml:"body"`
	Headers     map[string]string `yaml:"headers"`
	RequiredEnv []string          `yaml:"required_env"`
	Parameters  []ParamConfig     `yaml:"parameters"`
}

type ParamConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Values      []string `yaml:"values"`
	Items       string   `yaml:"items"`
}

type CalendarConfig struct {
	// Threshold is nil when unset, leaving the calendar default in place.
	// An explicit 0 accepts every confidence.
	Threshold *float64 `yaml:"threshold"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// env holds the STRUCTFLOW_* overrides.
type env struct {
	APIKey      string `envconfig:"API_KEY"`
	BaseURL     string `envconfig:"BASE_URL"`
	Model       string `envconfig:"MODEL"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	DataDir     string `envconfig:"DATA_DIR"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Providers[name] = p
	}
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Store.DataDir = expandEnv(cfg.Store.DataDir)
	cfg.Cache.RedisAddr = expandEnv(cfg.Cache.RedisAddr)
	// An unset variable disables the cache.
	if envPattern.MatchString(cfg.Cache.RedisAddr) {
		cfg.Cache.RedisAddr = ""
	}
	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
}

// Load reads path, or starts from defaults when path is empty, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills defaults. It does not read STRUCTFLOW_*
// overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DataDir == "" && c.Store.Driver == "sqlite" {
		c.Store.DataDir = "data"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Tools.MaxRounds == 0 {
		c.Tools.MaxRounds = 1
	}
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process(envVarPrefix, &e); err != nil {
		return fmt.Errorf("parsing environment variables: %w", err)
	}
	if e.Model != "" {
		c.Model = e.Model
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.DataDir != "" {
		c.Store.DataDir = e.DataDir
	}
	if e.RedisAddr != "" {
		c.Cache.RedisAddr = e.RedisAddr
	}
	if e.MetricsAddr != "" {
		c.Metrics.Addr = e.MetricsAddr
	}
	if e.APIKey == "" && e.BaseURL == "" {
		return nil
	}
	// key and base URL apply to the provider of the selected model
	id := provider.ModelRef(c.Model).Provider()
	if id == "" {
		return nil
	}
	p, ok := c.Providers[id]
	if !ok {
		p = ProviderConfig{API: provider.APIOpenAI, BaseURL: DefaultBaseURL}
	}
	if e.APIKey != "" {
		p.APIKey = e.APIKey
	}
	if e.BaseURL != "" {
		p.BaseURL = e.BaseURL
	}
	c.Providers[id] = p
	return nil
}

// Validate reports every missing or inconsistent value.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format: must be text or json, got %q", c.Log.Format)
	}
	ref, err := provider.ParseModelRef(c.Model)
	if err != nil {
		add("model: %v", err)
	} else if p, ok := c.Providers[ref.Provider()]; !ok {
		add("model: provider %q is not configured (set providers.%s or %s_API_KEY)", ref.Provider(), ref.Provider(), envVarPrefix)
	} else if p.APIKey == "" || envPattern.MatchString(p.APIKey) {
		add("providers.%s.api_key: missing (set it in the config or %s_API_KEY)", ref.Provider(), envVarPrefix)
	}
	for i, f := range c.Fallbacks {
		ref, err := provider.ParseModelRef(f)
		if err != nil {
			add("fallbacks[%d]: %v", i, err)
		} else if _, ok := c.Providers[ref.Provider()]; !ok {
			add("fallbacks[%d]: provider %q is not configured", i, ref.Provider())
		}
	}
	for name, p := range c.Providers {
		switch p.API {
		case "", provider.APIOpenAI, provider.APIAnthropic, provider.APIOpenAISDK:
		default:
			add("providers.%s.api: unknown api %q", name, p.API)
		}
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DataDir == "" {
			add("store.data_dir: required for sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			add("store.dsn: required for postgres")
		}
	default:
		add("store.driver: must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Tools.MaxRounds < 0 || c.Tools.MaxRounds > 20 {
		add("tools.max_rounds: must be between 1 and 20, got %d", c.Tools.MaxRounds)
	}
	if t := c.Calendar.Threshold; t != nil && (*t < 0 || *t > 1) {
		add("calendar.threshold: must be within [0, 1], got %v", *t)
	}
	seen := map[string]bool{}
	for i, s := range c.Tools.Scripts {
		if s.Name == "" || s.Path == "" {
			add("tools.scripts[%d]: name and path are required", i)
		}
		if seen[s.Name] {
			add("tools.scripts[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	for i, r := range c.Tools.Requests {
		if r.Name == "" || r.URL == "" {
			add("tools.requests[%d]: name and url are required", i)
		}
		if seen[r.Name] {
			add("tools.requests[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
	}
	return errors.Join(errs...)
}

// ProviderConfigs converts the providers section for provider.FromConfig.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, 0, len(c.Providers))
	for id, p := range c.Providers {
		models := make([]provider.ModelInfo, 0, len(p.Models))
		for _, m := range p.Models {
			features := make([]provider.Feature, 0, len(m.Features))
			for _, f := range m.Features {
				features = append(features, provider.Feature(strings.TrimSpace(f)))
			}
			models = append(models, provider.ModelInfo{
				ID:            m.ID,
				Name:          m.Name,
				ProviderID:    id,
				ContextWindow: m.ContextWindow,
				MaxTokens:     m.MaxTokens,
				Features:      features,
			})
		}
		out = append(out, provider.ProviderConfig{
			ID:      id,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			API:     p.API,
			Models:  models,
		})
	}
	return out
}
