package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

const (
	DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"
	DefaultWeatherTTL = 10 * time.Minute
)

// Cache stores encoded tool results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Weather looks up current conditions on Open-Meteo.
type Weather struct {
	baseURL string
	http    *http.Client
	cache   Cache
	ttl     time.Duration
}

type WeatherOption func(*Weather)

func WithWeatherURL(u string) WeatherOption {
	return func(w *Weather) { w.baseURL = u }
}

func WithWeatherHTTPClient(c *http.Client) WeatherOption {
	return func(w *Weather) { w.http = c }
}

// WithCache caches responses per coordinate pair for ttl.
func WithCache(c Cache, ttl time.Duration) WeatherOption {
	return func(w *Weather) {
		w.cache = c
		w.ttl = ttl
	}
}

func NewWeather(opts ...WeatherOption) *Weather {
	w := &Weather{
		baseURL: DefaultWeatherURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		ttl:     DefaultWeatherTTL,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var weatherParams = schema.MustNew(
	schema.Field{Name: "latitude", Type: schema.Float, Required: true},
	schema.Field{Name: "longitude", Type: schema.Float, Required: true},
)

// Tool returns the get_weather tool.
func (w *Weather) Tool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "get_weather",
		Description: "Get current temperature for provided coordinates in celsius.",
		Parameters:  weatherParams,
		Handler: tools.HandlerFunc(func(ctx context.Context, args schema.Result) (any, error) {
			return w.Current(ctx, args.Float("latitude"), args.Float("longitude"))
		}),
	}
}

// Current returns the "current" block of the forecast response.
func (w *Weather) Current(ctx context.Context, latitude, longitude float64) (map[string]any, error) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("coordinates out of range: %v, %v", latitude, longitude)
	}
	log := logger.Get(ctx)
	key := fmt.Sprintf("weather:%.2f:%.2f", latitude, longitude)
	if w.cache != nil {
		data, ok, err := w.cache.Get(ctx, key)
		if err != nil {
			log.Warn("weather cache unavailable", "error", err)
		} else if ok {
			var current map[string]any
			if err := json.Unmarshal(data, &current); err == nil {
				log.Debug("weather cache hit", "key", key)
				return current, nil
			}
		}
	}

	current, err := w.fetch(ctx, latitude, longitude)
	if err != nil {
		return nil, err
	}
	if w.cache != nil {
		data, _ := json.Marshal(current)
		if err := w.cache.Set(ctx, key, data, w.ttl); err != nil {
			log.Warn("weather cache unavailable", "error", err)
		}
	}
	return current, nil
}

func (w *Weather) fetch(ctx context.Context, latitude, longitude float64) (map[string]any, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m,wind_speed_10m")
	q.Set("hourly", "temperature_2m,relative_humidity_2m,wind_speed_10m")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("weather: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	var data struct {
		Current map[string]any `json:"current"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("weather: decode response: %w", err)
	}
	if data.Current == nil {
		return nil, errors.New("weather: response has no current conditions")
	}
	return data.Current, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
