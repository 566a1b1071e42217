package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/store"
	"github.com/structflow/structflow/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) *store.EventStore {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewEventStore(db)
}

func dispatch(t *testing.T, descs []tools.Descriptor, calls ...provider.ToolCall) []tools.Result {
	t.Helper()
	d := tools.NewDispatcher(tools.NewRegistry().MustRegister(descs...))
	conv := conversation.FromPrompt("s", "u")
	results, err := d.ResolveAndInvoke(context.Background(), conv, provider.Message{Role: provider.RoleAssistant, ToolCalls: calls})
	require.NoError(t, err)
	return results
}

func TestEventTools(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	results := dispatch(t, Events(s),
		provider.ToolCall{ID: "c1", Name: "create_event", Arguments: `{"name_of_event":"Standup","date":"2025-06-03T09:00:00","duration_minutes":"15","participants":["Alice","Bob"]}`},
	)
	require.NoError(t, results[0].Err)
	assert.Contains(t, results[0].Content, `"name_of_event":"Standup"`)

	results = dispatch(t, Events(s),
		provider.ToolCall{ID: "c2", Name: "update_event", Arguments: `{"name_of_event":"Standup","requested_changes":[{"field_to_update":"date","new_value":"2025-06-04T09:00:00"},{"field_to_update":"participants","new_value":"Alice, Carol"}]}`},
		provider.ToolCall{ID: "c3", Name: "list_events", Arguments: ``},
	)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Contains(t, results[1].Content, "2025-06-04T09:00:00")

	e, err := s.Get(ctx, "Standup")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Carol"}, e.Participants)
	assert.Equal(t, 15, e.DurationMinutes)
}

func TestEventToolsRelayStoreErrors(t *testing.T) {
	s := openStore(t)
	results := dispatch(t, Events(s),
		provider.ToolCall{ID: "c1", Name: "update_event", Arguments: `{"name_of_event":"Nope","requested_changes":[{"field_to_update":"date","new_value":"x"}]}`},
	)
	assert.ErrorIs(t, results[0].Err, store.ErrNotFound)
	assert.ErrorIs(t, results[0].Err, tools.ErrHandlerExecution)
	assert.Contains(t, results[0].Content, `"error"`)
}

func TestListEventsEmpty(t *testing.T) {
	results := dispatch(t, Events(openStore(t)), provider.ToolCall{ID: "c1", Name: "list_events", Arguments: "{}"})
	assert.Equal(t, "[]", results[0].Content)
}

const forecast = `{"latitude":52.52,"longitude":13.41,"current":{"time":"2025-06-03T10:00","temperature_2m":21.3,"wind_speed_10m":9.4},"hourly":{"time":[]}}`

func weatherServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "52.52", r.URL.Query().Get("latitude"))
		assert.Equal(t, "temperature_2m,wind_speed_10m", r.URL.Query().Get("current"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecast))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeatherCurrent(t *testing.T) {
	var hits atomic.Int32
	srv := weatherServer(t, &hits)
	w := NewWeather(WithWeatherURL(srv.URL), WithWeatherHTTPClient(srv.Client()))

	results := dispatch(t, []tools.Descriptor{w.Tool()},
		provider.ToolCall{ID: "c1", Name: "get_weather", Arguments: `{"latitude":52.52,"longitude":"13.41"}`})
	require.NoError(t, results[0].Err)
	assert.Contains(t, results[0].Content, `"temperature_2m":21.3`)
	assert.NotContains(t, results[0].Content, "hourly")
	assert.EqualValues(t, 1, hits.Load())
}

func TestWeatherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":true,"reason":"Latitude must be in range"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	w := NewWeather(WithWeatherURL(srv.URL), WithWeatherHTTPClient(srv.Client()))

	_, err := w.Current(context.Background(), 52.5, 13.4)
	assert.ErrorContains(t, err, "status 400")

	_, err = w.Current(context.Background(), 120, 13.4)
	assert.ErrorContains(t, err, "out of range")
}

func TestWeatherRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var hits atomic.Int32
	srv := weatherServer(t, &hits)
	w := NewWeather(
		WithWeatherURL(srv.URL),
		WithWeatherHTTPClient(srv.Client()),
		WithCache(NewRedisCache(rdb, "structflow:"), time.Minute),
	)
	ctx := context.Background()

	first, err := w.Current(ctx, 52.52, 13.41)
	require.NoError(t, err)
	second, err := w.Current(ctx, 52.52, 13.41)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, hits.Load())
	assert.True(t, mr.Exists("structflow:weather:52.52:13.41"))

	mr.FastForward(2 * time.Minute)
	_, err = w.Current(ctx, 52.52, 13.41)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestWeatherCacheFailureFallsThrough(t *testing.T) {
	var hits atomic.Int32
	srv := weatherServer(t, &hits)
	w := NewWeather(WithWeatherURL(srv.URL), WithWeatherHTTPClient(srv.Client()), WithCache(brokenCache{}, time.Minute))

	current, err := w.Current(context.Background(), 52.52, 13.41)
	require.NoError(t, err)
	assert.InDelta(t, 21.3, current["temperature_2m"], 1e-9)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestKnowledgeBase(t *testing.T) {
	path := writeFile(t, "kb.json", `{"records":[
		{"id":1,"question":"What are your shipping times?","answer":"3-5 business days."},
		{"id":2,"question":"What is the return policy?","answer":"Items can be returned within 30 days of purchase."},
		{"id":3,"question":"Do you ship internationally?","answer":"Yes, to 50 countries."}
	]}`)
	kb, err := LoadKnowledgeBase(path)
	require.NoError(t, err)

	ranked := kb.Rank("What is the return policy?")
	require.Len(t, ranked, 3)
	assert.Equal(t, 2, ranked[0].ID)

	results := dispatch(t, []tools.Descriptor{kb.Tool()},
		provider.ToolCall{ID: "c1", Name: "load_kb", Arguments: `{"question":"return policy"}`})
	require.NoError(t, results[0].Err)
	assert.Contains(t, results[0].Content, `"records":[{"id":2`)
}

func TestKnowledgeBaseRankIgnoresFillerWords(t *testing.T) {
	kb := &KnowledgeBase{Records: []Record{
		{ID: 1, Question: "What is the - ... - price?", Answer: "It is - what it is."},
		{ID: 2, Question: "Refunds", Answer: "Refunds take 5 days."},
	}}
	// punctuation and stopwords alone must not outrank a real match
	ranked := kb.Rank("What is the refunds -- policy?")
	require.Len(t, ranked, 2)
	assert.Equal(t, 2, ranked[0].ID)

	assert.Equal(t, []string{"return", "policy", "30", "days"}, tokens("What is the return-policy? 30 days..."))
	assert.Empty(t, tokens("-- ... ?!"))
}

func TestLoadKnowledgeBaseErrors(t *testing.T) {
	_, err := LoadKnowledgeBase(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadKnowledgeBase(writeFile(t, "kb.json", `{"records":[{"id":1},{"id":1}]}`))
	assert.ErrorContains(t, err, "duplicate record id 1")

	_, err = LoadKnowledgeBase(writeFile(t, "kb.json", `not json`))
	assert.Error(t, err)
}

func TestScriptTool(t *testing.T) {
	path := writeFile(t, "convert.lua", `
function invoke(args)
  return {
    fahrenheit = args.celsius * 9 / 5 + 32,
    city = args.city,
    tags = { "converted", os.getenv("STRUCTFLOW_TEST_TAG") }
  }
end
`)
	t.Setenv("STRUCTFLOW_TEST_TAG", "lua")
	desc, err := Script{
		Name:        "to_fahrenheit",
		Description: "Convert a temperature",
		Path:        path,
		Parameters: schema.MustNew(
			schema.Field{Name: "celsius", Type: schema.Float, Required: true},
			schema.Field{Name: "city", Type: schema.String},
		),
	}.Tool()
	require.NoError(t, err)

	results := dispatch(t, []tools.Descriptor{desc},
		provider.ToolCall{ID: "c1", Name: "to_fahrenheit", Arguments: `{"celsius": 20, "city": "Berlin"}`})
	require.NoError(t, results[0].Err)
	value, ok := results[0].Value.(map[string]any)
	require.True(t, ok, "value = %#v", results[0].Value)
	assert.Equal(t, 68.0, value["fahrenheit"])
	assert.Equal(t, "Berlin", value["city"])
	assert.Equal(t, []any{"converted", "lua"}, value["tags"])
}

func TestRunScriptErrors(t *testing.T) {
	ctx := context.Background()

	_, err := RunScript(ctx, writeFile(t, "a.lua", `x = 1`), nil)
	assert.ErrorContains(t, err, "must define global function invoke")

	_, err = RunScript(ctx, writeFile(t, "b.lua", `invoke = 3`), nil)
	assert.ErrorContains(t, err, "invoke must be a function")

	_, err = RunScript(ctx, writeFile(t, "c.lua", `function invoke(args) error("boom") end`), nil)
	assert.ErrorContains(t, err, "boom")

	_, err = RunScript(ctx, writeFile(t, "d.lua", `function invoke(args) return function() end end`), nil)
	assert.ErrorContains(t, err, "must return")

	v, err := RunScript(ctx, writeFile(t, "e.lua", `function invoke(args) return "ok " .. args.name end`), map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok x", v)

	_, err = Script{Name: "missing", Path: filepath.Join(t.TempDir(), "nope.lua")}.Tool()
	assert.Error(t, err)
}
