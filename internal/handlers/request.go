package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

// Request is a tool backed by a single HTTP call. URL, Body and header
// values are templates: {{env.X}} expands to an environment variable and
// {{args.Y}} to a tool argument.
type Request struct {
	Name        string
	Description string
	Method      string
	URL         string
	Body        string
	Headers     map[string]string
	RequiredEnv []string
	Parameters  *schema.Descriptor
	Client      *http.Client
}

var (
	envRe  = regexp.MustCompile(`\{\{env\.(\w+)\}\}`)
	argsRe = regexp.MustCompile(`\{\{args\.(\w+)\}\}`)
)

// Substitute expands the templates in s. Missing env vars become empty;
// missing args stay literal.
func Substitute(s string, args schema.Result) string {
	return substitute(s, args, nil)
}

// SubstituteURL expands a URL template. Args are escaped for the part of
// the URL they land in, path before the first '?' and query after it. Env
// values are trusted and inserted as is.
func SubstituteURL(s string, args schema.Result) string {
	path, query, hasQuery := strings.Cut(s, "?")
	out := substitute(path, args, url.PathEscape)
	if hasQuery {
		out += "?" + substitute(query, args, url.QueryEscape)
	}
	return out
}

func substitute(s string, args schema.Result, escape func(string) string) string {
	s = envRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRe.FindStringSubmatch(match)[1])
	})
	return argsRe.ReplaceAllStringFunc(s, func(match string) string {
		v, ok := args[argsRe.FindStringSubmatch(match)[1]]
		if !ok || v == nil {
			return match
		}
		out, ok := argString(v)
		if !ok {
			return match
		}
		if escape != nil {
			return escape(out)
		}
		return out
	})
}

func argString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case float64, int, int64, bool:
		return fmt.Sprint(v), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (r Request) Tool() tools.Descriptor {
	return tools.Descriptor{
		Name:        r.Name,
		Description: r.Description,
		Parameters:  r.Parameters,
		Handler:     tools.HandlerFunc(r.do),
	}
}

func (r Request) do(ctx context.Context, args schema.Result) (any, error) {
	for _, name := range r.RequiredEnv {
		if os.Getenv(name) == "" {
			return nil, fmt.Errorf("required env %q is not set", name)
		}
	}
	target := SubstituteURL(r.URL, args)
	if target == "" {
		return nil, fmt.Errorf("url is empty after substitution")
	}
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(Substitute(r.Body, args))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, Substitute(v, args))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	// JSON bodies are relayed as values so the tool result is not a
	// string of escaped JSON.
	var v any
	if json.Valid(data) && json.Unmarshal(data, &v) == nil {
		return v, nil
	}
	return string(data), nil
}
