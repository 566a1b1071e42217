package tools

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/structflow/structflow/internal/provider"
)

const DefaultMaxResultBytes = 64 * 1024 // 64KB

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
}

// Guard post-processes tool results before they reach the model.
type Guard struct {
	MaxResultBytes    int
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxResultBytes:    DefaultMaxResultBytes,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// Sanitize truncates oversized content and masks text that imitates tool
// call syntax.
func (g *Guard) Sanitize(result Result) Result {
	result.Content = g.sanitizeContent(result.Content)
	return result
}

func (g *Guard) sanitizeContent(s string) string {
	if s == "" {
		return s
	}

	if g.MaxResultBytes > 0 && len(s) > g.MaxResultBytes {
		cut := g.MaxResultBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[truncated: result exceeded size limit]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}

	return s
}

// CheckCallIDs rejects blank and repeated call ids before any call runs.
func (g *Guard) CheckCallIDs(calls []provider.ToolCall) error {
	seen := make(map[string]bool, len(calls))
	for _, call := range calls {
		if strings.TrimSpace(call.ID) == "" {
			return &InvalidCallIDError{Tool: call.Name, CallID: call.ID, Reason: "blank"}
		}
		if seen[call.ID] {
			return &InvalidCallIDError{Tool: call.Name, CallID: call.ID, Reason: "used twice in one turn"}
		}
		seen[call.ID] = true
	}
	return nil
}
