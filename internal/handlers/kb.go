package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

// Record is one question/answer pair of the knowledge base.
type Record struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// KnowledgeBase is a JSON file of {"records": [...]}.
type KnowledgeBase struct {
	Records []Record `json:"records"`
}

// LoadKnowledgeBase reads and checks the file at path.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	var kb KnowledgeBase
	if err := json.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("knowledge base %s: %w", path, err)
	}
	seen := make(map[int]bool, len(kb.Records))
	for _, r := range kb.Records {
		if seen[r.ID] {
			return nil, fmt.Errorf("knowledge base %s: duplicate record id %d", path, r.ID)
		}
		seen[r.ID] = true
	}
	return &kb, nil
}

// Rank orders records by how many question words they share with q. Ties
// keep file order. The full set is returned so the model can still pick an
// answer the ranking missed.
func (kb *KnowledgeBase) Rank(q string) []Record {
	words := map[string]bool{}
	for _, w := range tokens(q) {
		words[w] = true
	}
	score := func(r Record) int {
		n := 0
		for _, w := range tokens(r.Question + " " + r.Answer) {
			if words[w] {
				n++
			}
		}
		return n
	}
	out := append([]Record(nil), kb.Records...)
	sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "do": true,
	"does": true, "what": true, "how": true, "i": true, "my": true, "you": true,
	"your": true, "to": true, "of": true, "in": true, "for": true, "and": true,
	"or": true, "can": true, "it": true,
}

// tokens splits s into lower-case words, dropping punctuation and stopwords.
func tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

var kbParams = schema.MustNew(schema.Field{Name: "question", Type: schema.String, Required: true})

// Tool returns the load_kb tool.
func (kb *KnowledgeBase) Tool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "load_kb",
		Description: "Get the answer to the user's question from the knowledge base.",
		Parameters:  kbParams,
		Handler: tools.HandlerFunc(func(_ context.Context, args schema.Result) (any, error) {
			return KnowledgeBase{Records: kb.Rank(args.String("question"))}, nil
		}),
	}
}
