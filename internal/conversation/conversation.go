// Package conversation holds the ordered turn history exchanged with a model
// backend during one run.
package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/structflow/structflow/internal/provider"
)

// ErrUnpairedToolCall is returned when a tool call has no matching tool
// result turn, or a tool result names a call that was never issued.
var ErrUnpairedToolCall = errors.New("unpaired tool call")

// Conversation is append-only. It is owned by a single run and is not safe
// for concurrent use.
type Conversation struct {
	turns []provider.Message
}

func New(turns ...provider.Message) *Conversation {
	c := &Conversation{}
	c.Append(turns...)
	return c
}

// FromPrompt starts a conversation with a system prompt and one user turn.
func FromPrompt(system, user string) *Conversation {
	return New(System(system), User(user))
}

func System(content string) provider.Message {
	return provider.Message{Role: provider.RoleSystem, Content: content}
}

func User(content string) provider.Message {
	return provider.Message{Role: provider.RoleUser, Content: content}
}

func ToolResult(callID, content string) provider.Message {
	return provider.Message{Role: provider.RoleTool, Content: content, ToolCallID: callID}
}

func (c *Conversation) Append(turns ...provider.Message) {
	for _, t := range turns {
		if len(t.ToolCalls) > 0 {
			t.ToolCalls = append([]provider.ToolCall(nil), t.ToolCalls...)
		}
		c.turns = append(c.turns, t)
	}
}

// Messages returns a copy of the turns.
func (c *Conversation) Messages() []provider.Message {
	out := make([]provider.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int { return len(c.turns) }

func (c *Conversation) Last() (provider.Message, bool) {
	if len(c.turns) == 0 {
		return provider.Message{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Clone returns an independent copy.
func (c *Conversation) Clone() *Conversation {
	return New(c.turns...)
}

// Unmatched returns the call ids that break the pairing rule: an assistant
// turn carrying tool calls must be followed directly by exactly one tool
// turn per call id, and every tool turn must answer a call from the
// assistant turn before it.
func (c *Conversation) Unmatched() []string {
	var (
		unmatched []string
		pending   map[string]bool
	)
	flush := func() {
		for _, id := range sortedPending(c.turns, pending) {
			unmatched = append(unmatched, id)
		}
		pending = nil
	}
	for _, t := range c.turns {
		switch {
		case t.Role == provider.RoleTool:
			if pending == nil || !pending[t.ToolCallID] {
				unmatched = append(unmatched, t.ToolCallID)
				continue
			}
			delete(pending, t.ToolCallID)
		default:
			flush()
			if t.Role == provider.RoleAssistant && len(t.ToolCalls) > 0 {
				pending = make(map[string]bool, len(t.ToolCalls))
				for _, tc := range t.ToolCalls {
					pending[tc.ID] = true
				}
			}
		}
	}
	flush()
	return unmatched
}

// sortedPending keeps the report in the order the calls were issued.
func sortedPending(turns []provider.Message, pending map[string]bool) []string {
	if len(pending) == 0 {
		return nil
	}
	var out []string
	for _, t := range turns {
		for _, tc := range t.ToolCalls {
			if pending[tc.ID] {
				out = append(out, tc.ID)
				delete(pending, tc.ID)
			}
		}
	}
	return out
}

// ValidatePairing reports an error wrapping ErrUnpairedToolCall when any
// call id is unmatched.
func (c *Conversation) ValidatePairing() error {
	if ids := c.Unmatched(); len(ids) > 0 {
		return fmt.Errorf("%w: %s", ErrUnpairedToolCall, strings.Join(ids, ", "))
	}
	return nil
}
