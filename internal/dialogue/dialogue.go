// Package dialogue is the boundary to the conversational agent that turns
// one user utterance plus the prior history into a reply and a new history.
package dialogue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/checksumhq/danny/internal/onboarding"
)

// Turn is the input to one dialogue turn.
type Turn struct {
	SessionID   uint
	Phase       onboarding.Phase
	History     []byte // as returned by a previous Reply; nil for a new thread
	Utterance   string
	ChannelName string // optional
}

// Reply is the output of one dialogue turn. History is a superset of the
// turn's input history plus the new exchange.
type Reply struct {
	Text    string
	History []byte
}

// Agent runs dialogue turns. Implementations may mutate the session's
// answers through field overwrites only, so resubmitting a turn converges.
type Agent interface {
	RunTurn(ctx context.Context, turn Turn) (*Reply, error)
}

// Roles of history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one message in a dialogue history.
type Entry struct {
	Role        string       `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolUses    []ToolUse    `json:"tool_uses,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolUse is a tool call requested by the assistant.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult answers a ToolUse.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// History is an ordered dialogue history.
type History []Entry

// DecodeHistory parses a stored history blob. An empty blob is an empty
// history.
func DecodeHistory(blob []byte) (History, error) {
	if len(blob) == 0 {
		return History{}, nil
	}
	var h History
	if err := json.Unmarshal(blob, &h); err != nil {
		return nil, fmt.Errorf("dialogue: decode history: %w", err)
	}
	return h, nil
}

// EncodeHistory serializes h for storage.
func EncodeHistory(h History) ([]byte, error) {
	if h == nil {
		h = History{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("dialogue: encode history: %w", err)
	}
	return b, nil
}
