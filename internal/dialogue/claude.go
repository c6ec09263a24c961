package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
	"github.com/checksumhq/danny/internal/onboarding"
	"gorm.io/gorm"
)

const (
	defaultModel     = "claude-sonnet-4-6"
	defaultMaxTokens = 4096
	defaultMaxRounds = 8
)

// ErrEmptyReply is returned when the model finishes a turn without text.
var ErrEmptyReply = errors.New("dialogue: model returned no text")

// messagesAPI abstracts the Anthropic Messages endpoint, enabling test mocks.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude is an Agent backed by the Anthropic Messages API. Tool calls are
// executed against the onboarding session store.
type Claude struct {
	api       messagesAPI
	db        *gorm.DB
	model     string
	maxTokens int64
	maxRounds int
	log       *log.Logger
}

// ClaudeOpts holds parameters for creating a Claude agent.
type ClaudeOpts struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	MaxToolRounds int
	DB            *gorm.DB // session store the tools write to
	Logger        *log.Logger
	// For testing: inject a mock instead of the real API.
	API messagesAPI
}

// NewClaude creates a Claude agent.
func NewClaude(opts ClaudeOpts) (*Claude, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dialogue: db is required")
	}
	if opts.API == nil && opts.APIKey == "" {
		return nil, fmt.Errorf("dialogue: anthropic api key is required")
	}

	c := &Claude{
		api:       opts.API,
		db:        opts.DB,
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
		maxRounds: opts.MaxToolRounds,
		log:       opts.Logger,
	}
	if c.api == nil {
		reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
		client := anthropic.NewClient(reqOpts...)
		c.api = &client.Messages
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.maxRounds <= 0 {
		c.maxRounds = defaultMaxRounds
	}
	if c.log == nil {
		c.log = log.Default()
	}
	c.log = c.log.WithPrefix("dialogue")
	return c, nil
}

// RunTurn sends the utterance with the prior history, executes any tool
// calls the model makes, and returns the model's final text.
func (c *Claude) RunTurn(ctx context.Context, turn Turn) (*Reply, error) {
	if !turn.Phase.Valid() {
		return nil, fmt.Errorf("dialogue: unknown phase %q", turn.Phase)
	}
	history, err := DecodeHistory(turn.History)
	if err != nil {
		return nil, err
	}
	history = append(history, Entry{Role: RoleUser, Text: turn.Utterance})

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: turn.Phase.Instructions(turn.ChannelName)}},
		Tools:     toolParams(turn.Phase.Tools()),
	}

	for round := 0; round < c.maxRounds; round++ {
		params.Messages = messageParams(history)
		msg, err := c.api.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("dialogue: session %d: messages: %w", turn.SessionID, err)
		}

		entry := assistantEntry(msg)
		history = append(history, entry)

		if msg.StopReason != anthropic.StopReasonToolUse || len(entry.ToolUses) == 0 {
			if strings.TrimSpace(entry.Text) == "" {
				return nil, fmt.Errorf("%w (session %d, stop reason %q)", ErrEmptyReply, turn.SessionID, msg.StopReason)
			}
			blob, err := EncodeHistory(history)
			if err != nil {
				return nil, err
			}
			return &Reply{Text: entry.Text, History: blob}, nil
		}

		results := make([]ToolResult, 0, len(entry.ToolUses))
		for _, use := range entry.ToolUses {
			results = append(results, c.runTool(turn, use))
		}
		history = append(history, Entry{Role: RoleUser, ToolResults: results})
	}

	return nil, fmt.Errorf("dialogue: session %d: no reply after %d tool rounds", turn.SessionID, c.maxRounds)
}

func (c *Claude) runTool(turn Turn, use ToolUse) ToolResult {
	out, err := onboarding.RunTool(c.db, turn.SessionID, turn.Phase, use.Name, use.Input)
	if err != nil {
		c.log.Debug("tool failed", "session", turn.SessionID, "tool", use.Name, "err", err)
		return ToolResult{ToolUseID: use.ID, Content: err.Error(), IsError: true}
	}
	c.log.Debug("tool", "session", turn.SessionID, "tool", use.Name)
	return ToolResult{ToolUseID: use.ID, Content: out}
}

// assistantEntry collects the text and tool calls of a model response.
func assistantEntry(msg *anthropic.Message) Entry {
	entry := Entry{Role: RoleAssistant}
	var text []string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, variant.Text)
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			if len(input) == 0 || string(input) == "null" {
				input = json.RawMessage(`{}`)
			}
			entry.ToolUses = append(entry.ToolUses, ToolUse{ID: variant.ID, Name: variant.Name, Input: input})
		}
	}
	entry.Text = strings.Join(text, "\n")
	return entry
}

// messageParams converts a history to Anthropic message params.
func messageParams(h History) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(h))
	for _, e := range h {
		var blocks []anthropic.ContentBlockParamUnion
		if e.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(e.Text))
		}
		for _, use := range e.ToolUses {
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    use.ID,
					Name:  use.Name,
					Input: use.Input,
				},
			})
		}
		for _, res := range e.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(res.ToolUseID, res.Content, res.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		if e.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// toolParams converts onboarding tools to Anthropic tool definitions.
func toolParams(tools []onboarding.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Params))
		for _, p := range t.Params {
			prop := map[string]any{"type": "string", "description": p.Description}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			props[p.Name] = prop
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: props},
			},
		})
	}
	return out
}
