package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/cqi/internal/schema"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Message is one conversation turn. Assistant turns may carry tool calls;
// user turns may carry tool results.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Request is one completion call.
type Request struct {
	System   string
	Messages []Message
	Tools    []schema.Tool
	// Shape is the structured answer expected when the model stops calling tools.
	Shape *schema.ResponseShape
}

// Reply is the model's answer: text, tool calls, or both.
type Reply struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// HasToolCalls reports whether the model asked for tools.
func (r Reply) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Message converts the reply into the assistant turn to append.
func (r Reply) Message() Message {
	return Message{Role: RoleAssistant, Text: r.Text, ToolCalls: r.ToolCalls}
}

// Config holds the Anthropic client settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Client wraps the Anthropic API for tool-driven orchestration and plain
// text generation.
type Client struct {
	api         *anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewClient creates an LLM client from cfg.
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	client := anthropic.NewClient(opts...)
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Client{
		api:         &client,
		model:       anthropic.Model(cfg.Model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Complete sends one orchestration turn.
func (c *Client) Complete(ctx context.Context, req Request) (Reply, error) {
	msg, err := c.api.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return Reply{}, fmt.Errorf("anthropic API call: %w", err)
	}
	return parseReply(msg), nil
}

// Generate sends a single system+user prompt and returns the text reply.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	reply, err := c.Complete(ctx, Request{
		System:   system,
		Messages: []Message{UserText(user)},
	})
	if err != nil {
		return "", err
	}
	if reply.Text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return reply.Text, nil
}

func (c *Client) buildParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    buildMessages(req.Messages),
		Temperature: anthropic.Float(c.temperature),
	}
	if system := SystemPrompt(req.System, req.Shape); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// SystemPrompt appends the response shape instructions to system.
func SystemPrompt(system string, shape *schema.ResponseShape) string {
	system = strings.TrimSpace(system)
	if shape == nil {
		return system
	}
	schemaJSON, err := json.MarshalIndent(shape.Schema, "", "  ")
	if err != nil {
		schemaJSON = []byte("{}")
	}

	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	sb.WriteString("When you have finished calling tools, respond with a single JSON object (")
	sb.WriteString(shape.Name)
	sb.WriteString(") and nothing else. ")
	sb.WriteString(shape.Description)
	sb.WriteString("\n\nJSON schema:\n")
	sb.Write(schemaJSON)
	return sb.String()
}

func buildTools(defs []schema.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		param := anthropic.ToolParam{
			Name:        string(def.Name),
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: def.InputSchema["properties"],
				Required:   schema.RequiredFields(def.InputSchema),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func buildMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls)+len(msg.ToolResults))
		for _, res := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Content, res.IsError))
		}
		if text := strings.TrimSpace(msg.Text); text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		for _, call := range msg.ToolCalls {
			args := call.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}

func parseReply(msg *anthropic.Message) Reply {
	reply := Reply{StopReason: string(msg.StopReason)}
	var texts []string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if t := strings.TrimSpace(variant.Text); t != "" {
				texts = append(texts, t)
			}
		case anthropic.ToolUseBlock:
			callID := strings.TrimSpace(variant.ID)
			if callID == "" {
				callID = fmt.Sprintf("call_%d", len(reply.ToolCalls)+1)
			}
			args := variant.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: callID, Name: variant.Name, Args: args})
		}
	}
	reply.Text = strings.Join(texts, "\n")
	return reply
}
