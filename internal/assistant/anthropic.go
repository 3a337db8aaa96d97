package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when a Request leaves Model empty.
const DefaultModel = "claude-sonnet-4-20250514"

// AnthropicClient implements Client against the real Anthropic
// Messages API via the official SDK.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient builds a client from an API key. baseURL may be
// empty to use the SDK default.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("assistant: empty API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}, nil
}

// Stream opens a streaming completion for req.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAPIMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAPITools(req.Tools)
	}

	s := c.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{raw: s}, nil
}

func toAPIMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		switch m.Role {
		case RoleAssistant:
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tu := range m.ToolUses {
				blocks = append(blocks, anthropic.NewToolUseBlock(tu.ID, tu.Input, tu.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolUseID, tr.Content, tr.IsError))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAPITools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.InputSchema["properties"],
				},
			},
		})
	}
	return out
}

// anthropicStream adapts the SDK's server-sent-event stream to Stream,
// accumulating each event into a running Message the way the SDK's
// own examples do, then translating finished content blocks and the
// final usage report into StreamEvents.
type anthropicStream struct {
	raw *anthropic.MessageStream
	acc anthropic.Message

	pending []StreamEvent
	idx     int
	err     error
	done    bool
}

func (s *anthropicStream) Next() bool {
	if s.idx < len(s.pending) {
		s.idx++
		return true
	}
	if s.done {
		return false
	}
	s.pending = s.pending[:0]
	s.idx = 0

	if !s.raw.Next() {
		s.done = true
		if err := s.raw.Err(); err != nil {
			s.err = err
			return false
		}
		s.flushUsage()
		s.pending = append(s.pending, StreamEvent{Kind: EventDone, FinishReason: string(s.acc.StopReason)})
		if len(s.pending) == 0 {
			return false
		}
		s.idx = 1
		return true
	}

	event := s.raw.Current()
	if err := s.acc.Accumulate(event); err != nil {
		s.err = fmt.Errorf("assistant: accumulate stream event: %w", err)
		return false
	}

	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			s.pending = append(s.pending, StreamEvent{Kind: EventText, Text: delta.Text})
		}
	case anthropic.ContentBlockStopEvent:
		if int(variant.Index) < len(s.acc.Content) {
			if block, ok := s.acc.Content[variant.Index].AsAny().(anthropic.ToolUseBlock); ok {
				var input map[string]any
				_ = json.Unmarshal(block.Input, &input)
				s.pending = append(s.pending, StreamEvent{
					Kind: EventToolUse,
					ToolUse: ToolUse{
						ID:    block.ID,
						Name:  block.Name,
						Input: input,
					},
				})
			}
		}
	}

	if len(s.pending) == 0 {
		return s.Next()
	}
	s.idx = 1
	return true
}

func (s *anthropicStream) flushUsage() {
	in := s.acc.Usage.InputTokens
	out := s.acc.Usage.OutputTokens
	if in == 0 && out == 0 {
		return
	}
	s.pending = append(s.pending, StreamEvent{Kind: EventUsage, Usage: Usage{InputTokens: in, OutputTokens: out}})
}

func (s *anthropicStream) Event() StreamEvent {
	if s.idx == 0 || s.idx > len(s.pending) {
		return StreamEvent{}
	}
	return s.pending[s.idx-1]
}

func (s *anthropicStream) Err() error { return s.err }

func (s *anthropicStream) Close() error { return s.raw.Close() }
