// Package assistant defines the message contract the Session Runner
// speaks with an external LLM coding assistant (spec.md §6), and a
// concrete client satisfying it against the Anthropic Messages API.
//
// The contract intentionally says nothing about prompt content or
// reasoning: it is three message shapes (assistant text, tool-use
// calls, tool-result echoes) plus a usage report, streamed one
// conversation turn at a time.
package assistant

import (
	"context"
	"strings"
)

// Role distinguishes the two sides of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUse is a tool-use call emitted by the assistant: {id?, name, input}.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is a tool-result echo sent back to the assistant:
// {tool_use_id | id, content, is_error}.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one turn of conversation history. A user turn carries
// ToolResults (echoing prior tool-use calls); an assistant turn
// carries Text and/or ToolUses.
type Message struct {
	Role        Role
	Text        string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// ToolSpec describes one tool the assistant may call, in JSON-Schema
// shape for Input.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one completion request: full conversation history plus
// the tools available this turn.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Usage reports token counts. When the assistant supplies them they
// arrive on a usage event of their own, emitted just before the turn's
// done event.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// EventKind distinguishes the members of a StreamEvent union.
type EventKind string

const (
	EventText    EventKind = "text"
	EventToolUse EventKind = "tool_use"
	EventUsage   EventKind = "usage"
	EventDone    EventKind = "done"
)

// StreamEvent is one unit of a streamed completion. Exactly one of
// Text, ToolUse, or Usage is meaningful, keyed by Kind; EventDone
// carries FinishReason and closes the stream.
type StreamEvent struct {
	Kind         EventKind
	Text         string
	ToolUse      ToolUse
	Usage        Usage
	FinishReason string
}

// Stream yields StreamEvents for one completion request, Next/Event
// in the style of bufio.Scanner and sql.Rows: call Next until it
// returns false, then check Err.
type Stream interface {
	Next() bool
	Event() StreamEvent
	Err() error
	Close() error
}

// Client drives one streaming completion against an assistant.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// AuthErrorMarkers are substrings the Session Runner scans an error's
// string form for to classify it as an authentication failure
// (spec.md §7): not retried, terminal.
var AuthErrorMarkers = []string{
	"401",
	"unauthorized",
	"invalid api key",
	"invalid x-api-key",
	"invalid bearer token",
	"authentication_error",
}

// IsAuthError reports whether err's message matches one of
// AuthErrorMarkers, case-insensitively.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range AuthErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
