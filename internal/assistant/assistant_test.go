package assistant

import (
	"context"
	"errors"
	"testing"
)

func TestFakeClientYieldsScriptedEventsThenDone(t *testing.T) {
	client := &FakeClient{Turns: []FakeTurn{
		{
			Events: []StreamEvent{
				{Kind: EventText, Text: "Let me check the tests."},
				{Kind: EventToolUse, ToolUse: ToolUse{ID: "tu_1", Name: "run_tests", Input: map[string]any{}}},
			},
			FinishReason: "tool_use",
		},
	}}

	stream, err := client.Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "go"}}})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	var texts []string
	var toolUses []ToolUse
	var finish string
	for stream.Next() {
		e := stream.Event()
		switch e.Kind {
		case EventText:
			texts = append(texts, e.Text)
		case EventToolUse:
			toolUses = append(toolUses, e.ToolUse)
		case EventDone:
			finish = e.FinishReason
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if len(texts) != 1 || texts[0] != "Let me check the tests." {
		t.Fatalf("unexpected texts: %v", texts)
	}
	if len(toolUses) != 1 || toolUses[0].Name != "run_tests" {
		t.Fatalf("unexpected tool uses: %v", toolUses)
	}
	if finish != "tool_use" {
		t.Fatalf("expected finish reason tool_use, got %q", finish)
	}
}

func TestFakeClientExhaustedTurnsReturnsError(t *testing.T) {
	client := &FakeClient{}
	_, err := client.Stream(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error when no scripted turns remain")
	}
}

func TestFakeClientPropagatesScriptedError(t *testing.T) {
	want := errors.New("boom")
	client := &FakeClient{Turns: []FakeTurn{{Err: want}}}
	_, err := client.Stream(context.Background(), Request{})
	if !errors.Is(err, want) {
		t.Fatalf("expected scripted error, got %v", err)
	}
}

func TestIsAuthErrorMatchesKnownMarkers(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("401 Unauthorized"), true},
		{errors.New("authentication_error: invalid x-api-key"), true},
		{errors.New("tool execution failed: permission denied"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsAuthError(c.err); got != c.want {
			t.Errorf("IsAuthError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
