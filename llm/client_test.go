package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/chatloop/chatloop/config"
)

func TestNewRejectsUnknownClient(t *testing.T) {
	_, err := New(context.Background(), &config.Config{LLMClient: "carrier-pigeon"})
	if err == nil {
		t.Error("Expected an error for an unknown client")
	}
}

func TestScriptedClientReplaysEvents(t *testing.T) {
	client := &ScriptedClient{
		AgentName: "fake",
		Events:    []any{"a", "b"},
		Final:     map[string]any{"done": true},
	}

	s, err := client.Stream(context.Background(), "query")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var got []any
	for s.Next() {
		got = append(got, s.Current())
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 events, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("Events replayed out of order: %v", got)
	}
	if s.Err() != nil {
		t.Errorf("Unexpected stream error: %v", s.Err())
	}
	if s.Response() == nil {
		t.Error("Expected the final response after the stream ended")
	}
}

func TestScriptedClientOpenError(t *testing.T) {
	client := &ScriptedClient{OpenErr: fmt.Errorf("no backend")}
	if _, err := client.Stream(context.Background(), "query"); err == nil {
		t.Error("Expected the open error to surface")
	}
}

func TestScriptedClientMidStreamError(t *testing.T) {
	client := &ScriptedClient{
		Events:    []any{"a", "b", "c"},
		MidErr:    fmt.Errorf("reset"),
		FailAfter: 1,
	}

	s, err := client.Stream(context.Background(), "query")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	n := 0
	for s.Next() {
		n++
	}
	if n != 1 {
		t.Errorf("Expected 1 event before the failure, got %d", n)
	}
	if s.Err() == nil {
		t.Error("Expected the mid-stream error after Next returned false")
	}
}
