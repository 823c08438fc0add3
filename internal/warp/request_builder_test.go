package warp

import (
	"bytes"
	"strings"
	"testing"
)

func TestFoldDialogBasic(t *testing.T) {
	history := []HistoryMessage{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello! How can I help?"},
	}

	got := FoldDialog(history, nil, "What is Go?")
	want := "User: Hi\n\nAssistant: Hello! How can I help?\n\nUser: What is Go?"
	if got != want {
		t.Fatalf("FoldDialog mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestFoldDialogToolCalls(t *testing.T) {
	history := []HistoryMessage{
		{Role: "user", Content: "Weather in Paris?"},
		{
			Role:    "assistant",
			Content: "Let me check.",
			ToolCalls: []HistoryToolCall{
				{Name: "get_weather", Arguments: `{"city":"Paris"}`},
			},
		},
		{Role: "tool", ToolCallID: "call-1", Content: "18C, sunny"},
	}

	got := FoldDialog(history, nil, "Thanks, and tomorrow?")
	if !strings.Contains(got, "Tool calls: Called get_weather with args: {\"city\":\"Paris\"}") {
		t.Fatalf("tool call line missing:\n%s", got)
	}
	if !strings.Contains(got, "Tool result (call-1): 18C, sunny") {
		t.Fatalf("tool result line missing:\n%s", got)
	}
}

func TestFoldDialogToolResultsWithoutQuery(t *testing.T) {
	results := []ToolResult{{ToolCallID: "call-1", Content: "42"}}

	got := FoldDialog(nil, results, "")
	if !strings.Contains(got, "Tool result (call-1): 42") {
		t.Fatalf("tool result missing:\n%s", got)
	}
	if !strings.HasSuffix(got, "User: Please analyze the tool results above and provide your response.") {
		t.Fatalf("synthetic follow-up prompt missing:\n%s", got)
	}
}

func TestFoldDialogMultipleToolCallsJoined(t *testing.T) {
	history := []HistoryMessage{{
		Role: "assistant",
		ToolCalls: []HistoryToolCall{
			{Name: "a", Arguments: "{}"},
			{Name: "b", Arguments: "{}"},
		},
	}}

	got := FoldDialog(history, nil, "ok")
	if !strings.Contains(got, "Called a with args: {}; Called b with args: {}") {
		t.Fatalf("tool calls should join with '; ':\n%s", got)
	}
}

func TestBuildRequestUsesTemplateForFreshTurn(t *testing.T) {
	fromBuild, err := BuildRequest(BuildOptions{Query: "hello there"})
	if err != nil {
		t.Fatal(err)
	}
	fromTemplate, err := BuildFromTemplate("hello there", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fromBuild, fromTemplate) {
		t.Fatal("fresh turn should take the template path")
	}
}

func TestBuildRequestFoldsHistory(t *testing.T) {
	payload, err := BuildRequest(BuildOptions{
		Query: "and now?",
		Model: "claude-4.5-sonnet",
		History: []HistoryMessage{
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "first answer"},
		},
		MaxHistoryMessages: 20,
		MaxToolResults:     10,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"User: first question", "Assistant: first answer", "User: and now?"} {
		if !bytes.Contains(payload, []byte(want)) {
			t.Fatalf("folded dialog missing %q", want)
		}
	}
	// Dots in the model id become dashes on the wire.
	if !bytes.Contains(payload, []byte("claude-4-5-sonnet")) {
		t.Fatal("base model missing from settings")
	}
}

func TestBuildRequestCapsHistory(t *testing.T) {
	history := make([]HistoryMessage, 30)
	for i := range history {
		history[i] = HistoryMessage{Role: "user", Content: "turn"}
	}
	history[0].Content = "oldest turn"
	history[29].Content = "newest turn"

	payload, err := BuildRequest(BuildOptions{
		Query:              "q",
		History:            history,
		MaxHistoryMessages: 20,
	})
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Contains(payload, []byte("oldest turn")) {
		t.Fatal("history beyond the cap should be dropped")
	}
	if !bytes.Contains(payload, []byte("newest turn")) {
		t.Fatal("most recent history should be kept")
	}
}

func TestBuildRequestTaskIDForcesSchemaPath(t *testing.T) {
	payload, err := BuildRequest(BuildOptions{Query: "continue", TaskID: "task-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(payload, []byte("User: continue")) {
		t.Fatal("continuation turn should fold the query")
	}
}
