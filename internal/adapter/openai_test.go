package adapter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/poemonsense/warp-proxy-go/internal/warp"
	"github.com/poemonsense/warp-proxy-go/pkg/openai"
)

func textEvent(text string) *warp.StreamEvent {
	return &warp.StreamEvent{
		ClientActions: &warp.ClientActions{Actions: []warp.Action{{
			AppendToMessageContent: &warp.AppendToMessageContent{
				Message: warp.TaskMessage{AgentOutput: &warp.AgentOutput{Text: text}},
			},
		}}},
	}
}

func toolCallEvent(callID, name, args string) *warp.StreamEvent {
	return &warp.StreamEvent{
		ClientActions: &warp.ClientActions{Actions: []warp.Action{{
			AddMessagesToTask: &warp.AddMessagesToTask{
				Messages: []warp.TaskMessage{{
					AgentOutput: &warp.AgentOutput{
						ToolCall: &warp.ToolCallOutput{CallID: callID, Name: name, ArgsJSON: args},
					},
				}},
			},
		}}},
	}
}

func finishedEvent(reason string) *warp.StreamEvent {
	return &warp.StreamEvent{Finished: &warp.FinishedEvent{Reason: reason}}
}

func TestOpenAIStreamTextDeltas(t *testing.T) {
	s := NewOpenAIStream("claude-4.5-sonnet")

	var chunks []openai.ChatCompletionChunk
	for _, text := range []string{"He", "llo", "!"} {
		chunks = append(chunks, s.Push(textEvent(text))...)
	}
	s.Push(finishedEvent(""))
	chunks = append(chunks, s.Close()...)

	// Role chunk first, then one content chunk per delta, then the final.
	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Fatal("first chunk should carry the assistant role")
	}
	if chunks[0].Choices[0].Delta.Content == nil || *chunks[0].Choices[0].Delta.Content != "" {
		t.Fatal("role chunk should carry an explicit empty content")
	}
	raw, err := json.Marshal(chunks[0].Choices[0].Delta)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"content":""`) {
		t.Fatalf("role chunk JSON dropped content: %s", raw)
	}

	var content strings.Builder
	for _, c := range chunks {
		if c.Choices[0].Delta.Content != nil {
			content.WriteString(*c.Choices[0].Delta.Content)
		}
	}
	if content.String() != "Hello!" {
		t.Fatalf("assembled content = %q, want Hello!", content.String())
	}

	final := chunks[len(chunks)-1]
	if final.Choices[0].FinishReason == nil || *final.Choices[0].FinishReason != "stop" {
		t.Fatalf("final finish_reason = %v, want stop", final.Choices[0].FinishReason)
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.Choices[0].FinishReason != nil {
			t.Fatal("only the final chunk carries a finish_reason")
		}
		if c.ID != s.ID || c.Object != "chat.completion.chunk" {
			t.Fatalf("chunk envelope mismatch: %+v", c)
		}
	}
}

func TestOpenAIStreamToolCalls(t *testing.T) {
	s := NewOpenAIStream("gpt-5")

	chunks := s.Push(toolCallEvent("call-1", "get_weather", `{"city":"Paris"}`))
	s.Push(finishedEvent(""))
	chunks = append(chunks, s.Close()...)

	// Role chunk, tool-call chunk, final chunk.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	tc := chunks[1].Choices[0].Delta.ToolCalls
	if len(tc) != 1 || tc[0].Function.Name != "get_weather" || tc[0].Index != 0 {
		t.Fatalf("unexpected tool call delta: %+v", tc)
	}
	if tc[0].ID != "call-1" || tc[0].Type != "function" {
		t.Fatalf("unexpected tool call identity: %+v", tc[0])
	}

	final := chunks[2]
	if *final.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("finish_reason = %q, want tool_calls", *final.Choices[0].FinishReason)
	}
}

func TestOpenAIStreamUnwrapsMCPEnvelope(t *testing.T) {
	s := NewOpenAIStream("gpt-5")

	chunks := s.Push(toolCallEvent("call-1", "call_mcp_tool", `{"name":"search","args":{"q":"go"}}`))
	tc := chunks[1].Choices[0].Delta.ToolCalls[0]
	if tc.Function.Name != "search" {
		t.Fatalf("tool name = %q, want search", tc.Function.Name)
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		t.Fatal(err)
	}
	if args["q"] != "go" {
		t.Fatalf("args = %v", args)
	}
}

func TestOpenAIStreamLengthFinish(t *testing.T) {
	s := NewOpenAIStream("gpt-5")
	s.Push(textEvent("truncated"))
	s.Push(finishedEvent(warp.FinishReasonMaxTokenLimit))

	final := s.Close()[0]
	if *final.Choices[0].FinishReason != "length" {
		t.Fatalf("finish_reason = %q, want length", *final.Choices[0].FinishReason)
	}
}

func TestOpenAIStreamUsageOnFinal(t *testing.T) {
	s := NewOpenAIStream("gpt-5")
	s.Push(&warp.StreamEvent{Finished: &warp.FinishedEvent{
		TokenUsage: &warp.TokenUsage{TotalInputTokens: 10, TotalOutputTokens: 5},
	}})

	final := s.Close()[0]
	if final.Usage == nil || final.Usage.PromptTokens != 10 || final.Usage.CompletionTokens != 5 || final.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", final.Usage)
	}
}

func TestCollectChat(t *testing.T) {
	events := make(chan *warp.StreamEvent, 10)
	errs := make(chan error, 1)
	events <- textEvent("The answer ")
	events <- textEvent("is 42.")
	events <- toolCallEvent("call-1", "save", `{"value":42}`)
	events <- finishedEvent("")
	close(events)
	close(errs)

	resp, err := CollectChat(events, errs, "gpt-5")
	if err != nil {
		t.Fatal(err)
	}

	msg := resp.Choices[0].Message
	if msg.Content != "The answer is 42." {
		t.Fatalf("content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "save" {
		t.Fatalf("tool calls = %+v", msg.ToolCalls)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
	if resp.Object != "chat.completion" || !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("envelope mismatch: %+v", resp)
	}
}

func TestExtractChatSplitsQueryAndHistory(t *testing.T) {
	messages := []openai.ChatMessage{
		{Role: "system", Content: openai.ChatContent{Text: "Be brief."}},
		{Role: "user", Content: openai.ChatContent{Text: "Hi"}},
		{Role: "assistant", Content: openai.ChatContent{Text: "Hello!"}},
		{Role: "user", Content: openai.ChatContent{Text: "What is Go?"}},
	}

	query, history, toolResults := ExtractChat(messages)
	if query != "What is Go?" {
		t.Fatalf("query = %q", query)
	}
	if len(toolResults) != 0 {
		t.Fatalf("unexpected tool results: %+v", toolResults)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "Be brief." {
		t.Fatalf("system prompt should fold as a user turn: %+v", history[0])
	}
}

func TestExtractChatTrailingToolResults(t *testing.T) {
	messages := []openai.ChatMessage{
		{Role: "user", Content: openai.ChatContent{Text: "Weather in Paris?"}},
		{
			Role: "assistant",
			ToolCalls: []openai.ToolCall{{
				ID:       "call-1",
				Type:     "function",
				Function: openai.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
			}},
		},
		{Role: "tool", ToolCallID: "call-1", Content: openai.ChatContent{Text: "18C"}},
	}

	query, history, toolResults := ExtractChat(messages)
	if query != "" {
		t.Fatalf("query = %q, want empty", query)
	}
	if len(toolResults) != 1 || toolResults[0].ToolCallID != "call-1" || toolResults[0].Content != "18C" {
		t.Fatalf("tool results = %+v", toolResults)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if len(history[1].ToolCalls) != 1 || history[1].ToolCalls[0].Name != "get_weather" {
		t.Fatalf("assistant tool calls missing: %+v", history[1])
	}
}

func TestChatToolsToMCP(t *testing.T) {
	var tool openai.ToolDefinition
	tool.Type = "function"
	tool.Function.Name = "get_weather"
	tool.Function.Description = "Look up weather"
	tool.Function.Parameters = json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)

	mcp := ChatToolsToMCP([]openai.ToolDefinition{tool})
	if len(mcp) != 1 || mcp[0].Name != "get_weather" {
		t.Fatalf("unexpected mapping: %+v", mcp)
	}
	if mcp[0].InputSchema["type"] != "object" {
		t.Fatalf("schema not parsed: %+v", mcp[0].InputSchema)
	}
}
