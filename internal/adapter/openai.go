package adapter

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/poemonsense/warp-proxy-go/internal/warp"
	"github.com/poemonsense/warp-proxy-go/pkg/openai"
)

// ExtractChat splits an OpenAI message list into the current query, the
// prior dialog, and the trailing tool results. Tool messages that answer
// the last assistant turn travel as tool results; earlier ones fold into
// the dialog. System prompts fold in as leading user turns.
func ExtractChat(messages []openai.ChatMessage) (string, []warp.HistoryMessage, []warp.ToolResult) {
	end := len(messages)
	var toolResults []warp.ToolResult
	for end > 0 && messages[end-1].Role == "tool" {
		end--
	}
	for _, msg := range messages[end:] {
		toolResults = append(toolResults, warp.ToolResult{
			ToolCallID: msg.ToolCallID,
			Content:    msg.Content.Text,
		})
	}

	query := ""
	if end > 0 && messages[end-1].Role == "user" {
		query = messages[end-1].Content.Text
		end--
	}

	var history []warp.HistoryMessage
	for _, msg := range messages[:end] {
		switch msg.Role {
		case "system", "user":
			history = append(history, warp.HistoryMessage{Role: "user", Content: msg.Content.Text})
		case "assistant":
			h := warp.HistoryMessage{Role: "assistant", Content: msg.Content.Text}
			for _, tc := range msg.ToolCalls {
				h.ToolCalls = append(h.ToolCalls, warp.HistoryToolCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			history = append(history, h)
		case "tool":
			history = append(history, warp.HistoryMessage{
				Role:       "tool",
				ToolCallID: msg.ToolCallID,
				Content:    msg.Content.Text,
			})
		}
	}

	return query, history, toolResults
}

// ChatToolsToMCP converts client tool declarations for the outbound request
func ChatToolsToMCP(tools []openai.ToolDefinition) []warp.MCPTool {
	out := make([]warp.MCPTool, 0, len(tools))
	for _, t := range tools {
		schema := map[string]interface{}{"type": "object"}
		if len(t.Function.Parameters) > 0 {
			var parsed map[string]interface{}
			if err := json.Unmarshal(t.Function.Parameters, &parsed); err == nil && len(parsed) > 0 {
				schema = parsed
			}
		}
		out = append(out, warp.MCPTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	return out
}

// OpenAIStream converts upstream events into chat completion chunks.
// The first emitted chunk carries only the assistant role; the terminal
// chunk (from Close) carries the finish reason and usage.
type OpenAIStream struct {
	ID      string
	model   string
	created int64

	sentRole    bool
	toolIndex   int
	sawToolCall bool
	finished    *warp.FinishedEvent
}

// NewOpenAIStream creates a stream converter for one completion
func NewOpenAIStream(model string) *OpenAIStream {
	return &OpenAIStream{
		ID:      "chatcmpl-" + uuid.New().String()[:8],
		model:   model,
		created: time.Now().Unix(),
	}
}

// Push converts one upstream event into zero or more chunks
func (s *OpenAIStream) Push(ev *warp.StreamEvent) []openai.ChatCompletionChunk {
	if ev.Finished != nil {
		s.finished = ev.Finished
		return nil
	}
	if ev.ClientActions == nil {
		return nil
	}

	var chunks []openai.ChatCompletionChunk
	for _, out := range agentOutputs(ev.ClientActions) {
		if out.Text != "" {
			if !s.sentRole {
				chunks = append(chunks, s.roleChunk())
				s.sentRole = true
			}
			chunks = append(chunks, s.chunk(openai.Delta{Content: strPtr(out.Text)}))
		}
		if out.ToolCall != nil {
			if !s.sentRole {
				chunks = append(chunks, s.roleChunk())
				s.sentRole = true
			}
			name, args := UnwrapToolCall(out.ToolCall.Name, out.ToolCall.ArgsJSON)
			chunks = append(chunks, s.chunk(openai.Delta{
				ToolCalls: []openai.ToolCallDelta{{
					Index:    s.toolIndex,
					ID:       toolCallID(out.ToolCall.CallID),
					Type:     "function",
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			}))
			s.toolIndex++
			s.sawToolCall = true
		}
	}
	return chunks
}

// Close emits the terminal chunk. The caller writes the [DONE] sentinel.
func (s *OpenAIStream) Close() []openai.ChatCompletionChunk {
	reason := s.finishReason()
	final := openai.ChatCompletionChunk{
		ID:      s.ID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{}, FinishReason: &reason}},
	}
	if s.finished != nil && s.finished.TokenUsage != nil {
		u := s.finished.TokenUsage
		final.Usage = &openai.Usage{
			PromptTokens:     int(u.TotalInputTokens),
			CompletionTokens: int(u.TotalOutputTokens),
			TotalTokens:      int(u.TotalInputTokens + u.TotalOutputTokens),
		}
	}
	return []openai.ChatCompletionChunk{final}
}

func (s *OpenAIStream) finishReason() string {
	if s.finished != nil && s.finished.Reason == warp.FinishReasonMaxTokenLimit {
		return "length"
	}
	if s.sawToolCall {
		return "tool_calls"
	}
	return "stop"
}

// roleChunk is the first frame: the assistant role with explicit empty
// content.
func (s *OpenAIStream) roleChunk() openai.ChatCompletionChunk {
	return s.chunk(openai.Delta{Role: "assistant", Content: strPtr("")})
}

func strPtr(s string) *string { return &s }

func (s *OpenAIStream) chunk(delta openai.Delta) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      s.ID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: delta}},
	}
}

// CollectChat drains an upstream event stream into a unary completion
func CollectChat(events <-chan *warp.StreamEvent, errs <-chan error, model string) (*openai.ChatCompletion, error) {
	s := NewOpenAIStream(model)
	var content string
	var toolCalls []openai.ToolCall

	for ev := range events {
		for _, chunk := range s.Push(ev) {
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != nil {
					content += *choice.Delta.Content
				}
				for _, tc := range choice.Delta.ToolCalls {
					for len(toolCalls) <= tc.Index {
						toolCalls = append(toolCalls, openai.ToolCall{Type: "function"})
					}
					if tc.ID != "" {
						toolCalls[tc.Index].ID = tc.ID
					}
					toolCalls[tc.Index].Function.Name += tc.Function.Name
					toolCalls[tc.Index].Function.Arguments += tc.Function.Arguments
				}
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	final := s.Close()[0]
	resp := &openai.ChatCompletion{
		ID:      s.ID,
		Object:  "chat.completion",
		Created: s.created,
		Model:   model,
		Choices: []openai.Choice{{
			Index: 0,
			Message: openai.ResponseMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: *final.Choices[0].FinishReason,
		}},
		Usage: final.Usage,
	}
	return resp, nil
}

// agentOutputs flattens the agent outputs of one action batch in order
func agentOutputs(actions *warp.ClientActions) []*warp.AgentOutput {
	var outs []*warp.AgentOutput
	for _, action := range actions.Actions {
		if action.AddMessagesToTask != nil {
			for _, msg := range action.AddMessagesToTask.Messages {
				if msg.AgentOutput != nil {
					outs = append(outs, msg.AgentOutput)
				}
			}
		}
		if action.AppendToMessageContent != nil {
			if msg := action.AppendToMessageContent.Message; msg.AgentOutput != nil {
				outs = append(outs, msg.AgentOutput)
			}
		}
	}
	return outs
}

// toolCallID normalizes an upstream call id, minting one when absent
func toolCallID(id string) string {
	if id == "" {
		return "call_" + uuid.New().String()[:8]
	}
	return id
}
