package adapter

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/poemonsense/warp-proxy-go/internal/warp"
	"github.com/poemonsense/warp-proxy-go/pkg/anthropic"
)

// StreamFrame is one named SSE frame of an Anthropic stream
type StreamFrame struct {
	Event string
	Data  map[string]interface{}
}

// ExtractMessages splits an Anthropic request into the current query, the
// prior dialog, and the trailing tool results. The system prompt folds in
// as a leading user turn; tool_result blocks in the final message travel
// as tool results.
func ExtractMessages(req *anthropic.MessagesRequest) (string, []warp.HistoryMessage, []warp.ToolResult) {
	var history []warp.HistoryMessage
	if req.System != nil && req.System.Text != "" {
		history = append(history, warp.HistoryMessage{Role: "user", Content: req.System.Text})
	}

	var query string
	var toolResults []warp.ToolResult

	for i, msg := range req.Messages {
		last := i == len(req.Messages)-1
		switch msg.Role {
		case "user":
			var texts []string
			for _, block := range msg.Content.Blocks {
				switch block.Type {
				case "text":
					texts = append(texts, block.Text)
				case "tool_result":
					result := warp.ToolResult{
						ToolCallID: block.ToolUseID,
						Content:    toolResultText(block.Content),
					}
					if last {
						toolResults = append(toolResults, result)
					} else {
						history = append(history, warp.HistoryMessage{
							Role:       "tool",
							ToolCallID: result.ToolCallID,
							Content:    result.Content,
						})
					}
				}
			}
			text := strings.Join(texts, "\n")
			if last {
				query = text
			} else if text != "" {
				history = append(history, warp.HistoryMessage{Role: "user", Content: text})
			}
		case "assistant":
			h := warp.HistoryMessage{Role: "assistant"}
			var texts []string
			for _, block := range msg.Content.Blocks {
				switch block.Type {
				case "text":
					texts = append(texts, block.Text)
				case "tool_use":
					h.ToolCalls = append(h.ToolCalls, warp.HistoryToolCall{
						Name:      block.Name,
						Arguments: string(block.Input),
					})
				}
			}
			h.Content = strings.Join(texts, "\n")
			history = append(history, h)
		}
	}

	return query, history, toolResults
}

// toolResultText renders a tool_result content value, which arrives as a
// plain string or a block array.
func toolResultText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var texts []string
		for _, item := range v {
			if block, ok := item.(map[string]interface{}); ok {
				if t, ok := block["text"].(string); ok {
					texts = append(texts, t)
				}
			}
		}
		return strings.Join(texts, "\n")
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// MessagesToolsToMCP converts client tool declarations for the outbound request
func MessagesToolsToMCP(tools []anthropic.Tool) []warp.MCPTool {
	out := make([]warp.MCPTool, 0, len(tools))
	for _, t := range tools {
		schema := map[string]interface{}{"type": "object"}
		if len(t.InputSchema) > 0 {
			var parsed map[string]interface{}
			if err := json.Unmarshal(t.InputSchema, &parsed); err == nil && len(parsed) > 0 {
				schema = parsed
			}
		}
		out = append(out, warp.MCPTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

// AnthropicStream converts upstream events into Anthropic SSE frames:
// message_start, interleaved content blocks, then message_delta carrying
// the stop reason and message_stop.
type AnthropicStream struct {
	ID    string
	model string

	inputTokens  int
	outputTokens int

	contentIndex int
	textOpen     bool
	sawToolUse   bool
	finished     *warp.FinishedEvent
}

// NewAnthropicStream creates a stream converter for one message
func NewAnthropicStream(model string, inputTokens int) *AnthropicStream {
	return &AnthropicStream{
		ID:           "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24],
		model:        model,
		inputTokens:  inputTokens,
		contentIndex: -1,
	}
}

// Start emits the message_start frame
func (s *AnthropicStream) Start() []StreamFrame {
	return []StreamFrame{{
		Event: "message_start",
		Data: map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id":            s.ID,
				"type":          "message",
				"role":          "assistant",
				"model":         s.model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage": map[string]interface{}{
					"input_tokens":  s.inputTokens,
					"output_tokens": 0,
				},
			},
		},
	}}
}

// Push converts one upstream event into zero or more frames
func (s *AnthropicStream) Push(ev *warp.StreamEvent) []StreamFrame {
	if ev.Finished != nil {
		s.finished = ev.Finished
		return nil
	}
	if ev.ClientActions == nil {
		return nil
	}

	var frames []StreamFrame
	for _, out := range agentOutputs(ev.ClientActions) {
		if out.Text != "" {
			if !s.textOpen {
				s.contentIndex++
				s.textOpen = true
				frames = append(frames, StreamFrame{
					Event: "content_block_start",
					Data: map[string]interface{}{
						"type":          "content_block_start",
						"index":         s.contentIndex,
						"content_block": map[string]interface{}{"type": "text", "text": ""},
					},
				})
			}
			frames = append(frames, StreamFrame{
				Event: "content_block_delta",
				Data: map[string]interface{}{
					"type":  "content_block_delta",
					"index": s.contentIndex,
					"delta": map[string]interface{}{"type": "text_delta", "text": out.Text},
				},
			})
			s.outputTokens += len(out.Text) / 4
		}
		if out.ToolCall != nil {
			if s.textOpen {
				frames = append(frames, s.blockStop())
				s.textOpen = false
			}
			name, args := UnwrapToolCall(out.ToolCall.Name, out.ToolCall.ArgsJSON)
			s.contentIndex++
			s.sawToolUse = true
			frames = append(frames,
				StreamFrame{
					Event: "content_block_start",
					Data: map[string]interface{}{
						"type":  "content_block_start",
						"index": s.contentIndex,
						"content_block": map[string]interface{}{
							"type":  "tool_use",
							"id":    toolUseID(out.ToolCall.CallID),
							"name":  name,
							"input": map[string]interface{}{},
						},
					},
				},
				StreamFrame{
					Event: "content_block_delta",
					Data: map[string]interface{}{
						"type":  "content_block_delta",
						"index": s.contentIndex,
						"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": args},
					},
				},
				s.blockStop(),
			)
		}
	}
	return frames
}

// Close ends any open block and emits message_delta plus message_stop
func (s *AnthropicStream) Close() []StreamFrame {
	var frames []StreamFrame
	if s.textOpen {
		frames = append(frames, s.blockStop())
		s.textOpen = false
	}

	outputTokens := s.outputTokens
	if s.finished != nil && s.finished.TokenUsage != nil && s.finished.TokenUsage.TotalOutputTokens > 0 {
		outputTokens = int(s.finished.TokenUsage.TotalOutputTokens)
	}

	frames = append(frames,
		StreamFrame{
			Event: "message_delta",
			Data: map[string]interface{}{
				"type":  "message_delta",
				"delta": map[string]interface{}{"stop_reason": s.stopReason(), "stop_sequence": nil},
				"usage": map[string]interface{}{"output_tokens": outputTokens},
			},
		},
		StreamFrame{
			Event: "message_stop",
			Data:  map[string]interface{}{"type": "message_stop"},
		},
	)
	return frames
}

func (s *AnthropicStream) stopReason() string {
	if s.finished != nil && s.finished.Reason == warp.FinishReasonMaxTokenLimit {
		return "max_tokens"
	}
	if s.sawToolUse {
		return "tool_use"
	}
	return "end_turn"
}

func (s *AnthropicStream) blockStop() StreamFrame {
	return StreamFrame{
		Event: "content_block_stop",
		Data: map[string]interface{}{
			"type":  "content_block_stop",
			"index": s.contentIndex,
		},
	}
}

// CollectMessages drains an upstream event stream into a unary response
func CollectMessages(events <-chan *warp.StreamEvent, errs <-chan error, model string, inputTokens int) (*anthropic.MessagesResponse, error) {
	s := NewAnthropicStream(model, inputTokens)
	var text strings.Builder
	var blocks []anthropic.ContentBlock

	for ev := range events {
		if ev.Finished != nil {
			s.finished = ev.Finished
			continue
		}
		if ev.ClientActions == nil {
			continue
		}
		for _, out := range agentOutputs(ev.ClientActions) {
			if out.Text != "" {
				text.WriteString(out.Text)
				s.outputTokens += len(out.Text) / 4
			}
			if out.ToolCall != nil {
				name, args := UnwrapToolCall(out.ToolCall.Name, out.ToolCall.ArgsJSON)
				input := json.RawMessage(args)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlock{
					Type:  "tool_use",
					ID:    toolUseID(out.ToolCall.CallID),
					Name:  name,
					Input: input,
				})
				s.sawToolUse = true
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	content := make([]anthropic.ContentBlock, 0, len(blocks)+1)
	if text.Len() > 0 {
		content = append(content, anthropic.ContentBlock{Type: "text", Text: text.String()})
	}
	content = append(content, blocks...)
	if len(content) == 0 {
		// An empty turn still carries one empty text block.
		content = append(content, anthropic.ContentBlock{Type: "text", Text: ""})
	}

	outputTokens := s.outputTokens
	if s.finished != nil && s.finished.TokenUsage != nil && s.finished.TokenUsage.TotalOutputTokens > 0 {
		outputTokens = int(s.finished.TokenUsage.TotalOutputTokens)
	}

	return &anthropic.MessagesResponse{
		ID:         s.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: s.stopReason(),
		Usage:      &anthropic.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}, nil
}

// toolUseID normalizes an upstream call id into the toolu_ namespace
func toolUseID(id string) string {
	if id == "" {
		return "toolu_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	if !strings.HasPrefix(id, "toolu_") {
		return "toolu_" + id
	}
	return id
}
