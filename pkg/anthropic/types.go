// Package anthropic provides type definitions for the Anthropic Messages API.
package anthropic

import "encoding/json"

// Message represents an Anthropic message. Content accepts either a plain
// string or an array of content blocks on the wire.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent holds the normalized block list of a message
type MessageContent struct {
	Blocks []ContentBlock
}

// UnmarshalJSON accepts both the string and the block-array forms
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		m.Blocks = []ContentBlock{{Type: "text", Text: text}}
		return nil
	}
	return json.Unmarshal(data, &m.Blocks)
}

// MarshalJSON always emits the block-array form
func (m MessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Blocks)
}

// ContentBlock represents a content block in a message
type ContentBlock struct {
	Type string `json:"type"`

	// Text block fields
	Text string `json:"text,omitempty"`

	// Tool use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   interface{} `json:"content,omitempty"` // string or []ContentBlock
}

// MarshalJSON keeps the text field on text blocks even when empty; an
// empty assistant turn serializes as {"type":"text","text":""}.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.Type == "text" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	}
	type alias ContentBlock
	return json.Marshal(alias(b))
}

// Tool represents a tool definition
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice represents tool selection preference
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// SystemContent represents the system prompt (string or block array)
type SystemContent struct {
	Text string
}

// UnmarshalJSON accepts both the string and the block-array forms
func (s *SystemContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	for i, b := range blocks {
		if b.Type == "text" {
			if i > 0 && s.Text != "" {
				s.Text += "\n"
			}
			s.Text += b.Text
		}
	}
	return nil
}

// MarshalJSON emits the string form
func (s SystemContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Text)
}

// MessagesRequest represents a request to POST /v1/messages
type MessagesRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens"`
	Stream        bool           `json:"stream,omitempty"`
	System        *SystemContent `json:"system,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	TopK          *int           `json:"top_k,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`
	Metadata      interface{}    `json:"metadata,omitempty"`
}

// Usage represents token usage
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse represents a response from POST /v1/messages
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// ErrorDetail is the inner error object of an error response
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the Anthropic-shaped error body
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// NewErrorResponse builds an api_error response body
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: "api_error", Message: message},
	}
}
