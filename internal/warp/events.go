// Package warp implements the upstream Warp AI protocol: token and login
// lifecycle, binary request construction, and SSE stream decoding.
package warp

// StreamEvent is one normalized upstream event. Exactly one of Init,
// ClientActions, or Finished is set; RawPayload carries the original
// bytes of the decoded frame.
type StreamEvent struct {
	Init          *InitEvent
	ClientActions *ClientActions
	Finished      *FinishedEvent
	RawPayload    []byte
}

// InitEvent opens a stream and carries the server-assigned conversation id
type InitEvent struct {
	ConversationID string
	TaskID         string
}

// ClientActions carries a batch of UI actions from the agent
type ClientActions struct {
	Actions []Action
}

// Action is the union of the action kinds the proxy understands
type Action struct {
	CreateTask             *CreateTask
	AddMessagesToTask      *AddMessagesToTask
	AppendToMessageContent *AppendToMessageContent
}

// CreateTask announces a new task
type CreateTask struct {
	Task Task
}

// Task identifies an upstream task
type Task struct {
	ID string
}

// AddMessagesToTask appends whole messages to a task
type AddMessagesToTask struct {
	TaskID   string
	Messages []TaskMessage
}

// AppendToMessageContent carries an incremental delta for one message
type AppendToMessageContent struct {
	TaskID    string
	MessageID string
	Message   TaskMessage
}

// TaskMessage is one agent message or message fragment
type TaskMessage struct {
	ID          string
	AgentOutput *AgentOutput
}

// AgentOutput carries a text delta and/or a tool call
type AgentOutput struct {
	Text     string
	ToolCall *ToolCallOutput
}

// ToolCallOutput is a (possibly partial) tool invocation from the agent
type ToolCallOutput struct {
	CallID   string
	Name     string
	ArgsJSON string
}

// Finish reasons
const (
	FinishReasonDone          = ""
	FinishReasonMaxTokenLimit = "max_token_limit"
	FinishReasonQuotaLimit    = "quota_limit"
)

// FinishedEvent ends a stream
type FinishedEvent struct {
	Reason     string
	TokenUsage *TokenUsage
}

// TokenUsage carries prompt/completion token counts
type TokenUsage struct {
	TotalInputTokens  int64
	TotalOutputTokens int64
}
