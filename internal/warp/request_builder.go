package warp

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

var (
	supportedToolTypes       = config.SupportedToolTypes
	clientSupportedToolTypes = config.ClientSupportedToolTypes
)

// HistoryMessage is one prior turn folded into the outbound query
type HistoryMessage struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolCalls  []HistoryToolCall
}

// HistoryToolCall summarizes an assistant tool call in the history
type HistoryToolCall struct {
	Name      string
	Arguments string
}

// ToolResult is a client-supplied tool execution result
type ToolResult struct {
	ToolCallID string
	Content    string
}

// BuildOptions parameterizes request construction
type BuildOptions struct {
	Query              string
	Model              string
	History            []HistoryMessage
	TaskID             string
	Tools              []MCPTool
	ToolResults        []ToolResult
	DisableWarpTools   bool
	MaxHistoryMessages int
	MaxToolResults     int
}

// BuildRequest produces the upstream binary request. A turn with no
// history, no task id, and no tool results uses the verified template;
// everything else assembles the schema form with the dialog folded into a
// single query text.
func BuildRequest(opts BuildOptions) ([]byte, error) {
	if len(opts.History) == 0 && strings.TrimSpace(opts.TaskID) == "" && len(opts.ToolResults) == 0 {
		return BuildFromTemplate(opts.Query, opts.DisableWarpTools, opts.Tools)
	}
	return buildWithHistory(opts)
}

// buildWithHistory assembles the continuation/tool-result request.
func buildWithHistory(opts BuildOptions) ([]byte, error) {
	history := opts.History
	if opts.MaxHistoryMessages > 0 && len(history) > opts.MaxHistoryMessages {
		history = history[len(history)-opts.MaxHistoryMessages:]
	}
	toolResults := opts.ToolResults
	if opts.MaxToolResults > 0 && len(toolResults) > opts.MaxToolResults {
		toolResults = toolResults[len(toolResults)-opts.MaxToolResults:]
	}

	query := FoldDialog(history, toolResults, opts.Query)

	pwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	now := time.Now()
	env := RequestEnv{
		Pwd:         pwd,
		Home:        home,
		Platform:    "MacOS",
		ShellName:   "zsh",
		ShellVer:    "5.9",
		TimeSeconds: now.Unix(),
		TimeNanos:   int32(now.Nanosecond()),
	}

	var input []byte
	input = appendMessage(input, 1, encodeContext(env))
	input = appendMessage(input, 2, encodeUserQuery(query, false))

	var req []byte
	req = appendMessage(req, 1, nil) // task_context stays empty
	req = appendMessage(req, 2, input)
	req = appendMessage(req, 3, encodeSettings(config.BaseModel(opts.Model), opts.DisableWarpTools))
	// conversation_id is never set here: a populated id makes the
	// upstream return empty responses, so continuity rides in the query.
	req = appendMessage(req, 4, encodeMetadata(""))

	if len(opts.Tools) > 0 {
		mcp, err := encodeMCPContext(opts.Tools)
		if err != nil {
			return nil, err
		}
		req = appendMessage(req, 7, mcp)
	}

	utils.Debug("[RequestBuilder] Built continuation request: %d bytes, %d history message(s), %d tool result(s)",
		len(req), len(history), len(toolResults))
	return req, nil
}

// FoldDialog renders prior turns and tool results as one query text.
// Each message becomes a "User:"/"Assistant:"/"Tool result (<id>):" line;
// lines are joined by blank lines and the current turn comes last.
func FoldDialog(history []HistoryMessage, toolResults []ToolResult, query string) string {
	parts := make([]string, 0, len(history)+len(toolResults)+1)

	for _, msg := range history {
		switch msg.Role {
		case "user":
			parts = append(parts, "User: "+msg.Content)
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				calls := make([]string, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					calls = append(calls, fmt.Sprintf("Called %s with args: %s", tc.Name, tc.Arguments))
				}
				parts = append(parts, fmt.Sprintf("Assistant: %s\nTool calls: %s", msg.Content, strings.Join(calls, "; ")))
			} else {
				parts = append(parts, "Assistant: "+msg.Content)
			}
		case "tool":
			parts = append(parts, fmt.Sprintf("Tool result (%s): %s", msg.ToolCallID, msg.Content))
		}
	}

	for _, tr := range toolResults {
		parts = append(parts, fmt.Sprintf("Tool result (%s): %s", tr.ToolCallID, tr.Content))
	}

	if strings.TrimSpace(query) != "" {
		parts = append(parts, "User: "+query)
	} else if len(toolResults) > 0 {
		parts = append(parts, "User: Please analyze the tool results above and provide your response.")
	}

	return strings.Join(parts, "\n\n")
}
