// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/adapter"
	"github.com/poemonsense/warp-proxy-go/internal/dispatcher"
	"github.com/poemonsense/warp-proxy-go/internal/server/sse"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
	"github.com/poemonsense/warp-proxy-go/pkg/openai"
)

// ChatHandler serves the OpenAI-compatible chat completions endpoint
type ChatHandler struct {
	dispatcher *dispatcher.Dispatcher
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(d *dispatcher.Dispatcher) *ChatHandler {
	return &ChatHandler{dispatcher: d}
}

// ChatCompletions handles POST /v1/chat/completions
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, openai.NewErrorResponse(
			"Invalid request body: "+err.Error(), "invalid_request_error", "invalid_body"))
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, openai.NewErrorResponse(
			"messages must not be empty", "invalid_request_error", "invalid_messages"))
		return
	}

	query, history, toolResults := adapter.ExtractChat(req.Messages)

	result, err := h.dispatcher.Dispatch(c.Request.Context(), &dispatcher.Request{
		Query:       query,
		Model:       req.Model,
		History:     history,
		ToolResults: toolResults,
		Tools:       adapter.ChatToolsToMCP(req.Tools),
		Endpoint:    "openai",
	})
	if err != nil {
		status, message := classifyDispatchError(err)
		c.JSON(status, openai.NewErrorResponse(message, "api_error", ""))
		return
	}

	if req.Stream {
		h.streamResponse(c, &req, result)
		return
	}

	resp, err := adapter.CollectChat(result.Events, result.Errs, req.Model)
	if err != nil {
		c.JSON(http.StatusBadGateway, openai.NewErrorResponse(err.Error(), "api_error", ""))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) streamResponse(c *gin.Context, req *openai.ChatCompletionRequest, result *dispatcher.Result) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, openai.NewErrorResponse(err.Error(), "api_error", ""))
		return
	}
	writer.SetHeaders()

	stream := adapter.NewOpenAIStream(req.Model)
	for ev := range result.Events {
		for _, chunk := range stream.Push(ev) {
			if err := writer.WriteJSON(chunk); err != nil {
				utils.Warn("[API] Client disconnected mid-stream: %v", err)
				return
			}
		}
	}
	if err := <-result.Errs; err != nil {
		utils.Warn("[API] Upstream stream ended with error: %v", err)
	}

	for _, chunk := range stream.Close() {
		if err := writer.WriteJSON(chunk); err != nil {
			return
		}
	}
	writer.WriteData([]byte("[DONE]"))
}

// classifyDispatchError maps dispatch failures to an HTTP status and a
// client-facing message.
func classifyDispatchError(err error) (int, string) {
	var noAccounts *account.NoAccountsError
	if errors.As(err, &noAccounts) {
		if noAccounts.AllRateLimited {
			return http.StatusServiceUnavailable, "All accounts are rate limited, please try again later"
		}
		return http.StatusServiceUnavailable, "No accounts available"
	}
	var notInit *account.NotInitializedError
	if errors.As(err, &notInit) {
		return http.StatusServiceUnavailable, "Account pool not initialized"
	}
	if ue, ok := warp.AsUpstreamError(err); ok {
		// Every account was tried and denied.
		return http.StatusInternalServerError, upstreamMessage(ue)
	}
	return http.StatusInternalServerError, err.Error()
}

// upstreamMessage extracts a readable message from an upstream error body
func upstreamMessage(ue *warp.UpstreamError) string {
	var parsed struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(ue.Body), &parsed) == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return ue.Error()
}
