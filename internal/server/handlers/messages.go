package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/warp-proxy-go/internal/adapter"
	"github.com/poemonsense/warp-proxy-go/internal/dispatcher"
	"github.com/poemonsense/warp-proxy-go/internal/server/sse"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
	"github.com/poemonsense/warp-proxy-go/pkg/anthropic"
)

// MessagesHandler serves the Anthropic-compatible messages endpoint
type MessagesHandler struct {
	dispatcher *dispatcher.Dispatcher
}

// NewMessagesHandler creates a new MessagesHandler
func NewMessagesHandler(d *dispatcher.Dispatcher) *MessagesHandler {
	return &MessagesHandler{dispatcher: d}
}

// Messages handles POST /v1/messages
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, anthropic.NewErrorResponse("Invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, anthropic.NewErrorResponse("messages must not be empty"))
		return
	}

	query, history, toolResults := adapter.ExtractMessages(&req)

	// Rough prompt size estimate from the folded dialog text.
	inputTokens := len(warp.FoldDialog(history, toolResults, query)) / 4

	result, err := h.dispatcher.Dispatch(c.Request.Context(), &dispatcher.Request{
		Query:       query,
		Model:       req.Model,
		History:     history,
		ToolResults: toolResults,
		Tools:       adapter.MessagesToolsToMCP(req.Tools),
		Endpoint:    "anthropic",
	})
	if err != nil {
		status, message := classifyDispatchError(err)
		c.JSON(status, anthropic.NewErrorResponse(message))
		return
	}

	if req.Stream {
		h.streamResponse(c, &req, result, inputTokens)
		return
	}

	resp, err := adapter.CollectMessages(result.Events, result.Errs, req.Model, inputTokens)
	if err != nil {
		c.JSON(http.StatusBadGateway, anthropic.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CountTokens handles POST /v1/messages/count_tokens with the same
// length-based estimate the streaming path uses.
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, anthropic.NewErrorResponse("Invalid request body: "+err.Error()))
		return
	}

	query, history, toolResults := adapter.ExtractMessages(&req)
	c.JSON(http.StatusOK, gin.H{
		"input_tokens": len(warp.FoldDialog(history, toolResults, query)) / 4,
	})
}

func (h *MessagesHandler) streamResponse(c *gin.Context, req *anthropic.MessagesRequest, result *dispatcher.Result, inputTokens int) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, anthropic.NewErrorResponse(err.Error()))
		return
	}
	writer.SetHeaders()

	stream := adapter.NewAnthropicStream(req.Model, inputTokens)
	for _, frame := range stream.Start() {
		if err := writer.WriteEvent(frame.Event, frame.Data); err != nil {
			return
		}
	}

	for ev := range result.Events {
		for _, frame := range stream.Push(ev) {
			if err := writer.WriteEvent(frame.Event, frame.Data); err != nil {
				utils.Warn("[API] Client disconnected mid-stream: %v", err)
				return
			}
		}
	}
	if err := <-result.Errs; err != nil {
		utils.Warn("[API] Upstream stream ended with error: %v", err)
		// Tell the client before the terminal frames close the message.
		writer.WriteError("api_error", "upstream stream interrupted")
	}

	for _, frame := range stream.Close() {
		if err := writer.WriteEvent(frame.Event, frame.Data); err != nil {
			return
		}
	}
}
