package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/middleware/validation"
	"github.com/support-rag/backend/internal/pipeline"
	"github.com/support-rag/backend/pkg/logger"
)

type WebSocketHandler struct {
	chat    *ChatHandler
	timeout time.Duration
}

func NewWebSocketHandler(chat *ChatHandler, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WebSocketHandler{chat: chat, timeout: timeout}
}

type wsRequest struct {
	Type string `json:"type"`
	pipeline.Input
}

type wsFrame struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Error   string           `json:"error,omitempty"`
	Result  *pipeline.Result `json:"result,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "chat" {
			continue
		}

		msg.Input.UserMessage = validation.Sanitize(msg.Input.UserMessage)
		if msg.Input.UserID == "" {
			msg.Input.UserID = c.Headers("X-User-ID")
		}
		if len(msg.Input.KnowledgeBase) == 0 && h.chat.kb != nil {
			msg.Input.KnowledgeBase = h.chat.kb.Snapshot()
			msg.Input.KBSize = len(msg.Input.KnowledgeBase)
		}

		if err := h.streamResponse(c, msg.Input); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process message")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, in pipeline.Input) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := c.WriteJSON(wsFrame{Type: "status", Content: "processing"}); err != nil {
		return err
	}

	result, err := h.chat.chat.Process(ctx, in)
	if err != nil {
		return err
	}

	for _, chunk := range Chunks(result.Reply) {
		if err := c.WriteJSON(wsFrame{Type: "chunk", Content: chunk}); err != nil {
			return err
		}
	}

	return c.WriteJSON(wsFrame{Type: "complete", Result: result})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(wsFrame{Type: "error", Error: errorMsg}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}

// Chunks splits text into streaming pieces. Every word but the last on a
// line keeps one trailing space and each newline is its own piece.
func Chunks(text string) []string {
	var out []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out = append(out, "\n")
		}
		words := strings.Fields(line)
		for j, w := range words {
			if j < len(words)-1 {
				w += " "
			}
			out = append(out, w)
		}
	}
	return out
}

// RequireUpgrade rejects plain HTTP requests on the websocket route.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
