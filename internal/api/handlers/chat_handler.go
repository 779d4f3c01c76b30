package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/middleware/validation"
	"github.com/support-rag/backend/internal/pipeline"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/models"
	"github.com/support-rag/backend/pkg/logger"
)

const defaultHistoryLimit = 50

type ChatService interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
	Feedback(ctx context.Context, sessionID, messageID string, helpful bool) error
	History(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)
}

// KnowledgeSource supplies the knowledge base when a request does not carry one.
type KnowledgeSource interface {
	Snapshot() []search.Record
	Size() int
}

type ChatHandler struct {
	chat ChatService
	kb   KnowledgeSource
}

func NewChatHandler(chat ChatService, kb KnowledgeSource) *ChatHandler {
	return &ChatHandler{chat: chat, kb: kb}
}

// prepare fills the defaults a caller may leave out.
func (h *ChatHandler) prepare(c *fiber.Ctx, in *pipeline.Input) {
	in.UserMessage = validation.Sanitize(in.UserMessage)
	if in.UserID == "" {
		in.UserID = c.Get("X-User-ID")
	}
	if len(in.KnowledgeBase) == 0 && h.kb != nil {
		in.KnowledgeBase = h.kb.Snapshot()
		in.KBSize = len(in.KnowledgeBase)
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var in pipeline.Input
	if err := c.BodyParser(&in); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	h.prepare(c, &in)

	result, err := h.chat.Process(c.UserContext(), in)
	if errors.Is(err, pipeline.ErrEmptyMessage) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "userMessage is required",
		})
	}
	if err != nil {
		logger.Error("Failed to process chat turn", zap.String("session_id", in.SessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}

	return c.JSON(result)
}

func (h *ChatHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"sessionId"`
		MessageID string `json:"messageId"`
		Helpful   bool   `json:"helpful"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	err := h.chat.Feedback(c.UserContext(), req.SessionID, req.MessageID, req.Helpful)
	if errors.Is(err, pipeline.ErrTurnNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found or expired",
		})
	}
	if err != nil {
		logger.Error("Failed to record feedback", zap.String("message_id", req.MessageID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = min(n, 500)
	}

	turns, err := h.chat.History(c.UserContext(), sessionID, limit)
	if err != nil {
		logger.Error("Failed to load history", zap.String("session_id", sessionID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{
		"sessionId": sessionID,
		"history":   turns,
	})
}
