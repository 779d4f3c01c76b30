package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

type Config struct {
	MaxMessageLength int
	MaxHistoryTurns  int
	Logger           *zap.Logger
}

type body struct {
	UserMessage string            `json:"userMessage"`
	SessionID   string            `json:"sessionId"`
	UserID      string            `json:"userId"`
	MessageID   string            `json:"messageId"`
	ChatHistory []json.RawMessage `json:"chatHistory"`
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 4000
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()
		if !strings.HasSuffix(path, "/chat") && !strings.HasSuffix(path, "/feedback") {
			return c.Next()
		}

		var req body
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if msg := checkIDs(req, strings.HasSuffix(path, "/feedback")); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
		}

		if strings.HasSuffix(path, "/chat") {
			if msg := checkMessage(req, cfg); msg != "" {
				if msg == "Invalid message content" {
					cfg.Logger.Warn("Potential XSS attempt",
						zap.String("ip", c.IP()),
						zap.String("session_id", req.SessionID),
					)
				}
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
			}
		}

		return c.Next()
	}
}

func checkIDs(req body, feedback bool) string {
	if !idPattern.MatchString(req.SessionID) {
		return "sessionId is required and must be a plain identifier"
	}
	if req.UserID != "" && !idPattern.MatchString(req.UserID) {
		return "userId must be a plain identifier"
	}
	if feedback && !idPattern.MatchString(req.MessageID) {
		return "messageId is required and must be a plain identifier"
	}
	return ""
}

func checkMessage(req body, cfg Config) string {
	msg := strings.TrimSpace(req.UserMessage)
	switch {
	case msg == "":
		return "userMessage is required"
	case utf8.RuneCountInString(msg) > cfg.MaxMessageLength:
		return "userMessage exceeds maximum length"
	case len(req.ChatHistory) > cfg.MaxHistoryTurns:
		return "chatHistory has too many turns"
	case xssPattern.MatchString(msg):
		return "Invalid message content"
	}
	return ""
}

// Sanitize trims the input and removes NUL bytes.
func Sanitize(input string) string {
	return strings.ReplaceAll(strings.TrimSpace(input), "\x00", "")
}
