package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/transport/telegram"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// EventSink accepts inbound events for asynchronous handling.
type EventSink interface {
	Submit(ctx context.Context, in transport.Inbound)
}

// WebhookHandler receives Telegram updates.
type WebhookHandler struct {
	sink EventSink
	// base outlives the request; queued events run under it.
	base   context.Context
	logger *zap.Logger
}

// NewWebhookHandler builds the handler.
func NewWebhookHandler(base context.Context, sink EventSink, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{sink: sink, base: base, logger: logger}
}

// Receive decodes one update and queues it. Telegram only needs the 200.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	var update telegram.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		return apperrors.NewValidationError("invalid update payload", map[string]any{"error": err.Error()})
	}

	in, ok := update.Inbound()
	if !ok {
		h.logger.Debug("update ignored", zap.Int64("update_id", update.UpdateID))
		return c.JSON(fiber.Map{"ok": true})
	}
	h.sink.Submit(h.base, in)
	return c.JSON(fiber.Map{"ok": true})
}
