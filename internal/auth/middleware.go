// Package auth guards the inbound HTTP routes.
package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// SecretHeader carries the secret registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookMiddleware accepts only requests that carry the webhook secret.
type WebhookMiddleware struct {
	secret []byte
}

// NewWebhookMiddleware constructs middleware. An empty secret lets every
// request through.
func NewWebhookMiddleware(secret string) *WebhookMiddleware {
	return &WebhookMiddleware{secret: []byte(secret)}
}

// Handle enforces the secret header.
func (m *WebhookMiddleware) Handle(c *fiber.Ctx) error {
	if len(m.secret) == 0 {
		return c.Next()
	}
	got := c.Get(SecretHeader)
	if got == "" {
		return apperrors.NewAccessDenied("missing webhook secret")
	}
	if subtle.ConstantTimeCompare([]byte(got), m.secret) != 1 {
		return apperrors.NewAccessDenied("invalid webhook secret")
	}
	return c.Next()
}
