// Package telegram implements the transport over the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/config"
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
)

// Client talks to the Bot API with fiber's HTTP client agent.
type Client struct {
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewClient builds a client for the configured bot.
func NewClient(cfg config.TelegramConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.APIBaseURL, "/") + "/bot" + cfg.Token,
		timeout:  timeout,
		logger:   logger,
	}
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      Chat  `json:"chat"`
}

// Send delivers text, or media with the text as caption.
func (c *Client) Send(ctx context.Context, to domain.PartyID, out transport.Outgoing) (transport.MessageRef, error) {
	payload := map[string]any{
		"chat_id":    int64(to),
		"parse_mode": "HTML",
	}
	if markup := encodeMarkup(out.Markup); markup != nil {
		payload["reply_markup"] = markup
	}

	method := "sendMessage"
	if media := out.Content.Media; media != nil {
		field, err := mediaField(media.Kind)
		if err != nil {
			return transport.MessageRef{}, err
		}
		method = "send" + strings.ToUpper(field[:1]) + field[1:]
		payload[field] = media.FileID
		if out.Content.Text != "" {
			payload["caption"] = out.Content.Text
		}
	} else {
		payload["text"] = out.Content.Text
	}

	var msg sentMessage
	if err := c.call(ctx, method, payload, &msg); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// EditMessage replaces the text (or caption) and keyboard of a message.
func (c *Client) EditMessage(ctx context.Context, ref transport.MessageRef, content transport.Content, markup *transport.Markup) error {
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"parse_mode": "HTML",
	}
	if encoded := encodeMarkup(markup); encoded != nil {
		payload["reply_markup"] = encoded
	}
	if content.Media != nil {
		payload["caption"] = content.Text
		return c.call(ctx, "editMessageCaption", payload, nil)
	}

	payload["text"] = content.Text
	err := c.call(ctx, "editMessageText", payload, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "no text in the message") {
		delete(payload, "text")
		payload["caption"] = content.Text
		return c.call(ctx, "editMessageCaption", payload, nil)
	}
	return err
}

// EditActions swaps the inline keyboard; nil removes it.
func (c *Client) EditActions(ctx context.Context, ref transport.MessageRef, markup *transport.Markup) error {
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	}
	if encoded := encodeMarkup(markup); encoded != nil {
		payload["reply_markup"] = encoded
	}
	return c.call(ctx, "editMessageReplyMarkup", payload, nil)
}

// AnswerCallback acknowledges a button press with an optional notice.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
		"show_alert":        alert,
	}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// ChatName resolves a chat's display name.
func (c *Client) ChatName(ctx context.Context, id domain.PartyID) (string, error) {
	var chat Chat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": int64(id)}, &chat); err != nil {
		return "", err
	}
	if name := strings.TrimSpace(chat.FirstName + " " + chat.LastName); name != "" {
		return name, nil
	}
	if chat.Username != "" {
		return "@" + chat.Username, nil
	}
	return chat.Title, nil
}

// SendFile uploads data as a document.
func (c *Client) SendFile(ctx context.Context, to domain.PartyID, filename string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("chat_id", strconv.FormatInt(int64(to), 10))
	if caption != "" {
		args.Set("caption", caption)
	}

	agent := fiber.Post(c.endpoint + "/sendDocument")
	agent.Timeout(c.deadline(ctx))
	agent.FileData(&fiber.FormFile{Fieldname: "document", Name: filename, Content: data}).MultipartForm(args)
	_, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("telegram sendDocument: %w", errors.Join(errs...))
	}
	return decodeResponse("sendDocument", body, nil)
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agent := fiber.Post(c.endpoint + "/" + method)
	agent.Timeout(c.deadline(ctx))
	agent.JSON(payload)
	_, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("telegram %s: %w", method, errors.Join(errs...))
	}
	return decodeResponse(method, body, result)
}

// deadline caps the client timeout by the context deadline.
func (c *Client) deadline(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 && remaining < c.timeout {
			return remaining
		}
	}
	return c.timeout
}

func decodeResponse(method string, body []byte, result any) error {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !resp.OK {
		return &APIError{Method: method, Code: resp.ErrorCode, Description: resp.Description}
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func mediaField(kind domain.MediaKind) (string, error) {
	switch kind {
	case domain.MediaPhoto:
		return "photo", nil
	case domain.MediaDocument:
		return "document", nil
	case domain.MediaVideo:
		return "video", nil
	}
	return "", fmt.Errorf("unsupported media kind %q", kind)
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyButton struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"request_contact,omitempty"`
}

func encodeMarkup(m *transport.Markup) any {
	switch {
	case m == nil:
		return nil
	case m.Remove:
		return map[string]any{"remove_keyboard": true}
	case len(m.Inline) > 0:
		rows := make([][]inlineButton, 0, len(m.Inline))
		for _, row := range m.Inline {
			buttons := make([]inlineButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, inlineButton{Text: b.Text, CallbackData: b.Data})
			}
			rows = append(rows, buttons)
		}
		return map[string]any{"inline_keyboard": rows}
	case len(m.Reply) > 0:
		rows := make([][]replyButton, 0, len(m.Reply))
		for i, row := range m.Reply {
			buttons := make([]replyButton, 0, len(row))
			for j, text := range row {
				// Only the leading button shares the contact.
				buttons = append(buttons, replyButton{Text: text, RequestContact: m.RequestContact && i == 0 && j == 0})
			}
			rows = append(rows, buttons)
		}
		return map[string]any{
			"keyboard":          rows,
			"resize_keyboard":   true,
			"one_time_keyboard": m.OneTime,
		}
	}
	return nil
}
