// Package transport defines what the core needs from the messaging channel.
package transport

import (
	"context"

	"github.com/deskline/support-bot/internal/domain"
)

// Button is one inline action; Data comes back in a callback.
type Button struct {
	Text string
	Data string
}

// Markup is the keyboard attached to a message. Inline actions and a reply
// keyboard are mutually exclusive; Remove hides a previous reply keyboard.
type Markup struct {
	Inline         [][]Button
	Reply          [][]string
	RequestContact bool
	OneTime        bool
	Remove         bool
}

// Content is the body of a message: text, optionally with a media file
// whose caption is the text.
type Content struct {
	Text  string
	Media *domain.Attachment
}

// Outgoing is one message to send.
type Outgoing struct {
	Content Content
	Markup  *Markup
}

// MessageRef addresses a delivered message so it can be edited later.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Transport delivers messages. Every call is best-effort; callers treat
// failures as recoverable.
type Transport interface {
	Send(ctx context.Context, to domain.PartyID, out Outgoing) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, content Content, markup *Markup) error
	EditActions(ctx context.Context, ref MessageRef, markup *Markup) error
}

// CallbackAnswerer shows a transient notice for a pressed button.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// NameResolver looks up the display name of a chat.
type NameResolver interface {
	ChatName(ctx context.Context, id domain.PartyID) (string, error)
}

// FileSender uploads a file as a document.
type FileSender interface {
	SendFile(ctx context.Context, to domain.PartyID, filename string, data []byte, caption string) error
}

// Callback is a pressed inline button.
type Callback struct {
	ID      string
	Data    string
	Message MessageRef
}

// Inbound is one event from a party: a message or a button press.
type Inbound struct {
	From     domain.PartyID
	Name     string
	Username string
	Text     string
	// Contact is the phone number of a shared contact.
	Contact  string
	Media    *domain.Attachment
	Callback *Callback
}

// IsCallback reports whether the event is a button press.
func (in Inbound) IsCallback() bool {
	return in.Callback != nil
}
