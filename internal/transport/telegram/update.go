package telegram

import (
	"strings"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
)

// Update is the subset of a Bot API update the bot consumes.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Chat is a conversation; for private chats its id equals the user id.
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Contact   *Contact    `json:"contact,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Document  *FileRef    `json:"document,omitempty"`
	Video     *FileRef    `json:"video,omitempty"`
}

// Contact is a shared phone contact.
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	UserID      int64  `json:"user_id"`
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FileRef is a document or video.
type FileRef struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// CallbackQuery is a pressed inline button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

// Inbound converts the update into a transport event. It reports false for
// updates the bot ignores: bots, non-private chats, unsupported kinds.
func (u Update) Inbound() (transport.Inbound, bool) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.From.IsBot {
			return transport.Inbound{}, false
		}
		in := fromUser(cb.From)
		in.Callback = &transport.Callback{ID: cb.ID, Data: cb.Data}
		if cb.Message != nil {
			in.Callback.Message = transport.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID}
		}
		return in, true
	case u.Message != nil:
		msg := u.Message
		if msg.From == nil || msg.From.IsBot || (msg.Chat.Type != "" && msg.Chat.Type != "private") {
			return transport.Inbound{}, false
		}
		in := fromUser(*msg.From)
		in.Text = strings.TrimSpace(msg.Text)
		if msg.Contact != nil {
			in.Contact = msg.Contact.PhoneNumber
		}
		switch {
		case len(msg.Photo) > 0:
			in.Media = &domain.Attachment{FileID: msg.Photo[len(msg.Photo)-1].FileID, Kind: domain.MediaPhoto}
		case msg.Document != nil:
			in.Media = &domain.Attachment{FileID: msg.Document.FileID, Kind: domain.MediaDocument}
		case msg.Video != nil:
			in.Media = &domain.Attachment{FileID: msg.Video.FileID, Kind: domain.MediaVideo}
		}
		return in, true
	}
	return transport.Inbound{}, false
}

func fromUser(u User) transport.Inbound {
	return transport.Inbound{
		From:     domain.PartyID(u.ID),
		Name:     strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username: u.Username,
	}
}
