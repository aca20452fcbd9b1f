package dto

import (
	"time"

	"github.com/deskline/support-bot/internal/domain"
)

// Ticket is the JSON form of a ticket.
type Ticket struct {
	ID            string             `json:"id"`
	RequesterID   int64              `json:"requester_id"`
	Name          string             `json:"name"`
	Phone         string             `json:"phone"`
	Description   string             `json:"description"`
	Attachment    *domain.Attachment `json:"attachment,omitempty"`
	Priority      string             `json:"priority"`
	Status        string             `json:"status"`
	HandlerID     *int64             `json:"handler_id,omitempty"`
	HandlerName   string             `json:"handler_name,omitempty"`
	DeclineReason *string            `json:"decline_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// FromTicket converts a domain ticket.
func FromTicket(t domain.Ticket) Ticket {
	out := Ticket{
		ID:            t.ID,
		RequesterID:   int64(t.RequesterID),
		Name:          t.Name,
		Phone:         t.Phone,
		Description:   t.Description,
		Attachment:    t.Attachment,
		Priority:      string(t.Priority),
		Status:        string(t.Status),
		HandlerName:   t.HandlerName,
		DeclineReason: t.DeclineReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if t.HandlerID != nil {
		id := int64(*t.HandlerID)
		out.HandlerID = &id
	}
	return out
}

// History is the JSON form of one status change.
type History struct {
	TicketID   string    `json:"ticket_id"`
	ActorID    int64     `json:"actor_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FromHistory converts an audit entry.
func FromHistory(h domain.TicketHistory) History {
	return History{
		TicketID:   h.TicketID,
		ActorID:    int64(h.ActorID),
		FromStatus: string(h.FromStatus),
		ToStatus:   string(h.ToStatus),
		Note:       h.Note,
		CreatedAt:  h.CreatedAt,
	}
}

// Broadcast is the JSON form of a broadcast record.
type Broadcast struct {
	ID         int64     `json:"id"`
	ComposerID int64     `json:"composer_id"`
	Kind       string    `json:"kind"`
	ContentRef string    `json:"content_ref,omitempty"`
	Text       string    `json:"text"`
	Delivered  int       `json:"delivered"`
	Failed     int       `json:"failed"`
	CreatedAt  time.Time `json:"created_at"`
}

// FromBroadcast converts a domain broadcast record.
func FromBroadcast(b domain.Broadcast) Broadcast {
	return Broadcast{
		ID:         b.ID,
		ComposerID: int64(b.ComposerID),
		Kind:       string(b.Kind),
		ContentRef: b.ContentRef,
		Text:       b.Text,
		Delivered:  b.Delivered,
		Failed:     b.Failed,
		CreatedAt:  b.CreatedAt,
	}
}

// Export is the document written by a store export.
type Export struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Tickets     []Ticket    `json:"tickets"`
	Requesters  []Requester `json:"requesters"`
	Handlers    []Handler   `json:"handlers"`
	Broadcasts  []Broadcast `json:"broadcasts"`
	History     []History   `json:"history"`
}
