package events

import (
	"time"

	"github.com/deskline/support-bot/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventTicketClaimed   EventType = "ticket_claimed"
	EventTicketCompleted EventType = "ticket_completed"
	EventTicketRejected  EventType = "ticket_rejected"
	EventTicketCancelled EventType = "ticket_cancelled"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TicketID  string         `json:"ticket_id"`
	ActorID   domain.PartyID `json:"actor_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   TicketPayload  `json:"payload"`
}

// TicketPayload carries the ticket as stored after the change.
type TicketPayload struct {
	Ticket domain.Ticket `json:"ticket"`
	// PreviousHandler is the handler that held the ticket before a
	// transition which clears it.
	PreviousHandler *domain.PartyID `json:"previous_handler,omitempty"`
}
