package domain

import "time"

// TicketHistory is an immutable audit trail entry for a status change.
type TicketHistory struct {
	ID         int64
	TicketID   string
	ActorID    PartyID
	FromStatus TicketStatus
	ToStatus   TicketStatus
	Note       string
	CreatedAt  time.Time
}
