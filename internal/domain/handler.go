package domain

import "time"

// Handler is a roster entry allowed to claim and resolve tickets.
type Handler struct {
	ID         PartyID
	Name       string
	SuperAdmin bool
	AddedAt    time.Time
}
