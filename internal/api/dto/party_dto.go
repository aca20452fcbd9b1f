package dto

import (
	"time"

	"github.com/deskline/support-bot/internal/domain"
)

// Requester is the JSON form of a registered party.
type Requester struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// FromRequester converts a domain requester.
func FromRequester(r domain.Requester) Requester {
	return Requester{ID: int64(r.ID), Name: r.Name, Username: r.Username, RegisteredAt: r.RegisteredAt}
}

// Handler is the JSON form of a roster entry.
type Handler struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SuperAdmin bool      `json:"super_admin"`
	AddedAt    time.Time `json:"added_at"`
}

// FromHandler converts a domain handler.
func FromHandler(h domain.Handler) Handler {
	return Handler{ID: int64(h.ID), Name: h.Name, SuperAdmin: h.SuperAdmin, AddedAt: h.AddedAt}
}
