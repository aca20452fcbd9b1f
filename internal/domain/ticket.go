package domain

import (
	"regexp"
	"strings"
	"time"
)

// PartyID identifies a chat party (requester or handler).
type PartyID int64

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "PENDING"
	TicketStatusAccepted  TicketStatus = "ACCEPTED"
	TicketStatusCompleted TicketStatus = "COMPLETED"
	TicketStatusRejected  TicketStatus = "REJECTED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketStatusCompleted, TicketStatusRejected, TicketStatusCancelled:
		return true
	}
	return false
}

// Label is the human readable status name.
func (s TicketStatus) Label() string {
	switch s {
	case TicketStatusPending:
		return "Pending"
	case TicketStatusAccepted:
		return "Accepted"
	case TicketStatusCompleted:
		return "Completed"
	case TicketStatusRejected:
		return "Rejected"
	case TicketStatusCancelled:
		return "Cancelled"
	}
	return string(s)
}

// TicketPriority enumerates requester-chosen urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Valid reports whether p is one of the three fixed priorities.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// MediaKind is the kind of an attached file reference.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// Attachment references a file already stored by the messaging platform.
type Attachment struct {
	FileID string    `json:"file_id"`
	Kind   MediaKind `json:"kind"`
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	RequesterID   PartyID
	Name          string
	Phone         string
	Description   string
	Attachment    *Attachment
	Priority      TicketPriority
	Status        TicketStatus
	HandlerID     *PartyID
	HandlerName   string
	DeclineReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TicketChange is the write half of a conditional status transition.
type TicketChange struct {
	To            TicketStatus
	HandlerID     *PartyID
	HandlerName   string
	ClearHandler  bool
	DeclineReason *string
}

// PriorState is what a conditional transition replaced, as seen by the
// write itself.
type PriorState struct {
	Status    TicketStatus
	HandlerID *PartyID
}

var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

var phoneNoise = regexp.MustCompile(`[^\d+]`)

// NormalizePhone strips everything but digits and "+" and validates the
// result. The second return value is false when the number is malformed.
func NormalizePhone(raw string) (string, bool) {
	clean := phoneNoise.ReplaceAllString(strings.TrimSpace(raw), "")
	if !phonePattern.MatchString(clean) {
		return clean, false
	}
	return clean, true
}
