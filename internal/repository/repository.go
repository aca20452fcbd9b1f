package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskline/support-bot/internal/domain"
)

// ErrNotFound is returned by single-record lookups of every backend.
var ErrNotFound = errors.New("record not found")

// Store bundles the repositories of one backend.
type Store struct {
	Tickets    TicketRepository
	History    TicketHistoryRepository
	Requesters RequesterRepository
	Handlers   HandlerRepository
	Broadcasts BroadcastRepository
}

// NewPostgresStore builds every repository on one pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Tickets:    NewTicketRepository(pool),
		History:    NewTicketHistoryRepository(pool),
		Requesters: NewRequesterRepository(pool),
		Handlers:   NewHandlerRepository(pool),
		Broadcasts: NewBroadcastRepository(pool),
	}
}

// StatusStrings converts statuses to driver-friendly strings.
func StatusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// PriorFromColumns builds the replaced state of a transition.
func PriorFromColumns(status string, handlerID *int64) *domain.PriorState {
	return &domain.PriorState{Status: domain.TicketStatus(status), HandlerID: PartyIDPtr(handlerID)}
}

// PartyIDPtr converts a nullable column value.
func PartyIDPtr(v *int64) *domain.PartyID {
	if v == nil {
		return nil
	}
	id := domain.PartyID(*v)
	return &id
}

// AttachmentFrom rebuilds an attachment from its nullable columns.
func AttachmentFrom(ref, kind *string) *domain.Attachment {
	if ref == nil || *ref == "" {
		return nil
	}
	att := &domain.Attachment{FileID: *ref}
	if kind != nil {
		att.Kind = domain.MediaKind(*kind)
	}
	return att
}

// AttachmentColumns splits an attachment into nullable column values.
func AttachmentColumns(att *domain.Attachment) (ref, kind *string) {
	if att == nil {
		return nil, nil
	}
	r, k := att.FileID, string(att.Kind)
	return &r, &k
}
