// Package sqlite provides SQLite-backed repositories.
package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/deskline/support-bot/internal/repository"
)

// NewStore builds every repository on one SQLite handle.
func NewStore(db *sql.DB) repository.Store {
	return repository.Store{
		Tickets:    &ticketRepository{db: db},
		History:    &historyRepository{db: db},
		Requesters: &requesterRepository{db: db},
		Handlers:   &handlerRepository{db: db},
		Broadcasts: &broadcastRepository{db: db},
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// placeholders returns "?,?,?" for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	out := v.String
	return &out
}
