package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deskline/support-bot/internal/domain"
)

type historyRepository struct {
	db *sql.DB
}

func (r *historyRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO ticket_history (ticket_id, actor_id, from_status, to_status, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		history.TicketID,
		int64(history.ActorID),
		string(history.FromStatus),
		string(history.ToStatus),
		history.Note,
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	history.ID = id
	history.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (r *historyRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ticket_id, actor_id, from_status, to_status, note, created_at
		 FROM ticket_history WHERE ticket_id = ? ORDER BY id ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var (
			history   domain.TicketHistory
			actorID   int64
			from, to  string
			createdAt int64
		)
		if err := rows.Scan(&history.ID, &history.TicketID, &actorID, &from, &to, &history.Note, &createdAt); err != nil {
			return nil, err
		}
		history.ActorID = domain.PartyID(actorID)
		history.FromStatus = domain.TicketStatus(from)
		history.ToStatus = domain.TicketStatus(to)
		history.CreatedAt = fromMillis(createdAt)
		result = append(result, history)
	}
	return result, rows.Err()
}

type broadcastRepository struct {
	db *sql.DB
}

func (r *broadcastRepository) Create(ctx context.Context, broadcast *domain.Broadcast) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO broadcasts (composer_id, kind, content_ref, text, delivered, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(broadcast.ComposerID),
		string(broadcast.Kind),
		broadcast.ContentRef,
		broadcast.Text,
		broadcast.Delivered,
		broadcast.Failed,
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert broadcast: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	broadcast.ID = id
	broadcast.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (r *broadcastRepository) List(ctx context.Context, limit int) ([]domain.Broadcast, error) {
	query := `SELECT id, composer_id, kind, content_ref, text, delivered, failed, created_at
	          FROM broadcasts ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	var result []domain.Broadcast
	for rows.Next() {
		var (
			broadcast  domain.Broadcast
			composerID int64
			kind       string
			createdAt  int64
		)
		if err := rows.Scan(
			&broadcast.ID,
			&composerID,
			&kind,
			&broadcast.ContentRef,
			&broadcast.Text,
			&broadcast.Delivered,
			&broadcast.Failed,
			&createdAt,
		); err != nil {
			return nil, err
		}
		broadcast.ComposerID = domain.PartyID(composerID)
		broadcast.Kind = domain.ContentKind(kind)
		broadcast.CreatedAt = fromMillis(createdAt)
		result = append(result, broadcast)
	}
	return result, rows.Err()
}
