package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskline/support-bot/internal/domain"
)

// BroadcastRepository is the append-only broadcast log.
type BroadcastRepository interface {
	Create(ctx context.Context, broadcast *domain.Broadcast) error
	// List returns the newest records first; limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]domain.Broadcast, error)
}

type broadcastRepository struct {
	pool *pgxpool.Pool
}

// NewBroadcastRepository builds repository.
func NewBroadcastRepository(pool *pgxpool.Pool) BroadcastRepository {
	return &broadcastRepository{pool: pool}
}

func (r *broadcastRepository) Create(ctx context.Context, broadcast *domain.Broadcast) error {
	const query = `
        INSERT INTO broadcasts (composer_id, kind, content_ref, text, delivered, failed)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		int64(broadcast.ComposerID),
		string(broadcast.Kind),
		broadcast.ContentRef,
		broadcast.Text,
		broadcast.Delivered,
		broadcast.Failed,
	).Scan(&broadcast.ID, &broadcast.CreatedAt)
}

func (r *broadcastRepository) List(ctx context.Context, limit int) ([]domain.Broadcast, error) {
	query := `
        SELECT id, composer_id, kind, content_ref, text, delivered, failed, created_at
        FROM broadcasts ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Broadcast
	for rows.Next() {
		var (
			broadcast  domain.Broadcast
			composerID int64
			kind       string
		)
		if err := rows.Scan(
			&broadcast.ID,
			&composerID,
			&kind,
			&broadcast.ContentRef,
			&broadcast.Text,
			&broadcast.Delivered,
			&broadcast.Failed,
			&broadcast.CreatedAt,
		); err != nil {
			return nil, err
		}
		broadcast.ComposerID = domain.PartyID(composerID)
		broadcast.Kind = domain.ContentKind(kind)
		result = append(result, broadcast)
	}
	return result, rows.Err()
}
