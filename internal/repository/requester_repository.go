package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskline/support-bot/internal/domain"
)

// RequesterRepository defines persistence access for registered requesters.
type RequesterRepository interface {
	// Register inserts the requester unless already present and reports
	// whether a row was created.
	Register(ctx context.Context, requester *domain.Requester) (bool, error)
	ListIDs(ctx context.Context) ([]domain.PartyID, error)
	List(ctx context.Context) ([]domain.Requester, error)
	Count(ctx context.Context) (int, error)
}

type requesterRepository struct {
	pool *pgxpool.Pool
}

// NewRequesterRepository returns a Postgres-backed implementation.
func NewRequesterRepository(pool *pgxpool.Pool) RequesterRepository {
	return &requesterRepository{pool: pool}
}

func (r *requesterRepository) Register(ctx context.Context, requester *domain.Requester) (bool, error) {
	const query = `
        INSERT INTO requesters (party_id, name, username)
        VALUES ($1, $2, $3)
        ON CONFLICT (party_id) DO NOTHING`

	cmd, err := r.pool.Exec(ctx, query,
		int64(requester.ID),
		requester.Name,
		requester.Username,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *requesterRepository) ListIDs(ctx context.Context) ([]domain.PartyID, error) {
	rows, err := r.pool.Query(ctx, `SELECT party_id FROM requesters ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []domain.PartyID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.PartyID(id))
	}
	return ids, rows.Err()
}

func (r *requesterRepository) List(ctx context.Context) ([]domain.Requester, error) {
	const query = `SELECT party_id, name, username, registered_at FROM requesters ORDER BY registered_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Requester
	for rows.Next() {
		var (
			requester domain.Requester
			id        int64
		)
		if err := rows.Scan(&id, &requester.Name, &requester.Username, &requester.RegisteredAt); err != nil {
			return nil, err
		}
		requester.ID = domain.PartyID(id)
		result = append(result, requester)
	}
	return result, rows.Err()
}

func (r *requesterRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM requesters`).Scan(&count)
	return count, err
}
