package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskline/support-bot/internal/domain"
)

// HandlerRepository handles persistence for the handler roster.
type HandlerRepository interface {
	// Add inserts the handler unless already present and reports whether
	// a row was created.
	Add(ctx context.Context, handler *domain.Handler) (bool, error)
	GetByID(ctx context.Context, id domain.PartyID) (*domain.Handler, error)
	// Remove deletes the handler, except when it is the last super-admin.
	// It reports whether a row was deleted.
	Remove(ctx context.Context, id domain.PartyID) (bool, error)
	List(ctx context.Context, filter HandlerFilter) ([]domain.Handler, error)
	Count(ctx context.Context) (int, error)
}

// HandlerFilter defines query params for roster listing.
type HandlerFilter struct {
	SuperAdmin *bool
}

type handlerRepository struct {
	pool *pgxpool.Pool
}

// NewHandlerRepository instantiates the repository.
func NewHandlerRepository(pool *pgxpool.Pool) HandlerRepository {
	return &handlerRepository{pool: pool}
}

func (r *handlerRepository) Add(ctx context.Context, handler *domain.Handler) (bool, error) {
	const query = `
        INSERT INTO handlers (party_id, name, super_admin)
        VALUES ($1,$2,$3)
        ON CONFLICT (party_id) DO NOTHING`

	cmd, err := r.pool.Exec(ctx, query,
		int64(handler.ID),
		handler.Name,
		handler.SuperAdmin,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *handlerRepository) GetByID(ctx context.Context, id domain.PartyID) (*domain.Handler, error) {
	const query = `
        SELECT party_id, name, super_admin, added_at
        FROM handlers WHERE party_id=$1`

	var (
		handler domain.Handler
		partyID int64
	)
	err := r.pool.QueryRow(ctx, query, int64(id)).Scan(
		&partyID,
		&handler.Name,
		&handler.SuperAdmin,
		&handler.AddedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	handler.ID = domain.PartyID(partyID)
	return &handler, nil
}

func (r *handlerRepository) Remove(ctx context.Context, id domain.PartyID) (bool, error) {
	const query = `
        DELETE FROM handlers
        WHERE party_id=$1
          AND (super_admin = FALSE OR (SELECT COUNT(*) FROM handlers WHERE super_admin) > 1)`

	cmd, err := r.pool.Exec(ctx, query, int64(id))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *handlerRepository) List(ctx context.Context, filter HandlerFilter) ([]domain.Handler, error) {
	query := `SELECT party_id, name, super_admin, added_at FROM handlers`
	args := []any{}
	if filter.SuperAdmin != nil {
		args = append(args, *filter.SuperAdmin)
		query += fmt.Sprintf(" WHERE super_admin=$%d", len(args))
	}
	query += " ORDER BY added_at ASC, party_id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Handler
	for rows.Next() {
		var (
			handler domain.Handler
			partyID int64
		)
		if err := rows.Scan(
			&partyID,
			&handler.Name,
			&handler.SuperAdmin,
			&handler.AddedAt,
		); err != nil {
			return nil, err
		}
		handler.ID = domain.PartyID(partyID)
		result = append(result, handler)
	}
	return result, rows.Err()
}

func (r *handlerRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM handlers`).Scan(&count)
	return count, err
}
