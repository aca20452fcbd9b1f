package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/repository"
)

type handlerRepository struct {
	db *sql.DB
}

func (r *handlerRepository) Add(ctx context.Context, handler *domain.Handler) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO handlers (party_id, name, super_admin, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (party_id) DO NOTHING`,
		int64(handler.ID),
		handler.Name,
		handler.SuperAdmin,
		toMillis(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert handler: %w", err)
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *handlerRepository) GetByID(ctx context.Context, id domain.PartyID) (*domain.Handler, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT party_id, name, super_admin, added_at FROM handlers WHERE party_id = ?`, int64(id))
	handler, err := scanHandler(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return handler, err
}

func (r *handlerRepository) Remove(ctx context.Context, id domain.PartyID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM handlers
		 WHERE party_id = ?
		   AND (super_admin = 0 OR (SELECT COUNT(*) FROM handlers WHERE super_admin = 1) > 1)`,
		int64(id),
	)
	if err != nil {
		return false, fmt.Errorf("delete handler: %w", err)
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *handlerRepository) List(ctx context.Context, filter repository.HandlerFilter) ([]domain.Handler, error) {
	query := `SELECT party_id, name, super_admin, added_at FROM handlers`
	args := []any{}
	if filter.SuperAdmin != nil {
		query += ` WHERE super_admin = ?`
		args = append(args, *filter.SuperAdmin)
	}
	query += ` ORDER BY added_at ASC, party_id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list handlers: %w", err)
	}
	defer rows.Close()

	var result []domain.Handler
	for rows.Next() {
		handler, err := scanHandler(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *handler)
	}
	return result, rows.Err()
}

func (r *handlerRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM handlers`).Scan(&count)
	return count, err
}

func scanHandler(row rowScanner) (*domain.Handler, error) {
	var (
		handler domain.Handler
		id      int64
		addedAt int64
	)
	if err := row.Scan(&id, &handler.Name, &handler.SuperAdmin, &addedAt); err != nil {
		return nil, err
	}
	handler.ID = domain.PartyID(id)
	handler.AddedAt = fromMillis(addedAt)
	return &handler, nil
}

type requesterRepository struct {
	db *sql.DB
}

func (r *requesterRepository) Register(ctx context.Context, requester *domain.Requester) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO requesters (party_id, name, username, registered_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (party_id) DO NOTHING`,
		int64(requester.ID),
		requester.Name,
		requester.Username,
		toMillis(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert requester: %w", err)
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *requesterRepository) ListIDs(ctx context.Context) ([]domain.PartyID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT party_id FROM requesters ORDER BY registered_at ASC, party_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list requester ids: %w", err)
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT party_id, name, username, registered_at FROM requesters ORDER BY registered_at ASC, party_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list requesters: %w", err)
	}
	defer rows.Close()

	var result []domain.Requester
	for rows.Next() {
		var (
			requester    domain.Requester
			id           int64
			registeredAt int64
		)
		if err := rows.Scan(&id, &requester.Name, &requester.Username, &registeredAt); err != nil {
			return nil, err
		}
		requester.ID = domain.PartyID(id)
		requester.RegisteredAt = fromMillis(registeredAt)
		result = append(result, requester)
	}
	return result, rows.Err()
}

func (r *requesterRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requesters`).Scan(&count)
	return count, err
}
