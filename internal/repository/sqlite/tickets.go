package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/repository"
)

type ticketRepository struct {
	db *sql.DB
}

const ticketColumns = `id, requester_id, name, phone, description, attachment_ref, attachment_kind,
       priority, status, handler_id, handler_name, decline_reason, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	now := time.Now().UTC()
	ref, kind := repository.AttachmentColumns(ticket.Attachment)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tickets (id, requester_id, name, phone, description, attachment_ref, attachment_kind,
		   priority, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID,
		int64(ticket.RequesterID),
		ticket.Name,
		ticket.Phone,
		ticket.Description,
		ref,
		kind,
		string(ticket.Priority),
		string(ticket.Status),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	ticket.CreatedAt = fromMillis(toMillis(now))
	ticket.UpdatedAt = ticket.CreatedAt
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) TransitionIf(ctx context.Context, id string, from []domain.TicketStatus, change domain.TicketChange) (*domain.PriorState, error) {
	if len(from) == 0 {
		return nil, errors.New("transition requires at least one source status")
	}
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(change.To), toMillis(time.Now())}

	switch {
	case change.HandlerID != nil:
		sets = append(sets, "handler_id = ?", "handler_name = ?")
		args = append(args, int64(*change.HandlerID), change.HandlerName)
	case change.ClearHandler:
		sets = append(sets, "handler_id = NULL", "handler_name = ''")
	}
	if change.DeclineReason != nil {
		sets = append(sets, "decline_reason = ?")
		args = append(args, *change.DeclineReason)
	}

	match := []any{id}
	for _, s := range from {
		match = append(match, string(s))
	}
	where := fmt.Sprintf(`id = ? AND status IN (%s)`, placeholders(len(from)))

	// RETURNING only sees new values. The prior row is read in the same
	// transaction on the store's single connection.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status    string
		handlerID sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `SELECT status, handler_id FROM tickets WHERE `+where, match...).Scan(&status, &handlerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ticket before transition: %w", err)
	}

	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE %s`, strings.Join(sets, ", "), where)
	res, err := tx.ExecContext(ctx, query, append(args, match...)...)
	if err != nil {
		return nil, fmt.Errorf("transition ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return repository.PriorFromColumns(status, nullInt64(handlerID)), nil
}

func (r *ticketRepository) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	where, args := ticketWhere(filter)
	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at %s, rowid %s`,
		ticketColumns, where, order, order)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) Count(ctx context.Context, filter repository.TicketFilter) (int, error) {
	where, args := ticketWhere(filter)
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&count)
	return count, err
}

func ticketWhere(filter repository.TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.RequesterID != nil {
		clauses = append(clauses, "requester_id = ?")
		args = append(args, int64(*filter.RequesterID))
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", placeholders(len(filter.Statuses))))
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket      domain.Ticket
		requesterID int64
		ref, kind   sql.NullString
		priority    string
		status      string
		handlerID   sql.NullInt64
		reason      sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(
		&ticket.ID,
		&requesterID,
		&ticket.Name,
		&ticket.Phone,
		&ticket.Description,
		&ref,
		&kind,
		&priority,
		&status,
		&handlerID,
		&ticket.HandlerName,
		&reason,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	ticket.RequesterID = domain.PartyID(requesterID)
	ticket.Attachment = repository.AttachmentFrom(nullString(ref), nullString(kind))
	ticket.Priority = domain.TicketPriority(priority)
	ticket.Status = domain.TicketStatus(status)
	ticket.HandlerID = repository.PartyIDPtr(nullInt64(handlerID))
	ticket.DeclineReason = nullString(reason)
	ticket.CreatedAt = fromMillis(createdAt)
	ticket.UpdatedAt = fromMillis(updatedAt)
	return &ticket, nil
}
