package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskline/support-bot/internal/domain"
)

// TicketFilter captures list parameters.
type TicketFilter struct {
	RequesterID *domain.PartyID
	Statuses    []domain.TicketStatus
	NewestFirst bool
	// Limit <= 0 returns every matching ticket.
	Limit int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// TransitionIf applies change only while the stored status is one of
	// from. It is a single conditional write; it returns the replaced
	// status and handler, or nil when no row matched.
	TransitionIf(ctx context.Context, id string, from []domain.TicketStatus, change domain.TicketChange) (*domain.PriorState, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, requester_id, name, phone, description, attachment_ref, attachment_kind,
               priority, status, handler_id, handler_name, decline_reason, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, requester_id, name, phone, description, attachment_ref, attachment_kind, priority, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at`
	ref, kind := AttachmentColumns(ticket.Attachment)
	return r.pool.QueryRow(ctx, query,
		ticket.ID,
		int64(ticket.RequesterID),
		ticket.Name,
		ticket.Phone,
		ticket.Description,
		ref,
		kind,
		string(ticket.Priority),
		string(ticket.Status),
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) TransitionIf(ctx context.Context, id string, from []domain.TicketStatus, change domain.TicketChange) (*domain.PriorState, error) {
	if len(from) == 0 {
		return nil, errors.New("transition requires at least one source status")
	}
	args := []any{string(change.To)}
	sets := []string{"status=$1", "updated_at=NOW()"}

	switch {
	case change.HandlerID != nil:
		args = append(args, int64(*change.HandlerID))
		sets = append(sets, fmt.Sprintf("handler_id=$%d", len(args)))
		args = append(args, change.HandlerName)
		sets = append(sets, fmt.Sprintf("handler_name=$%d", len(args)))
	case change.ClearHandler:
		sets = append(sets, "handler_id=NULL", "handler_name=''")
	}
	if change.DeclineReason != nil {
		args = append(args, *change.DeclineReason)
		sets = append(sets, fmt.Sprintf("decline_reason=$%d", len(args)))
	}

	args = append(args, id)
	idPlaceholder := len(args)
	args = append(args, StatusStrings(from))
	query := fmt.Sprintf(`
        WITH prior AS (
            SELECT id, status, handler_id FROM tickets
            WHERE id=$%d AND status = ANY($%d)
            FOR UPDATE
        )
        UPDATE tickets SET %s
        FROM prior
        WHERE tickets.id = prior.id
        RETURNING prior.status, prior.handler_id`,
		idPlaceholder, len(args), strings.Join(sets, ", "))

	var (
		status    string
		handlerID *int64
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(&status, &handlerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return PriorFromColumns(status, handlerID), nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := ticketWhere(filter)
	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at %s, id %s`,
		ticketColumns, where, order, order)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
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

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int, error) {
	where, args := ticketWhere(filter)
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&count)
	return count, err
}

func ticketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.RequesterID != nil {
		args = append(args, int64(*filter.RequesterID))
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, StatusStrings(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket      domain.Ticket
		requesterID int64
		handlerID   *int64
		ref, kind   *string
		priority    string
		status      string
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
		&ticket.DeclineReason,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ticket.RequesterID = domain.PartyID(requesterID)
	ticket.HandlerID = PartyIDPtr(handlerID)
	ticket.Attachment = AttachmentFrom(ref, kind)
	ticket.Priority = domain.TicketPriority(priority)
	ticket.Status = domain.TicketStatus(status)
	return &ticket, nil
}
