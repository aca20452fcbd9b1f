package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/events"
	"github.com/deskline/support-bot/internal/repository"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// ArchiveLimit caps the handler archive listing.
const ArchiveLimit = 20

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	registry   *RoleRegistry
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators of the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Registry    *RoleRegistry
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Name        string
	Phone       string
	Description string
	Attachment  *domain.Attachment
	Priority    domain.TicketPriority
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// Create opens a Pending ticket for a requester.
func (s *TicketService) Create(ctx context.Context, requester domain.PartyID, input TicketCreateInput) (*domain.Ticket, error) {
	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)
	phone, phoneOK := domain.NormalizePhone(input.Phone)

	details := map[string]any{}
	if name == "" {
		details["name"] = "required"
	}
	if !phoneOK {
		details["phone"] = "must contain 10-15 digits with an optional leading +"
	}
	if description == "" {
		details["description"] = "required"
	}
	if !input.Priority.Valid() {
		details["priority"] = "must be LOW, MEDIUM or HIGH"
	}
	if att := input.Attachment; att != nil && (att.FileID == "" || (att.Kind != domain.MediaPhoto && att.Kind != domain.MediaDocument)) {
		details["attachment"] = "must be a photo or document"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	ticket := &domain.Ticket{
		ID:          generateTicketKey(),
		RequesterID: requester,
		Name:        name,
		Phone:       phone,
		Description: description,
		Attachment:  input.Attachment,
		Priority:    input.Priority,
		Status:      domain.TicketStatusPending,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, storeError(err)
	}
	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.Int64("party_id", int64(requester)))

	s.publishEvent(ctx, events.EventTicketCreated, requester, ticket, nil)
	return ticket, nil
}

// Claim assigns a Pending ticket to the calling handler. The status check
// and the assignment are one conditional write, so of several concurrent
// claims exactly one succeeds.
func (s *TicketService) Claim(ctx context.Context, ticketID string, handler domain.Actor) (*domain.Ticket, error) {
	if err := s.requireHandler(ctx, handler.ID); err != nil {
		return nil, err
	}
	handlerID := handler.ID
	change := domain.TicketChange{
		To:          domain.TicketStatusAccepted,
		HandlerID:   &handlerID,
		HandlerName: handler.DisplayName(),
	}
	return s.transition(ctx, ticketID, handler.ID, []domain.TicketStatus{domain.TicketStatusPending}, change, events.EventTicketClaimed, "")
}

// Complete closes an Accepted ticket. The handler stays recorded.
func (s *TicketService) Complete(ctx context.Context, ticketID string, handler domain.Actor) (*domain.Ticket, error) {
	if err := s.requireHandler(ctx, handler.ID); err != nil {
		return nil, err
	}
	change := domain.TicketChange{To: domain.TicketStatusCompleted}
	return s.transition(ctx, ticketID, handler.ID, []domain.TicketStatus{domain.TicketStatusAccepted}, change, events.EventTicketCompleted, "")
}

// Reject declines a Pending or Accepted ticket. The reason is stored
// exactly as given.
func (s *TicketService) Reject(ctx context.Context, ticketID, reason string, handler domain.Actor) (*domain.Ticket, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("rejection reason is required", map[string]any{"reason": "required"})
	}
	if err := s.requireHandler(ctx, handler.ID); err != nil {
		return nil, err
	}
	change := domain.TicketChange{
		To:            domain.TicketStatusRejected,
		ClearHandler:  true,
		DeclineReason: &reason,
	}
	open := []domain.TicketStatus{domain.TicketStatusPending, domain.TicketStatusAccepted}
	return s.transition(ctx, ticketID, handler.ID, open, change, events.EventTicketRejected, reason)
}

// Cancel withdraws a Pending or Accepted ticket on behalf of its requester.
func (s *TicketService) Cancel(ctx context.Context, ticketID string, requester domain.PartyID) (*domain.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.RequesterID != requester {
		return nil, apperrors.NewAccessDenied("only the requester may cancel the ticket")
	}
	change := domain.TicketChange{To: domain.TicketStatusCancelled, ClearHandler: true}
	open := []domain.TicketStatus{domain.TicketStatusPending, domain.TicketStatusAccepted}
	return s.transition(ctx, ticketID, requester, open, change, events.EventTicketCancelled, "")
}

// Get loads one ticket.
func (s *TicketService) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, storeError(err)
	}
	return ticket, nil
}

// ListActive returns Pending and Accepted tickets, oldest first.
func (s *TicketService) ListActive(ctx context.Context) ([]domain.Ticket, error) {
	return s.list(ctx, repository.TicketFilter{Statuses: openStatuses()})
}

// ListArchive returns the newest terminal tickets.
func (s *TicketService) ListArchive(ctx context.Context) ([]domain.Ticket, error) {
	return s.list(ctx, repository.TicketFilter{
		Statuses:    []domain.TicketStatus{domain.TicketStatusCompleted, domain.TicketStatusRejected, domain.TicketStatusCancelled},
		NewestFirst: true,
		Limit:       ArchiveLimit,
	})
}

// ListForRequester returns every ticket of a requester, newest first.
func (s *TicketService) ListForRequester(ctx context.Context, requester domain.PartyID) ([]domain.Ticket, error) {
	return s.list(ctx, repository.TicketFilter{RequesterID: &requester, NewestFirst: true})
}

// ListCancellable returns the requester's open tickets.
func (s *TicketService) ListCancellable(ctx context.Context, requester domain.PartyID) ([]domain.Ticket, error) {
	return s.list(ctx, repository.TicketFilter{RequesterID: &requester, Statuses: openStatuses()})
}

// LatestForRequester returns the requester's newest ticket.
func (s *TicketService) LatestForRequester(ctx context.Context, requester domain.PartyID) (*domain.Ticket, error) {
	tickets, err := s.list(ctx, repository.TicketFilter{RequesterID: &requester, NewestFirst: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"requester_id": int64(requester)})
	}
	return &tickets[0], nil
}

// Count returns the number of stored tickets.
func (s *TicketService) Count(ctx context.Context) (int, error) {
	n, err := s.tickets.Count(ctx, repository.TicketFilter{})
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (s *TicketService) list(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return tickets, nil
}

func (s *TicketService) requireHandler(ctx context.Context, id domain.PartyID) error {
	if s.registry == nil {
		return apperrors.NewInternalError(errors.New("role registry not configured"))
	}
	ok, err := s.registry.IsHandler(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewAccessDenied("handler role required")
	}
	return nil
}

// transition applies one conditional status change. When no row matches,
// the ticket is re-read to report NOT_FOUND or the status it is in now.
// The previous handler and source status come from the write itself.
func (s *TicketService) transition(ctx context.Context, ticketID string, actor domain.PartyID, from []domain.TicketStatus, change domain.TicketChange, eventType events.EventType, note string) (*domain.Ticket, error) {
	prior, err := s.tickets.TransitionIf(ctx, ticketID, from, change)
	if err != nil {
		return nil, storeError(err)
	}
	if prior == nil {
		current, err := s.Get(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewStatusConflict(
			"ticket cannot move to "+change.To.Label(),
			string(current.Status),
			map[string]any{"ticket_id": ticketID},
		)
	}

	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var previousHandler *domain.PartyID
	if change.ClearHandler {
		previousHandler = prior.HandlerID
	}
	s.recordStatusChange(ctx, actor, ticketID, prior.Status, change.To, note)
	s.logger.Info("ticket transitioned",
		zap.String("ticket_id", ticketID),
		zap.Int64("party_id", int64(actor)),
		zap.String("from", string(prior.Status)),
		zap.String("to", string(change.To)))

	s.publishEvent(ctx, eventType, actor, ticket, previousHandler)
	return ticket, nil
}

// recordStatusChange appends to the audit trail. A failed write is logged
// and never undoes the transition.
func (s *TicketService) recordStatusChange(ctx context.Context, actor domain.PartyID, ticketID string, from, to domain.TicketStatus, note string) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:   ticketID,
		ActorID:    actor,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("ticket history write failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) publishEvent(ctx context.Context, eventType events.EventType, actor domain.PartyID, ticket *domain.Ticket, previousHandler *domain.PartyID) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		ActorID:   actor,
		Timestamp: time.Now().UTC(),
		Payload:   events.TicketPayload{Ticket: *ticket, PreviousHandler: previousHandler},
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("ticket_id", ticket.ID), zap.String("event", string(eventType)), zap.Error(err))
	}
}

func generateTicketKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func openStatuses() []domain.TicketStatus {
	return []domain.TicketStatus{domain.TicketStatusPending, domain.TicketStatusAccepted}
}
