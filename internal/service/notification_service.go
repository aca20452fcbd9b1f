package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/events"
	"github.com/deskline/support-bot/internal/observability"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
	"github.com/deskline/support-bot/internal/worker"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// Delivery is the outcome for one fan-out recipient.
type Delivery struct {
	Recipient domain.PartyID
	Ref       transport.MessageRef
	// Err is a DELIVERY_FAILED DomainError, or nil on success.
	Err error
}

// FanoutResult holds one Delivery per attempted recipient, in input order.
type FanoutResult struct {
	Deliveries []Delivery
}

// Delivered counts successful deliveries.
func (r FanoutResult) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed deliveries.
func (r FanoutResult) Failed() int {
	return len(r.Deliveries) - r.Delivered()
}

// Failures returns the failed deliveries.
func (r FanoutResult) Failures() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// NotificationRouter delivers alerts to the roster and to requesters.
// Delivery failures are collected and logged; none is returned to callers.
type NotificationRouter struct {
	transport   transport.Transport
	registry    *RoleRegistry
	parallelism int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewNotificationRouter creates the router.
func NewNotificationRouter(tr transport.Transport, registry *RoleRegistry, parallelism int, logger *zap.Logger, metrics *observability.Metrics) *NotificationRouter {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &NotificationRouter{
		transport:   tr,
		registry:    registry,
		parallelism: parallelism,
		logger:      logger,
		metrics:     metrics,
	}
}

// RegisterHandlers subscribes to ticket events.
func (n *NotificationRouter) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	dispatcher.Subscribe(events.EventTicketClaimed, n.handleTicketClaimed)
	dispatcher.Subscribe(events.EventTicketCompleted, n.handleTicketCompleted)
	dispatcher.Subscribe(events.EventTicketRejected, n.handleTicketRejected)
	dispatcher.Subscribe(events.EventTicketCancelled, n.handleTicketCancelled)
}

func (n *NotificationRouter) handleTicketCreated(ctx context.Context, event events.Event) error {
	ticket := event.Payload.Ticket
	n.NotifyRosterOfNewTicket(ctx, &ticket)
	return nil
}

func (n *NotificationRouter) handleTicketClaimed(ctx context.Context, event events.Event) error {
	ticket := event.Payload.Ticket
	n.NotifyRequester(ctx, &ticket, view.ClaimedNotice(&ticket))
	return nil
}

func (n *NotificationRouter) handleTicketCompleted(ctx context.Context, event events.Event) error {
	ticket := event.Payload.Ticket
	n.NotifyRequester(ctx, &ticket, view.CompletedNotice(&ticket))
	return nil
}

func (n *NotificationRouter) handleTicketRejected(ctx context.Context, event events.Event) error {
	ticket := event.Payload.Ticket
	n.NotifyRequester(ctx, &ticket, view.RejectedNotice(&ticket))
	return nil
}

func (n *NotificationRouter) handleTicketCancelled(ctx context.Context, event events.Event) error {
	previous := event.Payload.PreviousHandler
	if previous == nil {
		return nil
	}
	ticket := event.Payload.Ticket
	n.send(ctx, "cancel_notice", *previous, transport.Outgoing{Content: transport.Content{Text: view.CancelledForHandler(&ticket)}})
	return nil
}

// NotifyRosterOfNewTicket sends the ticket summary with accept/reject
// buttons to every handler. An attachment is sent as the media message
// with the summary as caption.
func (n *NotificationRouter) NotifyRosterOfNewTicket(ctx context.Context, ticket *domain.Ticket) FanoutResult {
	out := transport.Outgoing{
		Content: transport.Content{Text: view.NewTicketAlert(ticket), Media: ticket.Attachment},
		Markup:  view.AcceptRejectActions(ticket.ID),
	}
	return n.notifyHandlers(ctx, "new_ticket", out)
}

// NotifyRoster sends an ad-hoc alert whose reply buttons point back at
// target, e.g. a server room call.
func (n *NotificationRouter) NotifyRoster(ctx context.Context, alert string, target domain.PartyID) FanoutResult {
	out := transport.Outgoing{
		Content: transport.Content{Text: alert},
		Markup:  view.ServerCallActions(target),
	}
	return n.notifyHandlers(ctx, "roster_alert", out)
}

// NotifyRequester is a single best-effort delivery to the ticket's
// requester.
func (n *NotificationRouter) NotifyRequester(ctx context.Context, ticket *domain.Ticket, text string) {
	n.send(ctx, "requester_notice", ticket.RequesterID, transport.Outgoing{Content: transport.Content{Text: text}})
}

// NotifySuperAdmins alerts every super-admin plus any extra ids.
func (n *NotificationRouter) NotifySuperAdmins(ctx context.Context, text string, extra ...domain.PartyID) FanoutResult {
	ids := append([]domain.PartyID{}, extra...)
	admins, err := n.registry.SuperAdmins(ctx)
	if err != nil {
		n.logger.Error("super-admin lookup failed", zap.Error(err))
	}
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	return n.NotifyParties(ctx, uniqueIDs(ids), transport.Outgoing{Content: transport.Content{Text: text}})
}

// NotifyParties fans out with the configured parallelism.
func (n *NotificationRouter) NotifyParties(ctx context.Context, ids []domain.PartyID, out transport.Outgoing) FanoutResult {
	return n.FanOut(ctx, ids, out, n.parallelism)
}

// FanOut delivers out to every id on at most parallelism workers. Each
// recipient owns one result slot.
func (n *NotificationRouter) FanOut(ctx context.Context, ids []domain.PartyID, out transport.Outgoing, parallelism int) FanoutResult {
	result := FanoutResult{Deliveries: make([]Delivery, len(ids))}
	errs := worker.Run(ctx, len(ids), parallelism, func(ctx context.Context, i int) error {
		ref, err := n.transport.Send(ctx, ids[i], out)
		result.Deliveries[i].Ref = ref
		return err
	})
	for i, err := range errs {
		result.Deliveries[i].Recipient = ids[i]
		n.metrics.RecordDelivery("fanout", err == nil)
		if err != nil {
			result.Deliveries[i].Err = apperrors.NewDeliveryFailure(int64(ids[i]), err)
			n.logger.Warn("delivery failed", zap.Int64("party_id", int64(ids[i])), zap.Error(err))
		}
	}
	return result
}

func (n *NotificationRouter) notifyHandlers(ctx context.Context, kind string, out transport.Outgoing) FanoutResult {
	handlers, err := n.registry.Handlers(ctx)
	if err != nil {
		n.logger.Error("roster lookup failed", zap.String("kind", kind), zap.Error(err))
		return FanoutResult{}
	}
	ids := make([]domain.PartyID, 0, len(handlers))
	for _, h := range handlers {
		ids = append(ids, h.ID)
	}
	result := n.NotifyParties(ctx, ids, out)
	n.logger.Info("roster notified",
		zap.String("kind", kind),
		zap.Int("delivered", result.Delivered()),
		zap.Int("failed", result.Failed()))
	return result
}

func (n *NotificationRouter) send(ctx context.Context, kind string, to domain.PartyID, out transport.Outgoing) {
	_, err := n.transport.Send(ctx, to, out)
	n.metrics.RecordDelivery(kind, err == nil)
	if err != nil {
		n.logger.Warn("notification failed", zap.String("kind", kind), zap.Int64("party_id", int64(to)), zap.Error(err))
	}
}

func uniqueIDs(ids []domain.PartyID) []domain.PartyID {
	seen := make(map[domain.PartyID]struct{}, len(ids))
	out := make([]domain.PartyID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
