package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
	"time"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/service"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// ErrNoActiveFlow is returned by Advance when the party has no session.
var ErrNoActiveFlow = errors.New("no active flow")

// TicketCommitter commits intake and rejection flows.
type TicketCommitter interface {
	Create(ctx context.Context, requester domain.PartyID, input service.TicketCreateInput) (*domain.Ticket, error)
	Reject(ctx context.Context, ticketID, reason string, handler domain.Actor) (*domain.Ticket, error)
}

// BroadcastSender commits broadcast drafts.
type BroadcastSender interface {
	Send(ctx context.Context, composer domain.PartyID, content service.BroadcastContent) (*domain.Broadcast, service.FanoutResult, error)
}

// RosterEditor commits roster flows.
type RosterEditor interface {
	AddHandler(ctx context.Context, id domain.PartyID, name string) (bool, error)
	RemoveHandler(ctx context.Context, id domain.PartyID) error
	RemovableHandlers(ctx context.Context) ([]domain.Handler, error)
}

// Dependencies wires the controller.
type Dependencies struct {
	Store      Store
	Tickets    TicketCommitter
	Broadcasts BroadcastSender
	Roster     RosterEditor
	Transport  transport.Transport
	// Names is optional; without it new handlers get a placeholder name.
	Names  transport.NameResolver
	Logger *zap.Logger
}

// Controller advances one flow per party and commits finished flows.
// Calls for one party must be serialized by the caller.
type Controller struct {
	store      Store
	tickets    TicketCommitter
	broadcasts BroadcastSender
	roster     RosterEditor
	transport  transport.Transport
	names      transport.NameResolver
	logger     *zap.Logger
}

// NewController constructs the controller.
func NewController(deps Dependencies) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:      deps.Store,
		tickets:    deps.Tickets,
		broadcasts: deps.Broadcasts,
		roster:     deps.Roster,
		transport:  deps.Transport,
		names:      deps.Names,
		logger:     logger,
	}
}

// Active returns the party's session, or nil.
func (c *Controller) Active(ctx context.Context, party domain.PartyID) (*Session, error) {
	session, err := c.store.Get(ctx, party)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return session, nil
}

// Cancel discards the party's session. It reports whether one existed.
func (c *Controller) Cancel(ctx context.Context, party domain.PartyID) (bool, error) {
	session, err := c.Active(ctx, party)
	if err != nil || session == nil {
		return false, err
	}
	if err := c.discard(ctx, party); err != nil {
		return false, err
	}
	c.logger.Info("flow cancelled", zap.Int64("party_id", int64(party)), zap.String("flow", string(session.Flow.Kind())))
	return true, nil
}

// StartIntake opens the ticket form.
func (c *Controller) StartIntake(ctx context.Context, actor domain.Actor) ([]transport.Outgoing, error) {
	return c.start(ctx, actor, &Intake{Step: IntakeName}, prompt(view.PromptName, view.CancelOnly()))
}

// StartRejection asks for the reason to reject ticketID. origin is the
// alert whose buttons are cleared once the reason is committed.
func (c *Controller) StartRejection(ctx context.Context, actor domain.Actor, ticketID string, origin transport.MessageRef) ([]transport.Outgoing, error) {
	return c.start(ctx, actor, &Rejection{TicketID: ticketID, Origin: origin}, prompt(rejectPrompt(ticketID), view.CancelOnly()))
}

// StartBroadcast opens the broadcast composer.
func (c *Controller) StartBroadcast(ctx context.Context, actor domain.Actor) ([]transport.Outgoing, error) {
	return c.start(ctx, actor, &BroadcastDraft{Step: BroadcastText}, prompt(view.PromptBroadcastText, view.CancelOnly()))
}

// StartRosterAdd asks for the id of a new handler.
func (c *Controller) StartRosterAdd(ctx context.Context, actor domain.Actor) ([]transport.Outgoing, error) {
	return c.start(ctx, actor, &RosterAdd{}, prompt(view.PromptRosterAdd, view.CancelOnly()))
}

// StartRosterRemove lists the removable handlers. Without any, no flow is
// started.
func (c *Controller) StartRosterRemove(ctx context.Context, actor domain.Actor) ([]transport.Outgoing, error) {
	choice, empty, err := c.removeChoice(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return []transport.Outgoing{prompt(view.NoRemovableHandlers, view.MenuFor(actor.Role))}, nil
	}
	return c.start(ctx, actor, &RosterRemove{}, choice)
}

func (c *Controller) start(ctx context.Context, actor domain.Actor, flow Flow, first transport.Outgoing) ([]transport.Outgoing, error) {
	if !flow.Permits(actor.Role) {
		return nil, apperrors.NewAccessDenied("flow not available for role " + string(actor.Role))
	}
	previous, err := c.Active(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	var replies []transport.Outgoing
	if previous != nil {
		c.logger.Warn("unfinished flow replaced",
			zap.Int64("party_id", int64(actor.ID)),
			zap.String("flow", string(previous.Flow.Kind())),
			zap.String("replacement", string(flow.Kind())))
		replies = append(replies, text(view.FlowReplaced))
	}

	session := &Session{Party: actor.ID, StartedAt: time.Now().UTC(), Flow: flow}
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info("flow started", zap.Int64("party_id", int64(actor.ID)), zap.String("flow", string(flow.Kind())))
	return append(replies, first), nil
}

// Advance feeds one inbound event to the party's flow. Invalid input
// repeats the current prompt and keeps the collected fields.
func (c *Controller) Advance(ctx context.Context, actor domain.Actor, in transport.Inbound) ([]transport.Outgoing, error) {
	session, err := c.Active(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoActiveFlow
	}
	if !session.Flow.Permits(actor.Role) {
		if err := c.discard(ctx, actor.ID); err != nil {
			return nil, err
		}
		return nil, apperrors.NewAccessDenied("flow no longer available for role " + string(actor.Role))
	}
	if isCancel(in) {
		if err := c.discard(ctx, actor.ID); err != nil {
			return nil, err
		}
		c.clearOrigin(ctx, in)
		return []transport.Outgoing{prompt(view.FlowCancelled, view.MenuFor(actor.Role))}, nil
	}

	switch flow := session.Flow.(type) {
	case *Intake:
		return c.advanceIntake(ctx, actor, session, flow, in)
	case *Rejection:
		return c.advanceRejection(ctx, actor, flow, in)
	case *BroadcastDraft:
		return c.advanceBroadcast(ctx, actor, session, flow, in)
	case *RosterAdd:
		return c.advanceRosterAdd(ctx, actor, in)
	case *RosterRemove:
		return c.advanceRosterRemove(ctx, actor, in)
	}
	return nil, apperrors.NewInternalError(errors.New("unhandled flow " + string(session.Flow.Kind())))
}

func (c *Controller) advanceIntake(ctx context.Context, actor domain.Actor, session *Session, flow *Intake, in transport.Inbound) ([]transport.Outgoing, error) {
	switch flow.Step {
	case IntakeName:
		if strings.TrimSpace(in.Text) == "" || in.Media != nil || in.IsCallback() {
			return retry(view.HintNameText, view.PromptName, view.CancelOnly()), nil
		}
		flow.Name = in.Text
		flow.Step = IntakePhone
		return c.next(ctx, session, prompt(view.PromptPhone, view.ContactRequest()))

	case IntakePhone:
		raw := in.Contact
		if raw == "" {
			raw = in.Text
		}
		phone, ok := domain.NormalizePhone(raw)
		if raw == "" || !ok {
			return retry(view.HintPhone, view.PromptPhone, view.ContactRequest()), nil
		}
		flow.Phone = phone
		flow.Step = IntakeDescription
		return c.next(ctx, session, prompt(view.PromptDescription, view.CancelOnly()))

	case IntakeDescription:
		if strings.TrimSpace(in.Text) == "" || in.Media != nil || in.IsCallback() {
			return retry(view.HintDescriptionText, view.PromptDescription, view.CancelOnly()), nil
		}
		flow.Description = in.Text
		flow.Step = IntakeAttachment
		return c.next(ctx, session, prompt(view.PromptAttachment, view.SkipOrCancel()))

	case IntakeAttachment:
		switch {
		case in.Media != nil && (in.Media.Kind == domain.MediaPhoto || in.Media.Kind == domain.MediaDocument):
			media := *in.Media
			flow.Attachment = &media
		case in.Media == nil && in.Text == view.BtnSkip:
			flow.Attachment = nil
		default:
			return retry(view.HintAttachment, view.PromptAttachment, view.SkipOrCancel()), nil
		}
		flow.Step = IntakePriority
		return c.next(ctx, session, prompt(view.PromptPriority, view.PriorityChoice()))

	case IntakePriority:
		priority, ok := view.PriorityFromLabel(in.Text)
		if !ok {
			return retry(view.HintPriority, view.PromptPriority, view.PriorityChoice()), nil
		}
		// A failed commit keeps the form at this step.
		_, err := c.tickets.Create(ctx, actor.ID, service.TicketCreateInput{
			Name:        flow.Name,
			Phone:       flow.Phone,
			Description: flow.Description,
			Attachment:  flow.Attachment,
			Priority:    priority,
		})
		if err != nil {
			return nil, err
		}
		c.discardCommitted(ctx, actor.ID)
		return []transport.Outgoing{prompt(view.TicketCreated, view.MenuFor(actor.Role))}, nil
	}
	return nil, apperrors.NewInternalError(errors.New("unknown intake step " + string(flow.Step)))
}

func (c *Controller) advanceRejection(ctx context.Context, actor domain.Actor, flow *Rejection, in transport.Inbound) ([]transport.Outgoing, error) {
	if strings.TrimSpace(in.Text) == "" || in.IsCallback() {
		return retry(view.HintReasonText, rejectPrompt(flow.TicketID), view.CancelOnly()), nil
	}
	ticket, err := c.tickets.Reject(ctx, flow.TicketID, in.Text, actor)
	if err != nil {
		// The reason can be resent while the store is down; any other
		// failure ends the flow.
		if !apperrors.HasCode(err, apperrors.CodeStoreUnavailable) {
			c.discardCommitted(ctx, actor.ID)
		}
		return nil, err
	}
	c.discardCommitted(ctx, actor.ID)
	if flow.Origin.MessageID != 0 {
		content := transport.Content{Text: view.RejectedCard(ticket), Media: ticket.Attachment}
		if err := c.transport.EditMessage(ctx, flow.Origin, content, nil); err != nil {
			c.logger.Warn("rejected alert not updated", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	return []transport.Outgoing{prompt(view.ReasonSaved, view.MenuFor(actor.Role))}, nil
}

func (c *Controller) advanceBroadcast(ctx context.Context, actor domain.Actor, session *Session, flow *BroadcastDraft, in transport.Inbound) ([]transport.Outgoing, error) {
	switch flow.Step {
	case BroadcastText:
		if strings.TrimSpace(in.Text) == "" || in.Media != nil || in.IsCallback() {
			return retry(view.HintBroadcastText, view.PromptBroadcastText, view.CancelOnly()), nil
		}
		if utf8.RuneCountInString(in.Text) > view.MaxTextRunes {
			return retry(view.HintTooLong(view.MaxTextRunes), view.PromptBroadcastText, view.CancelOnly()), nil
		}
		flow.Text = in.Text
		flow.Step = BroadcastMedia
		return c.next(ctx, session, prompt(view.PromptBroadcastMedia, view.SkipOrCancel()))

	case BroadcastMedia:
		switch {
		case in.Media != nil && utf8.RuneCountInString(flow.Text) > view.MaxCaptionRunes:
			// Media goes out with the text as caption; ask for a shorter text.
			flow.Step = BroadcastText
			flow.Text = ""
			return c.next(ctx, session, prompt(view.HintTooLong(view.MaxCaptionRunes)+"\n\n"+view.PromptBroadcastText, view.CancelOnly()))
		case in.Media != nil:
			media := *in.Media
			flow.Media = &media
		case in.Text == view.BtnSkip:
			flow.Media = nil
		default:
			return retry(view.HintBroadcastMedia, view.PromptBroadcastMedia, view.SkipOrCancel()), nil
		}
		flow.Step = BroadcastConfirm
		return c.next(ctx, session,
			prompt(view.PromptBroadcastConfirm, &transport.Markup{Remove: true}),
			transport.Outgoing{
				Content: transport.Content{Text: view.BroadcastPreview(flow.Text), Media: flow.Media},
				Markup:  view.BroadcastConfirm(),
			})

	case BroadcastConfirm:
		if !in.IsCallback() || in.Callback.Data != view.ActionBroadcastSend {
			return []transport.Outgoing{text(view.HintConfirm)}, nil
		}
		if err := c.discard(ctx, actor.ID); err != nil {
			return nil, err
		}
		c.clearOrigin(ctx, in)
		record, _, err := c.broadcasts.Send(ctx, actor.ID, service.BroadcastContent{Text: flow.Text, Media: flow.Media})
		if err != nil {
			return nil, err
		}
		return []transport.Outgoing{prompt(view.BroadcastReport(record), view.MenuFor(actor.Role))}, nil
	}
	return nil, apperrors.NewInternalError(errors.New("unknown broadcast step " + string(flow.Step)))
}

func (c *Controller) advanceRosterAdd(ctx context.Context, actor domain.Actor, in transport.Inbound) ([]transport.Outgoing, error) {
	raw, err := strconv.ParseInt(strings.TrimSpace(in.Text), 10, 64)
	if err != nil || raw <= 0 || in.IsCallback() {
		return retry(view.HintRosterID, view.PromptRosterAdd, view.CancelOnly()), nil
	}
	id := domain.PartyID(raw)
	name := c.resolveName(ctx, id)

	if err := c.discard(ctx, actor.ID); err != nil {
		return nil, err
	}
	added, err := c.roster.AddHandler(ctx, id, name)
	if err != nil {
		return nil, err
	}
	return []transport.Outgoing{prompt(view.HandlerAdded(name, id, added), view.MenuFor(actor.Role))}, nil
}

func (c *Controller) advanceRosterRemove(ctx context.Context, actor domain.Actor, in transport.Inbound) ([]transport.Outgoing, error) {
	var id domain.PartyID
	if in.IsCallback() {
		action, args := view.ParseCallback(in.Callback.Data)
		if action == view.ActionRosterRemove && len(args) == 1 {
			if raw, err := strconv.ParseInt(args[0], 10, 64); err == nil {
				id = domain.PartyID(raw)
			}
		}
	}
	if id == 0 {
		choice, empty, err := c.removeChoice(ctx)
		if err != nil {
			return nil, err
		}
		if empty {
			if err := c.discard(ctx, actor.ID); err != nil {
				return nil, err
			}
			return []transport.Outgoing{prompt(view.NoRemovableHandlers, view.MenuFor(actor.Role))}, nil
		}
		return []transport.Outgoing{text(view.HintRosterChoice), choice}, nil
	}

	if err := c.discard(ctx, actor.ID); err != nil {
		return nil, err
	}
	c.clearOrigin(ctx, in)
	if err := c.roster.RemoveHandler(ctx, id); err != nil {
		return nil, err
	}
	return []transport.Outgoing{prompt(view.HandlerRemoved(id), view.MenuFor(actor.Role))}, nil
}

func (c *Controller) removeChoice(ctx context.Context) (transport.Outgoing, bool, error) {
	handlers, err := c.roster.RemovableHandlers(ctx)
	if err != nil {
		return transport.Outgoing{}, false, err
	}
	if len(handlers) == 0 {
		return transport.Outgoing{}, true, nil
	}
	return prompt(view.PromptRosterRemove, view.RosterRemoveChoice(handlers)), false, nil
}

// resolveName asks the transport for a display name and falls back to a
// placeholder.
func (c *Controller) resolveName(ctx context.Context, id domain.PartyID) string {
	if c.names != nil {
		name, err := c.names.ChatName(ctx, id)
		if err == nil && strings.TrimSpace(name) != "" {
			return name
		}
		if err != nil {
			c.logger.Debug("chat name lookup failed", zap.Int64("party_id", int64(id)), zap.Error(err))
		}
	}
	return view.PlaceholderName(id)
}

// clearOrigin removes the inline buttons of the message a callback came
// from.
func (c *Controller) clearOrigin(ctx context.Context, in transport.Inbound) {
	if !in.IsCallback() || in.Callback.Message.MessageID == 0 {
		return
	}
	if err := c.transport.EditActions(ctx, in.Callback.Message, nil); err != nil {
		c.logger.Debug("buttons not cleared", zap.Error(err))
	}
}

func (c *Controller) next(ctx context.Context, session *Session, replies ...transport.Outgoing) ([]transport.Outgoing, error) {
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	return replies, nil
}

func (c *Controller) save(ctx context.Context, session *Session) error {
	if err := c.store.Put(ctx, session); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

func (c *Controller) discard(ctx context.Context, party domain.PartyID) error {
	if err := c.store.Delete(ctx, party); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

// discardCommitted ends a flow whose outcome is already settled. A failed
// delete is only logged.
func (c *Controller) discardCommitted(ctx context.Context, party domain.PartyID) {
	if err := c.store.Delete(ctx, party); err != nil {
		c.logger.Warn("finished flow not discarded", zap.Int64("party_id", int64(party)), zap.Error(err))
	}
}

func rejectPrompt(ticketID string) string {
	return fmt.Sprintf(view.PromptRejectReason, view.Escape(ticketID))
}

func isCancel(in transport.Inbound) bool {
	if in.IsCallback() {
		return in.Callback.Data == view.ActionFlowCancel || in.Callback.Data == view.ActionBroadcastCancel
	}
	return in.Text == view.BtnCancelFlow
}

func text(s string) transport.Outgoing {
	return transport.Outgoing{Content: transport.Content{Text: s}}
}

func prompt(s string, markup *transport.Markup) transport.Outgoing {
	return transport.Outgoing{Content: transport.Content{Text: s}, Markup: markup}
}

func retry(hint, again string, markup *transport.Markup) []transport.Outgoing {
	return []transport.Outgoing{prompt(hint+"\n\n"+again, markup)}
}
