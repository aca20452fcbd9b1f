// Package chat routes inbound chat events to the ticket services and the
// conversation flows.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/conversation"
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/observability"
	"github.com/deskline/support-bot/internal/service"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// Pinger checks the store connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the dispatcher.
type Dependencies struct {
	Tickets    *service.TicketService
	Registry   *service.RoleRegistry
	Requesters *service.RequesterService
	Router     *service.NotificationRouter
	Flows      *conversation.Controller
	Transport  transport.Transport
	Store      Pinger
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Dispatcher handles inbound events. Events of one party run in arrival
// order; different parties run concurrently.
type Dispatcher struct {
	tickets    *service.TicketService
	registry   *service.RoleRegistry
	requesters *service.RequesterService
	router     *service.NotificationRouter
	flows      *conversation.Controller
	transport  transport.Transport
	answerer   transport.CallbackAnswerer
	store      Pinger
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu    sync.Mutex
	lanes map[domain.PartyID]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue []transport.Inbound
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(deps Dependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	answerer, _ := deps.Transport.(transport.CallbackAnswerer)
	return &Dispatcher{
		tickets:    deps.Tickets,
		registry:   deps.Registry,
		requesters: deps.Requesters,
		router:     deps.Router,
		flows:      deps.Flows,
		transport:  deps.Transport,
		answerer:   answerer,
		store:      deps.Store,
		logger:     logger,
		metrics:    deps.Metrics,
		lanes:      make(map[domain.PartyID]*lane),
	}
}

// Submit queues the event on its party's lane and returns immediately.
func (d *Dispatcher) Submit(ctx context.Context, in transport.Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, running := d.lanes[in.From]
	if !running {
		l = &lane{}
		d.lanes[in.From] = l
	}
	l.queue = append(l.queue, in)
	if !running {
		d.wg.Add(1)
		go d.drain(ctx, in.From, l)
	}
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, party domain.PartyID, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, party)
			d.mu.Unlock()
			return
		}
		in := l.queue[0]
		l.queue = l.queue[1:]
		d.mu.Unlock()

		d.Handle(ctx, in)
	}
}

// Handle processes one event synchronously. Failures are answered in the
// chat and never returned.
func (d *Dispatcher) Handle(ctx context.Context, in transport.Inbound) {
	actor := domain.Actor{ID: in.From, Name: in.Name, Username: in.Username}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", zap.Int64("party_id", int64(in.From)), zap.Any("panic", r), zap.Stack("stack"))
			d.reply(ctx, actor, text(view.Apology))
		}
	}()

	role, err := d.registry.Resolve(ctx, in.From)
	if err != nil {
		d.fail(ctx, actor, in, err)
		return
	}
	actor.Role = role
	d.metrics.RecordEvent(string(role), eventKind(in))

	if _, err := d.requesters.Register(ctx, actor); err != nil {
		d.logger.Warn("requester registration failed", zap.Int64("party_id", int64(actor.ID)), zap.Error(err))
	}

	if in.IsCallback() {
		err = d.handleCallback(ctx, actor, in)
	} else {
		err = d.handleMessage(ctx, actor, in)
	}
	if err != nil {
		d.fail(ctx, actor, in, err)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, actor domain.Actor, in transport.Inbound) error {
	if in.Text == "/start" {
		if _, err := d.flows.Cancel(ctx, actor.ID); err != nil {
			return err
		}
		greeting := view.WelcomeRequester
		if actor.Role.IsHandler() {
			greeting = view.WelcomeHandler
		}
		d.reply(ctx, actor, prompt(greeting, view.MenuFor(actor.Role)))
		return nil
	}

	if run, ok := d.menuCommand(actor.Role, in.Text); ok {
		return run(ctx, actor)
	}

	replies, err := d.flows.Advance(ctx, actor, in)
	if errors.Is(err, conversation.ErrNoActiveFlow) {
		d.reply(ctx, actor, prompt(view.UnknownCommand, view.MenuFor(actor.Role)))
		return nil
	}
	if err != nil {
		return err
	}
	d.reply(ctx, actor, replies...)
	return nil
}

type command func(ctx context.Context, actor domain.Actor) error

func (d *Dispatcher) menuCommand(role domain.Role, label string) (command, bool) {
	if role.IsHandler() {
		switch label {
		case view.BtnActiveTickets:
			return d.withoutFlow(d.showActive), true
		case view.BtnArchive:
			return d.withoutFlow(d.showArchive), true
		case view.BtnStoreStatus:
			return d.withoutFlow(d.showStoreStatus), true
		case view.BtnBroadcast:
			return d.startFlow(d.flows.StartBroadcast), true
		case view.BtnAddHandler:
			return d.startFlow(d.flows.StartRosterAdd), true
		case view.BtnRemoveHandler:
			return d.startFlow(d.flows.StartRosterRemove), true
		}
		return nil, false
	}
	switch label {
	case view.BtnCreateTicket:
		return d.startFlow(d.flows.StartIntake), true
	case view.BtnMyTickets:
		return d.withoutFlow(d.showMyTickets), true
	case view.BtnCancelTicket:
		return d.withoutFlow(d.showCancellable), true
	case view.BtnServerCall:
		return d.withoutFlow(d.callServerRoom), true
	}
	return nil, false
}

// withoutFlow drops an unfinished flow before running a plain command.
func (d *Dispatcher) withoutFlow(next command) command {
	return func(ctx context.Context, actor domain.Actor) error {
		if _, err := d.flows.Cancel(ctx, actor.ID); err != nil {
			return err
		}
		return next(ctx, actor)
	}
}

func (d *Dispatcher) startFlow(start func(context.Context, domain.Actor) ([]transport.Outgoing, error)) command {
	return func(ctx context.Context, actor domain.Actor) error {
		replies, err := start(ctx, actor)
		if err != nil {
			return err
		}
		d.reply(ctx, actor, replies...)
		return nil
	}
}

func (d *Dispatcher) showMyTickets(ctx context.Context, actor domain.Actor) error {
	tickets, err := d.tickets.ListForRequester(ctx, actor.ID)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		d.reply(ctx, actor, text(view.NoTickets))
		return nil
	}
	replies := make([]transport.Outgoing, 0, len(tickets))
	for i := range tickets {
		replies = append(replies, text(view.RequesterTicketLine(&tickets[i])))
	}
	d.reply(ctx, actor, replies...)
	return nil
}

func (d *Dispatcher) showCancellable(ctx context.Context, actor domain.Actor) error {
	tickets, err := d.tickets.ListCancellable(ctx, actor.ID)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		d.reply(ctx, actor, text(view.NoCancellable))
		return nil
	}
	d.reply(ctx, actor, prompt(view.ChooseCancellable, view.CancellableChoice(tickets)))
	return nil
}

func (d *Dispatcher) callServerRoom(ctx context.Context, actor domain.Actor) error {
	phone := ""
	latest, err := d.tickets.LatestForRequester(ctx, actor.ID)
	switch {
	case err == nil:
		phone = latest.Phone
	case !apperrors.HasCode(err, apperrors.CodeNotFound):
		return err
	}

	result := d.router.NotifyRoster(ctx, view.ServerCallAlert(actor.DisplayName(), phone), actor.ID)
	if result.Delivered() == 0 {
		d.reply(ctx, actor, text(view.ServerCallUnanswered))
		return nil
	}
	d.reply(ctx, actor, text(view.ServerCallSent))
	return nil
}

func (d *Dispatcher) showActive(ctx context.Context, actor domain.Actor) error {
	tickets, err := d.tickets.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		d.reply(ctx, actor, text(view.NoActiveTickets))
		return nil
	}
	replies := []transport.Outgoing{text(view.ActiveCount(len(tickets)))}
	for i := range tickets {
		t := &tickets[i]
		replies = append(replies, transport.Outgoing{
			Content: transport.Content{Text: view.TicketCard(t), Media: t.Attachment},
			Markup:  view.ActionsFor(t),
		})
	}
	d.reply(ctx, actor, replies...)
	return nil
}

func (d *Dispatcher) showArchive(ctx context.Context, actor domain.Actor) error {
	tickets, err := d.tickets.ListArchive(ctx)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		d.reply(ctx, actor, text(view.ArchiveEmpty))
		return nil
	}
	lines := make([]string, 0, len(tickets))
	for i := range tickets {
		lines = append(lines, view.ArchiveLine(&tickets[i]))
	}
	d.reply(ctx, actor, text(strings.Join(lines, "\n\n")))
	return nil
}

func (d *Dispatcher) showStoreStatus(ctx context.Context, actor domain.Actor) error {
	err := d.store.Ping(ctx)
	count := 0
	if err == nil {
		count, err = d.tickets.Count(ctx)
	}
	if err != nil {
		d.logger.Warn("store status check failed", zap.Error(err))
	}
	d.reply(ctx, actor, text(view.StoreStatus(err, count)))
	return nil
}

func (d *Dispatcher) handleCallback(ctx context.Context, actor domain.Actor, in transport.Inbound) error {
	cb := in.Callback
	action, args := view.ParseCallback(cb.Data)

	switch action {
	case view.ActionFlowCancel, view.ActionBroadcastSend, view.ActionBroadcastCancel, view.ActionRosterRemove:
		replies, err := d.flows.Advance(ctx, actor, in)
		if errors.Is(err, conversation.ErrNoActiveFlow) {
			d.clearActions(ctx, cb.Message)
			d.answer(ctx, cb, view.UnknownCommand, false)
			return nil
		}
		if err != nil {
			return err
		}
		d.answer(ctx, cb, "", false)
		d.reply(ctx, actor, replies...)
		return nil
	}

	if len(args) == 0 {
		d.answer(ctx, cb, view.UnknownCommand, false)
		return nil
	}
	switch action {
	case view.ActionAccept:
		ticket, err := d.tickets.Claim(ctx, args[0], actor)
		if err != nil {
			return err
		}
		d.edit(ctx, cb.Message, transport.Content{Text: view.TicketCard(ticket), Media: ticket.Attachment}, view.WorkActions(ticket.ID))
		d.answer(ctx, cb, view.TicketTaken, false)
		return nil

	case view.ActionComplete:
		ticket, err := d.tickets.Complete(ctx, args[0], actor)
		if err != nil {
			return err
		}
		d.edit(ctx, cb.Message, transport.Content{Text: view.CompletedCard(ticket.ID), Media: ticket.Attachment}, nil)
		d.answer(ctx, cb, view.TicketDone, false)
		return nil

	case view.ActionReject:
		ticket, err := d.tickets.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if ticket.Status.Terminal() {
			return apperrors.NewStatusConflict("ticket already closed", string(ticket.Status), map[string]any{"ticket_id": ticket.ID})
		}
		replies, err := d.flows.StartRejection(ctx, actor, ticket.ID, cb.Message)
		if err != nil {
			return err
		}
		d.answer(ctx, cb, "", false)
		d.reply(ctx, actor, replies...)
		return nil

	case view.ActionServerReply:
		return d.answerServerCall(ctx, actor, cb, args)

	case view.ActionUserCancel:
		ticket, err := d.tickets.Cancel(ctx, args[0], actor.ID)
		if err != nil {
			return err
		}
		d.edit(ctx, cb.Message, transport.Content{Text: view.CancelledForRequester(ticket.ID)}, nil)
		d.answer(ctx, cb, "", false)
		return nil
	}

	d.answer(ctx, cb, view.UnknownCommand, false)
	return nil
}

func (d *Dispatcher) answerServerCall(ctx context.Context, actor domain.Actor, cb *transport.Callback, args []string) error {
	if !actor.Role.IsHandler() {
		return apperrors.NewAccessDenied("handler role required")
	}
	if len(args) != 2 {
		return apperrors.NewValidationError("malformed server call reply", map[string]any{"data": cb.Data})
	}
	raw, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return apperrors.NewValidationError("malformed server call reply", map[string]any{"data": cb.Data})
	}
	coming := args[0] == "yes"
	initiator := domain.PartyID(raw)

	if _, err := d.transport.Send(ctx, initiator, text(view.ServerReply(actor.DisplayName(), coming))); err != nil {
		d.logger.Warn("server call reply not delivered", zap.Int64("party_id", raw), zap.Error(err))
	}
	d.edit(ctx, cb.Message, transport.Content{Text: view.ServerReplyAck(coming)}, nil)
	d.answer(ctx, cb, "", false)
	return nil
}

// fail answers a failed event according to its error code.
func (d *Dispatcher) fail(ctx context.Context, actor domain.Actor, in transport.Inbound, err error) {
	domainErr := apperrors.ToDomainError(err)
	d.metrics.RecordError("chat", eventKind(in), domainErr.Code)
	cb := in.Callback

	switch domainErr.Code {
	case apperrors.CodeStatusConflict:
		status, _ := apperrors.CurrentStatus(err)
		d.logger.Info("transition lost", zap.Int64("party_id", int64(actor.ID)), zap.String("current_status", status))
		if cb == nil {
			d.reply(ctx, actor, prompt(view.StatusConflict(status), view.MenuFor(actor.Role)))
			return
		}
		d.answer(ctx, cb, view.StatusConflict(status), true)
		d.refreshCard(ctx, cb)

	case apperrors.CodeAccessDenied:
		d.logger.Warn("access denied", zap.Int64("party_id", int64(actor.ID)), zap.String("role", string(actor.Role)), zap.Error(err))
		d.notice(ctx, actor, cb, view.AccessDenied)

	case apperrors.CodeNotFound:
		d.notice(ctx, actor, cb, view.TicketMissing)

	case apperrors.CodeValidation, apperrors.CodeConflict:
		d.notice(ctx, actor, cb, "⚠️ "+view.Escape(domainErr.Message))

	default:
		d.logger.Error("event failed",
			zap.Int64("party_id", int64(actor.ID)),
			zap.String("kind", eventKind(in)),
			zap.String("code", domainErr.Code),
			zap.Error(err))
		if cb != nil {
			d.answer(ctx, cb, "", false)
		}
		d.reply(ctx, actor, text(view.Apology))
		if d.router != nil {
			d.router.NotifySuperAdmins(ctx, view.CriticalError(err))
		}
	}
}

// refreshCard redraws a ticket alert after a lost race so its buttons
// match the current status.
func (d *Dispatcher) refreshCard(ctx context.Context, cb *transport.Callback) {
	action, args := view.ParseCallback(cb.Data)
	if len(args) == 0 || (action != view.ActionAccept && action != view.ActionComplete && action != view.ActionReject) {
		return
	}
	ticket, err := d.tickets.Get(ctx, args[0])
	if err != nil {
		d.logger.Debug("card refresh skipped", zap.String("ticket_id", args[0]), zap.Error(err))
		return
	}
	if ticket.Status.Terminal() {
		d.edit(ctx, cb.Message, transport.Content{Text: view.StaleCard(ticket.ID, ticket.Status), Media: ticket.Attachment}, nil)
		return
	}
	d.edit(ctx, cb.Message, transport.Content{Text: view.TicketCard(ticket), Media: ticket.Attachment}, view.ActionsFor(ticket))
}

func (d *Dispatcher) notice(ctx context.Context, actor domain.Actor, cb *transport.Callback, msg string) {
	if cb != nil {
		d.answer(ctx, cb, msg, true)
		return
	}
	d.reply(ctx, actor, text(msg))
}

func (d *Dispatcher) reply(ctx context.Context, actor domain.Actor, replies ...transport.Outgoing) {
	for _, out := range replies {
		_, err := d.transport.Send(ctx, actor.ID, out)
		d.metrics.RecordDelivery("reply", err == nil)
		if err != nil {
			d.logger.Warn("reply not delivered", zap.Int64("party_id", int64(actor.ID)), zap.Error(err))
			return
		}
	}
}

func (d *Dispatcher) edit(ctx context.Context, ref transport.MessageRef, content transport.Content, markup *transport.Markup) {
	if ref.MessageID == 0 {
		return
	}
	if err := d.transport.EditMessage(ctx, ref, content, markup); err != nil {
		d.logger.Warn("message not edited", zap.Int64("message_id", ref.MessageID), zap.Error(err))
	}
}

func (d *Dispatcher) clearActions(ctx context.Context, ref transport.MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	if err := d.transport.EditActions(ctx, ref, nil); err != nil {
		d.logger.Debug("buttons not cleared", zap.Error(err))
	}
}

func (d *Dispatcher) answer(ctx context.Context, cb *transport.Callback, msg string, alert bool) {
	if d.answerer == nil || cb.ID == "" {
		return
	}
	if err := d.answerer.AnswerCallback(ctx, cb.ID, msg, alert); err != nil {
		d.logger.Debug("callback not answered", zap.String("callback_id", cb.ID), zap.Error(err))
	}
}

func eventKind(in transport.Inbound) string {
	switch {
	case in.IsCallback():
		action, _ := view.ParseCallback(in.Callback.Data)
		return "callback:" + action
	case in.Media != nil:
		return fmt.Sprintf("media:%s", in.Media.Kind)
	case in.Contact != "":
		return "contact"
	}
	return "text"
}

func text(s string) transport.Outgoing {
	return transport.Outgoing{Content: transport.Content{Text: s}}
}

func prompt(s string, markup *transport.Markup) transport.Outgoing {
	return transport.Outgoing{Content: transport.Content{Text: s}, Markup: markup}
}
