package chat

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/conversation"
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/events"
	"github.com/deskline/support-bot/internal/observability"
	"github.com/deskline/support-bot/internal/persistence"
	"github.com/deskline/support-bot/internal/repository/sqlite"
	"github.com/deskline/support-bot/internal/service"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
)

type sent struct {
	to  domain.PartyID
	out transport.Outgoing
}

type edited struct {
	ref     transport.MessageRef
	content transport.Content
	markup  *transport.Markup
}

type answered struct {
	text  string
	alert bool
}

type recorder struct {
	mu       sync.Mutex
	sent     []sent
	edits    []edited
	answers  []answered
	nextID   int64
	panicFor domain.PartyID
	panics   int
}

func (r *recorder) Send(_ context.Context, to domain.PartyID, out transport.Outgoing) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics > 0 && to == r.panicFor {
		r.panics--
		panic("boom")
	}
	r.nextID++
	r.sent = append(r.sent, sent{to: to, out: out})
	return transport.MessageRef{ChatID: int64(to), MessageID: r.nextID}, nil
}

func (r *recorder) EditMessage(_ context.Context, ref transport.MessageRef, content transport.Content, markup *transport.Markup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, edited{ref: ref, content: content, markup: markup})
	return nil
}

func (r *recorder) EditActions(_ context.Context, ref transport.MessageRef, markup *transport.Markup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, edited{ref: ref, markup: markup})
	return nil
}

func (r *recorder) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, answered{text: text, alert: alert})
	return nil
}

func (r *recorder) textsTo(id domain.PartyID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		if m.to == id {
			out = append(out, m.out.Content.Text)
		}
	}
	return out
}

func (r *recorder) lastTo(id domain.PartyID) sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].to == id {
			return r.sent[i]
		}
	}
	return sent{}
}

func (r *recorder) lastEdit() edited {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.edits) == 0 {
		return edited{}
	}
	return r.edits[len(r.edits)-1]
}

func (r *recorder) lastAnswer() answered {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.answers) == 0 {
		return answered{}
	}
	return r.answers[len(r.answers)-1]
}

type fixture struct {
	dispatcher *Dispatcher
	transport  *recorder
	tickets    *service.TicketService
	registry   *service.RoleRegistry
	metrics    *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	db, err := persistence.NewSQLite(ctx, filepath.Join(t.TempDir(), "chat.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)

	store := sqlite.NewStore(db.DB)
	tr := &recorder{}
	metrics := observability.NewMetrics()
	bus := events.NewInMemoryDispatcher()
	registry := service.NewRoleRegistry(store.Handlers, logger)
	router := service.NewNotificationRouter(tr, registry, 2, logger, metrics)
	router.RegisterHandlers(bus)
	requesters := service.NewRequesterService(store.Requesters, logger)
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  store.Tickets,
		HistoryRepo: store.History,
		Registry:    registry,
		Dispatcher:  bus,
		Logger:      logger,
	})
	flows := conversation.NewController(conversation.Dependencies{
		Store:      conversation.NewMemoryStore(time.Hour),
		Tickets:    tickets,
		Broadcasts: service.NewBroadcastEngine(requesters, router, store.Broadcasts, logger),
		Roster:     registry,
		Transport:  tr,
		Logger:     logger,
	})

	if _, err := registry.AddHandler(ctx, 10, "Olena"); err != nil {
		t.Fatalf("add handler: %v", err)
	}
	if _, err := registry.AddHandler(ctx, 11, "Taras"); err != nil {
		t.Fatalf("add handler: %v", err)
	}

	return &fixture{
		dispatcher: NewDispatcher(Dependencies{
			Tickets:    tickets,
			Registry:   registry,
			Requesters: requesters,
			Router:     router,
			Flows:      flows,
			Transport:  tr,
			Store:      db,
			Logger:     logger,
			Metrics:    metrics,
		}),
		transport: tr,
		tickets:   tickets,
		registry:  registry,
		metrics:   metrics,
	}
}

func msg(from domain.PartyID, text string) transport.Inbound {
	return transport.Inbound{From: from, Name: "User", Text: text}
}

func press(from domain.PartyID, data string, messageID int64) transport.Inbound {
	return transport.Inbound{From: from, Username: "u", Callback: &transport.Callback{
		ID:      "cb",
		Data:    data,
		Message: transport.MessageRef{ChatID: int64(from), MessageID: messageID},
	}}
}

func (f *fixture) handle(events ...transport.Inbound) {
	for _, in := range events {
		f.dispatcher.Handle(context.Background(), in)
	}
}

func (f *fixture) fileTicket(t *testing.T, requester domain.PartyID) *domain.Ticket {
	t.Helper()
	f.handle(
		msg(requester, view.BtnCreateTicket),
		msg(requester, "Ivan"),
		transport.Inbound{From: requester, Contact: "0501234567"},
		msg(requester, "Printer jams"),
		msg(requester, view.BtnSkip),
		msg(requester, view.PriorityLabel(domain.TicketPriorityMedium)),
	)
	ticket, err := f.tickets.LatestForRequester(context.Background(), requester)
	if err != nil {
		t.Fatalf("ticket not filed: %v", err)
	}
	return ticket
}

func TestStartShowsMenuForRole(t *testing.T) {
	f := newFixture(t)
	f.handle(msg(1, "/start"), msg(10, "/start"))

	if got := f.transport.lastTo(1); got.out.Content.Text != view.WelcomeRequester || got.out.Markup.Reply[0][0] != view.BtnCreateTicket {
		t.Fatalf("unexpected requester greeting %+v", got.out)
	}
	if got := f.transport.lastTo(10); got.out.Content.Text != view.WelcomeHandler || got.out.Markup.Reply[0][0] != view.BtnActiveTickets {
		t.Fatalf("unexpected handler greeting %+v", got.out)
	}
}

func TestRequesterFilesTicketAndRosterIsAlerted(t *testing.T) {
	f := newFixture(t)
	ticket := f.fileTicket(t, 1)

	if ticket.Status != domain.TicketStatusPending || ticket.Phone != "0501234567" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	for _, h := range []domain.PartyID{10, 11} {
		alert := f.transport.lastTo(h)
		if !strings.Contains(alert.out.Content.Text, ticket.ID) || alert.out.Markup == nil {
			t.Fatalf("handler %d missing alert: %+v", h, alert.out)
		}
	}
	if got := f.transport.lastTo(1).out.Content.Text; got != view.TicketCreated {
		t.Fatalf("unexpected confirmation %q", got)
	}
}

func TestClaimEditsAlertAndLoserGetsConflict(t *testing.T) {
	f := newFixture(t)
	ticket := f.fileTicket(t, 1)
	data := view.CallbackData(view.ActionAccept, ticket.ID)

	f.handle(press(10, data, 100))
	win := f.transport.lastEdit()
	if win.ref.MessageID != 100 || win.markup == nil || win.markup.Inline[0][0].Data != view.CallbackData(view.ActionComplete, ticket.ID) {
		t.Fatalf("winner card not switched to work actions: %+v", win)
	}
	if !strings.Contains(f.transport.lastTo(1).out.Content.Text, "accepted") {
		t.Fatalf("requester not told about claim: %v", f.transport.textsTo(1))
	}

	f.handle(press(11, data, 200))
	loser := f.transport.lastAnswer()
	if !loser.alert || loser.text != view.StatusConflict(string(domain.TicketStatusAccepted)) {
		t.Fatalf("unexpected loser notice %+v", loser)
	}
	refreshed := f.transport.lastEdit()
	if refreshed.ref.MessageID != 200 || refreshed.markup == nil {
		t.Fatalf("loser card not refreshed: %+v", refreshed)
	}
}

func TestCompleteTwiceShowsStaleCard(t *testing.T) {
	f := newFixture(t)
	ticket := f.fileTicket(t, 1)
	f.handle(press(10, view.CallbackData(view.ActionAccept, ticket.ID), 100))
	f.handle(press(10, view.CallbackData(view.ActionComplete, ticket.ID), 100))
	f.handle(press(11, view.CallbackData(view.ActionComplete, ticket.ID), 300))

	last := f.transport.lastEdit()
	if last.ref.MessageID != 300 || last.content.Text != view.StaleCard(ticket.ID, domain.TicketStatusCompleted) || last.markup != nil {
		t.Fatalf("expected stale card, got %+v", last)
	}
	completions := 0
	for _, text := range f.transport.textsTo(1) {
		if strings.Contains(text, "completed") {
			completions++
		}
	}
	if completions != 1 {
		t.Fatalf("expected exactly one completion notice, got %d", completions)
	}
}

func TestRejectCollectsReason(t *testing.T) {
	f := newFixture(t)
	ticket := f.fileTicket(t, 1)
	f.handle(
		press(10, view.CallbackData(view.ActionReject, ticket.ID), 100),
		msg(10, "Duplicate of <#42>"),
	)

	got, err := f.tickets.Get(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TicketStatusRejected || got.DeclineReason == nil || *got.DeclineReason != "Duplicate of <#42>" {
		t.Fatalf("unexpected ticket %+v", got)
	}
	if notice := f.transport.lastTo(1).out.Content.Text; !strings.Contains(notice, "Duplicate of &lt;#42&gt;") {
		t.Fatalf("requester notice not escaped: %q", notice)
	}
	if edit := f.transport.lastEdit(); edit.ref.MessageID != 100 || edit.markup != nil {
		t.Fatalf("alert not closed: %+v", edit)
	}
}

func TestRequesterCannotClaim(t *testing.T) {
	f := newFixture(t)
	ticket := f.fileTicket(t, 1)
	f.handle(press(2, view.CallbackData(view.ActionAccept, ticket.ID), 5))

	if got := f.transport.lastAnswer(); got.text != view.AccessDenied {
		t.Fatalf("expected denial, got %+v", got)
	}
	if got, _ := f.tickets.Get(context.Background(), ticket.ID); got.Status != domain.TicketStatusPending {
		t.Fatalf("ticket must stay pending, got %s", got.Status)
	}
}

func TestRequesterCancelsOwnTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.fileTicket(t, 1)
	f.handle(msg(1, view.BtnCancelTicket))
	choice := f.transport.lastTo(1).out
	if choice.Markup == nil || choice.Markup.Inline[0][0].Data != view.CallbackData(view.ActionUserCancel, ticket.ID) {
		t.Fatalf("unexpected cancel choice %+v", choice)
	}

	f.handle(press(2, choice.Markup.Inline[0][0].Data, 7))
	if got := f.transport.lastAnswer(); got.text != view.AccessDenied {
		t.Fatalf("foreign cancel must be denied, got %+v", got)
	}

	f.handle(press(1, choice.Markup.Inline[0][0].Data, 7))
	if edit := f.transport.lastEdit(); edit.content.Text != view.CancelledForRequester(ticket.ID) {
		t.Fatalf("unexpected edit %+v", edit)
	}
}

func TestServerRoomCall(t *testing.T) {
	f := newFixture(t)
	f.fileTicket(t, 1)
	f.handle(msg(1, view.BtnServerCall))

	alert := f.transport.lastTo(10).out
	if !strings.Contains(alert.Content.Text, "0501234567") || alert.Markup == nil {
		t.Fatalf("unexpected call alert %+v", alert)
	}
	if got := f.transport.lastTo(1).out.Content.Text; got != view.ServerCallSent {
		t.Fatalf("unexpected ack %q", got)
	}

	f.handle(press(10, alert.Markup.Inline[0][0].Data, 50))
	if got := f.transport.lastTo(1).out.Content.Text; !strings.Contains(got, "on the way") {
		t.Fatalf("initiator not told: %q", got)
	}
	if edit := f.transport.lastEdit(); edit.content.Text != view.ServerReplyAck(true) {
		t.Fatalf("alert not acknowledged: %+v", edit)
	}
}

func TestHandlerListsAndStoreStatus(t *testing.T) {
	f := newFixture(t)
	f.handle(msg(10, view.BtnActiveTickets))
	if got := f.transport.lastTo(10).out.Content.Text; got != view.NoActiveTickets {
		t.Fatalf("unexpected empty listing %q", got)
	}

	ticket := f.fileTicket(t, 1)
	f.handle(msg(10, view.BtnActiveTickets))
	card := f.transport.lastTo(10).out
	if !strings.Contains(card.Content.Text, ticket.ID) || card.Markup == nil {
		t.Fatalf("unexpected card %+v", card)
	}

	f.handle(msg(10, view.BtnStoreStatus))
	if got := f.transport.lastTo(10).out.Content.Text; got != view.StoreStatus(nil, 1) {
		t.Fatalf("unexpected store status %q", got)
	}
}

func TestHandlerMenuIgnoredForRequesters(t *testing.T) {
	f := newFixture(t)
	f.handle(msg(1, view.BtnBroadcast))
	if got := f.transport.lastTo(1).out.Content.Text; got != view.UnknownCommand {
		t.Fatalf("expected unknown command, got %q", got)
	}
}

func TestRosterAddRequiresSuperAdmin(t *testing.T) {
	f := newFixture(t)
	f.handle(msg(10, view.BtnAddHandler))
	if got := f.transport.lastTo(10).out.Content.Text; got != view.AccessDenied {
		t.Fatalf("plain handler must be denied, got %q", got)
	}
}

func TestBroadcastReachesRequesters(t *testing.T) {
	f := newFixture(t)
	f.handle(msg(1, "/start"), msg(2, "/start"))
	f.handle(
		msg(10, view.BtnBroadcast),
		msg(10, "Maintenance tonight"),
		msg(10, view.BtnSkip),
		press(10, view.ActionBroadcastSend, 77),
	)
	for _, id := range []domain.PartyID{1, 2} {
		if got := f.transport.lastTo(id).out.Content.Text; got != "Maintenance tonight" {
			t.Fatalf("party %d got %q", id, got)
		}
	}
	if got := f.transport.lastTo(10).out.Content.Text; !strings.Contains(got, "delivered") {
		t.Fatalf("unexpected report %q", got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.transport.panicFor = 3
	f.transport.panics = 1
	f.handle(msg(3, "/start"))
	if got := f.transport.lastTo(3).out.Content.Text; got != view.Apology {
		t.Fatalf("expected apology after panic, got %q", got)
	}
	f.handle(msg(3, "/start"))
	if got := f.transport.lastTo(3).out.Content.Text; got != view.WelcomeRequester {
		t.Fatalf("dispatcher must keep working, got %q", got)
	}
}

func TestSubmitKeepsPartyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dispatcher.Submit(ctx, msg(1, view.BtnCreateTicket))
	f.dispatcher.Submit(ctx, msg(1, "Ivan"))
	f.dispatcher.Submit(ctx, transport.Inbound{From: 1, Contact: "0501234567"})
	f.dispatcher.Submit(ctx, msg(1, "Printer jams"))
	f.dispatcher.Submit(ctx, msg(1, view.BtnSkip))
	f.dispatcher.Submit(ctx, msg(1, view.PriorityLabel(domain.TicketPriorityLow)))
	f.dispatcher.Submit(ctx, msg(2, "/start"))
	f.dispatcher.Wait()

	ticket, err := f.tickets.LatestForRequester(ctx, 1)
	if err != nil {
		t.Fatalf("ticket not filed in order: %v", err)
	}
	if ticket.Name != "Ivan" || ticket.Priority != domain.TicketPriorityLow {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if got := f.metrics.Snapshot().Events["requester|text"]; got < 5 {
		t.Fatalf("expected events to be counted, got %d", got)
	}
}
