package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/events"
	"github.com/deskline/support-bot/internal/observability"
	"github.com/deskline/support-bot/internal/persistence"
	"github.com/deskline/support-bot/internal/repository"
	"github.com/deskline/support-bot/internal/repository/sqlite"
	"github.com/deskline/support-bot/internal/transport"
)

type sentMessage struct {
	to  domain.PartyID
	out transport.Outgoing
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentMessage
	fail   map[domain.PartyID]bool
	nextID int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: map[domain.PartyID]bool{}}
}

func (f *fakeTransport) Send(_ context.Context, to domain.PartyID, out transport.Outgoing) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return transport.MessageRef{}, errors.New("chat not found")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{to: to, out: out})
	return transport.MessageRef{ChatID: int64(to), MessageID: f.nextID}, nil
}

func (f *fakeTransport) EditMessage(context.Context, transport.MessageRef, transport.Content, *transport.Markup) error {
	return nil
}

func (f *fakeTransport) EditActions(context.Context, transport.MessageRef, *transport.Markup) error {
	return nil
}

func (f *fakeTransport) textsTo(id domain.PartyID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.to == id {
			out = append(out, m.out.Content.Text)
		}
	}
	return out
}

type fixture struct {
	store      repository.Store
	transport  *fakeTransport
	dispatcher events.Dispatcher
	registry   *RoleRegistry
	tickets    *TicketService
	router     *NotificationRouter
	requesters *RequesterService
	broadcasts *BroadcastEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	db, err := persistence.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "support.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)

	store := sqlite.NewStore(db.DB)
	tr := newFakeTransport()
	dispatcher := events.NewInMemoryDispatcher()
	registry := NewRoleRegistry(store.Handlers, logger)
	router := NewNotificationRouter(tr, registry, 4, logger, observability.NewMetrics())
	router.RegisterHandlers(dispatcher)
	requesters := NewRequesterService(store.Requesters, logger)

	return &fixture{
		store:      store,
		transport:  tr,
		dispatcher: dispatcher,
		registry:   registry,
		tickets: NewTicketService(TicketDependencies{
			TicketRepo:  store.Tickets,
			HistoryRepo: store.History,
			Registry:    registry,
			Dispatcher:  dispatcher,
			Logger:      logger,
		}),
		router:     router,
		requesters: requesters,
		broadcasts: NewBroadcastEngine(requesters, router, store.Broadcasts, logger),
	}
}

func (f *fixture) addHandler(t *testing.T, id domain.PartyID, superAdmin bool) domain.Actor {
	t.Helper()
	if _, err := f.store.Handlers.Add(context.Background(), &domain.Handler{ID: id, Name: "handler", SuperAdmin: superAdmin}); err != nil {
		t.Fatalf("add handler: %v", err)
	}
	role := domain.RoleHandler
	if superAdmin {
		role = domain.RoleSuperAdmin
	}
	return domain.Actor{ID: id, Name: "Handler", Username: "h" + formatID(id), Role: role}
}

func (f *fixture) createTicket(t *testing.T, requester domain.PartyID) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.Create(context.Background(), requester, TicketCreateInput{
		Name:        "Ivan",
		Phone:       "0501234567",
		Description: "printer jam",
		Priority:    domain.TicketPriorityHigh,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}
