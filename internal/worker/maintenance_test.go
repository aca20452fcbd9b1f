package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/api/dto"
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/persistence"
	"github.com/deskline/support-bot/internal/repository/sqlite"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
)

type flakyStore struct {
	mu  sync.Mutex
	err error
}

func (s *flakyStore) set(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *flakyStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type staticRoster struct {
	admins []domain.Handler
	err    error
}

func (r *staticRoster) SuperAdmins(context.Context) ([]domain.Handler, error) {
	return r.admins, r.err
}

type outbox struct {
	mu    sync.Mutex
	texts map[domain.PartyID][]string
	files map[domain.PartyID][]byte
}

func newOutbox() *outbox {
	return &outbox{texts: map[domain.PartyID][]string{}, files: map[domain.PartyID][]byte{}}
}

func (o *outbox) Send(_ context.Context, to domain.PartyID, out transport.Outgoing) (transport.MessageRef, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts[to] = append(o.texts[to], out.Content.Text)
	return transport.MessageRef{ChatID: int64(to), MessageID: 1}, nil
}

func (o *outbox) EditMessage(context.Context, transport.MessageRef, transport.Content, *transport.Markup) error {
	return nil
}

func (o *outbox) EditActions(context.Context, transport.MessageRef, *transport.Markup) error {
	return nil
}

func (o *outbox) SendFile(_ context.Context, to domain.PartyID, filename string, data []byte, caption string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !strings.HasSuffix(filename, ".json.zst") || caption == "" {
		return errors.New("unexpected upload")
	}
	o.files[to] = data
	return nil
}

func (o *outbox) sentTo(id domain.PartyID) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.texts[id]...)
}

// stalledOutbox blocks every send until release is closed.
type stalledOutbox struct {
	*outbox
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (o *stalledOutbox) Send(ctx context.Context, to domain.PartyID, out transport.Outgoing) (transport.MessageRef, error) {
	o.once.Do(func() { close(o.entered) })
	<-o.release
	return o.outbox.Send(ctx, to, out)
}

func TestHealthProbeDoesNotHoldLockWhileSending(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{}
	store.set(errors.New("connection refused"))
	out := &stalledOutbox{outbox: newOutbox(), entered: make(chan struct{}), release: make(chan struct{})}
	probe := NewHealthProbe(store, &staticRoster{}, out, HealthProbeConfig{Interval: time.Second, Threshold: 1, AlertIDs: []domain.PartyID{5}}, zap.NewNop())

	alerting := make(chan struct{})
	go func() {
		defer close(alerting)
		_ = probe.Probe(ctx)
	}()
	<-out.entered

	second := make(chan error, 1)
	go func() { second <- probe.Probe(ctx) }()
	select {
	case err := <-second:
		if err == nil {
			t.Fatal("expected ping error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe blocked behind a pending alert")
	}

	close(out.release)
	<-alerting
	if got := out.sentTo(5); len(got) != 1 {
		t.Fatalf("expected one outage alert, got %v", got)
	}
}

func TestHealthProbeAlertsOncePerOutage(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{}
	roster := &staticRoster{admins: []domain.Handler{{ID: 1, SuperAdmin: true}}}
	out := newOutbox()
	probe := NewHealthProbe(store, roster, out, HealthProbeConfig{Interval: time.Second, Threshold: 2, AlertIDs: []domain.PartyID{1, 5}}, zap.NewNop())

	if err := probe.Probe(ctx); err != nil {
		t.Fatalf("healthy probe: %v", err)
	}

	store.set(errors.New("connection refused"))
	roster.err = errors.New("store down")
	for i := 0; i < 4; i++ {
		if err := probe.Probe(ctx); err == nil {
			t.Fatal("expected ping error")
		}
	}
	for _, id := range []domain.PartyID{1, 5} {
		got := out.sentTo(id)
		if len(got) != 1 || !strings.Contains(got[0], "connection refused") {
			t.Fatalf("party %d: expected one outage alert, got %v", id, got)
		}
	}

	store.set(nil)
	roster.err = nil
	_ = probe.Probe(ctx)
	_ = probe.Probe(ctx)
	got := out.sentTo(1)
	if len(got) != 2 || got[1] != view.StoreRecovered {
		t.Fatalf("expected one recovery alert, got %v", got)
	}
}

func TestHealthProbeBelowThresholdStaysQuiet(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{err: errors.New("timeout")}
	out := newOutbox()
	probe := NewHealthProbe(store, &staticRoster{}, out, HealthProbeConfig{Interval: time.Second, Threshold: 3, AlertIDs: []domain.PartyID{9}}, zap.NewNop())

	_ = probe.Probe(ctx)
	_ = probe.Probe(ctx)
	store.set(nil)
	_ = probe.Probe(ctx)
	if got := out.sentTo(9); len(got) != 0 {
		t.Fatalf("expected no alerts, got %v", got)
	}
}

func TestHealthProbeRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := NewHealthProbe(&flakyStore{}, &staticRoster{}, newOutbox(), HealthProbeConfig{Interval: 5 * time.Millisecond}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		probe.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("probe did not stop")
	}
}

func TestExportWritesCompressedSnapshot(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	db, err := persistence.NewSQLite(ctx, filepath.Join(t.TempDir(), "export.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	store := sqlite.NewStore(db.DB)

	if _, err := store.Handlers.Add(ctx, &domain.Handler{ID: 1, Name: "Root", SuperAdmin: true}); err != nil {
		t.Fatalf("add handler: %v", err)
	}
	if _, err := store.Requesters.Register(ctx, &domain.Requester{ID: 7, Name: "Ivan"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ticket := &domain.Ticket{
		ID:          "abcd1234",
		RequesterID: 7,
		Name:        "Ivan",
		Phone:       "0501234567",
		Description: "Printer jams",
		Priority:    domain.TicketPriorityHigh,
		Status:      domain.TicketStatusPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := store.Tickets.Create(ctx, ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	entry := &domain.TicketHistory{TicketID: "abcd1234", ActorID: 7, FromStatus: domain.TicketStatusPending, ToStatus: domain.TicketStatusPending, Note: "opened"}
	if err := store.History.Create(ctx, entry); err != nil {
		t.Fatalf("record history: %v", err)
	}

	out := newOutbox()
	dir := filepath.Join(t.TempDir(), "exports")
	exporter := NewExporter(store, &staticRoster{admins: []domain.Handler{{ID: 1}}}, out, dir, time.Hour, logger)
	exporter.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	path, err := exporter.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != "export_2024-03-09.json.zst" {
		t.Fatalf("unexpected file name %s", path)
	}
	compressed, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(out.files[1]) != string(compressed) {
		t.Fatal("super-admin did not receive the export")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	var doc dto.Export
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Tickets) != 1 || doc.Tickets[0].ID != "abcd1234" || doc.Tickets[0].Status != "PENDING" {
		t.Fatalf("unexpected tickets %+v", doc.Tickets)
	}
	if len(doc.Requesters) != 1 || len(doc.Handlers) != 1 || len(doc.Broadcasts) != 0 {
		t.Fatalf("unexpected snapshot %+v", doc)
	}
	if len(doc.History) != 1 || doc.History[0].TicketID != "abcd1234" || doc.History[0].Note != "opened" {
		t.Fatalf("unexpected history %+v", doc.History)
	}
}
