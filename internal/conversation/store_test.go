package conversation

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
)

func TestSessionJSONKeepsFlowVariant(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		flow Flow
	}{
		{name: "intake", flow: &Intake{Step: IntakeAttachment, Name: "Ivan", Phone: "0991234567", Description: "Printer"}},
		{name: "rejection", flow: &Rejection{TicketID: "abcd1234", Origin: transport.MessageRef{ChatID: 10, MessageID: 4}}},
		{name: "broadcast", flow: &BroadcastDraft{Step: BroadcastConfirm, Text: "hi", Media: &domain.Attachment{FileID: "f", Kind: domain.MediaVideo}}},
		{name: "roster add", flow: &RosterAdd{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(Session{Party: 5, StartedAt: started, Flow: tc.flow})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Session
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Party != 5 || !got.StartedAt.Equal(started) {
				t.Fatalf("unexpected session %+v", got)
			}
			if got.Flow.Kind() != tc.flow.Kind() {
				t.Fatalf("expected %s, got %s", tc.flow.Kind(), got.Flow.Kind())
			}
		})
	}
}

func TestSessionJSONRejectsUnknownKind(t *testing.T) {
	var s Session
	if err := json.Unmarshal([]byte(`{"party":1,"kind":"payroll","flow":{}}`), &s); err == nil {
		t.Fatal("expected error for unknown flow kind")
	}
}

func TestMemoryStoreExpiresInactiveSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20 * time.Millisecond)
	if err := store.Put(ctx, &Session{Party: 1, StartedAt: time.Now(), Flow: &RosterAdd{}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if s, _ := store.Get(ctx, 1); s == nil {
		t.Fatal("expected session")
	}
	time.Sleep(40 * time.Millisecond)
	if s, _ := store.Get(ctx, 1); s != nil {
		t.Fatal("expected session to expire")
	}
}

func TestMemoryStoreIsolatesParties(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	_ = store.Put(ctx, &Session{Party: 1, Flow: &Intake{Step: IntakeName}})
	_ = store.Put(ctx, &Session{Party: 2, Flow: &BroadcastDraft{Step: BroadcastText}})
	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s, _ := store.Get(ctx, 1); s != nil {
		t.Fatal("party 1 must be gone")
	}
	s, _ := store.Get(ctx, 2)
	if s == nil || s.Flow.Kind() != FlowBroadcast {
		t.Fatalf("party 2 lost its flow: %+v", s)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute)
	party := domain.PartyID(time.Now().UnixNano())
	if s, err := store.Get(ctx, party); err != nil || s != nil {
		t.Fatalf("expected empty store, got %+v %v", s, err)
	}
	if err := store.Put(ctx, &Session{Party: party, Flow: &Rejection{TicketID: "abcd1234"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s, err := store.Get(ctx, party)
	if err != nil || s == nil || s.Flow.(*Rejection).TicketID != "abcd1234" {
		t.Fatalf("unexpected session %+v %v", s, err)
	}
	if err := store.Delete(ctx, party); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
