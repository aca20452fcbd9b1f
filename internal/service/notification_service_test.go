package service

import (
	"context"
	"testing"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
)

func TestFanOutCollectsPerRecipientResults(t *testing.T) {
	f := newFixture(t)
	f.transport.fail[3] = true
	ids := []domain.PartyID{1, 2, 3, 4}

	result := f.router.FanOut(context.Background(), ids, transport.Outgoing{Content: transport.Content{Text: "hi"}}, 3)
	if len(result.Deliveries) != 4 {
		t.Fatalf("expected a slot per recipient, got %d", len(result.Deliveries))
	}
	for i, d := range result.Deliveries {
		if d.Recipient != ids[i] {
			t.Fatalf("slot %d holds recipient %d", i, d.Recipient)
		}
	}
	if result.Delivered() != 3 || result.Failed() != 1 {
		t.Fatalf("delivered=%d failed=%d", result.Delivered(), result.Failed())
	}
}

func TestNotifyRosterCarriesReplyButtons(t *testing.T) {
	f := newFixture(t)
	f.addHandler(t, 1, true)
	f.addHandler(t, 2, false)

	result := f.router.NotifyRoster(context.Background(), view.ServerCallAlert("Ivan", ""), 77)
	if result.Delivered() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", result.Delivered())
	}
	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	for _, m := range f.transport.sent {
		if m.out.Markup == nil || m.out.Markup.Inline[0][0].Data != "srv_reply|yes|77" {
			t.Fatalf("missing reply buttons: %+v", m.out.Markup)
		}
	}
}

func TestNotifySuperAdminsDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.addHandler(t, 1, true)
	f.addHandler(t, 2, false)

	result := f.router.NotifySuperAdmins(context.Background(), "store down", 1, 9)
	if len(result.Deliveries) != 2 {
		t.Fatalf("expected ids 1 and 9, got %+v", result.Deliveries)
	}
	if len(f.transport.textsTo(2)) != 0 {
		t.Fatal("regular handlers must not get super-admin alerts")
	}
}

func TestNotifyRequesterSwallowsFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.fail[requesterID] = true
	f.router.NotifyRequester(context.Background(), &domain.Ticket{ID: "x", RequesterID: requesterID}, "hello")
	if len(f.transport.textsTo(requesterID)) != 0 {
		t.Fatal("failed delivery must not be recorded as sent")
	}
}
