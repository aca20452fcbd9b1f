package service

import (
	"context"
	"testing"

	"github.com/deskline/support-bot/internal/domain"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

func registerRequesters(t *testing.T, f *fixture, ids ...domain.PartyID) {
	t.Helper()
	for _, id := range ids {
		if _, err := f.requesters.Register(context.Background(), domain.Actor{ID: id, Name: "user"}); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
}

func TestBroadcastPartialFailureRecordedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	composer := f.addHandler(t, 1, true)
	registerRequesters(t, f, 11, 12, 13, 14, 15)
	f.transport.fail[13] = true

	record, result, err := f.broadcasts.Send(ctx, composer.ID, BroadcastContent{
		Text:  "Maintenance tonight",
		Media: &domain.Attachment{FileID: "vid-1", Kind: domain.MediaVideo},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if record.Delivered != 4 || record.Failed != 1 || record.Kind != domain.ContentVideo || record.ContentRef != "vid-1" {
		t.Fatalf("unexpected record %+v", record)
	}
	failures := result.Failures()
	if len(failures) != 1 || failures[0].Recipient != 13 || !apperrors.HasCode(failures[0].Err, apperrors.CodeDeliveryFailed) {
		t.Fatalf("unexpected failures %+v", failures)
	}

	logged, err := f.store.Broadcasts.List(ctx, 0)
	if err != nil || len(logged) != 1 || logged[0].Delivered != 4 {
		t.Fatalf("expected one logged broadcast, got %+v err=%v", logged, err)
	}
}

func TestBroadcastWithoutDeliveriesStillRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registerRequesters(t, f, 21, 22)
	f.transport.fail[21] = true
	f.transport.fail[22] = true

	record, _, err := f.broadcasts.Send(ctx, 1, BroadcastContent{Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if record.Delivered != 0 || record.Failed != 2 || record.Kind != domain.ContentText {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, _, err := f.broadcasts.Send(ctx, 1, BroadcastContent{Text: " "}); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	logged, _ := f.store.Broadcasts.List(ctx, 0)
	if len(logged) != 1 {
		t.Fatalf("expected one record, got %d", len(logged))
	}
}
