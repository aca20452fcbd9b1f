package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/repository"
	"github.com/deskline/support-bot/internal/transport"
	"github.com/deskline/support-bot/internal/view"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// BroadcastContent is a composed announcement.
type BroadcastContent struct {
	Text  string
	Media *domain.Attachment
}

// Kind classifies the content for the broadcast log.
func (c BroadcastContent) Kind() domain.ContentKind {
	if c.Media == nil {
		return domain.ContentText
	}
	switch c.Media.Kind {
	case domain.MediaPhoto:
		return domain.ContentPhoto
	case domain.MediaVideo:
		return domain.ContentVideo
	}
	return domain.ContentDocument
}

// BroadcastEngine sends announcements to every registered requester and
// keeps the append-only broadcast log.
type BroadcastEngine struct {
	requesters *RequesterService
	router     *NotificationRouter
	broadcasts repository.BroadcastRepository
	logger     *zap.Logger
}

// NewBroadcastEngine constructs the engine.
func NewBroadcastEngine(requesters *RequesterService, router *NotificationRouter, broadcasts repository.BroadcastRepository, logger *zap.Logger) *BroadcastEngine {
	return &BroadcastEngine{requesters: requesters, router: router, broadcasts: broadcasts, logger: logger}
}

// Send delivers content to every requester one at a time and then writes
// exactly one Broadcast record with the tallies, even when every delivery
// failed. Individual failures are reported in the FanoutResult only.
func (e *BroadcastEngine) Send(ctx context.Context, composer domain.PartyID, content BroadcastContent) (*domain.Broadcast, FanoutResult, error) {
	if strings.TrimSpace(content.Text) == "" {
		return nil, FanoutResult{}, apperrors.NewValidationError("broadcast text is required", map[string]any{"text": "required"})
	}
	recipients, err := e.requesters.RecipientIDs(ctx)
	if err != nil {
		return nil, FanoutResult{}, err
	}

	out := transport.Outgoing{Content: transport.Content{Text: view.Escape(content.Text), Media: content.Media}}
	result := e.router.FanOut(ctx, recipients, out, 1)

	record := &domain.Broadcast{
		ComposerID: composer,
		Kind:       content.Kind(),
		Text:       content.Text,
		Delivered:  result.Delivered(),
		Failed:     result.Failed(),
	}
	if content.Media != nil {
		record.ContentRef = content.Media.FileID
	}
	if err := e.broadcasts.Create(ctx, record); err != nil {
		e.logger.Error("broadcast record write failed", zap.Int64("party_id", int64(composer)), zap.Error(err))
		return nil, result, storeError(err)
	}
	e.logger.Info("broadcast sent",
		zap.Int64("party_id", int64(composer)),
		zap.Int("delivered", record.Delivered),
		zap.Int("failed", record.Failed))
	return record, result, nil
}
