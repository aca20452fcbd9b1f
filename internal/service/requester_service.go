package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/repository"
)

// RequesterService keeps the directory of parties that talked to the bot.
type RequesterService struct {
	requesters repository.RequesterRepository
	logger     *zap.Logger
}

// NewRequesterService constructs the service.
func NewRequesterService(requesters repository.RequesterRepository, logger *zap.Logger) *RequesterService {
	return &RequesterService{requesters: requesters, logger: logger}
}

// Register records the party unless it is already known.
func (s *RequesterService) Register(ctx context.Context, actor domain.Actor) (bool, error) {
	created, err := s.requesters.Register(ctx, &domain.Requester{
		ID:       actor.ID,
		Name:     strings.TrimSpace(actor.Name),
		Username: actor.Username,
	})
	if err != nil {
		return false, storeError(err)
	}
	if created {
		s.logger.Info("requester registered", zap.Int64("party_id", int64(actor.ID)), zap.String("username", actor.Username))
	}
	return created, nil
}

// RecipientIDs lists every registered requester.
func (s *RequesterService) RecipientIDs(ctx context.Context) ([]domain.PartyID, error) {
	ids, err := s.requesters.ListIDs(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return ids, nil
}
