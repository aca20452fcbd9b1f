package service

import (
	"errors"
	"strconv"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/repository"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// storeError wraps repository failures at the service boundary. Domain
// errors pass through; a missing record becomes NOT_FOUND.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("record", nil)
	}
	return apperrors.NewStoreUnavailable(err)
}

func formatID(id domain.PartyID) string {
	return strconv.FormatInt(int64(id), 10)
}
