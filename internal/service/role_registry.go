package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/deskline/support-bot/internal/config"
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/repository"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

// RoleRegistry answers roster membership questions and edits the roster.
// Every lookup reads the store; nothing is cached between events.
type RoleRegistry struct {
	handlers repository.HandlerRepository
	logger   *zap.Logger
}

// NewRoleRegistry constructs the registry.
func NewRoleRegistry(handlers repository.HandlerRepository, logger *zap.Logger) *RoleRegistry {
	return &RoleRegistry{handlers: handlers, logger: logger}
}

// Resolve returns the role of a party.
func (r *RoleRegistry) Resolve(ctx context.Context, id domain.PartyID) (domain.Role, error) {
	handler, err := r.handlers.GetByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.RoleRequester, nil
	case err != nil:
		return "", storeError(err)
	case handler.SuperAdmin:
		return domain.RoleSuperAdmin, nil
	}
	return domain.RoleHandler, nil
}

// IsHandler reports roster membership.
func (r *RoleRegistry) IsHandler(ctx context.Context, id domain.PartyID) (bool, error) {
	role, err := r.Resolve(ctx, id)
	if err != nil {
		return false, err
	}
	return role.IsHandler(), nil
}

// IsSuperAdmin reports whether the party may edit the roster.
func (r *RoleRegistry) IsSuperAdmin(ctx context.Context, id domain.PartyID) (bool, error) {
	role, err := r.Resolve(ctx, id)
	if err != nil {
		return false, err
	}
	return role == domain.RoleSuperAdmin, nil
}

// AddHandler inserts a regular handler. An existing entry is left as is
// and reported with added=false.
func (r *RoleRegistry) AddHandler(ctx context.Context, id domain.PartyID, name string) (bool, error) {
	if id <= 0 {
		return false, apperrors.NewValidationError("handler id must be positive", map[string]any{"id": int64(id)})
	}
	added, err := r.handlers.Add(ctx, &domain.Handler{ID: id, Name: strings.TrimSpace(name)})
	if err != nil {
		return false, storeError(err)
	}
	if added {
		r.logger.Info("handler added", zap.Int64("party_id", int64(id)))
	}
	return added, nil
}

// RemoveHandler deletes a roster entry. The last super-admin cannot be
// removed.
func (r *RoleRegistry) RemoveHandler(ctx context.Context, id domain.PartyID) error {
	handler, err := r.handlers.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("handler", map[string]any{"id": int64(id)})
	}
	if err != nil {
		return storeError(err)
	}
	removed, err := r.handlers.Remove(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if !removed {
		if handler.SuperAdmin {
			return apperrors.NewConflict("the last super-admin cannot be removed", map[string]any{"id": int64(id)})
		}
		return apperrors.NewNotFound("handler", map[string]any{"id": int64(id)})
	}
	r.logger.Info("handler removed", zap.Int64("party_id", int64(id)))
	return nil
}

// Handlers lists the whole roster.
func (r *RoleRegistry) Handlers(ctx context.Context) ([]domain.Handler, error) {
	return r.list(ctx, nil)
}

// SuperAdmins lists the super-admins.
func (r *RoleRegistry) SuperAdmins(ctx context.Context) ([]domain.Handler, error) {
	flag := true
	return r.list(ctx, &flag)
}

// RemovableHandlers lists handlers that are not super-admins.
func (r *RoleRegistry) RemovableHandlers(ctx context.Context) ([]domain.Handler, error) {
	flag := false
	return r.list(ctx, &flag)
}

func (r *RoleRegistry) list(ctx context.Context, superAdmin *bool) ([]domain.Handler, error) {
	handlers, err := r.handlers.List(ctx, repository.HandlerFilter{SuperAdmin: superAdmin})
	if err != nil {
		return nil, storeError(err)
	}
	return handlers, nil
}

// Seed installs the bootstrap roster when the roster is empty and returns
// the number of inserted entries.
func (r *RoleRegistry) Seed(ctx context.Context, entries []config.RosterEntry) (int, error) {
	count, err := r.handlers.Count(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	if count > 0 || len(entries) == 0 {
		return 0, nil
	}
	if !hasSuperAdmin(entries) {
		r.logger.Warn("seed roster has no super-admin; roster edits will be unavailable")
	}

	inserted := 0
	for _, entry := range entries {
		name := entry.Name
		if name == "" {
			name = "id" + formatID(domain.PartyID(entry.ID))
		}
		added, err := r.handlers.Add(ctx, &domain.Handler{ID: domain.PartyID(entry.ID), Name: name, SuperAdmin: entry.SuperAdmin})
		if err != nil {
			return inserted, storeError(err)
		}
		if added {
			inserted++
		}
	}
	r.logger.Info("roster seeded", zap.Int("handlers", inserted))
	return inserted, nil
}

func hasSuperAdmin(entries []config.RosterEntry) bool {
	for _, e := range entries {
		if e.SuperAdmin {
			return true
		}
	}
	return false
}
