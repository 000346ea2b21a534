package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/repository"
)

var (
	// ErrUnknownRole indicates a role outside domain.KnownRoles was requested.
	ErrUnknownRole = errors.New("unknown role")
	// ErrSelfModification indicates an administrator tried to revoke their own admin role or disable themselves.
	ErrSelfModification = errors.New("administrators cannot demote or disable themselves")
)

// AccountAdministration manages roles and the enabled flag of existing accounts.
type AccountAdministration struct {
	store  port.CredentialStore
	logger *zap.Logger
}

// NewAccountAdministration constructs an AccountAdministration.
func NewAccountAdministration(store port.CredentialStore, log *zap.Logger) *AccountAdministration {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountAdministration{store: store, logger: log}
}

// Roles returns the roles that can be granted.
func (a *AccountAdministration) Roles() []string {
	return domain.KnownRoles()
}

// Account returns the sanitized account registered under email.
func (a *AccountAdministration) Account(ctx context.Context, email string) (domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.Account{}, ErrInvalidInput
	}
	account, err := a.store.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return account.Sanitized(), nil
}

// AssignRoles replaces the roles of the account under email. RoleUser is always kept.
// Tokens carrying a revoked role stop verifying once the change is stored.
func (a *AccountAdministration) AssignRoles(ctx context.Context, actorID, email string, roles []string) (domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.Account{}, ErrInvalidInput
	}
	normalized, err := normalizeRoles(roles)
	if err != nil {
		return domain.Account{}, err
	}

	updated, err := a.store.Update(ctx, email, func(acc *domain.Account) error {
		if acc.ID == actorID && acc.HasRole(domain.RoleAdmin) && !slices.Contains(normalized, domain.RoleAdmin) {
			return ErrSelfModification
		}
		if slices.Equal(acc.Roles, normalized) {
			return port.ErrSkipUpdate
		}
		acc.Roles = normalized
		return nil
	})
	if err != nil {
		return domain.Account{}, a.mapUpdateError(err)
	}

	a.logger.Info("account roles assigned",
		zap.String("account_id", updated.ID),
		zap.String("actor_id", actorID),
		zap.Strings("roles", updated.Roles),
	)
	return updated.Sanitized(), nil
}

// SetEnabled enables or disables the account under email. Disabled accounts are denied at login
// and their tokens are rejected.
func (a *AccountAdministration) SetEnabled(ctx context.Context, actorID, email string, enabled bool) (domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.Account{}, ErrInvalidInput
	}

	updated, err := a.store.Update(ctx, email, func(acc *domain.Account) error {
		if acc.ID == actorID && !enabled {
			return ErrSelfModification
		}
		if acc.Enabled == enabled {
			return port.ErrSkipUpdate
		}
		acc.Enabled = enabled
		return nil
	})
	if err != nil {
		return domain.Account{}, a.mapUpdateError(err)
	}

	a.logger.Info("account enabled flag changed",
		zap.String("account_id", updated.ID),
		zap.String("actor_id", actorID),
		zap.Bool("enabled", updated.Enabled),
	)
	return updated.Sanitized(), nil
}

func (a *AccountAdministration) mapUpdateError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, ErrSelfModification):
		return err
	default:
		return fmt.Errorf("update account: %w", err)
	}
}

// normalizeRoles validates roles and orders them as domain.KnownRoles does, adding RoleUser.
func normalizeRoles(roles []string) ([]string, error) {
	requested := map[string]bool{domain.RoleUser: true}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if !domain.IsKnownRole(role) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		requested[role] = true
	}

	out := make([]string, 0, len(requested))
	for _, role := range domain.KnownRoles() {
		if requested[role] {
			out = append(out, role)
		}
	}
	return out, nil
}
