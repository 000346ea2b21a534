package port

import (
	"context"
	"errors"

	"github.com/arklim/authguard/internal/core/domain"
)

// ErrSkipUpdate may be returned by an AccountMutation to end the update without writing.
// The store then returns the account as loaded and a nil error.
var ErrSkipUpdate = errors.New("credential store: update skipped")

// AccountMutation mutates an account inside an atomic read-modify-write.
// Returning an error aborts the update and nothing is persisted.
type AccountMutation func(account *domain.Account) error

// CredentialStore exposes persistence behavior for accounts.
//
// Update is the only write path for existing accounts. It must apply the read, the mutation and
// the write as one unit scoped to the account email, so concurrent updates never lose writes.
type CredentialStore interface {
	Create(ctx context.Context, account domain.Account) error
	FindByIdentifier(ctx context.Context, email string) (*domain.Account, error)
	FindByResetToken(ctx context.Context, tokenHash string) (*domain.Account, error)
	Update(ctx context.Context, email string, mutate AccountMutation) (*domain.Account, error)
}
