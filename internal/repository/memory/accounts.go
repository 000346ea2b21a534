package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/repository"
)

// AccountStore keeps accounts in process memory. Updates of one account are serialised by a
// per-account mutex; lookups take a copy under the store lock.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	account domain.Account
}

var _ port.CredentialStore = (*AccountStore)(nil)

// NewAccountStore returns an empty store.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*entry)}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts account, failing with repository.ErrConflict when the email is taken.
func (s *AccountStore) Create(_ context.Context, account domain.Account) error {
	k := key(account.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[k]; exists {
		return repository.ErrConflict
	}
	s.accounts[k] = &entry{account: cloneAccount(account)}
	return nil
}

// FindByIdentifier returns a copy of the account registered under email.
func (s *AccountStore) FindByIdentifier(_ context.Context, email string) (*domain.Account, error) {
	e := s.lookup(email)
	if e == nil {
		return nil, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc := cloneAccount(e.account)
	return &acc, nil
}

// FindByResetToken returns a copy of the account holding tokenHash.
func (s *AccountStore) FindByResetToken(_ context.Context, tokenHash string) (*domain.Account, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.account.ResetTokenHash != nil && *e.account.ResetTokenHash == tokenHash {
			acc := cloneAccount(e.account)
			e.mu.Unlock()
			return &acc, nil
		}
		e.mu.Unlock()
	}
	return nil, repository.ErrNotFound
}

// Update applies mutate to a copy of the account while holding its lock and stores the result.
func (s *AccountStore) Update(_ context.Context, email string, mutate port.AccountMutation) (*domain.Account, error) {
	e := s.lookup(email)
	if e == nil {
		return nil, repository.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := cloneAccount(e.account)
	if err := mutate(&working); err != nil {
		if errors.Is(err, port.ErrSkipUpdate) {
			current := cloneAccount(e.account)
			return &current, nil
		}
		return nil, err
	}
	e.account = cloneAccount(working)
	return &working, nil
}

func (s *AccountStore) lookup(email string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[key(email)]
}

// cloneAccount deep-copies the pointer fields so callers never share state with the store.
func cloneAccount(a domain.Account) domain.Account {
	out := a
	out.LockedAt = cloneTime(a.LockedAt)
	out.OTPIssuedAt = cloneTime(a.OTPIssuedAt)
	out.PasswordChangedAt = cloneTime(a.PasswordChangedAt)
	out.ResetTokenIssuedAt = cloneTime(a.ResetTokenIssuedAt)
	out.OTPHash = cloneString(a.OTPHash)
	out.ResetTokenHash = cloneString(a.ResetTokenHash)
	out.Roles = slices.Clone(a.Roles)
	return out
}
