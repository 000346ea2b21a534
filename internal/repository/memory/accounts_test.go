package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/repository"
)

func seed(t *testing.T, store *AccountStore) domain.Account {
	t.Helper()
	acc := domain.Account{ID: "acc-1", Email: "ada@example.com", Name: "Ada", PasswordHash: "hash", Enabled: true}
	if err := store.Create(context.Background(), acc); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return acc
}

func TestAccountStoreCreateConflict(t *testing.T) {
	store := NewAccountStore()
	seed(t, store)

	err := store.Create(context.Background(), domain.Account{ID: "acc-2", Email: "ADA@example.com"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAccountStoreLookupIsCaseInsensitive(t *testing.T) {
	store := NewAccountStore()
	seed(t, store)

	acc, err := store.FindByIdentifier(context.Background(), " Ada@Example.com ")
	if err != nil {
		t.Fatalf("FindByIdentifier returned error: %v", err)
	}
	if acc.ID != "acc-1" {
		t.Fatalf("unexpected account %s", acc.ID)
	}

	if _, err := store.FindByIdentifier(context.Background(), "nobody@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreReturnsCopies(t *testing.T) {
	store := NewAccountStore()
	seed(t, store)
	ctx := context.Background()

	now := time.Now()
	if _, err := store.Update(ctx, "ada@example.com", func(acc *domain.Account) error {
		acc.SetOTP("otp-hash", now)
		return nil
	}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	first, _ := store.FindByIdentifier(ctx, "ada@example.com")
	*first.OTPHash = "tampered"
	first.FailedAttempts = 99

	second, _ := store.FindByIdentifier(ctx, "ada@example.com")
	if *second.OTPHash != "otp-hash" || second.FailedAttempts != 0 {
		t.Fatalf("store state leaked through returned pointer: %+v", second)
	}
}

func TestAccountStoreUpdateSkipAndAbort(t *testing.T) {
	store := NewAccountStore()
	seed(t, store)
	ctx := context.Background()

	acc, err := store.Update(ctx, "ada@example.com", func(acc *domain.Account) error {
		acc.FailedAttempts = 5
		return port.ErrSkipUpdate
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if acc.FailedAttempts != 0 {
		t.Fatalf("skipped update must return stored state, got %d", acc.FailedAttempts)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, "ada@example.com", func(acc *domain.Account) error {
		acc.FailedAttempts = 7
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}

	stored, _ := store.FindByIdentifier(ctx, "ada@example.com")
	if stored.FailedAttempts != 0 {
		t.Fatalf("aborted update was persisted: %d", stored.FailedAttempts)
	}

	if _, err := store.Update(ctx, "missing@example.com", func(*domain.Account) error { return nil }); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreConcurrentIncrementsAreNotLost(t *testing.T) {
	store := NewAccountStore()
	seed(t, store)
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.Update(ctx, "ada@example.com", func(acc *domain.Account) error {
				acc.FailedAttempts++
				return nil
			}); err != nil {
				t.Errorf("Update returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	acc, _ := store.FindByIdentifier(ctx, "ada@example.com")
	if acc.FailedAttempts != workers {
		t.Fatalf("expected %d failed attempts, got %d", workers, acc.FailedAttempts)
	}
}

func TestAccountStoreFindByResetToken(t *testing.T) {
	store := NewAccountStore()
	seed(t, store)
	ctx := context.Background()

	if _, err := store.Update(ctx, "ada@example.com", func(acc *domain.Account) error {
		acc.SetResetToken("token-hash", time.Now())
		return nil
	}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	acc, err := store.FindByResetToken(ctx, "token-hash")
	if err != nil {
		t.Fatalf("FindByResetToken returned error: %v", err)
	}
	if acc.Email != "ada@example.com" {
		t.Fatalf("unexpected account %s", acc.Email)
	}
	if _, err := store.FindByResetToken(ctx, "other"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountStoreRolesAreCopied(t *testing.T) {
	store := NewAccountStore()
	ctx := context.Background()
	acc := domain.Account{ID: "acc-1", Email: "ada@example.com", Roles: []string{domain.RoleUser}}
	if err := store.Create(ctx, acc); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	acc.Roles[0] = domain.RoleAdmin

	found, _ := store.FindByIdentifier(ctx, acc.Email)
	found.Roles = append(found.Roles, domain.RoleEditor)

	stored, _ := store.FindByIdentifier(ctx, acc.Email)
	if len(stored.Roles) != 1 || stored.Roles[0] != domain.RoleUser {
		t.Fatalf("stored roles must not alias caller slices, got %v", stored.Roles)
	}
}
