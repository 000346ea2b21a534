package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/infra/config"
)

func newTestLifecycle(t *testing.T, store *fakeStore, events *fakeEvents, clock *testClock) *PasswordLifecycle {
	t.Helper()
	lifecycle := NewPasswordLifecycle(config.PasswordSettings{MaxAge: 30 * 24 * time.Hour}, store, plainHasher{}, stubPolicy{reject: "weak"}, events, zaptest.NewLogger(t))
	lifecycle.WithClock(clock.Now)
	return lifecycle
}

func TestIsExpired(t *testing.T) {
	lifecycle := newTestLifecycle(t, newFakeStore(), nil, newTestClock(baseTime))
	acc := testAccount()

	acc.PasswordChangedAt = nil
	if lifecycle.IsExpired(acc, baseTime) {
		t.Fatal("accounts without a change time never expire")
	}

	acc.PasswordChangedAt = timePtr(baseTime.Add(-30 * 24 * time.Hour))
	if lifecycle.IsExpired(acc, baseTime) {
		t.Fatal("password exactly at max age is not yet expired")
	}

	acc.PasswordChangedAt = timePtr(baseTime.Add(-31 * 24 * time.Hour))
	if !lifecycle.IsExpired(acc, baseTime) {
		t.Fatal("password older than max age must be expired")
	}
}

func TestChangePasswordSuccess(t *testing.T) {
	store := newFakeStore(testAccount())
	events := &fakeEvents{}
	clock := newTestClock(baseTime)
	lifecycle := newTestLifecycle(t, store, events, clock)

	result, err := lifecycle.ChangePassword(context.Background(), "Ada@Example.com", "correct-horse", "battery-staple")
	if err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if !result.InvalidateSessions || !result.ChangedAt.Equal(baseTime) || result.AccountID != "acc-1" {
		t.Fatalf("unexpected result %+v", result)
	}

	stored := store.get("ada@example.com")
	if stored.PasswordHash != "hashed:battery-staple" {
		t.Fatalf("new password not stored, got %s", stored.PasswordHash)
	}
	if stored.PasswordChangedAt == nil || !stored.PasswordChangedAt.Equal(baseTime) {
		t.Fatalf("change time not recorded, got %v", stored.PasswordChangedAt)
	}
	if len(events.changed) != 1 || events.changed[0].Reason != passwordChangeReason {
		t.Fatalf("expected password changed event, got %+v", events.changed)
	}
}

func TestChangePasswordRules(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		wantErr error
	}{
		{name: "same credential checked before old password", old: "wrong", new: "wrong", wantErr: ErrSameCredential},
		{name: "same credential", old: "correct-horse", new: "correct-horse", wantErr: ErrSameCredential},
		{name: "wrong old credential", old: "nope", new: "battery-staple", wantErr: ErrWrongOldCredential},
		{name: "policy rejection", old: "correct-horse", new: "weak-one", wantErr: ErrNewPasswordInvalid},
		{name: "empty new password", old: "correct-horse", new: "  ", wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(testAccount())
			lifecycle := newTestLifecycle(t, store, &fakeEvents{}, newTestClock(baseTime))

			_, err := lifecycle.ChangePassword(context.Background(), "ada@example.com", tt.old, tt.new)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if store.writeCount() != 0 {
				t.Fatal("rejected change must not write")
			}
			if got := store.get("ada@example.com").PasswordHash; got != "hashed:correct-horse" {
				t.Fatalf("password must be unchanged, got %s", got)
			}
		})
	}
}

func TestChangePasswordUnknownAccount(t *testing.T) {
	lifecycle := newTestLifecycle(t, newFakeStore(), nil, newTestClock(baseTime))
	if _, err := lifecycle.ChangePassword(context.Background(), "ghost@example.com", "a", "b"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestChangePasswordWithoutPolicy(t *testing.T) {
	store := newFakeStore(testAccount())
	lifecycle := NewPasswordLifecycle(config.PasswordSettings{}, store, plainHasher{}, nil, nil, nil)
	if _, err := lifecycle.ChangePassword(context.Background(), "ada@example.com", "correct-horse", "weak"); err != nil {
		t.Fatalf("without a policy any new password is accepted, got %v", err)
	}
	if lifecycle.maxAge != 30*24*time.Hour {
		t.Fatalf("unexpected default max age %s", lifecycle.maxAge)
	}
}

func TestChangePasswordRejectsHashReplacedAfterVerification(t *testing.T) {
	store := newFakeStore(testAccount())
	store.beforeUpdate = func(accounts map[string]domain.Account) {
		acc := accounts["ada@example.com"]
		acc.PasswordHash = "hashed:changed-elsewhere"
		accounts["ada@example.com"] = acc
	}
	events := &fakeEvents{}
	lifecycle := newTestLifecycle(t, store, events, newTestClock(baseTime))

	_, err := lifecycle.ChangePassword(context.Background(), "ada@example.com", "correct-horse", "battery-staple")
	if !errors.Is(err, ErrWrongOldCredential) {
		t.Fatalf("expected ErrWrongOldCredential, got %v", err)
	}
	if got := store.get("ada@example.com").PasswordHash; got != "hashed:changed-elsewhere" {
		t.Fatalf("concurrent change must be kept, got %s", got)
	}
	if len(events.changed) != 0 {
		t.Fatalf("no event expected, got %+v", events.changed)
	}
}

func TestChangePasswordConcurrentChangesWithSameOldPassword(t *testing.T) {
	store := newFakeStore(testAccount())
	lifecycle := newTestLifecycle(t, store, &fakeEvents{}, newTestClock(baseTime))

	candidates := []string{"battery-staple", "purple-monkey-dishwasher"}
	errs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i, next := range candidates {
		wg.Add(1)
		go func(i int, next string) {
			defer wg.Done()
			_, errs[i] = lifecycle.ChangePassword(context.Background(), "ada@example.com", "correct-horse", next)
		}(i, next)
	}
	wg.Wait()

	var winner string
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != "" {
				t.Fatal("only one change may succeed with the same old password")
			}
			winner = candidates[i]
		case !errors.Is(err, ErrWrongOldCredential):
			t.Fatalf("losing change must see ErrWrongOldCredential, got %v", err)
		}
	}
	if winner == "" {
		t.Fatal("one change must succeed")
	}
	if got := store.get("ada@example.com").PasswordHash; got != "hashed:"+winner {
		t.Fatalf("stored hash %s does not match the successful change %s", got, winner)
	}
}
