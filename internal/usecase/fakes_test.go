package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/repository"
)

type fakeStore struct {
	mu        sync.Mutex
	accounts  map[string]domain.Account
	writes    int
	updateErr error
	findErr   error
	// beforeUpdate runs under the lock ahead of each mutation.
	beforeUpdate func(accounts map[string]domain.Account)
}

func newFakeStore(accounts ...domain.Account) *fakeStore {
	s := &fakeStore{accounts: make(map[string]domain.Account)}
	for _, acc := range accounts {
		s.accounts[acc.Email] = acc
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Email]; ok {
		return repository.ErrConflict
	}
	s.accounts[account.Email] = account
	s.writes++
	return nil
}

func (s *fakeStore) FindByIdentifier(_ context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	acc, ok := s.accounts[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &acc, nil
}

func (s *fakeStore) FindByResetToken(_ context.Context, tokenHash string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.ResetTokenHash != nil && *acc.ResetTokenHash == tokenHash {
			found := acc
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) Update(_ context.Context, email string, mutate port.AccountMutation) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(s.accounts)
	}
	acc, ok := s.accounts[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := mutate(&acc); err != nil {
		if errors.Is(err, port.ErrSkipUpdate) {
			current := s.accounts[email]
			return &current, nil
		}
		return nil, err
	}
	s.accounts[email] = acc
	s.writes++
	out := acc
	return &out, nil
}

func (s *fakeStore) get(email string) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[email]
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// plainHasher stores "hashed:" + secret so tests stay fast and deterministic.
type plainHasher struct {
	verifyErr error
}

func (plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (h plainHasher) Verify(password, encoded string) (bool, error) {
	if h.verifyErr != nil {
		return false, h.verifyErr
	}
	return encoded == "hashed:"+password, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []domain.Message
	err      error
}

func (n *fakeNotifier) Send(_ context.Context, msg domain.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *fakeNotifier) sent() []domain.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Message(nil), n.messages...)
}

type fakeEvents struct {
	mu         sync.Mutex
	registered []domain.AccountRegisteredEvent
	locked     []domain.AccountLockedEvent
	unlocked   []domain.AccountUnlockedEvent
	otpIssued  []domain.OTPIssuedEvent
	changed    []domain.PasswordChangedEvent
	resets     []domain.PasswordResetRequestedEvent
	failures   []domain.NotificationFailedEvent
}

func (e *fakeEvents) PublishAccountRegistered(_ context.Context, ev domain.AccountRegisteredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered = append(e.registered, ev)
	return nil
}

func (e *fakeEvents) PublishAccountLocked(_ context.Context, ev domain.AccountLockedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = append(e.locked, ev)
	return nil
}

func (e *fakeEvents) PublishAccountUnlocked(_ context.Context, ev domain.AccountUnlockedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unlocked = append(e.unlocked, ev)
	return nil
}

func (e *fakeEvents) PublishOTPIssued(_ context.Context, ev domain.OTPIssuedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.otpIssued = append(e.otpIssued, ev)
	return nil
}

func (e *fakeEvents) PublishPasswordChanged(_ context.Context, ev domain.PasswordChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed = append(e.changed, ev)
	return nil
}

func (e *fakeEvents) PublishPasswordResetRequested(_ context.Context, ev domain.PasswordResetRequestedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets = append(e.resets, ev)
	return nil
}

func (e *fakeEvents) PublishNotificationFailed(_ context.Context, ev domain.NotificationFailedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, ev)
	return nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	decisions []domain.DecisionKind
	failures  []string
}

func (r *fakeRecorder) RecordDecision(kind domain.DecisionKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, kind)
}

func (r *fakeRecorder) RecordDeliveryFailure(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, kind)
}

type stubPolicy struct {
	reject string
}

func (p stubPolicy) Validate(password string, _ domain.PasswordContext) error {
	if p.reject != "" && strings.Contains(password, p.reject) {
		return errors.New("too weak")
	}
	return nil
}

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time {
	return &t
}

func floatPtr(f float64) *float64 {
	return &f
}

func strPtr(s string) *string {
	return &s
}

func testAccount() domain.Account {
	return domain.Account{
		ID:                "acc-1",
		Email:             "ada@example.com",
		Name:              "Ada Lovelace",
		PasswordHash:      "hashed:correct-horse",
		Enabled:           true,
		PasswordChangedAt: timePtr(baseTime.Add(-24 * time.Hour)),
		CreatedAt:         baseTime.Add(-48 * time.Hour),
	}
}
