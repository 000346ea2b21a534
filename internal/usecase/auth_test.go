package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/infra/config"
)

type engineFixture struct {
	store    *fakeStore
	notifier *fakeNotifier
	events   *fakeEvents
	recorder *fakeRecorder
	clock    *testClock
	otp      *OTPChallenge
	engine   *DecisionEngine
}

func newEngineFixture(t *testing.T, accounts ...domain.Account) *engineFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &engineFixture{
		store:    newFakeStore(accounts...),
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		recorder: &fakeRecorder{},
		clock:    newTestClock(baseTime),
	}
	lockout := NewLockoutTracker(config.LockoutSettings{Threshold: 3, Duration: 24 * time.Hour}, f.store, f.events, log)
	f.otp = NewOTPChallenge(config.OTPSettings{Length: 8, Validity: 5 * time.Minute, SuspicionThreshold: 0.5}, f.store, plainHasher{}, f.notifier, f.events, f.recorder, log)
	f.otp.generate = func(int) (string, error) { return "Xy12Ab34", nil }
	lifecycle := NewPasswordLifecycle(config.PasswordSettings{MaxAge: 30 * 24 * time.Hour}, f.store, plainHasher{}, nil, f.events, log)
	f.engine = NewDecisionEngine(f.store, plainHasher{}, lockout, f.otp, lifecycle, f.recorder, log)
	f.engine.WithClock(f.clock.Now)
	return f
}

func (f *engineFixture) decide(t *testing.T, attempt domain.LoginAttempt) domain.AuthDecision {
	t.Helper()
	decision, err := f.engine.Decide(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	return decision
}

func TestDecideAllowsValidCredentials(t *testing.T) {
	acc := testAccount()
	acc.FailedAttempts = 2
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionAllowed {
		t.Fatalf("expected allowed, got %s", decision.Kind)
	}
	if decision.Account == nil || decision.Account.ID != "acc-1" || decision.Account.PasswordHash != "" {
		t.Fatalf("allowed decision must carry the sanitized account, got %+v", decision.Account)
	}
	if got := f.store.get("ada@example.com").FailedAttempts; got != 0 {
		t.Fatalf("success must reset the counter, got %d", got)
	}
	if len(f.recorder.decisions) != 1 || f.recorder.decisions[0] != domain.DecisionAllowed {
		t.Fatalf("decision must be recorded, got %v", f.recorder.decisions)
	}
}

func TestDecideUnknownAccount(t *testing.T) {
	f := newEngineFixture(t)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ghost@example.com", Secret: "whatever"})
	if decision.Kind != domain.DecisionDeniedBadCredentials {
		t.Fatalf("expected denied bad credentials, got %s", decision.Kind)
	}
	if decision.Account != nil {
		t.Fatal("denied decision must not carry an account")
	}
	if f.store.writeCount() != 0 {
		t.Fatal("unknown account must not touch the store")
	}
}

func TestDecideThirdFailureLocksThenDeniesLocked(t *testing.T) {
	acc := testAccount()
	acc.FailedAttempts = 2
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "wrong"})
	if decision.Kind != domain.DecisionDeniedBadCredentials {
		t.Fatalf("expected denied bad credentials, got %s", decision.Kind)
	}
	stored := f.store.get("ada@example.com")
	if !stored.Locked || stored.LockedAt == nil || !stored.LockedAt.Equal(baseTime) {
		t.Fatalf("expected lock set at now, got %+v", stored)
	}
	if len(f.events.locked) != 1 {
		t.Fatalf("expected account locked event, got %d", len(f.events.locked))
	}

	f.clock.Advance(time.Hour)
	decision = f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionDeniedLocked {
		t.Fatalf("expected denied locked even with the right password, got %s", decision.Kind)
	}
	if decision.RetryAfter != 23*time.Hour {
		t.Fatalf("expected 23h retry after, got %s", decision.RetryAfter)
	}
}

func TestDecideUnlocksAfterDuration(t *testing.T) {
	acc := testAccount()
	acc.FailedAttempts = 3
	acc.Lock(baseTime.Add(-24 * time.Hour))
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionAllowed {
		t.Fatalf("expected allowed after lock expiry, got %s", decision.Kind)
	}
	stored := f.store.get("ada@example.com")
	if stored.Locked || stored.FailedAttempts != 0 {
		t.Fatalf("expected unlocked account, got %+v", stored)
	}
}

func TestDecideSuspiciousRiskRequiresOTP(t *testing.T) {
	f := newEngineFixture(t, testAccount())

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse", RiskScore: floatPtr(0.43)})
	if decision.Kind != domain.DecisionOTPRequired {
		t.Fatalf("expected otp required, got %s", decision.Kind)
	}
	if decision.OTPExpiresAt == nil || !decision.OTPExpiresAt.Equal(baseTime.Add(5*time.Minute)) {
		t.Fatalf("unexpected otp expiry %v", decision.OTPExpiresAt)
	}
	if stored := f.store.get("ada@example.com"); stored.OTPHash == nil || *stored.OTPHash != "hashed:Xy12Ab34" {
		t.Fatal("expected otp hash stored")
	}
	if len(f.notifier.sent()) != 1 {
		t.Fatalf("expected notifier called once, got %d", len(f.notifier.sent()))
	}

	decision = f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse", RiskScore: floatPtr(0.43)})
	if decision.Kind != domain.DecisionOTPRequired {
		t.Fatalf("pending otp must be demanded again, got %s", decision.Kind)
	}
	if len(f.notifier.sent()) != 1 {
		t.Fatal("pending otp must not be reissued")
	}
}

func TestDecideOTPFlow(t *testing.T) {
	f := newEngineFixture(t, testAccount())
	f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse", RiskScore: floatPtr(0.1)})

	f.clock.Advance(time.Minute)
	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", OTP: strPtr("wrong")})
	if decision.Kind != domain.DecisionDeniedOTPInvalid {
		t.Fatalf("expected denied otp invalid, got %s", decision.Kind)
	}
	if got := f.store.get("ada@example.com").FailedAttempts; got != 1 {
		t.Fatalf("invalid otp counts as a failure, got %d", got)
	}

	decision = f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", OTP: strPtr("Xy12Ab34")})
	if decision.Kind != domain.DecisionAllowed {
		t.Fatalf("expected allowed with valid otp, got %s", decision.Kind)
	}
	stored := f.store.get("ada@example.com")
	if stored.HasOTP() || stored.FailedAttempts != 0 {
		t.Fatalf("valid otp must be consumed and reset the counter, got %+v", stored)
	}

	decision = f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", OTP: strPtr("Xy12Ab34")})
	if decision.Kind != domain.DecisionDeniedOTPInvalid {
		t.Fatalf("otp must be single use, got %s", decision.Kind)
	}
}

func TestDecideExpiredOTPIsRejected(t *testing.T) {
	acc := testAccount()
	acc.SetOTP("hashed:Xy12Ab34", baseTime.Add(-5*time.Minute-time.Millisecond))
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", OTP: strPtr("Xy12Ab34")})
	if decision.Kind != domain.DecisionDeniedOTPInvalid {
		t.Fatalf("expected denied otp invalid, got %s", decision.Kind)
	}
}

func TestDecidePasswordLoginClearsStaleOTP(t *testing.T) {
	acc := testAccount()
	acc.SetOTP("hashed:Xy12Ab34", baseTime.Add(-time.Hour))
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionAllowed {
		t.Fatalf("expected allowed, got %s", decision.Kind)
	}
	stored := f.store.get("ada@example.com")
	if stored.HasOTP() {
		t.Fatal("successful password login must clear the stored otp")
	}
}

func TestDecideExpiredPasswordRequiresChange(t *testing.T) {
	acc := testAccount()
	acc.PasswordChangedAt = timePtr(baseTime.Add(-31 * 24 * time.Hour))
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionPasswordChangeRequired {
		t.Fatalf("expected password change required, got %s", decision.Kind)
	}
	if !decision.Authenticated() || decision.Account == nil {
		t.Fatal("password change required must carry the authenticated account")
	}
}

func TestDecideDisabledAccount(t *testing.T) {
	acc := testAccount()
	acc.Enabled = false
	f := newEngineFixture(t, acc)

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionDeniedDisabled {
		t.Fatalf("expected denied disabled, got %s", decision.Kind)
	}
}

func TestDecideStorageErrorsPropagate(t *testing.T) {
	f := newEngineFixture(t, testAccount())
	storageErr := errors.New("db down")
	f.store.findErr = storageErr

	if _, err := f.engine.Decide(context.Background(), domain.LoginAttempt{Identifier: "ada@example.com", Secret: "x"}); !errors.Is(err, storageErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(f.recorder.decisions) != 0 {
		t.Fatal("failed decisions must not be recorded")
	}
}

type rehashingHasher struct {
	plainHasher
}

func (rehashingHasher) NeedsRehash(encoded string) bool {
	return encoded == "legacy:correct-horse"
}

func (h rehashingHasher) Verify(password, encoded string) (bool, error) {
	if encoded == "legacy:"+password {
		return true, nil
	}
	return h.plainHasher.Verify(password, encoded)
}

func TestDecideUpgradesLegacyHash(t *testing.T) {
	acc := testAccount()
	acc.PasswordHash = "legacy:correct-horse"
	f := newEngineFixture(t, acc)
	f.engine.hasher = rehashingHasher{}

	decision := f.decide(t, domain.LoginAttempt{Identifier: "ada@example.com", Secret: "correct-horse"})
	if decision.Kind != domain.DecisionAllowed {
		t.Fatalf("expected allowed, got %s", decision.Kind)
	}
	stored := f.store.get("ada@example.com")
	if stored.PasswordHash != "hashed:correct-horse" {
		t.Fatalf("expected upgraded hash, got %s", stored.PasswordHash)
	}
	if !stored.PasswordChangedAt.Equal(*acc.PasswordChangedAt) {
		t.Fatal("rehash must not reset the password age")
	}
}
