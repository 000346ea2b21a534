package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/logger"
	"github.com/arklim/authguard/internal/repository"
)

// rehasher is implemented by hashers that can tell when a stored hash uses outdated parameters.
type rehasher interface {
	NeedsRehash(encoded string) bool
}

// DecisionEngine decides the outcome of login attempts: lockout, then OTP challenge, then credential
// verification, then password expiry.
type DecisionEngine struct {
	store     port.CredentialStore
	hasher    port.PasswordHasher
	lockout   *LockoutTracker
	otp       *OTPChallenge
	lifecycle *PasswordLifecycle
	recorder  port.DecisionRecorder
	logger    *zap.Logger
	now       func() time.Time
	stages    []stage
}

type loginState struct {
	attempt  domain.LoginAttempt
	now      time.Time
	account  *domain.Account
	decision *domain.AuthDecision
}

func (s *loginState) decide(d domain.AuthDecision) {
	s.decision = &d
}

// stage inspects the state and either records a terminal decision or lets the next stage run.
type stage struct {
	name string
	run  func(ctx context.Context, state *loginState) error
}

// NewDecisionEngine wires the engine to its collaborators.
func NewDecisionEngine(store port.CredentialStore, hasher port.PasswordHasher, lockout *LockoutTracker, otp *OTPChallenge, lifecycle *PasswordLifecycle, recorder port.DecisionRecorder, log *zap.Logger) *DecisionEngine {
	if log == nil {
		log = zap.NewNop()
	}
	if recorder == nil {
		recorder = port.NopRecorder{}
	}
	e := &DecisionEngine{
		store:     store,
		hasher:    hasher,
		lockout:   lockout,
		otp:       otp,
		lifecycle: lifecycle,
		recorder:  recorder,
		logger:    log,
		now:       time.Now,
	}
	e.stages = []stage{
		{name: "lookup", run: e.lookupStage},
		{name: "lockout", run: e.lockoutStage},
		{name: "enabled", run: e.enabledStage},
		{name: "challenge", run: e.challengeStage},
		{name: "verification", run: e.verificationStage},
		{name: "expiry", run: e.expiryStage},
	}
	return e
}

// WithClock overrides the time source of the engine and of the services it drives.
func (e *DecisionEngine) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	e.now = clock
	e.lockout.WithClock(clock)
	e.otp.WithClock(clock)
	e.lifecycle.WithClock(clock)
}

// Decide runs a login attempt through every stage and returns the first terminal decision.
// Only storage and hashing failures are returned as errors.
func (e *DecisionEngine) Decide(ctx context.Context, attempt domain.LoginAttempt) (domain.AuthDecision, error) {
	state := &loginState{attempt: attempt, now: e.now().UTC()}

	for _, st := range e.stages {
		if err := st.run(ctx, state); err != nil {
			e.logger.Error("login decision failed", zap.String("stage", st.name), zap.Error(err))
			return domain.AuthDecision{}, fmt.Errorf("%s: %w", st.name, err)
		}
		if state.decision != nil {
			break
		}
	}
	if state.decision == nil {
		return domain.AuthDecision{}, errors.New("login pipeline ended without a decision")
	}

	decision := *state.decision
	e.recorder.RecordDecision(decision.Kind)

	fields := []zap.Field{
		zap.String("decision", string(decision.Kind)),
		zap.String("identifier", logger.MaskEmail(attempt.Identifier)),
	}
	if state.account != nil {
		fields = append(fields, zap.String("account_id", state.account.ID))
	}
	if decision.RetryAfter > 0 {
		fields = append(fields, zap.Duration("retry_after", decision.RetryAfter))
	}
	e.logger.Info("login decision", fields...)

	return decision, nil
}

func (e *DecisionEngine) lookupStage(ctx context.Context, state *loginState) error {
	email := normalizeEmail(state.attempt.Identifier)
	if email == "" {
		state.decide(domain.AuthDecision{Kind: domain.DecisionDeniedBadCredentials})
		return nil
	}

	account, err := e.store.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			state.decide(domain.AuthDecision{Kind: domain.DecisionDeniedBadCredentials})
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	state.account = account
	return nil
}

func (e *DecisionEngine) lockoutStage(ctx context.Context, state *loginState) error {
	status, remaining, err := e.lockout.TryUnlock(ctx, state.account, state.now)
	if err != nil {
		return err
	}
	if status == domain.LockStatusStillLocked {
		state.decide(domain.AuthDecision{Kind: domain.DecisionDeniedLocked, RetryAfter: remaining})
	}
	return nil
}

func (e *DecisionEngine) enabledStage(_ context.Context, state *loginState) error {
	if !state.account.Enabled {
		state.decide(domain.AuthDecision{Kind: domain.DecisionDeniedDisabled})
	}
	return nil
}

func (e *DecisionEngine) challengeStage(ctx context.Context, state *loginState) error {
	if state.attempt.HasOTP() {
		return nil
	}

	switch e.otp.Status(*state.account, state.attempt.RiskScore, state.now) {
	case domain.OTPRequired:
		issue, err := e.otp.Issue(ctx, state.account)
		if err != nil {
			return err
		}
		expires := issue.ExpiresAt
		state.decide(domain.AuthDecision{Kind: domain.DecisionOTPRequired, OTPExpiresAt: &expires})
	case domain.OTPAlreadyPending:
		state.decide(domain.AuthDecision{Kind: domain.DecisionOTPRequired, OTPExpiresAt: e.otp.ExpiresAt(*state.account)})
	}
	return nil
}

func (e *DecisionEngine) verificationStage(ctx context.Context, state *loginState) error {
	account := state.account

	if state.attempt.HasOTP() {
		ok, err := e.otp.Validate(ctx, account, *state.attempt.OTP, state.now)
		if err != nil {
			return err
		}
		if !ok {
			if err := e.lockout.RecordFailure(ctx, account); err != nil {
				return err
			}
			state.decide(domain.AuthDecision{Kind: domain.DecisionDeniedOTPInvalid})
			return nil
		}
		return e.lockout.RecordSuccess(ctx, account)
	}

	ok, err := e.hasher.Verify(state.attempt.Secret, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		if err := e.lockout.RecordFailure(ctx, account); err != nil {
			return err
		}
		state.decide(domain.AuthDecision{Kind: domain.DecisionDeniedBadCredentials})
		return nil
	}

	if err := e.lockout.RecordSuccess(ctx, account); err != nil {
		return err
	}
	if err := e.otp.Clear(ctx, account); err != nil {
		return err
	}
	e.upgradeHash(ctx, account, state.attempt.Secret)
	return nil
}

func (e *DecisionEngine) expiryStage(_ context.Context, state *loginState) error {
	sanitized := state.account.Sanitized()
	if e.lifecycle.IsExpired(*state.account, state.now) {
		state.decide(domain.AuthDecision{Kind: domain.DecisionPasswordChangeRequired, Account: &sanitized})
		return nil
	}
	state.decide(domain.AuthDecision{Kind: domain.DecisionAllowed, Account: &sanitized})
	return nil
}

// upgradeHash re-encodes a verified password whose hash uses outdated parameters or bcrypt.
// The password age is not touched. Failures are logged and otherwise ignored.
func (e *DecisionEngine) upgradeHash(ctx context.Context, account *domain.Account, plain string) {
	rh, ok := e.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(account.PasswordHash) {
		return
	}

	previous := account.PasswordHash
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}

	updated, err := e.store.Update(ctx, account.Email, func(acc *domain.Account) error {
		if acc.PasswordHash != previous {
			return port.ErrSkipUpdate
		}
		acc.PasswordHash = hash
		return nil
	})
	if err != nil {
		e.logger.Warn("password rehash store failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	*account = *updated
}
