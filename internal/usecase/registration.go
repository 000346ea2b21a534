package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/repository"
)

// RegistrationService creates new accounts.
type RegistrationService struct {
	store  port.CredentialStore
	hasher port.PasswordHasher
	policy port.PasswordPolicyValidator
	events port.EventPublisher
	logger *zap.Logger
	now    func() time.Time
	admins map[string]struct{}
}

// NewRegistrationService constructs a RegistrationService. policy may be nil.
func NewRegistrationService(store port.CredentialStore, hasher port.PasswordHasher, policy port.PasswordPolicyValidator, events port.EventPublisher, log *zap.Logger) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{
		store:  store,
		hasher: hasher,
		policy: policy,
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithAdminEmails grants RoleAdmin to accounts registered under one of emails.
func (s *RegistrationService) WithAdminEmails(emails ...string) {
	s.admins = make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if email = normalizeEmail(email); email != "" {
			s.admins[email] = struct{}{}
		}
	}
}

// Register creates an enabled, unlocked account with a fresh password age.
func (s *RegistrationService) Register(ctx context.Context, email, name, password string) (domain.Account, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" {
		return domain.Account{}, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Account{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	if s.policy != nil {
		if err := s.policy.Validate(password, domain.PasswordContext{Email: email, Name: name}); err != nil {
			return domain.Account{}, fmt.Errorf("%w: %v", ErrNewPasswordInvalid, err)
		}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Enabled:   true,
		Roles:     []string{domain.RoleUser},
		CreatedAt: now,
	}
	if _, ok := s.admins[email]; ok {
		account.Roles = append(account.Roles, domain.RoleAdmin)
	}
	account.SetPassword(hash, now)

	if err := s.store.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.Account{}, ErrAccountExists
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account registered", zap.String("account_id", account.ID), zap.Strings("roles", account.Roles))
	if s.events != nil {
		event := domain.AccountRegisteredEvent{
			EventID:      uuid.NewString(),
			AccountID:    account.ID,
			Email:        account.Email,
			RegisteredAt: now,
		}
		if err := s.events.PublishAccountRegistered(ctx, event); err != nil {
			s.logger.Warn("publish account registered event failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	return account.Sanitized(), nil
}
