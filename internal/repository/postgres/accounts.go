package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/repository"
)

const (
	accountsTable   = "authguard.accounts"
	uniqueViolation = "23505"
)

var accountColumns = []string{
	"id",
	"email",
	"name",
	"password_hash",
	"enabled",
	"roles",
	"failed_attempts",
	"locked",
	"locked_at",
	"otp_hash",
	"otp_issued_at",
	"password_changed_at",
	"reset_token_hash",
	"reset_token_issued_at",
	"created_at",
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgBeginner interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountRepository implements port.CredentialStore using PostgreSQL.
type AccountRepository struct {
	db      pgBeginner
	builder squirrel.StatementBuilderType
}

var _ port.CredentialStore = (*AccountRepository)(nil)

// NewAccountRepository constructs a repository backed by a pool or any executor that can begin transactions.
func NewAccountRepository(db pgBeginner) *AccountRepository {
	return &AccountRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new account row. A duplicate email yields repository.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(
			account.ID,
			emailKey(account.Email),
			account.Name,
			account.PasswordHash,
			account.Enabled,
			rolesOrDefault(account.Roles),
			account.FailedAttempts,
			account.Locked,
			account.LockedAt,
			account.OTPHash,
			account.OTPIssuedAt,
			account.PasswordChangedAt,
			account.ResetTokenHash,
			account.ResetTokenIssuedAt,
			account.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// FindByIdentifier retrieves an account by email, case-insensitively.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, email string) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"email": emailKey(email)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}
	return scanAccount(r.db.QueryRow(ctx, stmt, args...))
}

// FindByResetToken retrieves the account holding the given reset token hash.
func (r *AccountRepository) FindByResetToken(ctx context.Context, tokenHash string) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"reset_token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by reset token sql: %w", err)
	}
	return scanAccount(r.db.QueryRow(ctx, stmt, args...))
}

// Update locks the account row, applies mutate and writes the result in one transaction.
func (r *AccountRepository) Update(ctx context.Context, email string, mutate port.AccountMutation) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin account update: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"email": emailKey(email)}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock account sql: %w", err)
	}

	current, err := scanAccount(tx.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, err
	}

	working := *current
	if err := mutate(&working); err != nil {
		if errors.Is(err, port.ErrSkipUpdate) {
			return current, nil
		}
		return nil, err
	}

	if err := r.write(ctx, tx, working); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit account update: %w", err)
	}
	committed = true
	return &working, nil
}

func (r *AccountRepository) write(ctx context.Context, exec pgExecutor, account domain.Account) error {
	stmt, args, err := r.builder.Update(accountsTable).
		SetMap(map[string]any{
			"name":                  account.Name,
			"password_hash":         account.PasswordHash,
			"enabled":               account.Enabled,
			"roles":                 rolesOrDefault(account.Roles),
			"failed_attempts":       account.FailedAttempts,
			"locked":                account.Locked,
			"locked_at":             account.LockedAt,
			"otp_hash":              account.OTPHash,
			"otp_issued_at":         account.OTPIssuedAt,
			"password_changed_at":   account.PasswordChangedAt,
			"reset_token_hash":      account.ResetTokenHash,
			"reset_token_issued_at": account.ResetTokenIssuedAt,
		}).
		Where(squirrel.Eq{"id": account.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	tag, err := exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&account.PasswordHash,
		&account.Enabled,
		&account.Roles,
		&account.FailedAttempts,
		&account.Locked,
		&account.LockedAt,
		&account.OTPHash,
		&account.OTPIssuedAt,
		&account.PasswordChangedAt,
		&account.ResetTokenHash,
		&account.ResetTokenIssuedAt,
		&account.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

// rolesOrDefault keeps the NOT NULL roles column populated for accounts built without roles.
func rolesOrDefault(roles []string) []string {
	if len(roles) == 0 {
		return []string{domain.RoleUser}
	}
	return roles
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
