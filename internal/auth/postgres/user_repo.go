// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides a PostgreSQL-backed auth.CredentialStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Querier is the subset of *pgxpool.Pool the repository uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, password_hash, session_token_hash, reset_token_hash, created_at, updated_at`

// UserRepository implements auth.CredentialStore using PostgreSQL.
// Each Update is a single UPDATE statement, which makes it atomic per row.
type UserRepository struct {
	pool Querier
	now  func() time.Time
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Querier) *UserRepository {
	return &UserRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("id", id.String())
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("email", email)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// GetBySessionToken retrieves the user holding the session token hash.
func (r *UserRepository) GetBySessionToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE session_token_hash = $1
	`, tokenHash)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("lookup", "session token")
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_SESSION_FAILED").
			With("operation", "get user by session token").
			Wrap(err)
	}
	return user, nil
}

// GetByResetToken retrieves the user holding the reset token hash.
func (r *UserRepository) GetByResetToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_token_hash = $1
	`, tokenHash)

	user, err := r.scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("lookup", "reset token")
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_RESET_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	return user, nil
}

// Create stores a new user. The unique index on LOWER(email) turns a
// concurrent duplicate into auth.ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, email, passwordHash string) (*auth.User, error) {
	user, err := auth.NewUser(email, passwordHash)
	if err != nil {
		return nil, err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, oops.Code("USER_DUPLICATE_EMAIL").
				With("email", email).
				With("constraint", pgErr.ConstraintName).
				Wrap(auth.ErrDuplicateEmail)
		}
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// Update applies a partial update in one statement. A missing row and a
// failed reset-token precondition both report auth.ErrNotFound.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, update auth.UserUpdate) error {
	query, args := buildUpdate(id, update, r.now())

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("id", id.String())
	}
	return nil
}

// Count returns the number of stored users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").
			With("operation", "count users").
			Wrap(err)
	}
	return n, nil
}

// buildUpdate renders the UPDATE statement for update. Only supplied columns
// appear in the SET list; updated_at is always refreshed.
func buildUpdate(id ulid.ULID, update auth.UserUpdate, now time.Time) (string, []any) {
	args := []any{id.String()}
	var sets []string
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.PasswordHash != nil {
		set("password_hash", *update.PasswordHash)
	}
	if update.SessionToken.IsSet() {
		set("session_token_hash", update.SessionToken.Value())
	}
	if update.ResetToken.IsSet() {
		set("reset_token_hash", update.ResetToken.Value())
	}
	set("updated_at", now)

	where := "id = $1"
	if update.ExpectResetToken != nil {
		args = append(args, *update.ExpectResetToken)
		where += fmt.Sprintf(" AND reset_token_hash = $%d", len(args))
	}

	return "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE " + where, args
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *UserRepository) scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr            string
		email            string
		passwordHash     string
		sessionTokenHash *string
		resetTokenHash   *string
		createdAt        time.Time
		updatedAt        time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&passwordHash,
		&sessionTokenHash,
		&resetTokenHash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:               id,
		Email:            email,
		PasswordHash:     passwordHash,
		SessionTokenHash: sessionTokenHash,
		ResetTokenHash:   resetTokenHash,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func notFound(key, value string) error {
	return oops.Code("USER_NOT_FOUND").
		With(key, value).
		Wrap(auth.ErrNotFound)
}

// Compile-time interface check.
var _ auth.CredentialStore = (*UserRepository)(nil)
