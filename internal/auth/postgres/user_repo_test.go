// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

var columns = []string{
	"id", "email", "password_hash", "session_token_hash", "reset_token_hash", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return NewUserRepository(mock), mock
}

func TestUserRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	session := "session-hash"

	t.Run("scans nullable token columns", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(email) = LOWER($1)`)).
			WithArgs("A@x.com").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow(id.String(), "a@x.com", "hash", &session, (*string)(nil), created, created))

		user, err := repo.GetByEmail(ctx, "A@x.com")
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "a@x.com", user.Email)
		require.NotNil(t, user.SessionTokenHash)
		assert.Equal(t, session, *user.SessionTokenHash)
		assert.Nil(t, user.ResetTokenHash)
	})

	t.Run("no rows is not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(email) = LOWER($1)`)).
			WithArgs("a@x.com").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err := repo.GetByEmail(ctx, "a@x.com")
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(email) = LOWER($1)`)).
			WithArgs("a@x.com").
			WillReturnError(errors.New("connection refused"))

		_, err := repo.GetByEmail(ctx, "a@x.com")
		errutil.AssertErrorCode(t, err, "USER_GET_BY_EMAIL_FAILED")
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("corrupt id", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(email) = LOWER($1)`)).
			WithArgs("a@x.com").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("not-a-ulid", "a@x.com", "hash", (*string)(nil), (*string)(nil), created, created))

		_, err := repo.GetByEmail(ctx, "a@x.com")
		errutil.AssertErrorCode(t, err, "USER_INVALID_ID")
	})
}

func TestUserRepository_TokenLookups(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	now := time.Now().UTC()
	hash := "h"

	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE session_token_hash = $1`)).
		WithArgs(hash).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(id.String(), "a@x.com", "pw", &hash, (*string)(nil), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE reset_token_hash = $1`)).
		WithArgs(hash).
		WillReturnRows(pgxmock.NewRows(columns))

	user, err := repo.GetBySessionToken(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)

	_, err = repo.GetByResetToken(ctx, hash)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts user", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(pgxmock.AnyArg(), "a@x.com", "hash", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		user, err := repo.Create(ctx, "a@x.com", "hash")
		require.NoError(t, err)
		assert.False(t, user.ID.IsZero())
		assert.False(t, user.HasSession())
	})

	t.Run("unique violation is duplicate email", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(pgxmock.AnyArg(), "a@x.com", "hash", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "users_email_lower_idx",
			})

		_, err := repo.Create(ctx, "a@x.com", "hash")
		require.ErrorIs(t, err, auth.ErrDuplicateEmail)
		errutil.AssertErrorCode(t, err, "USER_DUPLICATE_EMAIL")
	})

	t.Run("invalid email never reaches the database", func(t *testing.T) {
		repo, _ := newMockRepo(t)
		_, err := repo.Create(ctx, "nope", "hash")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidEmail)
	})
}

func TestUserRepository_Update(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("no matching row is not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET session_token_hash = $2, updated_at = $3 WHERE id = $1`)).
			WithArgs(id.String(), (*string)(nil), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, id, auth.UserUpdate{SessionToken: auth.ClearToken()})
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("exec failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET`)).
			WillReturnError(errors.New("deadlock detected"))

		err := repo.Update(ctx, id, auth.UserUpdate{SessionToken: auth.ClearToken()})
		errutil.AssertErrorCode(t, err, "USER_UPDATE_FAILED")
	})
}

func TestUserRepository_Count(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestBuildUpdate(t *testing.T) {
	id := ulid.Make()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pw := "new-hash"
	expect := "reset-hash"

	tests := []struct {
		name      string
		update    auth.UserUpdate
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "empty update refreshes timestamp only",
			update:    auth.UserUpdate{},
			wantQuery: "UPDATE users SET updated_at = $2 WHERE id = $1",
			wantArgs:  []any{id.String(), now},
		},
		{
			name:      "set session",
			update:    auth.UserUpdate{SessionToken: auth.SetToken("s")},
			wantQuery: "UPDATE users SET session_token_hash = $2, updated_at = $3 WHERE id = $1",
			wantArgs:  []any{id.String(), auth.SetToken("s").Value(), now},
		},
		{
			name: "conditional password reset",
			update: auth.UserUpdate{
				PasswordHash:     &pw,
				ResetToken:       auth.ClearToken(),
				ExpectResetToken: &expect,
			},
			wantQuery: "UPDATE users SET password_hash = $2, reset_token_hash = $3, updated_at = $4 " +
				"WHERE id = $1 AND reset_token_hash = $5",
			wantArgs: []any{id.String(), pw, (*string)(nil), now, expect},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildUpdate(id, tt.update, now)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
