// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process auth.CredentialStore.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Store keeps users in memory. Records are indexed by ID, normalized email,
// session token hash and reset token hash. All indexes are guarded by one
// RWMutex; critical sections only touch maps, so slow work such as password
// hashing never happens under the lock. Records are copied in and out.
type Store struct {
	mu        sync.RWMutex
	users     map[ulid.ULID]*auth.User
	byEmail   map[string]ulid.ULID
	bySession map[string]ulid.ULID
	byReset   map[string]ulid.ULID
	now       func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:     make(map[ulid.ULID]*auth.User),
		byEmail:   make(map[string]ulid.ULID),
		bySession: make(map[string]ulid.ULID),
		byReset:   make(map[string]ulid.ULID),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, notFound("id", id.String())
	}
	return user.Clone(), nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (s *Store) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.lookup(ctx, "USER_GET_BY_EMAIL_FAILED", func() (ulid.ULID, bool) {
		id, ok := s.byEmail[auth.NormalizeEmail(email)]
		return id, ok
	}, "email", email)
}

// GetBySessionToken retrieves the user holding the session token hash.
func (s *Store) GetBySessionToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	return s.lookup(ctx, "USER_GET_BY_SESSION_FAILED", func() (ulid.ULID, bool) {
		id, ok := s.bySession[tokenHash]
		return id, ok
	}, "lookup", "session token")
}

// GetByResetToken retrieves the user holding the reset token hash.
func (s *Store) GetByResetToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	return s.lookup(ctx, "USER_GET_BY_RESET_FAILED", func() (ulid.ULID, bool) {
		id, ok := s.byReset[tokenHash]
		return id, ok
	}, "lookup", "reset token")
}

func (s *Store) lookup(ctx context.Context, code string, find func() (ulid.ULID, bool), key, value string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code(code).Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := find()
	if !ok {
		return nil, notFound(key, value)
	}
	return s.users[id].Clone(), nil
}

// Create stores a new user. The email check and insert happen under one lock.
func (s *Store) Create(ctx context.Context, email, passwordHash string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	user, err := auth.NewUser(email, passwordHash)
	if err != nil {
		return nil, err
	}
	key := auth.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[key]; taken {
		return nil, oops.Code("USER_DUPLICATE_EMAIL").
			With("email", email).
			Wrap(auth.ErrDuplicateEmail)
	}

	s.users[user.ID] = user
	s.byEmail[key] = user.ID
	return user.Clone(), nil
}

// Update applies a partial update atomically, keeping the token indexes in
// step with the record.
func (s *Store) Update(ctx context.Context, id ulid.ULID, update auth.UserUpdate) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_UPDATE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return notFound("id", id.String())
	}
	if update.ExpectResetToken != nil &&
		(user.ResetTokenHash == nil || *user.ResetTokenHash != *update.ExpectResetToken) {
		return oops.Code("USER_PRECONDITION_FAILED").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}

	if update.SessionToken.IsSet() {
		reindex(s.bySession, user.SessionTokenHash, update.SessionToken.Value(), id)
	}
	if update.ResetToken.IsSet() {
		reindex(s.byReset, user.ResetTokenHash, update.ResetToken.Value(), id)
	}
	user.Apply(update, s.now())
	return nil
}

// Count returns the number of stored users.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// reindex moves id from the old token key to the new one. Token hashes are
// 256-bit random digests, so a new key never belongs to another user.
func reindex(index map[string]ulid.ULID, old, next *string, id ulid.ULID) {
	if old != nil {
		delete(index, *old)
	}
	if next != nil {
		index[*next] = id
	}
}

func notFound(key, value string) error {
	return oops.Code("USER_NOT_FOUND").
		With(key, value).
		Wrap(auth.ErrNotFound)
}

// Compile-time interface check.
var _ auth.CredentialStore = (*Store)(nil)
