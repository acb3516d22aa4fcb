// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxEmailLength bounds the stored email column.
const MaxEmailLength = 250

var validate = validator.New(validator.WithRequiredStructEnabled())

// User represents a registered identity.
type User struct {
	ID               ulid.ULID
	Email            string
	PasswordHash     string
	SessionTokenHash *string // nil when no session is active
	ResetTokenHash   *string // nil when no reset is pending
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewUser creates a validated User with a fresh ID and no tokens.
func NewUser(email, passwordHash string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasSession reports whether the user has an active session.
func (u *User) HasSession() bool {
	return u.SessionTokenHash != nil
}

// HasPendingReset reports whether a reset token is outstanding.
func (u *User) HasPendingReset() bool {
	return u.ResetTokenHash != nil
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	if u.SessionTokenHash != nil {
		s := *u.SessionTokenHash
		c.SessionTokenHash = &s
	}
	if u.ResetTokenHash != nil {
		r := *u.ResetTokenHash
		c.ResetTokenHash = &r
	}
	return &c
}

// Apply mutates the user according to update and bumps UpdatedAt.
// Preconditions in update are not checked here.
func (u *User) Apply(update UserUpdate, now time.Time) {
	if update.PasswordHash != nil {
		u.PasswordHash = *update.PasswordHash
	}
	u.SessionTokenHash = update.SessionToken.apply(u.SessionTokenHash)
	u.ResetTokenHash = update.ResetToken.apply(u.ResetTokenHash)
	u.UpdatedAt = now
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Stores compare emails in normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a syntactically valid address that fits
// the store.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if err := validate.Var(email, "email"); err != nil {
		return oops.Code(CodeInvalidEmail).Errorf("email is not a valid address")
	}
	return nil
}

// TokenField is a tri-state update of a nullable token column: left alone,
// set to a value, or cleared.
type TokenField struct {
	set   bool
	value *string
}

// SetToken returns a TokenField that stores hash.
func SetToken(hash string) TokenField {
	return TokenField{set: true, value: &hash}
}

// ClearToken returns a TokenField that clears the column.
func ClearToken() TokenField {
	return TokenField{set: true}
}

// IsSet reports whether the field changes the column.
func (f TokenField) IsSet() bool { return f.set }

// Value returns the new value; nil means clear. Only meaningful when IsSet.
func (f TokenField) Value() *string { return f.value }

func (f TokenField) apply(current *string) *string {
	if !f.set {
		return current
	}
	if f.value == nil {
		return nil
	}
	v := *f.value
	return &v
}

// UserUpdate is a partial update of a User record. Zero-valued fields leave
// the stored value untouched.
type UserUpdate struct {
	PasswordHash *string
	SessionToken TokenField
	ResetToken   TokenField

	// ExpectResetToken, when non-nil, makes the update conditional on the
	// stored reset token hash being equal to it. A mismatch is reported as
	// ErrNotFound.
	ExpectResetToken *string
}

// IsEmpty reports whether the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.PasswordHash == nil && !u.SessionToken.set && !u.ResetToken.set
}

// CredentialStore persists User records. Implementations must be safe for
// concurrent use and must apply each Update atomically per record.
type CredentialStore interface {
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetBySessionToken retrieves the user holding the given session token hash.
	GetBySessionToken(ctx context.Context, tokenHash string) (*User, error)

	// GetByResetToken retrieves the user holding the given reset token hash.
	GetByResetToken(ctx context.Context, tokenHash string) (*User, error)

	// Create stores a new user with no tokens.
	// Returns ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, email, passwordHash string) (*User, error)

	// Update applies a partial update to the user with the given ID.
	// Returns ErrNotFound if there is no such user or the precondition fails.
	Update(ctx context.Context, id ulid.ULID, update UserUpdate) error

	// Count returns the number of stored users.
	Count(ctx context.Context) (int64, error)
}
