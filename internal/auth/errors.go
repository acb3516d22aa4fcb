// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Store-level sentinels. CredentialStore implementations wrap these.
var (
	// ErrNotFound is returned when a requested record does not exist, or when
	// a conditional update's precondition no longer holds.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned by CredentialStore.Create when the email
	// is already taken.
	ErrDuplicateEmail = errors.New("duplicate email")
)

// Service-level sentinels, wrapped by the oops errors Service returns.
var (
	ErrAlreadyRegistered = errors.New("email already registered")
	ErrUnknownUser       = errors.New("unknown user")
	ErrInvalidResetToken = errors.New("invalid reset token")
)

// Error codes attached to Service errors.
const (
	CodeAlreadyRegistered = "AUTH_ALREADY_REGISTERED"
	CodeUnknownUser       = "AUTH_UNKNOWN_USER"
	CodeInvalidResetToken = "AUTH_INVALID_RESET_TOKEN"
	CodeInvalidEmail      = "AUTH_INVALID_EMAIL"
	CodeEmptyPassword     = "AUTH_EMPTY_PASSWORD"
	CodePasswordTooLong   = "AUTH_PASSWORD_TOO_LONG"
)
