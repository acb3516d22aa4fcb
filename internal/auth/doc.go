// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the session and credential lifecycle for authd.
//
// # Domain Types
//
// A User is one registered identity. It carries at most one active session
// token and at most one pending password-reset token; the two lifecycles are
// independent. Tokens are handed to callers in plaintext and persisted only
// as their SHA-256 digest (see HashToken).
//
// # Collaborators
//
// Service depends on three narrow capabilities:
//   - CredentialStore - persistence of User records (see the memory and
//     postgres subpackages)
//   - PasswordHasher - salted one-way hashing (Argon2idHasher, BcryptHasher)
//   - TokenGenerator - unguessable identifiers (RandomTokenGenerator)
//
// # Errors
//
// Core operations fail with oops errors wrapping one of ErrAlreadyRegistered,
// ErrUnknownUser or ErrInvalidResetToken; match them with errors.Is.
// ValidateLogin and ResolveSession report "no" through their boolean result
// so that callers cannot tell an unknown email from a wrong password.
package auth
