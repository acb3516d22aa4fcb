// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authd/pkg/errutil"
)

var tracer = otel.Tracer("github.com/holomush/authd/internal/auth")

// Operation names used for tracing and metrics.
const (
	OpRegister             = "register"
	OpValidateLogin        = "validate_login"
	OpCreateSession        = "create_session"
	OpResolveSession       = "resolve_session"
	OpDestroySession       = "destroy_session"
	OpIssueResetToken      = "issue_reset_token"
	OpConsumePasswordReset = "consume_password_reset"
)

// Operation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// OperationRecorder receives one observation per completed Service operation.
type OperationRecorder interface {
	RecordOperation(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for operational warnings and failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithRecorder sets the recorder that receives per-operation outcomes.
func WithRecorder(recorder OperationRecorder) ServiceOption {
	return func(s *Service) { s.recorder = recorder }
}

// Service orchestrates registration, login validation, sessions and
// password resets. It holds no mutable state of its own and is safe for
// concurrent use; all shared state lives in the CredentialStore.
type Service struct {
	store    CredentialStore
	hasher   PasswordHasher
	tokens   TokenGenerator
	logger   *slog.Logger
	recorder OperationRecorder

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new Service.
func NewService(store CredentialStore, hasher PasswordHasher, tokens TokenGenerator, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("credential store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token generator is required")
	}

	s := &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger cannot be nil")
	}
	if s.recorder == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("recorder cannot be nil")
	}
	return s, nil
}

// Register creates a user with the given email and password and returns its ID.
// Fails with ErrAlreadyRegistered if the email is taken.
func (s *Service) Register(ctx context.Context, email, password string) (id ulid.ULID, err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, OpRegister, err) }()

	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return ulid.ULID{}, err
	}
	if password == "" {
		return ulid.ULID{}, ErrEmptyPassword
	}

	_, lookupErr := s.store.GetByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		return ulid.ULID{}, alreadyRegistered(email)
	case !errors.Is(lookupErr, ErrNotFound):
		return ulid.ULID{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	// Hashing is slow by design and runs before any store write.
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if IsRejection(err) {
			return ulid.ULID{}, err
		}
		return ulid.ULID{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := s.store.Create(ctx, email, hash)
	if err != nil {
		// A concurrent registration can win between lookup and insert.
		if errors.Is(err, ErrDuplicateEmail) {
			return ulid.ULID{}, alreadyRegistered(email)
		}
		return ulid.ULID{}, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return user.ID, nil
}

// ValidateLogin reports whether password is correct for email. An unknown
// email and a wrong password both yield false; a dummy hash is verified for
// unknown emails so the two cases take comparable time. The error result is
// reserved for store failures.
func (s *Service) ValidateLogin(ctx context.Context, email, password string) (valid bool, err error) {
	ctx, span := tracer.Start(ctx, "auth.ValidateLogin")
	defer func() {
		if err == nil && !valid {
			s.record(span, OpValidateLogin, OutcomeRejected)
			span.End()
			return
		}
		s.finish(span, OpValidateLogin, err)
	}()

	email = strings.TrimSpace(email)

	var (
		targetHash string
		userExists bool
	)
	user, lookupErr := s.store.GetByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = s.dummyPasswordHash()
	default:
		return false, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	ok, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return false, nil
		}
		return false, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	return userExists && ok, nil
}

// CreateSession issues a new session token for email. Any previous session
// of that user is replaced. The token is returned even when email does not
// resolve to a user; it is then not persisted and will never resolve. The
// error result is reserved for store failures.
func (s *Service) CreateSession(ctx context.Context, email string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.CreateSession")
	defer func() { s.finish(span, OpCreateSession, err) }()

	email = strings.TrimSpace(email)
	token = s.tokens.NewToken()

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "session token issued for unknown email is not persisted", "email", email)
			return token, nil
		}
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	err = s.store.Update(ctx, user.ID, UserUpdate{SessionToken: SetToken(HashToken(token))})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "user vanished before session was persisted", "user_id", user.ID.String())
			return token, nil
		}
		return "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return token, nil
}

// ResolveSession returns the user holding the session token. An empty or
// unknown token yields (nil, false, nil).
func (s *Service) ResolveSession(ctx context.Context, token string) (user *User, found bool, err error) {
	ctx, span := tracer.Start(ctx, "auth.ResolveSession")
	defer func() {
		if err == nil && !found {
			s.record(span, OpResolveSession, OutcomeRejected)
			span.End()
			return
		}
		s.finish(span, OpResolveSession, err)
	}()

	if token == "" {
		return nil, false, nil
	}

	user, err = s.store.GetBySessionToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, oops.Code("AUTH_SESSION_RESOLVE_FAILED").
			With("operation", "get user by session token").
			Wrap(err)
	}
	return user, true, nil
}

// DestroySession clears the session of the given user. Destroying an absent
// session is not an error. Fails with ErrUnknownUser if no such user exists.
func (s *Service) DestroySession(ctx context.Context, userID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.DestroySession",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer func() { s.finish(span, OpDestroySession, err) }()

	err = s.store.Update(ctx, userID, UserUpdate{SessionToken: ClearToken()})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return unknownUser("user_id", userID.String())
		}
		return oops.Code("AUTH_SESSION_DESTROY_FAILED").
			With("operation", "clear session token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// IssueResetToken creates a password-reset token for email, replacing any
// pending one. Fails with ErrUnknownUser if no user has that email.
func (s *Service) IssueResetToken(ctx context.Context, email string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.IssueResetToken")
	defer func() { s.finish(span, OpIssueResetToken, err) }()

	email = strings.TrimSpace(email)

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", unknownUser("email", email)
		}
		return "", oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token = s.tokens.NewToken()
	err = s.store.Update(ctx, user.ID, UserUpdate{ResetToken: SetToken(HashToken(token))})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", unknownUser("email", email)
		}
		return "", oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "persist reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return token, nil
}

// ConsumePasswordReset sets a new password for the user holding the reset
// token and clears the token in the same update. A token succeeds at most
// once; a token that was never issued, already consumed or concurrently
// consumed fails with ErrInvalidResetToken.
func (s *Service) ConsumePasswordReset(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ConsumePasswordReset")
	defer func() { s.finish(span, OpConsumePasswordReset, err) }()

	if newPassword == "" {
		return ErrEmptyPassword
	}
	if token == "" {
		return invalidResetToken()
	}

	tokenHash := HashToken(token)
	user, err := s.store.GetByResetToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidResetToken()
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if IsRejection(err) {
			return err
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	err = s.store.Update(ctx, user.ID, UserUpdate{
		PasswordHash:     &hash,
		ResetToken:       ClearToken(),
		ExpectResetToken: &tokenHash,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidResetToken()
		}
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return nil
}

// CountUsers returns the number of registered users.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, oops.Code("AUTH_COUNT_USERS_FAILED").Wrap(err)
	}
	return n, nil
}

// dummyPasswordHash returns a real hash of a random secret produced by the
// configured hasher, so verifying against it costs the same as a real login.
func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(s.tokens.NewToken())
		if err != nil {
			s.logger.Warn("failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// finish records the outcome of an operation and ends its span.
func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()

	switch {
	case err == nil:
		s.record(span, op, OutcomeOK)
	case IsRejection(err):
		s.record(span, op, OutcomeRejected)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		s.recorder.RecordOperation(op, OutcomeError)
		errutil.LogError(s.logger.With("operation", op), "auth operation failed", err)
	}
}

func (s *Service) record(span trace.Span, op, outcome string) {
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	s.recorder.RecordOperation(op, outcome)
}

// IsRejection reports whether err is an expected business outcome, such as
// bad input or an unknown user, rather than a fault.
func IsRejection(err error) bool {
	if errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrInvalidResetToken) ||
		errors.Is(err, ErrPasswordTooLong) {
		return true
	}
	switch errutil.Code(err) {
	case CodeInvalidEmail, CodeEmptyPassword, CodePasswordTooLong:
		return true
	}
	return false
}

func alreadyRegistered(email string) error {
	return oops.Code(CodeAlreadyRegistered).
		With("email", email).
		Wrap(ErrAlreadyRegistered)
}

func unknownUser(key, value string) error {
	return oops.Code(CodeUnknownUser).
		With(key, value).
		Wrap(ErrUnknownUser)
}

func invalidResetToken() error {
	return oops.Code(CodeInvalidResetToken).Wrap(ErrInvalidResetToken)
}
