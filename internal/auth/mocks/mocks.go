// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authd/internal/auth"
)

// MockCredentialStore is a mock implementation of auth.CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

// NewMockCredentialStore creates a MockCredentialStore whose expectations
// are asserted when the test ends.
func NewMockCredentialStore(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockCredentialStore {
	m := &MockCredentialStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockCredentialStore) userResult(args mock.Arguments) (*auth.User, error) {
	var user *auth.User
	if u := args.Get(0); u != nil {
		user = u.(*auth.User)
	}
	return user, args.Error(1)
}

// GetByID provides a mock function.
func (m *MockCredentialStore) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return m.userResult(m.Called(ctx, id))
}

// GetByEmail provides a mock function.
func (m *MockCredentialStore) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, email))
}

// GetBySessionToken provides a mock function.
func (m *MockCredentialStore) GetBySessionToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, tokenHash))
}

// GetByResetToken provides a mock function.
func (m *MockCredentialStore) GetByResetToken(ctx context.Context, tokenHash string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, tokenHash))
}

// Create provides a mock function.
func (m *MockCredentialStore) Create(ctx context.Context, email, passwordHash string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, email, passwordHash))
}

// Update provides a mock function.
func (m *MockCredentialStore) Update(ctx context.Context, id ulid.ULID, update auth.UserUpdate) error {
	return m.Called(ctx, id, update).Error(0)
}

// Count provides a mock function.
func (m *MockCredentialStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockPasswordHasher is a mock implementation of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted when the test ends.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify provides a mock function.
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

// MockTokenGenerator is a mock implementation of auth.TokenGenerator.
type MockTokenGenerator struct {
	mock.Mock
}

// NewMockTokenGenerator creates a MockTokenGenerator whose expectations are
// asserted when the test ends.
func NewMockTokenGenerator(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockTokenGenerator {
	m := &MockTokenGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewToken provides a mock function.
func (m *MockTokenGenerator) NewToken() string {
	return m.Called().String(0)
}

// MockOperationRecorder is a mock implementation of auth.OperationRecorder.
type MockOperationRecorder struct {
	mock.Mock
}

// NewMockOperationRecorder creates a MockOperationRecorder whose
// expectations are asserted when the test ends.
func NewMockOperationRecorder(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockOperationRecorder {
	m := &MockOperationRecorder{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// RecordOperation provides a mock function.
func (m *MockOperationRecorder) RecordOperation(operation, outcome string) {
	m.Called(operation, outcome)
}

var (
	_ auth.CredentialStore   = (*MockCredentialStore)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
	_ auth.TokenGenerator    = (*MockTokenGenerator)(nil)
	_ auth.OperationRecorder = (*MockOperationRecorder)(nil)
)
