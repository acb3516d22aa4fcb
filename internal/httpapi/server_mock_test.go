// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/httpapi"
	"github.com/holomush/authd/pkg/errutil"
)

type mockAuthService struct {
	mock.Mock
}

func newMockAuthService(t *testing.T) *mockAuthService {
	m := &mockAuthService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockAuthService) Register(ctx context.Context, email, password string) (ulid.ULID, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(ulid.ULID), args.Error(1)
}

func (m *mockAuthService) ValidateLogin(ctx context.Context, email, password string) (bool, error) {
	args := m.Called(ctx, email, password)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuthService) CreateSession(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) ResolveSession(ctx context.Context, token string) (*auth.User, bool, error) {
	args := m.Called(ctx, token)
	var user *auth.User
	if v := args.Get(0); v != nil {
		user = v.(*auth.User)
	}
	return user, args.Bool(1), args.Error(2)
}

func (m *mockAuthService) DestroySession(ctx context.Context, userID ulid.ULID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockAuthService) IssueResetToken(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	args := m.Called(ctx, token, newPassword)
	return args.Error(0)
}

func (m *mockAuthService) CountUsers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

var _ httpapi.AuthService = (*mockAuthService)(nil)

func newMockedEnv(t *testing.T) (*testEnv, *mockAuthService, *bytes.Buffer) {
	t.Helper()
	return newMockedEnvWithPaths(t, defaultPublicPaths)
}

func newMockedEnvWithPaths(t *testing.T, publicPaths []string) (*testEnv, *mockAuthService, *bytes.Buffer) {
	t.Helper()
	svc := newMockAuthService(t)
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))

	srv, err := httpapi.NewServer(svc, httpapi.Config{PublicPaths: publicPaths}, httpapi.WithLogger(logger))
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), observer: &recordingObserver{}}, svc, logs
}

var errStoreDown = oops.Code("STORE_DOWN").Errorf("connection refused")

func sessionFor(token string) *http.Cookie {
	return &http.Cookie{Name: httpapi.DefaultCookieName, Value: token}
}

func TestServer_InternalErrors(t *testing.T) {
	user := &auth.User{ID: ulid.Make(), Email: "bob@me.com"}

	tests := []struct {
		name    string
		setup   func(m *mockAuthService)
		method  string
		path    string
		form    url.Values
		cookies []*http.Cookie
	}{
		{
			name: "register store failure",
			setup: func(m *mockAuthService) {
				m.On("Register", mock.Anything, "bob@me.com", "pw").Return(ulid.ULID{}, errStoreDown)
			},
			method: http.MethodPost, path: "/users", form: creds("bob@me.com", "pw"),
		},
		{
			name: "login validation failure",
			setup: func(m *mockAuthService) {
				m.On("ValidateLogin", mock.Anything, "bob@me.com", "pw").Return(false, errStoreDown)
			},
			method: http.MethodPost, path: "/sessions", form: creds("bob@me.com", "pw"),
		},
		{
			name: "create session failure",
			setup: func(m *mockAuthService) {
				m.On("ValidateLogin", mock.Anything, "bob@me.com", "pw").Return(true, nil)
				m.On("CreateSession", mock.Anything, "bob@me.com").Return("", errStoreDown)
			},
			method: http.MethodPost, path: "/sessions", form: creds("bob@me.com", "pw"),
		},
		{
			name: "guard resolve failure",
			setup: func(m *mockAuthService) {
				m.On("ResolveSession", mock.Anything, "tok").Return(nil, false, errStoreDown)
			},
			method: http.MethodGet, path: "/api/v1/stats", cookies: []*http.Cookie{sessionFor("tok")},
		},
		{
			name: "profile resolve failure",
			setup: func(m *mockAuthService) {
				m.On("ResolveSession", mock.Anything, "tok").Return(nil, false, errStoreDown)
			},
			method: http.MethodGet, path: "/profile", cookies: []*http.Cookie{sessionFor("tok")},
		},
		{
			name: "logout resolve failure",
			setup: func(m *mockAuthService) {
				m.On("ResolveSession", mock.Anything, "tok").Return(nil, false, errStoreDown)
			},
			method: http.MethodDelete, path: "/sessions", cookies: []*http.Cookie{sessionFor("tok")},
		},
		{
			name: "destroy session failure",
			setup: func(m *mockAuthService) {
				m.On("ResolveSession", mock.Anything, "tok").Return(user, true, nil)
				m.On("DestroySession", mock.Anything, user.ID).Return(errStoreDown)
			},
			method: http.MethodDelete, path: "/sessions", cookies: []*http.Cookie{sessionFor("tok")},
		},
		{
			name: "issue reset failure",
			setup: func(m *mockAuthService) {
				m.On("IssueResetToken", mock.Anything, "bob@me.com").Return("", errStoreDown)
			},
			method: http.MethodPost, path: "/reset_password", form: url.Values{"email": {"bob@me.com"}},
		},
		{
			name: "consume reset failure",
			setup: func(m *mockAuthService) {
				m.On("ConsumePasswordReset", mock.Anything, "tok", "pw2").Return(errStoreDown)
			},
			method: http.MethodPut, path: "/reset_password",
			form: url.Values{"email": {"bob@me.com"}, "reset_token": {"tok"}, "new_password": {"pw2"}},
		},
		{
			name: "stats count failure",
			setup: func(m *mockAuthService) {
				m.On("ResolveSession", mock.Anything, "tok").Return(user, true, nil)
				m.On("CountUsers", mock.Anything).Return(int64(0), errStoreDown)
			},
			method: http.MethodGet, path: "/api/v1/stats", cookies: []*http.Cookie{sessionFor("tok")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, svc, logs := newMockedEnv(t)
			tt.setup(svc)

			rec := env.do(t, tt.method, tt.path, tt.form, tt.cookies...)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, map[string]any{"error": "Internal Server Error"}, decodeBody(t, rec))
			assert.Contains(t, logs.String(), "STORE_DOWN")
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func TestServer_LogoutRaceWithDeletedUser(t *testing.T) {
	env, svc, _ := newMockedEnv(t)
	user := &auth.User{ID: ulid.Make(), Email: "bob@me.com"}
	svc.On("ResolveSession", mock.Anything, "tok").Return(user, true, nil)
	svc.On("DestroySession", mock.Anything, user.ID).
		Return(oops.Code(auth.CodeUnknownUser).Wrap(auth.ErrUnknownUser))

	rec := env.do(t, http.MethodDelete, "/sessions", nil, sessionFor("tok"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_GuardPassesUserToHandler(t *testing.T) {
	// Guard /profile so the handler must reuse the guard's resolution.
	env, svc, _ := newMockedEnvWithPaths(t, []string{"/", "/users", "/sessions"})
	user := &auth.User{ID: ulid.Make(), Email: "bob@me.com"}
	// Resolved once by the guard; the profile handler reuses the result.
	svc.On("ResolveSession", mock.Anything, "tok").Return(user, true, nil).Once()

	rec := env.do(t, http.MethodGet, "/profile", nil, sessionFor("tok"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob@me.com", decodeBody(t, rec)["email"])
}

func TestServer_GuardSkipsResolveWithoutCookie(t *testing.T) {
	env, _, _ := newMockedEnvWithPaths(t, []string{"/"})

	// No ResolveSession expectation: the mock fails the test if it is called.
	rec := env.do(t, http.MethodGet, "/profile", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeBody(t, rec)["error"])
}

func TestServer_RejectionsDoNotLogErrors(t *testing.T) {
	env, svc, logs := newMockedEnv(t)
	svc.On("IssueResetToken", mock.Anything, "nobody@me.com").
		Return("", oops.Code(auth.CodeUnknownUser).Wrap(auth.ErrUnknownUser))

	rec := env.do(t, http.MethodPost, "/reset_password", url.Values{"email": {"nobody@me.com"}})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, logs.String(), `"level":"ERROR"`)
}

func TestServer_StartStop(t *testing.T) {
	env := newTestEnv(t)
	srv, err := httpapi.NewServer(env.svc, httpapi.Config{
		Addr:        "127.0.0.1:0",
		PublicPaths: defaultPublicPaths,
	}, httpapi.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	assert.Empty(t, srv.Addr())

	errCh, err := srv.Start()
	require.NoError(t, err)
	require.NotEmpty(t, srv.Addr())

	_, err = srv.Start()
	assert.Error(t, err, "second start fails")

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx), "stop is idempotent")

	select {
	case err, ok := <-errCh:
		assert.False(t, ok, "channel closed without error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel not closed after stop")
	}
}

func TestServer_StartInvalidAddr(t *testing.T) {
	env := newTestEnv(t)
	srv, err := httpapi.NewServer(env.svc, httpapi.Config{Addr: "256.0.0.1:bad"})
	require.NoError(t, err)

	_, err = srv.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HTTP_LISTEN_FAILED")
}
