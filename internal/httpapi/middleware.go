// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

type userContextKey struct{}

// UserFromContext returns the user the guard resolved for this request.
func UserFromContext(ctx context.Context) (*auth.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*auth.User)
	return user, ok && user != nil
}

func contextWithUser(ctx context.Context, user *auth.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// guard requires a resolvable session cookie on every non-public path. A
// request without a cookie is 401; a cookie naming no session is 403.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.public.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if s.sessionCookie(r) == "" {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		user, found, err := s.sessionUser(r)
		if err != nil {
			s.internalError(w, "resolve session failed", err)
			return
		}
		if !found {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
	})
}

// currentUser returns the guard's user when present, otherwise resolves the
// cookie itself. Public handlers such as logout depend on the fallback.
func (s *Server) currentUser(r *http.Request) (*auth.User, bool, error) {
	if user, ok := UserFromContext(r.Context()); ok {
		return user, true, nil
	}
	return s.sessionUser(r)
}

func (s *Server) sessionCookie(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) sessionUser(r *http.Request) (*auth.User, bool, error) {
	token := s.sessionCookie(r)
	if token == "" {
		return nil, false, nil
	}
	return s.svc.ResolveSession(r.Context(), token)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// instrument records metrics and a debug log line per matched route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.serveObserved(route, next, w, r)
	})
}

// instrumentUnmatched labels unrouted requests with a fixed route so unknown
// paths cannot blow up metric cardinality.
func (s *Server) instrumentUnmatched(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serveObserved("unmatched", next, w, r)
	})
}

func (s *Server) serveObserved(route string, next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	next.ServeHTTP(rec, r)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	elapsed := time.Since(start)

	s.observer.ObserveHTTP(route, r.Method, rec.status, elapsed)
	s.logger.DebugContext(r.Context(), "request served",
		"method", r.Method,
		"route", route,
		"status", rec.status,
		"duration", elapsed,
	)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	errutil.LogError(s.logger, msg, err)
	writeError(w, http.StatusInternalServerError, msgInternalError)
}

// stripTrailingSlash routes "/users/" like "/users".
func stripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
			r2 := new(http.Request)
			*r2 = *r
			u := *r.URL
			u.Path = normalizePath(u.Path)
			u.RawPath = ""
			r2.URL = &u
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}
