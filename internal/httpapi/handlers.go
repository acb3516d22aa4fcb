// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/holomush/authd/internal/auth"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	if _, err := s.svc.Register(r.Context(), email, password); err != nil {
		switch {
		case errors.Is(err, auth.ErrAlreadyRegistered):
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Email already registered"})
		case auth.IsRejection(err):
			writeError(w, http.StatusBadRequest, msgBadRequest)
		default:
			s.internalError(w, "register failed", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "User created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	valid, err := s.svc.ValidateLogin(r.Context(), email, password)
	if err != nil {
		s.internalError(w, "validate login failed", err)
		return
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	token, err := s.svc.CreateSession(r.Context(), email)
	if err != nil {
		s.internalError(w, "create session failed", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "Logged in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, found, err := s.currentUser(r)
	if err != nil {
		s.internalError(w, "resolve session failed", err)
		return
	}
	if !found {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	if err := s.svc.DestroySession(r.Context(), user.ID); err != nil {
		if errors.Is(err, auth.ErrUnknownUser) {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		s.internalError(w, "destroy session failed", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, found, err := s.currentUser(r)
	if err != nil {
		s.internalError(w, "resolve session failed", err)
		return
	}
	if !found {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email})
}

func (s *Server) handleIssueReset(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")

	token, err := s.svc.IssueResetToken(r.Context(), email)
	if err != nil {
		if auth.IsRejection(err) {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		s.internalError(w, "issue reset token failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email, "reset_token": token})
}

func (s *Server) handleConsumeReset(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	token := r.FormValue("reset_token")
	password := r.FormValue("new_password")

	if err := s.svc.ConsumePasswordReset(r.Context(), token, password); err != nil {
		if auth.IsRejection(err) {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		s.internalError(w, "consume password reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email, "message": "Password updated"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.CountUsers(r.Context())
	if err != nil {
		s.internalError(w, "count users failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"users": n})
}

func (s *Server) handleUnauthorized(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusUnauthorized, msgUnauthorized)
}

func (s *Server) handleForbidden(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusForbidden, msgForbidden)
}
