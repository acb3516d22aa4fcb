// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error bodies.
const (
	msgBadRequest    = "Bad Request"
	msgUnauthorized  = "Unauthorized"
	msgForbidden     = "Forbidden"
	msgNotFound      = "Not found"
	msgNotAllowed    = "Method Not Allowed"
	msgInternalError = "Internal Server Error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to write response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
