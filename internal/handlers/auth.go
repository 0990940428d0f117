// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const ControlTokenHeader = "X-Control-Token"

// AuthMiddleware checks the shared control secret on every request except
// skipPaths. An empty secret rejects everything.
func AuthMiddleware(secret string, skipPaths map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(ControlTokenHeader)
		if token == "" {
			slog.Warn("missing control token", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing control token"})
			return
		}

		if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			slog.Warn("invalid control token", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid control token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
