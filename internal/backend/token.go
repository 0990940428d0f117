// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken    = errors.New("no stored token")
	ErrNoIdentity = errors.New("token carries no user id")
)

// Credentials are the bearer token and the identity it was issued for.
type Credentials struct {
	Token  string
	UserID string
	Role   string
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type tokenFile struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// TokenStore reads the token persisted by the portal's login flow. The token
// is neither validated nor refreshed here; the backend is the judge.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Load accepts either a bare JWT or a JSON document {"token", "userId", "role"}.
func (s *TokenStore) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: %s", ErrNoToken, s.path)
		}
		return Credentials{}, fmt.Errorf("reading token file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	var creds Credentials
	if strings.HasPrefix(raw, "{") {
		var f tokenFile
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return Credentials{}, fmt.Errorf("parsing token file: %w", err)
		}
		creds = Credentials{Token: f.Token, UserID: f.UserID, Role: f.Role}
	} else {
		creds.Token = raw
	}
	if creds.Token == "" {
		return Credentials{}, fmt.Errorf("%w: %s is empty", ErrNoToken, s.path)
	}

	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(creds.Token, &claims); err != nil {
		slog.Debug("token is not a readable jwt", "error", err)
	} else {
		if creds.UserID == "" {
			creds.UserID = claims.UserID
		}
		if creds.UserID == "" {
			creds.UserID = claims.Subject
		}
		if creds.Role == "" {
			creds.Role = claims.Role
		}
	}

	if creds.UserID == "" {
		return Credentials{}, ErrNoIdentity
	}
	return creds, nil
}
