// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims tokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("portal-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func writeToken(t *testing.T, content string) *TokenStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return NewTokenStore(path)
}

func TestLoadRawJWT(t *testing.T) {
	token := signedToken(t, tokenClaims{
		UserID: "42",
		Role:   "recruiter",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	creds, err := writeToken(t, token+"\n").Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.Token != token || creds.UserID != "42" || creds.Role != "recruiter" {
		t.Errorf("unexpected credentials %+v", creds)
	}
}

func TestLoadExpiredTokenIsNotRejected(t *testing.T) {
	token := signedToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	creds, err := writeToken(t, token).Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.UserID != "7" {
		t.Errorf("subject not used as user id: %+v", creds)
	}
}

func TestLoadJSONFile(t *testing.T) {
	creds, err := writeToken(t, `{"token":"opaque","userId":"u-9","role":"candidate"}`).Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.Token != "opaque" || creds.UserID != "u-9" || creds.Role != "candidate" {
		t.Errorf("unexpected credentials %+v", creds)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := NewTokenStore(filepath.Join(t.TempDir(), "missing")).Load(); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
	if _, err := writeToken(t, "  \n").Load(); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken for empty file, got %v", err)
	}
	if _, err := writeToken(t, "not-a-jwt").Load(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
}
