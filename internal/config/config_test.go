// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{
		"CALL_BACKEND_URL":   "https://portal.example.com/api/",
		"CALL_SIGNALING_URL": "https://portal.example.com/signaling/",
	}})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.BackendURL != "https://portal.example.com/api" {
		t.Errorf("backend url not trimmed: %q", cfg.BackendURL)
	}
	if cfg.SignalingURL != "wss://portal.example.com/signaling" {
		t.Errorf("signaling url not converted: %q", cfg.SignalingURL)
	}
	if cfg.ReconnectAttempts != 5 || cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("unexpected reconnect defaults: %d %s", cfg.ReconnectAttempts, cfg.ReconnectDelay)
	}
	if cfg.RemoteVideoTimeout != 10*time.Second {
		t.Errorf("unexpected remote video timeout %s", cfg.RemoteVideoTimeout)
	}
	if got := cfg.ICEServers(); len(got) != 1 || got[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected ice servers %+v", got)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected info level")
	}
}

func TestParseTurnAndDebug(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{
		"CALL_BACKEND_URL":   "http://localhost:8000",
		"CALL_SIGNALING_URL": "ws://localhost:8001",
		"CALL_TURN_URL":      "turn:turn.example.com:3478",
		"CALL_TURN_USERNAME": "u",
		"CALL_TURN_PASSWORD": "p",
		"CALL_LOG_LEVEL":     "debug",
		"CALL_ROLE":          "candidate",
	}})
	if err != nil {
		t.Fatal(err)
	}
	servers := cfg.ICEServers()
	if len(servers) != 2 {
		t.Fatalf("expected stun+turn, got %d", len(servers))
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Errorf("turn credentials not carried: %+v", servers[1])
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing backend": {
			"CALL_SIGNALING_URL": "ws://localhost:8001",
		},
		"bad backend scheme": {
			"CALL_BACKEND_URL":   "ftp://localhost",
			"CALL_SIGNALING_URL": "ws://localhost:8001",
		},
		"bad role": {
			"CALL_BACKEND_URL":   "http://localhost",
			"CALL_SIGNALING_URL": "ws://localhost:8001",
			"CALL_ROLE":          "admin",
		},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parse(env.Options{Environment: environ}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
