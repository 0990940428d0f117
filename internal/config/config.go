// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/constants"
)

type Config struct {
	LogLevel    string `env:"CALL_LOG_LEVEL" envDefault:"info"`
	ListenAddr  string `env:"CALL_LISTEN_ADDR" envDefault:":23000"`
	MetricsAddr string `env:"CALL_METRICS_ADDR" envDefault:":9464"`

	// ControlSecret guards the local control API. Empty disables the API.
	ControlSecret string `env:"CALL_CONTROL_SECRET"`

	BackendURL     string `env:"CALL_BACKEND_URL,required"`
	SignalingURL   string `env:"CALL_SIGNALING_URL,required"`
	TokenFile      string `env:"CALL_TOKEN_FILE" envDefault:".jobportal/token"`
	Role           string `env:"CALL_ROLE" envDefault:"recruiter"`
	SkipCertVerify bool   `env:"SKIP_CERT_VERIFY"`

	StunServers     []string `env:"CALL_STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	TurnURL         string   `env:"CALL_TURN_URL"`
	TurnUsername    string   `env:"CALL_TURN_USERNAME"`
	TurnPassword    string   `env:"CALL_TURN_PASSWORD"`
	FetchICEServers bool     `env:"CALL_FETCH_ICE_SERVERS" envDefault:"true"`

	ReconnectAttempts  int           `env:"CALL_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay     time.Duration `env:"CALL_RECONNECT_DELAY" envDefault:"2s"`
	RemoteVideoTimeout time.Duration `env:"CALL_REMOTE_VIDEO_TIMEOUT" envDefault:"10s"`

	VideoWidth     int     `env:"CALL_VIDEO_WIDTH" envDefault:"1280"`
	VideoHeight    int     `env:"CALL_VIDEO_HEIGHT" envDefault:"720"`
	VideoFrameRate float64 `env:"CALL_VIDEO_FRAME_RATE" envDefault:"30"`
}

func LoadConfig() (*Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validateURL(cfg.BackendURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("CALL_BACKEND_URL: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	cfg.SignalingURL = sanitizeWebSocketURL(cfg.SignalingURL)
	if err := validateURL(cfg.SignalingURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("CALL_SIGNALING_URL: %w", err)
	}

	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = constants.DefaultReconnectDelay
	}
	if cfg.RemoteVideoTimeout <= 0 {
		cfg.RemoteVideoTimeout = constants.RemoteVideoTimeout
	}
	if cfg.Role != "recruiter" && cfg.Role != "candidate" {
		return nil, fmt.Errorf("CALL_ROLE must be recruiter or candidate, got %q", cfg.Role)
	}

	return &cfg, nil
}

// ICEServers returns the statically configured STUN/TURN servers.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.StunServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.StunServers})
	}
	if c.TurnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TurnURL},
			Username:   c.TurnUsername,
			Credential: c.TurnPassword,
		})
	}
	return servers
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("unsupported url %q", raw)
}

func sanitizeWebSocketURL(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	}
	return strings.TrimRight(wsURL, "/")
}
