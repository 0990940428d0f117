// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/backend"
	"github.com/jobportal/videocall/internal/call"
	"github.com/jobportal/videocall/internal/config"
	"github.com/jobportal/videocall/internal/constants"
	"github.com/jobportal/videocall/internal/media"
	"github.com/jobportal/videocall/internal/rtc"
	"github.com/jobportal/videocall/internal/signaling"
)

var (
	ErrNoSession    = errors.New("no call session for application")
	ErrShuttingDown = errors.New("call service shutting down")
)

type Backend interface {
	call.Backend
	ICEServers(ctx context.Context, token string) ([]webrtc.ICEServer, error)
}

type CredentialStore interface {
	Load() (backend.Credentials, error)
}

type PeerFactory func(iceServers []webrtc.ICEServer) (rtc.PeerConnection, error)

type Deps struct {
	Backend Backend
	Tokens  CredentialStore
	Devices media.Devices
	NewPeer PeerFactory
	// NewChannel defaults to the websocket channel.
	NewChannel call.ChannelFactory
}

// Application keeps at most one live call session per job application.
type Application struct {
	mu       sync.Mutex
	cfg      *config.Config
	deps     Deps
	sessions map[string]*call.Session
	// turns serializes starts and retries per application.
	turns  map[string]chan struct{}
	closed bool
}

func NewApplication(cfg *config.Config, deps Deps) *Application {
	slog.Info("call service initialized",
		"backend", cfg.BackendURL,
		"signaling", cfg.SignalingURL,
		"role", cfg.Role,
	)
	return &Application{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*call.Session),
		turns:    make(map[string]chan struct{}),
	}
}

// acquire waits for the application's turn to replace its session.
func (app *Application) acquire(ctx context.Context, applicationID string) (func(), error) {
	app.mu.Lock()
	turn, ok := app.turns[applicationID]
	if !ok {
		turn = make(chan struct{}, 1)
		app.turns[applicationID] = turn
	}
	app.mu.Unlock()

	select {
	case turn <- struct{}{}:
		return func() { <-turn }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func running(s *call.Session) bool {
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

// StartCall opens a session for the application. A session that is still
// running is returned as is.
func (app *Application) StartCall(ctx context.Context, applicationID string) (call.Snapshot, error) {
	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		return call.Snapshot{}, ErrShuttingDown
	}
	if s, ok := app.sessions[applicationID]; ok && running(s) {
		app.mu.Unlock()
		return s.Snapshot(), nil
	}
	app.mu.Unlock()

	release, err := app.acquire(ctx, applicationID)
	if err != nil {
		return call.Snapshot{}, err
	}
	defer release()

	app.mu.Lock()
	if s, ok := app.sessions[applicationID]; ok && running(s) {
		app.mu.Unlock()
		return s.Snapshot(), nil
	}
	app.mu.Unlock()

	creds, err := app.deps.Tokens.Load()
	if err != nil {
		return call.Snapshot{}, fmt.Errorf("%w: %w", call.ErrReauthRequired, err)
	}
	if creds.Role == "" {
		creds.Role = app.cfg.Role
	}

	s := call.New(app.sessionOptions(applicationID, creds, app.iceServers(ctx, creds.Token)))

	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		s.End(ctx, call.ReasonShutdown)
		return call.Snapshot{}, ErrShuttingDown
	}
	if existing, ok := app.sessions[applicationID]; ok && running(existing) {
		app.mu.Unlock()
		s.End(ctx, call.ReasonShutdown)
		return existing.Snapshot(), nil
	}
	app.sessions[applicationID] = s
	app.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		app.mu.Lock()
		if app.sessions[applicationID] == s {
			delete(app.sessions, applicationID)
		}
		app.mu.Unlock()
		s.End(context.Background(), call.ReasonShutdown)
		return call.Snapshot{}, fmt.Errorf("starting call: %w", err)
	}

	slog.Info("call started", "application_id", applicationID, "session_id", s.ID())
	return s.Snapshot(), nil
}

func (app *Application) iceServers(ctx context.Context, token string) []webrtc.ICEServer {
	if !app.cfg.FetchICEServers {
		return app.cfg.ICEServers()
	}

	ctx, cancel := context.WithTimeout(ctx, constants.BackendTimeout)
	defer cancel()
	servers, err := app.deps.Backend.ICEServers(ctx, token)
	if err != nil {
		slog.Warn("failed to fetch ICE servers, using configured ones", "error", err)
		return app.cfg.ICEServers()
	}
	if len(servers) == 0 {
		return app.cfg.ICEServers()
	}
	slog.Debug("ICE servers retrieved", "count", len(servers))
	return servers
}

func (app *Application) sessionOptions(applicationID string, creds backend.Credentials, servers []webrtc.ICEServer) call.Options {
	newPeer := app.deps.NewPeer
	return call.Options{
		ApplicationID: applicationID,
		Credentials:   creds,
		Signaling: signaling.Config{
			URL:                app.cfg.SignalingURL,
			ReconnectAttempts:  app.cfg.ReconnectAttempts,
			ReconnectDelay:     app.cfg.ReconnectDelay,
			InsecureSkipVerify: app.cfg.SkipCertVerify,
		},
		Constraints: media.Constraints{
			Audio:     true,
			Video:     true,
			Width:     app.cfg.VideoWidth,
			Height:    app.cfg.VideoHeight,
			FrameRate: app.cfg.VideoFrameRate,
		},
		RemoteVideoTimeout: app.cfg.RemoteVideoTimeout,
		Backend:            app.deps.Backend,
		Devices:            app.deps.Devices,
		NewChannel:         app.deps.NewChannel,
		NewPeer: func() (rtc.PeerConnection, error) {
			return newPeer(servers)
		},
	}
}

func (app *Application) session(applicationID string) (*call.Session, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	s, ok := app.sessions[applicationID]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Session returns the latest session for the application, which may have
// already ended.
func (app *Application) Session(applicationID string) (*call.Session, error) {
	return app.session(applicationID)
}

func (app *Application) Snapshot(applicationID string) (call.Snapshot, error) {
	s, err := app.session(applicationID)
	if err != nil {
		return call.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

func (app *Application) EndCall(ctx context.Context, applicationID string) (call.Snapshot, error) {
	s, err := app.session(applicationID)
	if err != nil {
		return call.Snapshot{}, err
	}
	if err := s.End(ctx, call.ReasonUserEnded); err != nil {
		return call.Snapshot{}, err
	}
	slog.Info("call ended", "application_id", applicationID, "session_id", s.ID())
	return s.Snapshot(), nil
}

// RetryCall replaces the application's session with a fresh one.
func (app *Application) RetryCall(ctx context.Context, applicationID string) (call.Snapshot, error) {
	release, err := app.acquire(ctx, applicationID)
	if err != nil {
		return call.Snapshot{}, err
	}
	defer release()

	s, err := app.session(applicationID)
	if err != nil {
		return call.Snapshot{}, err
	}

	next, err := s.Retry(ctx)
	if err != nil {
		return call.Snapshot{}, err
	}

	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		next.End(ctx, call.ReasonShutdown)
		return call.Snapshot{}, ErrShuttingDown
	}
	if app.sessions[applicationID] != s {
		app.mu.Unlock()
		next.End(ctx, call.ReasonShutdown)
		return call.Snapshot{}, fmt.Errorf("%w: replaced during retry", call.ErrSessionClosed)
	}
	app.sessions[applicationID] = next
	app.mu.Unlock()

	slog.Info("call retried", "application_id", applicationID, "session_id", next.ID())
	return next.Snapshot(), nil
}

func (app *Application) ToggleMute(ctx context.Context, applicationID string) (call.Snapshot, error) {
	return app.with(ctx, applicationID, (*call.Session).ToggleMute)
}

func (app *Application) ToggleCamera(ctx context.Context, applicationID string) (call.Snapshot, error) {
	return app.with(ctx, applicationID, (*call.Session).ToggleCamera)
}

func (app *Application) ToggleScreenShare(ctx context.Context, applicationID string) (call.Snapshot, error) {
	return app.with(ctx, applicationID, (*call.Session).ToggleScreenShare)
}

func (app *Application) ReconnectSignaling(ctx context.Context, applicationID string) (call.Snapshot, error) {
	return app.with(ctx, applicationID, (*call.Session).ReconnectSignaling)
}

func (app *Application) with(ctx context.Context, applicationID string, fn func(*call.Session, context.Context) error) (call.Snapshot, error) {
	s, err := app.session(applicationID)
	if err != nil {
		return call.Snapshot{}, err
	}
	if err := fn(s, ctx); err != nil {
		return call.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Shutdown ends every running session and refuses new ones.
func (app *Application) Shutdown(ctx context.Context) {
	app.mu.Lock()
	app.closed = true
	sessions := make([]*call.Session, 0, len(app.sessions))
	for id, s := range app.sessions {
		sessions = append(sessions, s)
		delete(app.sessions, id)
	}
	app.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.End(ctx, call.ReasonShutdown); err != nil {
				slog.Warn("failed to end call on shutdown", "application_id", s.ApplicationID(), "error", err)
			}
		}()
	}
	wg.Wait()
	slog.Info("call service shutdown complete", "sessions", len(sessions))
}
