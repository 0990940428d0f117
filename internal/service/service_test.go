// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/backend"
	"github.com/jobportal/videocall/internal/call"
	"github.com/jobportal/videocall/internal/config"
	"github.com/jobportal/videocall/internal/media/mediatest"
	"github.com/jobportal/videocall/internal/rtc"
	"github.com/jobportal/videocall/internal/rtc/rtctest"
	"github.com/jobportal/videocall/internal/signaling"
)

// loopbackChannel reports itself connected as soon as Connect is called.
type loopbackChannel struct {
	mu     sync.Mutex
	status []func(signaling.Status)
}

func (c *loopbackChannel) On(signaling.Type, func(signaling.Message)) func() { return func() {} }

func (c *loopbackChannel) OnStatus(fn func(signaling.Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, fn)
	return func() {}
}

func (c *loopbackChannel) Connect(context.Context) {
	c.mu.Lock()
	fns := slices.Clone(c.status)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(signaling.StatusConnected)
	}
}

func (c *loopbackChannel) Send(signaling.Message) error { return nil }
func (c *loopbackChannel) Close() error                 { return nil }

type stubBackend struct {
	iceErr   error
	ice      []webrtc.ICEServer
	endDelay time.Duration
}

func (b *stubBackend) StartCall(context.Context, string, string) error { return nil }

func (b *stubBackend) EndCall(context.Context, string, string, string) error {
	time.Sleep(b.endDelay)
	return nil
}

func (b *stubBackend) ICEServers(context.Context, string) ([]webrtc.ICEServer, error) {
	return b.ice, b.iceErr
}

type stubTokens struct {
	creds backend.Credentials
	err   error
	loads int
}

func (t *stubTokens) Load() (backend.Credentials, error) {
	t.loads++
	return t.creds, t.err
}

type fixture struct {
	app     *Application
	backend *stubBackend
	tokens  *stubTokens
	devices *mediatest.Devices

	mu      sync.Mutex
	servers [][]webrtc.ICEServer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &stubBackend{},
		tokens:  &stubTokens{creds: backend.Credentials{Token: "token", UserID: "u-1"}},
		devices: &mediatest.Devices{},
	}
	cfg := &config.Config{
		BackendURL:      "http://portal.test/api",
		SignalingURL:    "ws://portal.test/ws",
		Role:            "recruiter",
		StunServers:     []string{"stun:stun.portal.test:3478"},
		FetchICEServers: true,
	}
	f.app = NewApplication(cfg, Deps{
		Backend: f.backend,
		Tokens:  f.tokens,
		Devices: f.devices,
		NewPeer: func(servers []webrtc.ICEServer) (rtc.PeerConnection, error) {
			f.mu.Lock()
			f.servers = append(f.servers, servers)
			f.mu.Unlock()
			return rtctest.NewPeer(), nil
		},
		NewChannel: func(signaling.Config) call.Channel { return &loopbackChannel{} },
	})
	t.Cleanup(func() { f.app.Shutdown(context.Background()) })
	return f
}

func (f *fixture) peerServers(t *testing.T) []webrtc.ICEServer {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.servers) > 0 {
			defer f.mu.Unlock()
			return f.servers[0]
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("peer connection never created")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitRinging(t *testing.T, app *Application, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := app.Snapshot(id)
		if err != nil {
			t.Fatal(err)
		}
		if snap.State == call.StateRinging {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session stuck in %s", snap.State)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartCallReusesRunningSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.app.StartCall(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.app.StartCall(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.SessionID != second.SessionID {
		t.Error("running session was replaced")
	}
	if f.tokens.loads != 1 {
		t.Errorf("token loaded %d times", f.tokens.loads)
	}
	waitRinging(t, f.app, "app-1")
}

func TestStartCallWithoutToken(t *testing.T) {
	f := newFixture(t)
	f.tokens.err = backend.ErrNoToken

	_, err := f.app.StartCall(context.Background(), "app-1")
	if !errors.Is(err, call.ErrReauthRequired) || !errors.Is(err, backend.ErrNoToken) {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := f.app.Snapshot("app-1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("session registered without a token: %v", err)
	}
}

func TestICEServerSelection(t *testing.T) {
	t.Run("fetched", func(t *testing.T) {
		f := newFixture(t)
		f.backend.ice = []webrtc.ICEServer{{URLs: []string{"turn:turn.portal.test"}}}
		if _, err := f.app.StartCall(context.Background(), "app-1"); err != nil {
			t.Fatal(err)
		}
		if got := f.peerServers(t); len(got) != 1 || got[0].URLs[0] != "turn:turn.portal.test" {
			t.Errorf("peer built with %v", got)
		}
	})
	t.Run("fallback", func(t *testing.T) {
		f := newFixture(t)
		f.backend.iceErr = errors.New("boom")
		if _, err := f.app.StartCall(context.Background(), "app-1"); err != nil {
			t.Fatal(err)
		}
		if got := f.peerServers(t); len(got) != 1 || got[0].URLs[0] != "stun:stun.portal.test:3478" {
			t.Errorf("peer built with %v", got)
		}
	})
}

func TestRetryReplacesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.app.StartCall(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	waitRinging(t, f.app, "app-1")

	retried, err := f.app.RetryCall(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if retried.SessionID == first.SessionID {
		t.Error("retry kept the old session")
	}
	current, err := f.app.Snapshot("app-1")
	if err != nil {
		t.Fatal(err)
	}
	if current.SessionID != retried.SessionID {
		t.Error("registry still points at the old session")
	}
}

func TestConcurrentRetriesKeepOneSession(t *testing.T) {
	f := newFixture(t)
	f.backend.endDelay = 50 * time.Millisecond
	ctx := context.Background()

	if _, err := f.app.StartCall(ctx, "app-1"); err != nil {
		t.Fatal(err)
	}
	waitRinging(t, f.app, "app-1")

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := f.app.RetryCall(ctx, "app-1")
			ids[i], errs[i] = snap.SessionID, err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	current, err := f.app.Snapshot("app-1")
	if err != nil {
		t.Fatal(err)
	}
	if current.SessionID != ids[0] && current.SessionID != ids[1] {
		t.Errorf("registry holds %s, retries returned %v", current.SessionID, ids)
	}
	waitRinging(t, f.app, "app-1")
	if n := f.devices.OpenTracks(); n != 2 {
		t.Errorf("%d tracks open, want the two of a single session", n)
	}

	f.app.Shutdown(ctx)
	if n := f.devices.OpenTracks(); n != 0 {
		t.Errorf("%d tracks left open after shutdown", n)
	}
}

func TestTogglesAndEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.app.StartCall(ctx, "app-1"); err != nil {
		t.Fatal(err)
	}
	waitRinging(t, f.app, "app-1")

	snap, err := f.app.ToggleMute(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.MicEnabled || snap.State != call.StateRinging {
		t.Errorf("after mute: %+v", snap)
	}

	snap, err = f.app.EndCall(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != call.StateEnded {
		t.Errorf("after end: %s", snap.State)
	}
	if n := f.devices.OpenTracks(); n != 0 {
		t.Errorf("%d tracks left open", n)
	}
}

func TestUnknownApplication(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.ToggleCamera(context.Background(), "missing"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestShutdownEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.app.StartCall(ctx, "app-1"); err != nil {
		t.Fatal(err)
	}
	s, err := f.app.Session("app-1")
	if err != nil {
		t.Fatal(err)
	}

	f.app.Shutdown(ctx)
	select {
	case <-s.Done():
	default:
		t.Error("session still running after shutdown")
	}
	if _, err := f.app.StartCall(ctx, "app-2"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}
