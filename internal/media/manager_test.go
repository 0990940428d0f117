// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media_test

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jobportal/videocall/internal/media"
	"github.com/jobportal/videocall/internal/media/mediatest"
	"github.com/jobportal/videocall/internal/rtc/rtctest"
)

func acquire(t *testing.T, m *media.Manager) *media.Stream {
	t.Helper()
	stream, err := m.AcquireLocalMedia(media.DefaultConstraints())
	if err != nil {
		t.Fatal(err)
	}
	return stream
}

func TestAcquireAndRelease(t *testing.T) {
	devices := &mediatest.Devices{}
	m := media.NewManager(devices, nil)

	stream := acquire(t, m)
	if stream.AudioTrack() == nil || stream.VideoTrack() == nil {
		t.Fatal("expected audio and video tracks")
	}
	if !m.MicrophoneEnabled() || !m.CameraEnabled() {
		t.Error("tracks should start enabled")
	}
	if m.OpenTracks() != 2 {
		t.Errorf("expected 2 open tracks, got %d", m.OpenTracks())
	}

	m.Release()
	m.Release()
	if devices.OpenTracks() != 0 {
		t.Errorf("%d tracks left open after release", devices.OpenTracks())
	}
	if _, err := m.AcquireLocalMedia(media.DefaultConstraints()); !errors.Is(err, media.ErrReleased) {
		t.Errorf("expected ErrReleased, got %v", err)
	}
}

func TestAcquireAfterReleaseStopsTracks(t *testing.T) {
	gate := make(chan struct{})
	devices := &mediatest.Devices{Gate: gate}
	m := media.NewManager(devices, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := m.AcquireLocalMedia(media.DefaultConstraints())
		errc <- err
	}()

	for devices.UserMediaCalls() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.Release()
	close(gate)

	if err := <-errc; !errors.Is(err, media.ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
	if devices.OpenTracks() != 0 {
		t.Error("late capture was not stopped")
	}
}

func TestAcquireErrorsAreClassified(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{os.ErrPermission, media.ErrPermissionDenied},
		{errors.New("failed to find the best driver that fits the constraints"), media.ErrDeviceNotFound},
		{errors.New("device busy"), media.ErrDeviceError},
		{fmt.Errorf("wrapped: %w", media.ErrDeviceNotFound), media.ErrDeviceNotFound},
	}
	seen := map[string]bool{}
	for _, tc := range cases {
		m := media.NewManager(&mediatest.Devices{UserMediaErr: tc.err}, nil)
		_, err := m.AcquireLocalMedia(media.DefaultConstraints())
		if !errors.Is(err, tc.want) {
			t.Errorf("%v: expected %v, got %v", tc.err, tc.want, err)
		}
		msg := media.UserMessage(err)
		if msg == "" {
			t.Errorf("%v: no user message", tc.err)
		}
		seen[msg] = true
	}
	if len(seen) != 3 {
		t.Errorf("device errors should have distinct messages, got %d", len(seen))
	}
}

func TestTogglesFlipEnabledFlag(t *testing.T) {
	m := media.NewManager(&mediatest.Devices{}, nil)
	if err := m.SetMicrophoneEnabled(false); !errors.Is(err, media.ErrNoLocalMedia) {
		t.Errorf("expected ErrNoLocalMedia, got %v", err)
	}

	stream := acquire(t, m)
	if err := m.SetMicrophoneEnabled(false); err != nil {
		t.Fatal(err)
	}
	if stream.AudioTrack().Enabled() || m.MicrophoneEnabled() {
		t.Error("microphone still enabled")
	}
	if stream.AudioTrack().Stopped() {
		t.Error("muting must not stop the device")
	}

	if err := m.SetCameraEnabled(false); err != nil {
		t.Fatal(err)
	}
	if stream.VideoTrack().Enabled() || m.CameraEnabled() {
		t.Error("camera still enabled")
	}
	if err := m.SetCameraEnabled(true); err != nil {
		t.Fatal(err)
	}
	if !m.CameraEnabled() {
		t.Error("camera not re-enabled")
	}
}

func TestScreenShareSwapsSenderTrack(t *testing.T) {
	devices := &mediatest.Devices{}
	m := media.NewManager(devices, nil)
	stream := acquire(t, m)

	if _, err := m.StartScreenShare(); !errors.Is(err, media.ErrNoVideoSender) {
		t.Fatalf("expected ErrNoVideoSender, got %v", err)
	}

	sender := &rtctest.Sender{}
	sender.ReplaceTrack(stream.VideoTrack().Local())
	m.BindVideoSender(sender)

	screen, err := m.StartScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	if sender.Track() != screen.Local() {
		t.Error("sender not carrying the screen track")
	}
	if !m.ScreenSharing() || m.CameraEnabled() {
		t.Error("camera must report disabled while sharing")
	}

	// camera toggle is ignored while sharing
	if err := m.SetCameraEnabled(false); err != nil {
		t.Fatal(err)
	}
	if !stream.VideoTrack().Enabled() {
		t.Error("camera track touched while sharing")
	}

	if err := m.StopScreenShare(); err != nil {
		t.Fatal(err)
	}
	if sender.Track() != stream.VideoTrack().Local() {
		t.Error("camera track not restored")
	}
	if !screen.Stopped() {
		t.Error("screen track not stopped")
	}
	if m.ScreenSharing() || !m.CameraEnabled() {
		t.Error("unexpected state after stopping share")
	}
	if err := m.StopScreenShare(); err != nil {
		t.Errorf("stopping twice: %v", err)
	}
}

func TestScreenShareEndedBySystem(t *testing.T) {
	devices := &mediatest.Devices{}
	ended := make(chan struct{}, 1)
	m := media.NewManager(devices, func() { ended <- struct{}{} })
	stream := acquire(t, m)

	sender := &rtctest.Sender{}
	m.BindVideoSender(sender)
	if _, err := m.StartScreenShare(); err != nil {
		t.Fatal(err)
	}

	devices.LastScreen().End()

	select {
	case <-ended:
	default:
		t.Fatal("screen share end callback not invoked")
	}
	if m.ScreenSharing() {
		t.Error("still sharing after system stop")
	}
	if sender.Track() != stream.VideoTrack().Local() {
		t.Error("camera not restored after system stop")
	}
	if !devices.LastScreen().Stopped() {
		t.Error("screen track not released")
	}
}

func TestReleaseStopsScreenShare(t *testing.T) {
	devices := &mediatest.Devices{}
	m := media.NewManager(devices, nil)
	acquire(t, m)
	m.BindVideoSender(&rtctest.Sender{})
	if _, err := m.StartScreenShare(); err != nil {
		t.Fatal(err)
	}

	m.Release()
	if devices.OpenTracks() != 0 || m.OpenTracks() != 0 {
		t.Errorf("tracks left open: devices=%d manager=%d", devices.OpenTracks(), m.OpenTracks())
	}
}
