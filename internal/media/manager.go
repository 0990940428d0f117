// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jobportal/videocall/internal/rtc"
)

// Manager owns the local capture of one call session: camera and microphone,
// and the optional screen capture that replaces the outgoing camera video.
type Manager struct {
	devices            Devices
	onScreenShareEnded func()

	mu       sync.Mutex
	local    *Stream
	camera   Track
	screen   *Stream
	sender   rtc.Sender
	owned    []Track
	released bool

	micEnabled    bool
	cameraEnabled bool

	logger *slog.Logger
}

// NewManager returns a manager capturing from devices. onScreenShareEnded
// runs when screen capture ends outside the application and the outgoing
// video has been reverted to the camera.
func NewManager(devices Devices, onScreenShareEnded func()) *Manager {
	return &Manager{
		devices:            devices,
		onScreenShareEnded: onScreenShareEnded,
		logger:             slog.With("component", "media"),
	}
}

// AcquireLocalMedia opens camera and microphone. Capture that completes after
// Release is stopped at once and reported as ErrReleased.
func (m *Manager) AcquireLocalMedia(c Constraints) (*Stream, error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil, ErrReleased
	}
	if m.local != nil {
		defer m.mu.Unlock()
		return m.local, nil
	}
	m.mu.Unlock()

	stream, err := m.devices.GetUserMedia(c)
	if err != nil {
		err = classifyError(err)
		m.logger.Warn("local media capture failed", "error", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		stream.Stop()
		return nil, ErrReleased
	}
	if m.local != nil {
		stream.Stop()
		return m.local, nil
	}

	m.local = stream
	m.camera = stream.VideoTrack()
	m.owned = append(m.owned, stream.Tracks()...)
	if a := stream.AudioTrack(); a != nil {
		m.micEnabled = a.Enabled()
	}
	if m.camera != nil {
		m.cameraEnabled = m.camera.Enabled()
	}
	m.logger.Info("local media acquired", "tracks", len(stream.Tracks()))
	return stream, nil
}

func (m *Manager) LocalStream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

func (m *Manager) SetMicrophoneEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return ErrNoLocalMedia
	}
	if a := m.local.AudioTrack(); a != nil {
		a.SetEnabled(enabled)
	}
	m.micEnabled = enabled
	return nil
}

// SetCameraEnabled is a no-op while the screen is shared.
func (m *Manager) SetCameraEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return ErrNoLocalMedia
	}
	if m.screen != nil {
		m.logger.Debug("camera toggle ignored while screen sharing")
		return nil
	}
	if m.camera != nil {
		m.camera.SetEnabled(enabled)
	}
	m.cameraEnabled = enabled
	return nil
}

func (m *Manager) MicrophoneEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micEnabled
}

// CameraEnabled reports false while the screen is shared.
func (m *Manager) CameraEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraEnabled && m.screen == nil
}

func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// BindVideoSender sets the sender whose track is swapped for screen sharing.
func (m *Manager) BindVideoSender(sender rtc.Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = sender
}

// StartScreenShare captures the display and swaps it into the video sender.
func (m *Manager) StartScreenShare() (Track, error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil, ErrReleased
	}
	if m.screen != nil {
		defer m.mu.Unlock()
		return m.screen.VideoTrack(), nil
	}
	if m.sender == nil {
		m.mu.Unlock()
		return nil, ErrNoVideoSender
	}
	m.mu.Unlock()

	stream, err := m.devices.GetDisplayMedia()
	if err != nil {
		err = classifyError(err)
		m.logger.Warn("screen capture failed", "error", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		stream.Stop()
		return nil, ErrReleased
	}
	if m.screen != nil {
		stream.Stop()
		return m.screen.VideoTrack(), nil
	}

	track := stream.VideoTrack()
	if track == nil {
		stream.Stop()
		return nil, fmt.Errorf("%w: display capture has no video", ErrDeviceError)
	}
	if err := m.sender.ReplaceTrack(track.Local()); err != nil {
		stream.Stop()
		return nil, fmt.Errorf("replace track: %w", err)
	}

	m.screen = stream
	m.owned = append(m.owned, stream.Tracks()...)
	track.OnEnded(func(err error) {
		m.screenEnded(stream, err)
	})
	m.logger.Info("screen share started")
	return track, nil
}

// StopScreenShare reverts the video sender to the camera and releases the
// screen capture. Not sharing is not an error.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen == nil {
		return nil
	}
	return m.revertLocked()
}

func (m *Manager) screenEnded(stream *Stream, cause error) {
	m.mu.Lock()
	if m.screen != stream {
		m.mu.Unlock()
		return
	}
	m.logger.Info("screen capture ended by the system", "error", cause)
	if err := m.revertLocked(); err != nil {
		m.logger.Warn("failed to restore camera after screen share", "error", err)
	}
	cb := m.onScreenShareEnded
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (m *Manager) revertLocked() error {
	screen := m.screen
	m.screen = nil
	defer screen.Stop()

	if m.sender == nil {
		return nil
	}
	if m.camera == nil {
		return m.sender.ReplaceTrack(nil)
	}
	if err := m.sender.ReplaceTrack(m.camera.Local()); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	m.logger.Info("screen share stopped, camera restored")
	return nil
}

// Release stops every track the manager owns. Safe to call more than once.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true

	if m.screen != nil {
		m.screen.Stop()
		m.screen = nil
	}
	if m.local != nil {
		m.local.Stop()
	}
	m.sender = nil
	m.logger.Debug("local media released")
}

// OpenTracks counts acquired tracks that are still running.
func (m *Manager) OpenTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.owned {
		if !t.Stopped() {
			n++
		}
	}
	return n
}
