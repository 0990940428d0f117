// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"time"

	"github.com/jobportal/videocall/internal/constants"
)

// Snapshot is a point-in-time copy of what a UI renders for a session.
type Snapshot struct {
	SessionID     string `json:"sessionId"`
	ApplicationID string `json:"applicationId"`
	State         State  `json:"state"`

	StartedAt      time.Time `json:"startedAt,omitzero"`
	ElapsedSeconds int       `json:"elapsedSeconds"`

	MicEnabled            bool `json:"micEnabled"`
	CameraEnabled         bool `json:"cameraEnabled"`
	CameraControlDisabled bool `json:"cameraControlDisabled"`
	ScreenSharing         bool `json:"screenSharing"`
	RemoteScreenSharing   bool `json:"remoteScreenSharing"`

	RemoteTracks      []string `json:"remoteTracks"`
	RemoteStreamReady bool     `json:"remoteStreamReady"`
	RemoteAudioLevel  float64  `json:"remoteAudioLevel"`
	RemoteSpeaking    bool     `json:"remoteSpeaking"`

	Offline        bool   `json:"offline"`
	RetryAvailable bool   `json:"retryAvailable"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`

	endedAt time.Time
}

// at fills the fields that depend on the clock.
func (s Snapshot) at(now time.Time, level float64) Snapshot {
	s.RemoteTracks = append([]string(nil), s.RemoteTracks...)
	if !s.StartedAt.IsZero() {
		end := now
		if !s.endedAt.IsZero() {
			end = s.endedAt
		}
		s.ElapsedSeconds = int(end.Sub(s.StartedAt) / time.Second)
	}
	if !s.State.Terminal() {
		s.RemoteAudioLevel = level
		s.RemoteSpeaking = level >= constants.SpeakingThreshold
	}
	return s
}
