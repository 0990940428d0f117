// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/constants"
)

// Track is a captured local track. Disabling a track keeps the device open
// but stops feeding samples to the peer connection.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// Local is the track handed to the peer connection sender.
	Local() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	// OnEnded registers fn to run when the source ends on its own, for
	// example when screen capture is stopped from outside the application.
	// It is not called for Stop.
	OnEnded(fn func(error))
	Stop()
	Stopped() bool
}

type Stream struct {
	ID     string
	tracks []Track
}

func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

func (s *Stream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) AudioTrack() Track {
	return s.firstOf(webrtc.RTPCodecTypeAudio)
}

func (s *Stream) VideoTrack() Track {
	return s.firstOf(webrtc.RTPCodecTypeVideo)
}

func (s *Stream) firstOf(kind webrtc.RTPCodecType) Track {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate float64
}

func DefaultConstraints() Constraints {
	return Constraints{
		Audio:     true,
		Video:     true,
		Width:     constants.DefaultVideoWidth,
		Height:    constants.DefaultVideoHeight,
		FrameRate: constants.DefaultVideoFrameRate,
	}
}

// Devices is the capture capability: camera and microphone, and display.
// Both calls block until the devices are open.
type Devices interface {
	GetUserMedia(c Constraints) (*Stream, error)
	GetDisplayMedia() (*Stream, error)
}
