// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mediatest provides capture devices backed by static sample tracks.
package mediatest

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/media"
)

type Track struct {
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func(error)
}

func NewTrack(kind webrtc.RTPCodecType, streamID string) *Track {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == webrtc.RTPCodecTypeAudio {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, kind.String(), streamID)
	if err != nil {
		panic(fmt.Sprintf("static sample track: %v", err))
	}
	return &Track{local: local, enabled: true}
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *Track) Local() webrtc.TrackLocal  { return t.local }

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// End simulates the source ending outside the application, like the
// system's "stop sharing" control.
func (t *Track) End() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn(io.EOF)
	}
}

// Devices hands out fake tracks and remembers every one of them.
type Devices struct {
	mu sync.Mutex

	UserMediaErr    error
	DisplayMediaErr error
	// Gate, when set, blocks GetUserMedia until it is closed.
	Gate chan struct{}

	tracks       []*Track
	screens      []*Track
	userCalls    int
	displayCalls int
	streams      int
}

func (d *Devices) GetUserMedia(c media.Constraints) (*media.Stream, error) {
	d.mu.Lock()
	d.userCalls++
	gate := d.Gate
	err := d.UserMediaErr
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams++
	id := fmt.Sprintf("local-%d", d.streams)
	var tracks []media.Track
	if c.Audio {
		t := NewTrack(webrtc.RTPCodecTypeAudio, id)
		d.tracks = append(d.tracks, t)
		tracks = append(tracks, t)
	}
	if c.Video {
		t := NewTrack(webrtc.RTPCodecTypeVideo, id)
		d.tracks = append(d.tracks, t)
		tracks = append(tracks, t)
	}
	return media.NewStream(id, tracks...), nil
}

func (d *Devices) GetDisplayMedia() (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayCalls++
	if d.DisplayMediaErr != nil {
		return nil, d.DisplayMediaErr
	}
	d.streams++
	id := fmt.Sprintf("screen-%d", d.streams)
	t := NewTrack(webrtc.RTPCodecTypeVideo, id)
	d.tracks = append(d.tracks, t)
	d.screens = append(d.screens, t)
	return media.NewStream(id, t), nil
}

// OpenTracks counts tracks handed out and not yet stopped.
func (d *Devices) OpenTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tracks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

func (d *Devices) LastScreen() *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.screens) == 0 {
		return nil
	}
	return d.screens[len(d.screens)-1]
}

func (d *Devices) UserMediaCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userCalls
}

// Streams counts successful captures, display captures included.
func (d *Devices) Streams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams
}
