// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	videoBitRate     = 1_500_000
	screenFrameRate  = 15
	videoClockRate   = 90000
	audioClockRate   = 48000
	audioChannelsOut = 2
)

// SystemDevices captures from V4L2 cameras, the default microphone and the
// X11 screen through pion/mediadevices.
type SystemDevices struct {
	selector *mediadevices.CodecSelector
	logger   *slog.Logger
}

func NewSystemDevices() (*SystemDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &SystemDevices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: slog.With("component", "devices"),
	}, nil
}

func (d *SystemDevices) GetUserMedia(c Constraints) (*Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				mc.Width = prop.IntRanged{Max: c.Width, Ideal: c.Width}
			}
			if c.Height > 0 {
				mc.Height = prop.IntRanged{Max: c.Height, Ideal: c.Height}
			}
			if c.FrameRate > 0 {
				mc.FrameRate = prop.Float(c.FrameRate)
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyError(err)
	}
	return d.wrap(ms)
}

func (d *SystemDevices) GetDisplayMedia() (*Stream, error) {
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameRate = prop.Float(screenFrameRate)
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return d.wrap(ms)
}

func (d *SystemDevices) wrap(ms mediadevices.MediaStream) (*Stream, error) {
	streamID := uuid.NewString()
	var tracks []Track
	for _, src := range ms.GetTracks() {
		t, err := newCaptureTrack(src, streamID, d.logger)
		if err != nil {
			for _, opened := range tracks {
				opened.Stop()
			}
			for _, s := range ms.GetTracks() {
				s.Close()
			}
			return nil, fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		tracks = append(tracks, t)
	}
	d.logger.Debug("capture opened", "stream_id", streamID, "tracks", len(tracks))
	return NewStream(streamID, tracks...), nil
}

// captureTrack pumps encoded frames from a mediadevices track into a
// static sample track. Disabled tracks drop frames.
type captureTrack struct {
	src       mediadevices.Track
	reader    mediadevices.EncodedReadCloser
	local     *webrtc.TrackLocalStaticSample
	clockRate uint32

	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func(error)
	ended   sync.Once

	logger *slog.Logger
}

func newCaptureTrack(src mediadevices.Track, streamID string, logger *slog.Logger) (*captureTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate}
	if src.Kind() == webrtc.RTPCodecTypeAudio {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioClockRate, Channels: audioChannelsOut}
	}

	reader, err := src.NewEncodedReader(capability.MimeType)
	if err != nil {
		return nil, fmt.Errorf("encoded reader %s: %w", capability.MimeType, err)
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, src.Kind().String(), streamID)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("local track: %w", err)
	}

	t := &captureTrack{
		src:       src,
		reader:    reader,
		local:     local,
		clockRate: capability.ClockRate,
		logger:    logger.With("kind", src.Kind().String()),
	}
	t.enabled.Store(true)
	src.OnEnded(func(err error) {
		t.end(err)
	})
	go t.pump()
	return t, nil
}

func (t *captureTrack) ID() string                { return t.local.ID() }
func (t *captureTrack) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *captureTrack) Local() webrtc.TrackLocal  { return t.local }
func (t *captureTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *captureTrack) Enabled() bool             { return t.enabled.Load() }
func (t *captureTrack) Stopped() bool             { return t.stopped.Load() }

func (t *captureTrack) OnEnded(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *captureTrack) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	t.reader.Close()
	if err := t.src.Close(); err != nil {
		t.logger.Debug("close capture source", "error", err)
	}
}

func (t *captureTrack) end(err error) {
	if t.stopped.Load() {
		return
	}
	t.ended.Do(func() {
		t.mu.Lock()
		fn := t.onEnded
		t.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (t *captureTrack) pump() {
	for {
		buf, release, err := t.reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("capture read stopped", "error", err)
			}
			t.end(err)
			return
		}

		if t.enabled.Load() {
			sample := pionmedia.Sample{
				Data:     buf.Data,
				Duration: time.Duration(buf.Samples) * time.Second / time.Duration(t.clockRate),
			}
			if err := t.local.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				t.logger.Debug("write sample failed", "error", err)
			}
		}
		release()
	}
}
