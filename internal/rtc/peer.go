// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package rtc

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Sender carries one outgoing track and allows swapping it without
// renegotiation.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerConnection is the subset of a WebRTC peer connection a call session
// drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(RemoteTrack))
	Close() error
}

// LevelReporter is implemented by peer connections that meter remote audio.
type LevelReporter interface {
	Level() float64
}

// rtpReader is satisfied by *webrtc.TrackRemote.
type rtpReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// Peer wraps a pion peer connection. Remote tracks are drained in the
// background; remote Opus audio feeds a level meter.
type Peer struct {
	pc    *webrtc.PeerConnection
	level levelMeter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	logger *slog.Logger
}

func newPeer(pc *webrtc.PeerConnection) *Peer {
	return &Peer{
		pc:     pc,
		logger: slog.With("component", "rtc"),
	}
}

func (p *Peer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// RTCP must be read for the interceptors to work.
	p.goRead(func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	})
	return sender, nil
}

func (p *Peer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	if iceRestart {
		return p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	}
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *Peer) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *Peer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug("remote track added",
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
			"stream_id", track.StreamID(),
		)

		if track.Kind() == webrtc.RTPCodecTypeAudio && track.Codec().MimeType == webrtc.MimeTypeOpus {
			p.goRead(func() { p.meterAudio(track) })
		} else {
			p.goRead(func() { drain(track) })
		}
		fn(track)
	})
}

// Level reports the remote audio level in [0, 1].
func (p *Peer) Level() float64 {
	return p.level.Level()
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	err := p.pc.Close()
	p.wg.Wait()
	p.level.reset()
	return err
}

// goRead runs a reader tied to the connection's lifetime. Readers exit once
// the connection is closed.
func (p *Peer) goRead(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func drain(r rtpReader) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := r.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) meterAudio(r rtpReader) {
	const sampleRate = 48000
	const channels = 1
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		p.logger.Error("failed to create opus decoder", "error", err)
		drain(r)
		return
	}

	pcmBuf := make([]int16, 5760) // max 120ms at 48kHz
	rtpBuf := make([]byte, 1500)

	for {
		n, _, readErr := r.Read(rtpBuf)
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				p.logger.Debug("remote audio read stopped", "error", readErr)
			}
			return
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(rtpBuf[:n]); err != nil || len(packet.Payload) == 0 {
			continue
		}

		decoded, err := dec.Decode(packet.Payload, pcmBuf)
		if err != nil {
			p.logger.Debug("opus decode error", "error", err)
			continue
		}
		p.level.update(pcmBuf[:decoded])
	}
}
