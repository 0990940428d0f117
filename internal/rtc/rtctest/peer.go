// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rtctest provides an in-memory peer connection that follows the
// WebRTC signaling state rules without touching the network.
package rtctest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/rtc"
)

var (
	ErrClosed              = errors.New("peer connection closed")
	ErrInvalidState        = errors.New("invalid signaling state")
	ErrNoRemoteDescription = errors.New("remote description not set")
)

type Sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *Sender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type RemoteTrack struct {
	TrackID string
	Stream  string
	Type    webrtc.RTPCodecType
}

func (t RemoteTrack) ID() string                { return t.TrackID }
func (t RemoteTrack) StreamID() string          { return t.Stream }
func (t RemoteTrack) Kind() webrtc.RTPCodecType { return t.Type }

// Peer is a fake rtc.PeerConnection. Tests drive connection and track events
// through SetConnectionState, AddRemoteTrack and EmitCandidate.
type Peer struct {
	mu sync.Mutex

	signaling webrtc.SignalingState
	conn      webrtc.PeerConnectionState
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	closed    bool

	senders     []*Sender
	candidates  []webrtc.ICECandidateInit
	offers      int
	iceRestarts int
	answers     int
	level       float64

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(rtc.RemoteTrack)
}

func NewPeer() *Peer {
	return &Peer{
		signaling: webrtc.SignalingStateStable,
		conn:      webrtc.PeerConnectionStateNew,
	}
}

func (p *Peer) AddTrack(track webrtc.TrackLocal) (rtc.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	s := &Sender{track: track}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *Peer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	p.offers++
	if iceRestart {
		p.iceRestarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if p.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer in %s", ErrInvalidState, p.signaling)
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.answers)}, nil
}

func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	switch {
	case desc.Type == webrtc.SDPTypeOffer && (p.signaling == webrtc.SignalingStateStable || p.signaling == webrtc.SignalingStateHaveLocalOffer):
		p.signaling = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && p.signaling == webrtc.SignalingStateHaveRemoteOffer:
		p.signaling = webrtc.SignalingStateStable
	case desc.Type == webrtc.SDPTypeRollback && p.signaling == webrtc.SignalingStateHaveLocalOffer:
		p.signaling = webrtc.SignalingStateStable
		p.local = nil
		return nil
	default:
		return fmt.Errorf("%w: set local %s in %s", ErrInvalidState, desc.Type, p.signaling)
	}
	d := desc
	p.local = &d
	return nil
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	switch {
	case desc.Type == webrtc.SDPTypeOffer && p.signaling == webrtc.SignalingStateStable:
		p.signaling = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && p.signaling == webrtc.SignalingStateHaveLocalOffer:
		p.signaling = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("%w: set remote %s in %s", ErrInvalidState, desc.Type, p.signaling)
	}
	d := desc
	p.remote = &d
	return nil
}

func (p *Peer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.remote == nil {
		return ErrNoRemoteDescription
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *Peer) OnTrack(fn func(rtc.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.signaling = webrtc.SignalingStateClosed
	p.mu.Unlock()

	p.SetConnectionState(webrtc.PeerConnectionStateClosed)
	return nil
}

func (p *Peer) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *Peer) SetLevel(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

// SetConnectionState updates the transport state and fires the registered
// callback, as pion does from its own goroutine.
func (p *Peer) SetConnectionState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.conn = state
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (p *Peer) AddRemoteTrack(kind webrtc.RTPCodecType) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(RemoteTrack{TrackID: kind.String(), Stream: "remote", Type: kind})
	}
}

func (p *Peer) EmitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) Senders() []*Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Sender(nil), p.senders...)
}

// Candidates returns the remote candidates applied so far, in order.
func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *Peer) ICERestarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iceRestarts
}

func (p *Peer) Answers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers
}
