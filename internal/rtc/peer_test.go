// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package rtc

import (
	"math"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestNegotiateBetweenPeers(t *testing.T) {
	api, err := NewAPI()
	if err != nil {
		t.Fatal(err)
	}

	caller, err := api.NewPeerConnection(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer caller.Close()
	callee, err := api.NewPeerConnection(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer callee.Close()

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
	if err != nil {
		t.Fatal(err)
	}
	sender, err := caller.AddTrack(video)
	if err != nil {
		t.Fatal(err)
	}
	if sender.Track() != video {
		t.Error("sender does not carry the added track")
	}

	offer, err := caller.CreateOffer(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := caller.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	if caller.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("caller in %s after offer", caller.SignalingState())
	}

	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatal(err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatal(err)
	}
	if err := callee.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}

	if caller.SignalingState() != webrtc.SignalingStateStable || callee.SignalingState() != webrtc.SignalingStateStable {
		t.Errorf("expected stable, got %s / %s", caller.SignalingState(), callee.SignalingState())
	}
	if callee.RemoteDescription() == nil {
		t.Error("callee has no remote description")
	}

	// replacing the outgoing track keeps the negotiated session
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "local")
	if err != nil {
		t.Fatal(err)
	}
	if err := sender.ReplaceTrack(screen); err != nil {
		t.Fatal(err)
	}
	if caller.SignalingState() != webrtc.SignalingStateStable {
		t.Error("track replacement triggered renegotiation")
	}
}

func TestAnswerWithoutOfferFails(t *testing.T) {
	api, err := NewAPI()
	if err != nil {
		t.Fatal(err)
	}
	p, err := api.NewPeerConnection(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if _, err := p.CreateAnswer(); err == nil {
		t.Error("expected error creating answer in stable state")
	}
	if err := p.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}); err == nil {
		t.Error("expected error adding candidate without remote description")
	}
}

func TestRMS(t *testing.T) {
	if rms(nil) != 0 {
		t.Error("empty input must be silent")
	}
	full := []int16{math.MaxInt16, -math.MaxInt16, math.MaxInt16}
	if got := rms(full); math.Abs(got-1) > 1e-6 {
		t.Errorf("full scale rms = %f", got)
	}
	if got := rms([]int16{0, 0, 0}); got != 0 {
		t.Errorf("silence rms = %f", got)
	}
}

func TestLevelMeterDecays(t *testing.T) {
	var m levelMeter
	m.update([]int16{math.MaxInt16, -math.MaxInt16})
	if m.Level() < 0.99 {
		t.Fatalf("level not raised: %f", m.Level())
	}

	m.update([]int16{0, 0})
	if got := m.Level(); got < 0.79 || got > 0.81 {
		t.Errorf("expected decayed level ~0.8, got %f", got)
	}

	m.reset()
	if m.Level() != 0 {
		t.Error("reset did not clear level")
	}
}
