// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/constants"
)

// API builds peer connections sharing one media engine and interceptor
// registry. Safe for concurrent use.
type API struct {
	api *webrtc.API
}

func NewAPI() (*API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor(
		intervalpli.GeneratorInterval(constants.PLIInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("interval pli: %w", err)
	}
	registry.Add(pli)

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(constants.ICEDisconnectedTimeout, constants.ICEFailedTimeout, constants.ICEKeepaliveInterval)

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
	}, nil
}

func (a *API) NewPeerConnection(iceServers []webrtc.ICEServer) (*Peer, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newPeer(pc), nil
}
