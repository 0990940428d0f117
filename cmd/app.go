// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/jobportal/videocall/internal/backend"
	"github.com/jobportal/videocall/internal/config"
	"github.com/jobportal/videocall/internal/media"
	"github.com/jobportal/videocall/internal/rtc"
	"github.com/jobportal/videocall/internal/service"
)

func newApplication(cfg *config.Config) (*service.Application, error) {
	api, err := rtc.NewAPI()
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}

	devices, err := media.NewSystemDevices()
	if err != nil {
		return nil, fmt.Errorf("capture devices: %w", err)
	}

	return service.NewApplication(cfg, service.Deps{
		Backend: backend.NewClient(cfg.BackendURL, cfg.SkipCertVerify),
		Tokens:  backend.NewTokenStore(cfg.TokenFile),
		Devices: devices,
		NewPeer: func(servers []webrtc.ICEServer) (rtc.PeerConnection, error) {
			peer, err := api.NewPeerConnection(servers)
			if err != nil {
				return nil, err
			}
			return peer, nil
		},
	}), nil
}
