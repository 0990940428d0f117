// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package constants

import "time"

const (
	HandshakeTimeout         = 30 * time.Second
	WriteTimeout             = 10 * time.Second
	PongWait                 = 60 * time.Second
	PingInterval             = 54 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 2 * time.Second
	OfferRetryDelay          = 1 * time.Second
	MaxOfferRetries          = 10
	RemoteVideoTimeout       = 10 * time.Second
	ReconnectGracePeriod     = 15 * time.Second
	EndCallTimeout           = 5 * time.Second
	BackendTimeout           = 30 * time.Second
	ShutdownTimeout          = 10 * time.Second
	AudioLevelDecay          = 0.8
	SpeakingThreshold        = 0.02
	PLIInterval              = 3 * time.Second
	ICEDisconnectedTimeout   = 5 * time.Second
	ICEFailedTimeout         = 25 * time.Second
	ICEKeepaliveInterval     = 2 * time.Second
	DefaultVideoWidth        = 1280
	DefaultVideoHeight       = 720
	DefaultVideoFrameRate    = 30
)
