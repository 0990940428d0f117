// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import "fmt"

type State int

const (
	StateInitializing State = iota
	StateRinging
	StateConnecting
	StateConnected
	StateReconnecting
	StateRejected
	StateEnded
	StateFailed
)

var stateNames = map[State]string{
	StateInitializing: "initializing",
	StateRinging:      "ringing",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateRejected:     "rejected",
	StateEnded:        "ended",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal states end the session; its resources are released on entry.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateEnded || s == StateFailed
}

// Reasons sent with callEnded and to the backend.
const (
	ReasonUserEnded = "user_ended"
	ReasonRetry     = "retry"
	ReasonShutdown  = "shutdown"
)
