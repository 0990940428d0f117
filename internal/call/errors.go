// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"errors"

	"github.com/jobportal/videocall/internal/media"
)

var (
	ErrSessionClosed      = errors.New("call session closed")
	ErrAlreadyStarted     = errors.New("call session already started")
	ErrMediaNotReady      = errors.New("local media not ready")
	ErrReauthRequired     = errors.New("re-authentication required")
	ErrBackendUnavailable = errors.New("call backend unavailable")
	ErrConnectionFailed   = errors.New("peer connection could not be established")
	ErrConnectionLost     = errors.New("peer connection lost")
)

const (
	msgOffline        = "You are offline. Reconnect to continue the call."
	msgNoRemoteVideo  = "The other participant's video has not arrived. Retry the connection."
	msgRejected       = "The call was declined."
	msgEnded          = "The call has ended."
	msgGenericFailure = "Something went wrong with the call. Try again."
)

// UserMessage returns the text shown to the user for a session failure.
func UserMessage(err error) string {
	if msg := media.UserMessage(err); msg != "" {
		return msg
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReauthRequired):
		return "Your session has expired. Sign in again to join the call."
	case errors.Is(err, ErrBackendUnavailable):
		return "The call could not be started. Try again in a moment."
	case errors.Is(err, ErrConnectionFailed):
		return "A connection to the other participant could not be established. Try again."
	case errors.Is(err, ErrConnectionLost):
		return "The connection to the other participant was lost. Try again."
	default:
		return msgGenericFailure
	}
}
