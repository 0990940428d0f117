// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import "github.com/jobportal/videocall/internal/call"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type CallResponse struct {
	Call call.Snapshot `json:"call"`
}
