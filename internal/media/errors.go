// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceError      = errors.New("media device error")

	ErrReleased      = errors.New("media already released")
	ErrNoLocalMedia  = errors.New("local media not acquired")
	ErrNoVideoSender = errors.New("no video sender bound")
)

// UserMessage returns the remediation text shown for a capture failure, or
// an empty string if err is not a device error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera or microphone access was denied. Allow access to your devices and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera or microphone was found. Connect a device and try again."
	case errors.Is(err, ErrDeviceError):
		return "Your camera or microphone could not be started. Close other applications using it and try again."
	default:
		return ""
	}
}

// classifyError maps a capture error onto the device error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceError) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "not found"), strings.Contains(msg, "no such"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
}
