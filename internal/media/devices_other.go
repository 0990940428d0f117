// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !linux

package media

import "fmt"

// SystemDevices has no capture drivers on this platform.
type SystemDevices struct{}

func NewSystemDevices() (*SystemDevices, error) {
	return &SystemDevices{}, nil
}

func (d *SystemDevices) GetUserMedia(Constraints) (*Stream, error) {
	return nil, fmt.Errorf("%w: capture is only supported on linux", ErrDeviceNotFound)
}

func (d *SystemDevices) GetDisplayMedia() (*Stream, error) {
	return nil, fmt.Errorf("%w: capture is only supported on linux", ErrDeviceNotFound)
}
