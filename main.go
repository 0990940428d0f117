// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import "github.com/jobportal/videocall/cmd"

func main() {
	cmd.Execute()
}
