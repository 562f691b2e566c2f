/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package snapshot

import (
	"fmt"
	"time"
)

// OnlineLabel is the display value for a device with an open connection.
const OnlineLabel = "Online"

// FormatLastActive renders how long ago a device was last seen, in whole
// days, hours, and minutes (floor). A lastActive in the future clamps to
// zero; the rendering is never negative.
func FormatLastActive(now, lastActive time.Time) string {
	diff := now.Sub(lastActive)
	if diff < 0 {
		diff = 0
	}

	days := int(diff.Hours()) / 24
	hours := int(diff.Hours()) % 24
	minutes := int(diff.Minutes()) % 60

	return fmt.Sprintf("%d days %d hours %d minutes ago", days, hours, minutes)
}
