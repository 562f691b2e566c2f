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

// Package identity derives the durable unique identifier for a heartbeat.
package identity

// EmptyDeviceID is the client-side sentinel for "no device id".
const EmptyDeviceID = "-"

// Resolve maps a client-claimed device id and the transport-observed
// network address onto the device's durable identifier. The device id wins
// when present; otherwise the network address is used as a lossy fallback.
// Multiple clients behind the same address that report no device id
// collapse onto one identity; existing data relies on that behavior, so it
// is preserved rather than disambiguated.
func Resolve(deviceID, networkAddress string) string {
	if deviceID == "" || deviceID == EmptyDeviceID {
		return networkAddress
	}

	return deviceID
}
