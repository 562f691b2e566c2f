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

package models

// HeartbeatRequest is the inbound frame on the heartbeat channel.
// GameState is the legacy integer license flag: 1 means the license is
// active, any other value means inactive.
type HeartbeatRequest struct {
	DeviceID  string `json:"deviceid"`
	Nickname  string `json:"nickname"`
	Server    string `json:"server"`
	GameState int    `json:"gamestate"`
}
