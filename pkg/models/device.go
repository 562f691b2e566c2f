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

import (
	"time"
)

// Device is the persisted record for a game-client device, keyed by its
// resolved unique identifier.
type Device struct {
	UniqueIdentifier string     `json:"unique_identifier"`
	DeviceID         string     `json:"device_id"`
	IP               string     `json:"ip"`
	Server           string     `json:"server"`
	Nickname         string     `json:"nickname"`
	RealNickname     string     `json:"real_nickname"`
	LicenseActive    bool       `json:"license_active"`
	LastActive       time.Time  `json:"last_active"`
	Allowed          bool       `json:"allowed"`
	ExpireDate       *time.Time `json:"expire_date,omitempty"`
}

// DeviceUpsert carries the heartbeat-reported fields written on every
// reconcile. Administrative fields (allowed, expire_date, real_nickname)
// are deliberately absent; the heartbeat path never writes them.
type DeviceUpsert struct {
	UniqueIdentifier string
	DeviceID         string
	IP               string
	Server           string
	Nickname         string
	LicenseActive    bool
	LastActive       time.Time
}

// AuthState is the authorization snapshot returned by the upsert, used to
// decide the heartbeat reply.
type AuthState struct {
	Allowed    bool
	ExpireDate *time.Time
}

// DeviceView is the dashboard-facing projection of a device.
type DeviceView struct {
	Nickname      string `json:"nickname"`
	RealNickname  string `json:"real_nickname"`
	Server        string `json:"server"`
	LicenseActive bool   `json:"license_active"`
	LastActive    string `json:"last_active"`
	Active        bool   `json:"active"`
	Allowed       bool   `json:"allowed"`
	ExpireDays    *int   `json:"expire_days,omitempty"`
}
