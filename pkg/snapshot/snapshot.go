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

// Package snapshot builds the dashboard view of all devices, joining
// persisted rows with live-connection state.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/playpulse/presenced/pkg/db"
	"github.com/playpulse/presenced/pkg/models"
)

// Liveness answers whether an identifier has an open heartbeat connection.
// The connection registry implements it.
type Liveness interface {
	IsLive(identifier string) bool
}

// Formatter produces point-in-time device views.
type Formatter struct {
	store db.Service
	live  Liveness
}

// NewFormatter creates a formatter over the given store and liveness source.
func NewFormatter(store db.Service, live Liveness) *Formatter {
	return &Formatter{store: store, live: live}
}

// Snapshot returns one view per device. Live devices come first, then by
// last_active descending; ties on both keys break by unique identifier
// ascending, so the order is a deterministic total order.
func (f *Formatter) Snapshot(ctx context.Context, now time.Time) ([]models.DeviceView, error) {
	devices, err := f.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices for snapshot: %w", err)
	}

	type entry struct {
		device *models.Device
		active bool
	}

	entries := make([]entry, 0, len(devices))
	for _, device := range devices {
		entries = append(entries, entry{
			device: device,
			active: f.live.IsLive(device.UniqueIdentifier),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]

		if a.active != b.active {
			return a.active
		}

		if !a.device.LastActive.Equal(b.device.LastActive) {
			return a.device.LastActive.After(b.device.LastActive)
		}

		return a.device.UniqueIdentifier < b.device.UniqueIdentifier
	})

	views := make([]models.DeviceView, 0, len(entries))

	for _, e := range entries {
		view := models.DeviceView{
			Nickname:      e.device.Nickname,
			RealNickname:  e.device.RealNickname,
			Server:        e.device.Server,
			LicenseActive: e.device.LicenseActive,
			Active:        e.active,
			Allowed:       e.device.Allowed,
		}

		if e.active {
			view.LastActive = OnlineLabel
		} else {
			view.LastActive = FormatLastActive(now, e.device.LastActive)
		}

		if e.device.ExpireDate != nil {
			days := daysUntil(now, *e.device.ExpireDate)
			view.ExpireDays = &days
		}

		views = append(views, view)
	}

	return views, nil
}

// daysUntil counts whole calendar days from now's date to the expiry date.
// Negative means already expired; rendering of negative values is the
// caller's concern.
func daysUntil(now, expire time.Time) int {
	return int(truncateToDate(expire).Sub(truncateToDate(now)).Hours() / 24)
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
