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

// Package presence reconciles heartbeats with the persisted device state
// and decides the authorization reply.
package presence

import (
	"context"
	"time"

	"github.com/playpulse/presenced/pkg/db"
	"github.com/playpulse/presenced/pkg/logger"
	"github.com/playpulse/presenced/pkg/models"
)

// Decision is the outcome of reconciling one heartbeat.
type Decision int

const (
	// Rejected means the device is unknown, not allowed, or expired.
	Rejected Decision = iota
	// Accepted means the stored authorization admits the device.
	Accepted
)

func (d Decision) String() string {
	if d == Accepted {
		return "accepted"
	}

	return "rejected"
}

const (
	defaultServer   = "unknown"
	defaultNickname = "unknown"

	licenseActiveFlag = 1
)

// Reconciler applies heartbeats to the device store.
type Reconciler struct {
	store  db.Service
	logger logger.Logger
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store db.Service, log logger.Logger) *Reconciler {
	return &Reconciler{store: store, logger: log}
}

// Reconcile upserts the heartbeat-reported fields for identifier and
// returns the authorization decision. A never-before-seen identifier is
// inserted with allowed=false and therefore always rejected; authorization
// is granted only through the administrative path, never by a heartbeat.
func (r *Reconciler) Reconcile(
	ctx context.Context, identifier string, hb *models.HeartbeatRequest, networkAddress string, now time.Time,
) (Decision, error) {
	upsert := &models.DeviceUpsert{
		UniqueIdentifier: identifier,
		DeviceID:         hb.DeviceID,
		IP:               networkAddress,
		Server:           hb.Server,
		Nickname:         hb.Nickname,
		LicenseActive:    hb.GameState == licenseActiveFlag,
		LastActive:       now,
	}

	if upsert.DeviceID == "" {
		upsert.DeviceID = "-"
	}

	if upsert.Server == "" {
		upsert.Server = defaultServer
	}

	if upsert.Nickname == "" {
		upsert.Nickname = defaultNickname
	}

	state, err := r.store.UpsertHeartbeat(ctx, upsert)
	if err != nil {
		return Rejected, err
	}

	decision := decide(state, now)

	r.logger.Debug().
		Str("identifier", identifier).
		Str("decision", decision.String()).
		Bool("allowed", state.Allowed).
		Msg("heartbeat reconciled")

	return decision, nil
}

// Finalize records the terminal last_active timestamp once a device's last
// connection has closed.
func (r *Reconciler) Finalize(ctx context.Context, identifier string, now time.Time) error {
	return r.store.TouchLastActive(ctx, identifier, now)
}

// decide admits a device iff it is allowed and its expiry, when set, is not
// in the past. Expiry compares whole dates: a device expiring today is
// still admitted.
func decide(state *models.AuthState, now time.Time) Decision {
	if !state.Allowed {
		return Rejected
	}

	if state.ExpireDate != nil {
		today := truncateToDate(now)
		if truncateToDate(*state.ExpireDate).Before(today) {
			return Rejected
		}
	}

	return Accepted
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
