/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/playpulse/presenced/pkg/models"
)

// UpsertHeartbeat writes the heartbeat-reported fields in a single
// conditional insert-or-update. Two first heartbeats for the same new
// identifier cannot race into duplicate rows: the conflict target is the
// primary key and one of them always observes the other's insert.
// The stored authorization fields come back with the same statement, so
// the accept/reject decision sees the row this heartbeat produced.
func (db *DB) UpsertHeartbeat(ctx context.Context, upsert *models.DeviceUpsert) (*models.AuthState, error) {
	const query = `
	INSERT INTO devices (unique_identifier, device_id, ip, server, nickname, license_active, last_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (unique_identifier) DO UPDATE SET
		device_id      = EXCLUDED.device_id,
		ip             = EXCLUDED.ip,
		server         = EXCLUDED.server,
		nickname       = EXCLUDED.nickname,
		license_active = EXCLUDED.license_active,
		last_active    = EXCLUDED.last_active
	RETURNING allowed, expire_date`

	var state models.AuthState

	err := db.pool.QueryRow(ctx, query,
		upsert.UniqueIdentifier,
		upsert.DeviceID,
		upsert.IP,
		upsert.Server,
		upsert.Nickname,
		upsert.LicenseActive,
		upsert.LastActive,
	).Scan(&state.Allowed, &state.ExpireDate)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device %s: %w", upsert.UniqueIdentifier, err)
	}

	return &state, nil
}

// TouchLastActive records the terminal activity timestamp on disconnect.
func (db *DB) TouchLastActive(ctx context.Context, identifier string, at time.Time) error {
	const query = `UPDATE devices SET last_active = $2 WHERE unique_identifier = $1`

	if _, err := db.pool.Exec(ctx, query, identifier, at); err != nil {
		return fmt.Errorf("failed to touch last_active for %s: %w", identifier, err)
	}

	return nil
}

const deviceColumns = `unique_identifier, device_id, ip, server, nickname, real_nickname,
		license_active, last_active, allowed, expire_date`

// GetDevice returns a single device row by identifier.
func (db *DB) GetDevice(ctx context.Context, identifier string) (*models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices WHERE unique_identifier = $1`, deviceColumns)

	device, err := scanDevice(db.pool.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}

		return nil, fmt.Errorf("failed to query device %s: %w", identifier, err)
	}

	return device, nil
}

// ListDevices returns every device row, most recently active first. The
// caller applies the liveness-aware display ordering.
func (db *DB) ListDevices(ctx context.Context) ([]*models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices ORDER BY last_active DESC, unique_identifier ASC`, deviceColumns)

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}

		devices = append(devices, device)
	}

	return devices, rows.Err()
}

func scanDevice(row pgx.Row) (*models.Device, error) {
	var device models.Device

	err := row.Scan(
		&device.UniqueIdentifier,
		&device.DeviceID,
		&device.IP,
		&device.Server,
		&device.Nickname,
		&device.RealNickname,
		&device.LicenseActive,
		&device.LastActive,
		&device.Allowed,
		&device.ExpireDate,
	)
	if err != nil {
		return nil, err
	}

	return &device, nil
}
