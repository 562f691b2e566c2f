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

// Package db provides the PostgreSQL-backed device store.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playpulse/presenced/pkg/logger"
	"github.com/playpulse/presenced/pkg/models"
)

// ErrDeviceNotFound is returned when a point lookup misses.
var ErrDeviceNotFound = errors.New("device not found")

// Service is the device store contract consumed by the presence pipeline.
type Service interface {
	// UpsertHeartbeat atomically inserts or updates the device row for a
	// heartbeat and returns the stored authorization state. Administrative
	// fields are never written by this call.
	UpsertHeartbeat(ctx context.Context, upsert *models.DeviceUpsert) (*models.AuthState, error)

	// TouchLastActive records the final activity timestamp for an identifier.
	TouchLastActive(ctx context.Context, identifier string, at time.Time) error

	// GetDevice returns the row for one identifier, or ErrDeviceNotFound.
	GetDevice(ctx context.Context, identifier string) (*models.Device, error)

	// ListDevices returns all device rows.
	ListDevices(ctx context.Context) ([]*models.Device, error)

	Close()
}

// DB implements Service on top of a pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects to the configured database, applies pending migrations, and
// returns the store.
func New(ctx context.Context, cfg *models.Database, log logger.Logger) (*DB, error) {
	pool, err := NewPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}

	return &DB{pool: pool, logger: log}, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
