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

// Package core ties the device store, connection registry, reconciler and
// observer broadcaster together and runs the per-connection loops.
package core

import (
	"context"
	"time"

	"github.com/playpulse/presenced/pkg/broadcast"
	"github.com/playpulse/presenced/pkg/db"
	"github.com/playpulse/presenced/pkg/logger"
	"github.com/playpulse/presenced/pkg/models"
	"github.com/playpulse/presenced/pkg/presence"
	"github.com/playpulse/presenced/pkg/registry"
	"github.com/playpulse/presenced/pkg/snapshot"
)

// Service is the presence engine shared by all connection handlers.
type Service struct {
	store       db.Service
	registry    *registry.ConnectionRegistry
	reconciler  *presence.Reconciler
	broadcaster *broadcast.Broadcaster
	formatter   *snapshot.Formatter
	logger      logger.Logger
}

// NewService wires the presence engine over an already-opened device store.
func NewService(store db.Service, log logger.Logger) *Service {
	reg := registry.NewConnectionRegistry()

	return &Service{
		store:       store,
		registry:    reg,
		reconciler:  presence.NewReconciler(store, log),
		broadcaster: broadcast.NewBroadcaster(log),
		formatter:   snapshot.NewFormatter(store, reg),
		logger:      log,
	}
}

// Snapshot returns the current device views for the dashboard.
func (s *Service) Snapshot(ctx context.Context, now time.Time) ([]models.DeviceView, error) {
	return s.formatter.Snapshot(ctx, now)
}

// Registry exposes the connection registry for liveness queries.
func (s *Service) Registry() *registry.ConnectionRegistry {
	return s.registry
}

// ObserverCount returns the number of attached dashboard observers.
func (s *Service) ObserverCount() int {
	return s.broadcaster.ObserverCount()
}
