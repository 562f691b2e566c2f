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

// Package app wires the presence service together and runs it.
package app

import (
	"context"

	"github.com/playpulse/presenced/pkg/config"
	"github.com/playpulse/presenced/pkg/core"
	"github.com/playpulse/presenced/pkg/core/api"
	"github.com/playpulse/presenced/pkg/db"
	"github.com/playpulse/presenced/pkg/lifecycle"
	"github.com/playpulse/presenced/pkg/models"
)

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run boots the presence service using the provided options.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Config is not loaded yet, so the bootstrap logger runs on defaults.
	bootstrapLogger, err := lifecycle.CreateLogger(nil)
	if err != nil {
		return err
	}

	var cfg models.PresenceServiceConfig

	cfgLoader := config.NewConfig(bootstrapLogger)
	if err := cfgLoader.LoadAndValidate(ctx, opts.ConfigPath, &cfg); err != nil {
		return err
	}

	mainLogger, err := lifecycle.CreateComponentLogger("presenced", cfg.Logging)
	if err != nil {
		return err
	}

	store, err := db.New(ctx, cfg.Database, mainLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	service := core.NewService(store, mainLogger)

	apiServer := api.NewAPIServer(service, mainLogger,
		api.WithCORSConfig(cfg.CORS),
	)

	return lifecycle.RunHTTPServer(ctx, apiServer.HTTPServer(cfg.ListenAddr), mainLogger)
}
