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
	"encoding/json"
	"fmt"
	"time"

	"github.com/playpulse/presenced/pkg/logger"
)

var (
	errInvalidDuration        = fmt.Errorf("invalid duration")
	errListenAddrRequired     = fmt.Errorf("listen address is required")
	errDatabaseConfigRequired = fmt.Errorf("database configuration is required")
	errDatabaseHostRequired   = fmt.Errorf("database host is required")
	errDatabaseNameRequired   = fmt.Errorf("database name is required")
)

// Duration is a time.Duration that unmarshals from either a duration
// string ("30s") or a numeric nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Database holds the PostgreSQL connection settings for the device store.
type Database struct {
	Host               string            `json:"host"`
	Port               int               `json:"port"`
	Database           string            `json:"database"`
	Username           string            `json:"username"`
	Password           string            `json:"password"`
	SSLMode            string            `json:"sslmode,omitempty"`
	ApplicationName    string            `json:"application_name,omitempty"`
	MaxConnections     int32             `json:"max_connections,omitempty"`
	MinConnections     int32             `json:"min_connections,omitempty"`
	MaxConnLifetime    Duration          `json:"max_conn_lifetime,omitempty"`
	HealthCheckPeriod  Duration          `json:"health_check_period,omitempty"`
	StatementTimeout   Duration          `json:"statement_timeout,omitempty"`
	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty"`
}

// CORSConfig controls the allowed origins for the HTTP and WebSocket surface.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
}

// PresenceServiceConfig represents the configuration for the presence service.
type PresenceServiceConfig struct {
	ListenAddr string         `json:"listen_addr"`
	Database   *Database      `json:"database"`
	CORS       CORSConfig     `json:"cors,omitempty"`
	Logging    *logger.Config `json:"logging,omitempty"`
}

// Validate implements config.Validator.
func (c *PresenceServiceConfig) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if c.Database == nil {
		return errDatabaseConfigRequired
	}

	if c.Database.Host == "" {
		return errDatabaseHostRequired
	}

	if c.Database.Database == "" {
		return errDatabaseNameRequired
	}

	return nil
}
