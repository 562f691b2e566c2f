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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	errConfigRead  = errors.New("failed to read config file")
	errConfigParse = errors.New("failed to parse config file")
)

// FileConfigLoader reads a JSON config file from the local filesystem. It
// is the default loader unless CONFIG_SOURCE selects the env loader.
type FileConfigLoader struct{}

// Load implements ConfigLoader.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errConfigRead, path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", errConfigParse, path, err)
	}

	return nil
}
