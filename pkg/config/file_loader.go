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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	errConfigIsDirectory = errors.New("config path is a directory")
	errTrailingData      = errors.New("unexpected data after the config document")
)

// FileConfigLoader reads the agent's JSON config document. Unknown keys and
// trailing data are rejected.
type FileConfigLoader struct{}

// Load decodes the document at path into dst. A missing file keeps
// fs.ErrNotExist in the error chain so optional loading can detect it.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s", errConfigIsDirectory, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s", errTrailingData, path)
	}

	return nil
}
