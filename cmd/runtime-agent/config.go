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

package main

import (
	"errors"
	"fmt"

	"github.com/carverauto/runtime-agent/pkg/collector"
	"github.com/carverauto/runtime-agent/pkg/identity"
	"github.com/carverauto/runtime-agent/pkg/lifecycle"
	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/metrics"
	"github.com/carverauto/runtime-agent/pkg/natsutil"
	"github.com/carverauto/runtime-agent/pkg/publisher"
	"github.com/carverauto/runtime-agent/pkg/registry"
)

const defaultConfigPath = "/etc/runtime-agent/agent.json"

var errGraceBelowStep = errors.New("lifecycle grace_timeout must not be shorter than step_timeout")

// Config is the agent's full configuration document.
type Config struct {
	Logging   *logger.Config       `json:"logging"`
	Identity  identity.Config      `json:"identity"`
	Registry  registry.Config      `json:"registry"`
	Publisher publisher.Config     `json:"publisher"`
	Collector collector.Config     `json:"collector"`
	Metrics   metrics.Config       `json:"metrics"`
	Tracing   logger.OTelConfig    `json:"tracing"`
	Lifecycle lifecycle.Options    `json:"lifecycle"`
	Events    natsutil.EventConfig `json:"events"`
}

func (c *Config) Normalize() {
	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	c.Identity.Normalize()
	c.Registry.Normalize()
	c.Publisher.Normalize()
	c.Collector.Normalize()
	c.Lifecycle.Normalize()
	c.Events.Normalize()
}

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	if c.Lifecycle.GraceTimeout < c.Lifecycle.StepTimeout {
		return errGraceBelowStep
	}

	return nil
}
