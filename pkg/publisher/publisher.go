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

//go:generate mockgen -destination=mock_collector.go -package=publisher github.com/carverauto/runtime-agent/pkg/publisher Collector

// Package publisher runs the fixed-interval collect and publish loop.
package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/registry"
)

var (
	ErrAlreadyStarted = errors.New("publication loop already started")
	ErrStopTimeout    = errors.New("publication loop did not stop within the grace period")
	ErrStopped        = errors.New("publication loop stopped")
)

const (
	DefaultInterval     = time.Second
	MinInterval         = 100 * time.Millisecond
	MaxInterval         = time.Hour
	defaultWriteTimeout = 5 * time.Second
	abortWait           = 250 * time.Millisecond
	tracerName          = "github.com/carverauto/runtime-agent/pkg/publisher"
)

// Collector produces one snapshot per call.
type Collector interface {
	Collect(ctx context.Context) (models.RuntimeSnapshot, error)
}

// Sink is the slice of registry.Client the loop writes through.
type Sink interface {
	RecordSet(ctx context.Context, key string, value any) error
	State() registry.ConnectionState
}

type Config struct {
	Interval        models.Duration `json:"interval"`
	WriteTimeout    models.Duration `json:"write_timeout"`
	SkipInitialTick bool            `json:"skip_initial_tick"`
}

// Normalize applies defaults and clamps the interval to [MinInterval, MaxInterval].
func (c *Config) Normalize() {
	switch {
	case c.Interval <= 0:
		c.Interval = models.Duration(DefaultInterval)
	case c.Interval.Std() < MinInterval:
		c.Interval = models.Duration(MinInterval)
	case c.Interval.Std() > MaxInterval:
		c.Interval = models.Duration(MaxInterval)
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = models.Duration(defaultWriteTimeout)
	}
}

// Stats is a point-in-time copy of the loop counters.
type Stats struct {
	Published      uint64
	WriteFailures  uint64
	CollectFailure uint64
	Superseded     uint64
	Skipped        uint64
	LastSequence   uint64
	LastWritten    uint64
}
