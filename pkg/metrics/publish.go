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

// Package metrics holds the agent's own OpenTelemetry instruments and the
// optional OTLP export pipeline.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/carverauto/runtime-agent/pkg/publisher"

// PublishMetrics counts publication outcomes. A nil *PublishMetrics is valid
// and records nothing.
type PublishMetrics struct {
	published       metric.Int64Counter
	publishFailures metric.Int64Counter
	collectFailures metric.Int64Counter
	superseded      metric.Int64Counter
	skipped         metric.Int64Counter
	duration        metric.Float64Histogram
	attrs           metric.MeasurementOption
}

// NewPublishMetrics creates the instruments on the provider's meter.
func NewPublishMetrics(provider metric.MeterProvider, identity string) (*PublishMetrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}

	meter := provider.Meter(meterName)

	m := &PublishMetrics{
		attrs: metric.WithAttributes(attribute.String("agent.identity", identity)),
	}

	var err error

	if m.published, err = meter.Int64Counter("runtime_agent.snapshots.published",
		metric.WithDescription("Snapshots written to the registry")); err != nil {
		return nil, fmt.Errorf("failed to create published counter: %w", err)
	}

	if m.publishFailures, err = meter.Int64Counter("runtime_agent.publish.failures",
		metric.WithDescription("Registry writes that failed")); err != nil {
		return nil, fmt.Errorf("failed to create publish failure counter: %w", err)
	}

	if m.collectFailures, err = meter.Int64Counter("runtime_agent.collect.failures",
		metric.WithDescription("Snapshot collections that failed")); err != nil {
		return nil, fmt.Errorf("failed to create collect failure counter: %w", err)
	}

	if m.superseded, err = meter.Int64Counter("runtime_agent.snapshots.superseded",
		metric.WithDescription("Pending snapshots replaced by a newer one before being written")); err != nil {
		return nil, fmt.Errorf("failed to create superseded counter: %w", err)
	}

	if m.skipped, err = meter.Int64Counter("runtime_agent.ticks.skipped",
		metric.WithDescription("Ticks skipped because the registry connection was not open")); err != nil {
		return nil, fmt.Errorf("failed to create skipped counter: %w", err)
	}

	if m.duration, err = meter.Float64Histogram("runtime_agent.publish.duration",
		metric.WithDescription("Registry write latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create publish duration histogram: %w", err)
	}

	return m, nil
}

func (m *PublishMetrics) Published(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}

	m.published.Add(ctx, 1, m.attrs)
	m.duration.Record(ctx, took.Seconds(), m.attrs)
}

func (m *PublishMetrics) PublishFailed(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}

	m.publishFailures.Add(ctx, 1, m.attrs)
	m.duration.Record(ctx, took.Seconds(), m.attrs)
}

func (m *PublishMetrics) CollectFailed(ctx context.Context) {
	if m == nil {
		return
	}

	m.collectFailures.Add(ctx, 1, m.attrs)
}

func (m *PublishMetrics) Superseded(ctx context.Context) {
	if m == nil {
		return
	}

	m.superseded.Add(ctx, 1, m.attrs)
}

func (m *PublishMetrics) TickSkipped(ctx context.Context) {
	if m == nil {
		return
	}

	m.skipped.Add(ctx, 1, m.attrs)
}
