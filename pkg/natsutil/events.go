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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
)

const (
	DefaultEventSubjectPrefix = "events.runtimeagent"
	DefaultEventSource        = "runtime-agent"
	defaultFlushTimeout       = 2 * time.Second

	EventTypeRegistered   = "com.carverauto.runtimeagent.agent.registered"
	EventTypeDeregistered = "com.carverauto.runtimeagent.agent.deregistered"
)

var errNoConnection = errors.New("event publisher requires a NATS connection")

// EventConfig controls lifecycle event publication.
type EventConfig struct {
	Enabled       bool   `json:"enabled"`
	SubjectPrefix string `json:"subject_prefix"`
	Source        string `json:"source"`
	// Stream, when set, persists events in a JetStream stream covering the prefix.
	Stream string `json:"stream"`
	Domain string `json:"domain"`
}

func (c *EventConfig) Normalize() {
	c.SubjectPrefix = strings.TrimSuffix(strings.TrimSpace(c.SubjectPrefix), ".")
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultEventSubjectPrefix
	}

	if c.Source == "" {
		c.Source = DefaultEventSource
	}
}

// EventPublisher publishes agent lifecycle CloudEvents to NATS.
type EventPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	source string
	logger logger.Logger
}

// NewEventPublisher creates a publisher on an existing connection. When
// cfg.Stream is set the stream is created if missing and events are
// published through JetStream.
func NewEventPublisher(ctx context.Context, nc *nats.Conn, cfg EventConfig, log logger.Logger) (*EventPublisher, error) {
	if nc == nil {
		return nil, errNoConnection
	}

	cfg.Normalize()

	if log == nil {
		log = logger.NewTestLogger()
	}

	p := &EventPublisher{
		nc:     nc,
		prefix: cfg.SubjectPrefix,
		source: cfg.Source,
		logger: log,
	}

	if cfg.Stream == "" {
		return p, nil
	}

	var (
		js  jetstream.JetStream
		err error
	)

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err = js.Stream(ctx, cfg.Stream); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream %s: %w", cfg.Stream, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
		}

		log.Info().Str("stream", cfg.Stream).Msg("Created lifecycle event stream")
	}

	p.js = js

	return p, nil
}

// Subject returns the subject an event for state is published on.
func (p *EventPublisher) Subject(state string) string {
	return p.prefix + "." + strings.ToLower(state)
}

func (p *EventPublisher) PublishRegistered(ctx context.Context, data models.AgentLifecycleEventData) error {
	return p.PublishLifecycleEvent(ctx, EventTypeRegistered, data)
}

func (p *EventPublisher) PublishDeregistered(ctx context.Context, data models.AgentLifecycleEventData) error {
	return p.PublishLifecycleEvent(ctx, EventTypeDeregistered, data)
}

// PublishLifecycleEvent wraps data in a CloudEvent of eventType.
func (p *EventPublisher) PublishLifecycleEvent(ctx context.Context, eventType string, data models.AgentLifecycleEventData) error {
	subject := p.Subject(data.CurrentState)

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &data.Timestamp,
		Data:            data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	if p.js != nil {
		ack, err := p.js.Publish(ctx, subject, payload)
		if err != nil {
			return fmt.Errorf("failed to publish lifecycle event: %w", err)
		}

		p.logger.Debug().
			Str("event_id", event.ID).
			Str("subject", subject).
			Uint64("seq", ack.Sequence).
			Msg("Published lifecycle event")

		return nil
	}

	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}

	if err := p.flush(ctx); err != nil {
		return fmt.Errorf("failed to flush lifecycle event: %w", err)
	}

	p.logger.Debug().Str("event_id", event.ID).Str("subject", subject).Msg("Published lifecycle event")

	return nil
}

func (p *EventPublisher) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return p.nc.FlushWithContext(ctx)
	}

	return p.nc.FlushTimeout(defaultFlushTimeout)
}
