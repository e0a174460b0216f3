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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/registry"
)

const (
	DefaultGraceTimeout = 3 * time.Second
	DefaultStepTimeout  = 2 * time.Second

	tracerName = "github.com/carverauto/runtime-agent/pkg/lifecycle"
)

// Options bounds the controller's blocking steps.
type Options struct {
	GraceTimeout models.Duration `json:"grace_timeout"`
	StepTimeout  models.Duration `json:"step_timeout"`
	// DisableReassert turns off re-adding the list entry after a reconnect.
	DisableReassert bool `json:"disable_reassert"`
}

func (o *Options) Normalize() {
	if o.GraceTimeout <= 0 {
		o.GraceTimeout = models.Duration(DefaultGraceTimeout)
	}

	if o.StepTimeout <= 0 {
		o.StepTimeout = models.Duration(DefaultStepTimeout)
	}
}

// Loop is the publication loop driven by the controller.
type Loop interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// EventSink receives registration lifecycle events.
type EventSink interface {
	PublishRegistered(ctx context.Context, data models.AgentLifecycleEventData) error
	PublishDeregistered(ctx context.Context, data models.AgentLifecycleEventData) error
}

type Option func(*Controller)

func WithEvents(events EventSink) Option {
	return func(c *Controller) { c.events = events }
}

func WithVersion(version string) Option {
	return func(c *Controller) { c.version = version }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// Controller owns registration and the at-most-once deregistration of one agent.
type Controller struct {
	agent    *AgentContext
	client   registry.Client
	loop     Loop
	triggers *Triggers
	events   EventSink
	tracer   trace.Tracer
	opts     Options
	logger   logger.Logger
	version  string

	mu    sync.Mutex
	state State

	// regMu serializes list mutations between re-assertion and deregistration.
	regMu         sync.Mutex
	entryMayExist atomic.Bool
	loopStarted   atomic.Bool

	runCtx    context.Context
	cancelRun context.CancelFunc

	deregOnce sync.Once
	deregErr  error
}

func NewController(
	agent *AgentContext,
	client registry.Client,
	loop Loop,
	triggers *Triggers,
	opts Options,
	log logger.Logger,
	options ...Option,
) *Controller {
	opts.Normalize()

	if log == nil {
		log = logger.NewTestLogger()
	}

	c := &Controller{
		agent:    agent,
		client:   client,
		loop:     loop,
		triggers: triggers,
		opts:     opts,
		logger:   log,
		tracer:   logger.GetTracer(tracerName),
		state:    StateUnregistered,
	}

	for _, o := range options {
		o(c)
	}

	c.runCtx, c.cancelRun = context.WithCancel(context.Background())

	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) transition(next State) State {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev != next {
		c.logger.Info().
			Str("from", prev.String()).
			Str("to", next.String()).
			Str("identity", c.agent.Identity).
			Msg("Lifecycle state changed")
	}

	return prev
}

// Register connects, adds the agent to the registry list and starts the
// publication loop. It is cancelled by ctx or by any termination trigger.
func (c *Controller) Register(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.register", trace.WithAttributes(c.spanAttributes()...))
	defer span.End()

	err := c.register(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration failed")
	}

	return err
}

func (c *Controller) spanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("agent.identity", c.agent.Identity),
		attribute.String("registry.list_key", c.agent.ListKey),
	}
}

func (c *Controller) register(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnregistered {
		state := c.state
		c.mu.Unlock()

		return fmt.Errorf("%w: register called in state %s", ErrInvalidState, state)
	}
	c.mu.Unlock()

	c.transition(StateConnecting)

	go c.watchTriggers()

	ctx, cancel := c.mergeRun(ctx)
	defer cancel()

	if n, ok := c.client.(registry.StateNotifier); ok && !c.opts.DisableReassert {
		n.OnStateChange(c.onConnectionState)
	}

	if err := c.client.Connect(ctx); err != nil {
		if c.triggers.Fired() {
			return fmt.Errorf("%w: %s", ErrTriggered, c.triggers.Reason())
		}

		if !errors.Is(err, registry.ErrLoginFailed) {
			err = fmt.Errorf("%w: %w", registry.ErrLoginFailed, err)
		}

		return err
	}

	if c.triggers.Fired() {
		return fmt.Errorf("%w: %s", ErrTriggered, c.triggers.Reason())
	}

	if err := c.addEntry(ctx); err != nil {
		if c.triggers.Fired() {
			return fmt.Errorf("%w: %s", ErrTriggered, c.triggers.Reason())
		}

		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTriggered, c.triggers.Reason())
	}
	c.state = StateRegistered
	c.mu.Unlock()

	c.logger.Info().
		Str("identity", c.agent.Identity).
		Str("list_key", c.agent.ListKey).
		Str("record_key", c.agent.RecordKey).
		Msg("Agent registered")

	c.announce(StateConnecting, StateRegistered, "")

	if err := c.loop.Start(c.runCtx); err != nil {
		c.triggers.Fire(Reason{Kind: TriggerFailure, Err: fmt.Errorf("%w: %w", ErrUncaughtFailure, err)})
		return nil
	}

	c.loopStarted.Store(true)

	return nil
}

func (c *Controller) addEntry(ctx context.Context) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	stepCtx, cancel := context.WithTimeout(ctx, c.opts.StepTimeout.Std())
	defer cancel()

	// Set before the call: a timed out ListAdd may still have been applied.
	c.entryMayExist.Store(true)

	return c.client.ListAdd(stepCtx, c.agent.ListKey, c.agent.Identity)
}

// mergeRun returns a context cancelled by either ctx or the controller's run context.
func (c *Controller) mergeRun(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.runCtx, cancel)

	return merged, func() {
		stop()
		cancel()
	}
}

func (c *Controller) watchTriggers() {
	select {
	case <-c.triggers.Done():
		c.cancelRun()
	case <-c.runCtx.Done():
	}
}

// Wait blocks until a termination trigger fires and returns it.
func (c *Controller) Wait() Reason {
	<-c.triggers.Done()

	return c.triggers.Reason()
}

// Run registers, waits for a trigger and deregisters. Deregistration also
// runs when registration fails part way.
func (c *Controller) Run(ctx context.Context) (Reason, error) {
	defer func() {
		_ = c.Deregister(ctx)
	}()

	if err := c.Register(ctx); err != nil {
		return c.triggers.Reason(), err
	}

	reason := c.Wait()

	c.logger.Info().Str("reason", reason.String()).Msg("Termination triggered")

	return reason, nil
}

// Deregister stops the loop, removes the list entry and deletes the record.
// It runs at most once; later calls wait for the first and return its result.
// Step failures are logged and joined into the returned error, never retried.
func (c *Controller) Deregister(ctx context.Context) error {
	c.deregOnce.Do(func() {
		spanCtx, span := c.tracer.Start(ctx, "lifecycle.deregister", trace.WithAttributes(c.spanAttributes()...))
		defer span.End()

		c.deregErr = c.deregister(spanCtx)
		if c.deregErr != nil {
			span.RecordError(c.deregErr)
			span.SetStatus(codes.Error, "deregistration incomplete")
		}
	})

	return c.deregErr
}

func (c *Controller) deregister(ctx context.Context) error {
	prev := c.transition(StateDeregistering)
	c.cancelRun()

	base := context.WithoutCancel(ctx)

	var errs []error

	if c.loopStarted.Load() {
		graceCtx, cancel := context.WithTimeout(base, c.opts.GraceTimeout.Std())
		if err := c.loop.Stop(graceCtx); err != nil {
			c.logger.Warn().Err(err).Msg("Publication loop did not stop cleanly")
			errs = append(errs, err)
		}
		cancel()
	}

	if c.entryMayExist.Load() {
		errs = append(errs, c.removeEntry(base)...)

		if prev == StateRegistered {
			c.announce(prev, StateTerminated, c.triggers.Reason().String())
		}
	}

	if err := c.client.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close registry connection")
		errs = append(errs, err)
	}

	c.transition(StateTerminated)

	return errors.Join(errs...)
}

func (c *Controller) removeEntry(base context.Context) []error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	var errs []error

	stepCtx, cancel := context.WithTimeout(base, c.opts.StepTimeout.Std())
	err := c.client.ListRemove(stepCtx, c.agent.ListKey, c.agent.Identity)
	cancel()

	if err != nil {
		c.logger.Error().
			Err(err).
			Str("list_key", c.agent.ListKey).
			Str("identity", c.agent.Identity).
			Msg("Failed to remove agent from registry list")

		errs = append(errs, err)
	} else {
		c.logger.Info().Str("identity", c.agent.Identity).Msg("Agent removed from registry list")
	}

	stepCtx, cancel = context.WithTimeout(base, c.opts.StepTimeout.Std())
	err = c.client.RecordDelete(stepCtx, c.agent.RecordKey)
	cancel()

	if err != nil {
		c.logger.Warn().Err(err).Str("record_key", c.agent.RecordKey).Msg("Failed to delete agent record")

		errs = append(errs, err)
	}

	return errs
}

// onConnectionState re-adds the list entry when the connection reopens while
// registered, so a registry backend that lost its state lists the agent again.
func (c *Controller) onConnectionState(prev, next registry.ConnectionState) {
	if next != registry.StateOpen || prev == registry.StateOpen || c.State() != StateRegistered {
		return
	}

	go c.reassert()
}

func (c *Controller) reassert() {
	defer c.triggers.Recover()

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if c.State() != StateRegistered {
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, c.opts.StepTimeout.Std())
	defer cancel()

	if err := c.client.ListAdd(ctx, c.agent.ListKey, c.agent.Identity); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to re-assert registry list entry after reconnect")
		return
	}

	c.logger.Info().Str("identity", c.agent.Identity).Msg("Re-asserted registry list entry after reconnect")
}

func (c *Controller) announce(prev, next State, reason string) {
	if c.events == nil {
		return
	}

	data := models.AgentLifecycleEventData{
		Identity:      c.agent.Identity,
		ListKey:       c.agent.ListKey,
		RecordKey:     c.agent.RecordKey,
		PreviousState: prev.String(),
		CurrentState:  next.String(),
		Reason:        reason,
		AgentVersion:  c.version,
		Timestamp:     time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StepTimeout.Std())
	defer cancel()

	var err error
	if next == StateRegistered {
		err = c.events.PublishRegistered(ctx, data)
	} else {
		err = c.events.PublishDeregistered(ctx, data)
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("state", next.String()).Msg("Failed to publish lifecycle event")
	}
}
