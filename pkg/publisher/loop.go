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

package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/metrics"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/registry"
)

// Loop ticks at a fixed interval, collects a snapshot and hands it to a
// single writer. The writer holds at most one pending snapshot; a newer one
// replaces it, so writes never interleave and never go backwards.
type Loop struct {
	collector Collector
	sink      Sink
	key       string
	logger    logger.Logger
	metrics   *metrics.PublishMetrics
	tracer    trace.Tracer
	onPanic   func(error)

	interval     time.Duration
	writeTimeout time.Duration
	initialTick  bool

	mu      sync.Mutex
	pending *models.RuntimeSnapshot
	seq     uint64
	notify  chan struct{}

	started    atomic.Bool
	stopping   atomic.Bool
	stopOnce   sync.Once
	stopErr    error
	cancelTick context.CancelFunc
	hardCancel context.CancelFunc
	tickDone   chan struct{}
	writerDone chan struct{}

	published      atomic.Uint64
	writeFailures  atomic.Uint64
	collectFailure atomic.Uint64
	superseded     atomic.Uint64
	skipped        atomic.Uint64
	lastWritten    atomic.Uint64
}

type Option func(*Loop)

func WithMetrics(m *metrics.PublishMetrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// WithPanicHandler receives panics recovered in the loop's goroutines.
func WithPanicHandler(fn func(error)) Option {
	return func(l *Loop) { l.onPanic = fn }
}

// New creates a loop publishing to recordKey.
func New(collector Collector, sink Sink, recordKey string, cfg Config, log logger.Logger, opts ...Option) *Loop {
	cfg.Normalize()

	if log == nil {
		log = logger.NewTestLogger()
	}

	l := &Loop{
		collector:    collector,
		sink:         sink,
		key:          recordKey,
		logger:       log,
		tracer:       logger.GetTracer(tracerName),
		interval:     cfg.Interval.Std(),
		writeTimeout: cfg.WriteTimeout.Std(),
		initialTick:  !cfg.SkipInitialTick,
		notify:       make(chan struct{}, 1),
		tickDone:     make(chan struct{}),
		writerDone:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Start launches the ticker and writer goroutines. Cancelling ctx stops
// ticking; Stop must still be called to wait for the writer.
func (l *Loop) Start(ctx context.Context) error {
	if l.stopping.Load() {
		return ErrStopped
	}

	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	tickCtx, cancelTick := context.WithCancel(ctx)
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))

	l.mu.Lock()
	l.cancelTick = cancelTick
	l.hardCancel = hardCancel
	l.mu.Unlock()

	l.logger.Info().
		Str("record_key", l.key).
		Dur("interval", l.interval).
		Msg("Starting publication loop")

	go l.tickLoop(tickCtx)
	go l.writeLoop(hardCtx)

	return nil
}

// Stop ends ticking immediately and waits for an in-flight write until ctx
// expires; the write is then aborted and ErrStopTimeout returned.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.stopping.Store(true)

		if !l.started.Load() {
			return
		}

		l.mu.Lock()
		cancelTick, hardCancel := l.cancelTick, l.hardCancel
		l.mu.Unlock()

		cancelTick()

		select {
		case <-l.writerDone:
		case <-ctx.Done():
			hardCancel()

			select {
			case <-l.writerDone:
			case <-time.After(abortWait):
			}

			l.stopErr = fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
		}

		hardCancel()

		l.logger.Info().
			Uint64("published", l.published.Load()).
			Uint64("write_failures", l.writeFailures.Load()).
			Msg("Publication loop stopped")
	})

	return l.stopErr
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	seq := l.seq
	l.mu.Unlock()

	return Stats{
		Published:      l.published.Load(),
		WriteFailures:  l.writeFailures.Load(),
		CollectFailure: l.collectFailure.Load(),
		Superseded:     l.superseded.Load(),
		Skipped:        l.skipped.Load(),
		LastSequence:   seq,
		LastWritten:    l.lastWritten.Load(),
	}
}

func (l *Loop) recoverPanic(where string) {
	r := recover()
	if r == nil {
		return
	}

	err := fmt.Errorf("panic in publication %s: %v", where, r)
	l.logger.Error().Err(err).Msg("Recovered panic")

	if l.onPanic != nil {
		l.onPanic(err)
	}
}

func (l *Loop) tickLoop(ctx context.Context) {
	defer close(l.tickDone)
	defer l.recoverPanic("ticker")

	if l.initialTick {
		l.tick(ctx)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if state := l.sink.State(); state != registry.StateOpen {
		l.skipped.Add(1)
		l.metrics.TickSkipped(ctx)
		l.logger.Debug().Str("state", state.String()).Msg("Registry not open, skipping tick")

		return
	}

	collectCtx, cancel := context.WithTimeout(ctx, l.interval)
	defer cancel()

	snap, err := l.collector.Collect(collectCtx)
	if err != nil {
		l.collectFailure.Add(1)
		l.metrics.CollectFailed(ctx)
		l.logger.Warn().Err(err).Msg("Snapshot collection failed")

		return
	}

	if ctx.Err() != nil {
		return
	}

	l.offer(ctx, snap)
}

func (l *Loop) offer(ctx context.Context, snap models.RuntimeSnapshot) {
	l.mu.Lock()
	l.seq++
	snap.Sequence = l.seq

	if l.pending != nil {
		l.superseded.Add(1)
		l.metrics.Superseded(ctx)
	}

	l.pending = &snap
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Loop) take() *models.RuntimeSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.pending
	l.pending = nil

	return snap
}

func (l *Loop) writeLoop(ctx context.Context) {
	defer close(l.writerDone)
	defer l.recoverPanic("writer")

	for {
		select {
		case <-l.tickDone:
			return
		case <-l.notify:
			if l.stopping.Load() {
				return
			}

			if snap := l.take(); snap != nil {
				l.write(ctx, snap)
			}
		}
	}
}

func (l *Loop) write(ctx context.Context, snap *models.RuntimeSnapshot) {
	ctx, span := l.tracer.Start(ctx, "publisher.write", trace.WithAttributes(
		attribute.String("record_key", l.key),
		attribute.Int64("sequence", int64(snap.Sequence)),
	))
	defer span.End()

	writeCtx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()

	start := time.Now()
	err := l.sink.RecordSet(writeCtx, l.key, snap)
	took := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record write failed")

		l.writeFailures.Add(1)
		l.metrics.PublishFailed(ctx, took)
		l.logger.Warn().
			Err(err).
			Uint64("sequence", snap.Sequence).
			Dur("took", took).
			Msg("Snapshot publication failed")

		return
	}

	l.published.Add(1)
	l.lastWritten.Store(snap.Sequence)
	l.metrics.Published(ctx, took)
	l.logger.Debug().Uint64("sequence", snap.Sequence).Dur("took", took).Msg("Snapshot published")
}
