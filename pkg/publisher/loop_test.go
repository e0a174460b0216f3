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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/registry"
)

const (
	testInterval = 10 * time.Millisecond
	recordKey    = "abc"
)

var errBoom = errors.New("boom")

type collectorFunc func(ctx context.Context) (models.RuntimeSnapshot, error)

func (f collectorFunc) Collect(ctx context.Context) (models.RuntimeSnapshot, error) { return f(ctx) }

func staticCollector(calls *atomic.Int32) Collector {
	return collectorFunc(func(context.Context) (models.RuntimeSnapshot, error) {
		if calls != nil {
			calls.Add(1)
		}

		return models.RuntimeSnapshot{
			Identity:  recordKey,
			Timestamp: time.Now().UTC(),
			Processes: &models.ProcessSummary{All: 1},
		}, nil
	})
}

// recordingSink captures the sequence of every write and the peak write concurrency.
type recordingSink struct {
	state    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	block    func(ctx context.Context) error

	mu      sync.Mutex
	written []uint64
}

func newRecordingSink() *recordingSink {
	s := &recordingSink{}
	s.state.Store(int32(registry.StateOpen))

	return s
}

func (s *recordingSink) State() registry.ConnectionState {
	return registry.ConnectionState(s.state.Load())
}

func (s *recordingSink) RecordSet(ctx context.Context, _ string, value any) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if s.block != nil {
		if err := s.block(ctx); err != nil {
			return err
		}
	}

	snap, ok := value.(*models.RuntimeSnapshot)
	if !ok {
		return errBoom
	}

	s.mu.Lock()
	s.written = append(s.written, snap.Sequence)
	s.mu.Unlock()

	return nil
}

func (s *recordingSink) sequences() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint64(nil), s.written...)
}

func newTestLoop(t *testing.T, c Collector, sink Sink, cfg Config, opts ...Option) *Loop {
	t.Helper()

	l := New(c, sink, recordKey, cfg, logger.NewTestLogger(), opts...)
	l.interval = testInterval

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = l.Stop(ctx)
	})

	return l
}

func decodeRecord(t *testing.T, m *registry.MemoryClient) models.RuntimeSnapshot {
	t.Helper()

	raw, ok := m.Record(recordKey)
	require.True(t, ok, "record not written")

	var snap models.RuntimeSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	return snap
}

func TestConfigNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "default", in: 0, want: DefaultInterval},
		{name: "below minimum", in: 5 * time.Millisecond, want: MinInterval},
		{name: "above maximum", in: 2 * time.Hour, want: MaxInterval},
		{name: "within range", in: 2500 * time.Millisecond, want: 2500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Config{Interval: models.Duration(tt.in)}
			cfg.Normalize()

			assert.Equal(t, tt.want, cfg.Interval.Std())
			assert.Equal(t, defaultWriteTimeout, cfg.WriteTimeout.Std())
		})
	}
}

func TestLoopPublishesToRecordKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m := registry.NewMemoryClient()
	require.NoError(t, m.Connect(ctx))

	l := newTestLoop(t, staticCollector(nil), m, Config{})
	require.NoError(t, l.Start(ctx))

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop(ctx))

	snap := decodeRecord(t, m)
	assert.Equal(t, recordKey, snap.Identity)
	assert.NotNil(t, snap.Processes)
	assert.Equal(t, l.Stats().LastWritten, snap.Sequence)

	writes := m.Calls(registry.OpRecordSet)

	time.Sleep(5 * testInterval)
	assert.Equal(t, writes, m.Calls(registry.OpRecordSet), "writes continued after Stop")
}

func TestLoopWriteFailureThenSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m := registry.NewMemoryClient()
	require.NoError(t, m.Connect(ctx))
	m.FailNext(registry.OpRecordSet, errBoom)

	l := newTestLoop(t, staticCollector(nil), m, Config{})
	require.NoError(t, l.Start(ctx))

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop(ctx))

	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.WriteFailures)

	snap := decodeRecord(t, m)
	assert.Greater(t, snap.Sequence, uint64(1), "failed write must not be the stored record")
	assert.Equal(t, stats.LastWritten, snap.Sequence)
}

func TestLoopResumesAfterBackendRejectsWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m := registry.NewMemoryClient()
	require.NoError(t, m.Connect(ctx))

	var down atomic.Bool

	down.Store(true)

	var rejected atomic.Int32

	m.SetRecordSetHook(func(_ context.Context, key string) error {
		if key != recordKey {
			return fmt.Errorf("unexpected record key %q", key)
		}

		if down.Load() {
			rejected.Add(1)
			return errBoom
		}

		return nil
	})

	l := newTestLoop(t, staticCollector(nil), m, Config{})
	require.NoError(t, l.Start(ctx))

	require.Eventually(t, func() bool {
		return rejected.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := m.Record(recordKey)
	assert.False(t, ok)
	assert.Zero(t, l.Stats().Published)

	down.Store(false)

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop(ctx))

	stats := l.Stats()
	assert.GreaterOrEqual(t, stats.WriteFailures, uint64(3))

	snap := decodeRecord(t, m)
	assert.Equal(t, stats.LastWritten, snap.Sequence)
}

func TestLoopContinuesAfterCollectFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	collector := NewMockCollector(ctrl)

	first := collector.EXPECT().Collect(gomock.Any()).Return(models.RuntimeSnapshot{}, errBoom)
	collector.EXPECT().Collect(gomock.Any()).
		Return(models.RuntimeSnapshot{Identity: recordKey}, nil).
		After(first).
		AnyTimes()

	sink := newRecordingSink()

	l := newTestLoop(t, collector, sink, Config{})
	require.NoError(t, l.Start(context.Background()))

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop(context.Background()))
	assert.Equal(t, uint64(1), l.Stats().CollectFailure)
}

func TestLoopSkipsTicksWhileNotOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := registry.NewMemoryClient()

	var collects atomic.Int32

	l := newTestLoop(t, staticCollector(&collects), m, Config{})
	require.NoError(t, l.Start(ctx))

	require.Eventually(t, func() bool {
		return l.Stats().Skipped >= 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, collects.Load())
	assert.Zero(t, m.Calls(registry.OpRecordSet))

	m.SetState(registry.StateOpen)

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 1
	}, 2*time.Second, 5*time.Millisecond, "publication did not resume after reopen")

	require.NoError(t, l.Stop(ctx))
}

func TestLoopLatestWinsWithoutInterleaving(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	var blocked atomic.Bool

	sink := newRecordingSink()
	sink.block = func(ctx context.Context) error {
		if blocked.CompareAndSwap(false, true) {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	}

	l := newTestLoop(t, staticCollector(nil), sink, Config{})
	require.NoError(t, l.Start(context.Background()))

	<-entered

	require.Eventually(t, func() bool {
		return l.Stats().Superseded >= 2
	}, 2*time.Second, 5*time.Millisecond)

	close(release)

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop(context.Background()))

	seqs := sink.sequences()
	require.NotEmpty(t, seqs)

	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "writes out of order: %v", seqs)
	}

	assert.Greater(t, seqs[1]-seqs[0], uint64(1), "superseded snapshots should have been skipped")
	assert.Equal(t, int32(1), sink.peak.Load(), "writes interleaved")
}

func TestLoopStopWaitsForInFlightWrite(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)

	var once sync.Once

	sink := newRecordingSink()
	sink.block = func(context.Context) error {
		once.Do(func() { entered <- struct{}{} })
		time.Sleep(100 * time.Millisecond)

		return nil
	}

	l := newTestLoop(t, staticCollector(nil), sink, Config{})
	require.NoError(t, l.Start(context.Background()))

	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, uint64(1), l.Stats().Published)
	assert.Len(t, sink.sequences(), 1)
}

func TestLoopStopAbortsHungWrite(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)

	var aborted atomic.Bool

	sink := newRecordingSink()
	sink.block = func(ctx context.Context) error {
		entered <- struct{}{}
		<-ctx.Done()
		aborted.Store(true)

		return ctx.Err()
	}

	l := newTestLoop(t, staticCollector(nil), sink, Config{WriteTimeout: models.Duration(time.Minute)})
	require.NoError(t, l.Start(context.Background()))

	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Stop(ctx)

	require.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Eventually(t, aborted.Load, time.Second, 5*time.Millisecond)
	assert.Zero(t, l.Stats().Published)
}

func TestLoopStartStopLifecycle(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	l := newTestLoop(t, staticCollector(nil), sink, Config{SkipInitialTick: true})

	require.NoError(t, l.Start(context.Background()))
	require.ErrorIs(t, l.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, l.Stop(context.Background()))
	require.NoError(t, l.Stop(context.Background()))
	require.ErrorIs(t, l.Start(context.Background()), ErrStopped)

	unstarted := New(staticCollector(nil), sink, recordKey, Config{}, nil)
	require.NoError(t, unstarted.Stop(context.Background()))
}

func TestLoopReportsCollectorPanic(t *testing.T) {
	t.Parallel()

	panics := make(chan error, 1)

	c := collectorFunc(func(context.Context) (models.RuntimeSnapshot, error) {
		panic("collector exploded")
	})

	l := newTestLoop(t, c, newRecordingSink(), Config{}, WithPanicHandler(func(err error) {
		panics <- err
	}))
	require.NoError(t, l.Start(context.Background()))

	select {
	case err := <-panics:
		assert.Contains(t, err.Error(), "collector exploded")
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}

	require.NoError(t, l.Stop(context.Background()))
}

func TestLoopTracesWrites(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	m := registry.NewMemoryClient()
	require.NoError(t, m.Connect(context.Background()))
	m.FailNext(registry.OpRecordSet, errBoom)

	l := newTestLoop(t, staticCollector(nil), m, Config{}, WithTracer(tp.Tracer("test")))
	require.NoError(t, l.Start(context.Background()))

	require.Eventually(t, func() bool {
		return l.Stats().Published >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop(context.Background()))

	spans := recorder.Ended()
	require.GreaterOrEqual(t, len(spans), 2)

	assert.Equal(t, "publisher.write", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Unset, spans[len(spans)-1].Status().Code)
}
