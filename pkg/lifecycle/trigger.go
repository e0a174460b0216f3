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
	"fmt"
	"os"
	"os/signal"
	"sync"
)

// TriggerKind classifies what ended the agent.
type TriggerKind string

const (
	TriggerSignal   TriggerKind = "signal"
	TriggerPanic    TriggerKind = "panic"
	TriggerFailure  TriggerKind = "failure"
	TriggerShutdown TriggerKind = "shutdown"
)

// Reason records the first termination trigger. It is reported for
// diagnostics only and never changes the exit status.
type Reason struct {
	Kind   TriggerKind
	Signal os.Signal
	Err    error
}

func (r Reason) String() string {
	switch {
	case r.Signal != nil:
		return fmt.Sprintf("%s %s", r.Kind, r.Signal)
	case r.Err != nil:
		return fmt.Sprintf("%s: %v", r.Kind, r.Err)
	default:
		return string(r.Kind)
	}
}

// Triggers funnels every termination source into one channel. The first
// trigger wins; later ones are logged by the caller and otherwise ignored.
type Triggers struct {
	ch     chan Reason
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason Reason
}

func NewTriggers() *Triggers {
	t := &Triggers{
		ch:   make(chan Reason, 1),
		done: make(chan struct{}),
	}

	go t.run()

	return t
}

func (t *Triggers) run() {
	for r := range t.ch {
		t.once.Do(func() {
			t.mu.Lock()
			t.reason = r
			t.mu.Unlock()

			close(t.done)
		})
	}
}

// Fire delivers a trigger. It never blocks once a trigger has been recorded.
func (t *Triggers) Fire(r Reason) {
	select {
	case t.ch <- r:
	case <-t.done:
	}
}

// Done is closed once the first trigger has been recorded.
func (t *Triggers) Done() <-chan struct{} {
	return t.done
}

func (t *Triggers) Fired() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Reason returns the first trigger, or the zero Reason if none fired.
func (t *Triggers) Reason() Reason {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.reason
}

// Recover is deferred at the top of agent-owned goroutines and turns a panic
// into a termination trigger.
func (t *Triggers) Recover() {
	if r := recover(); r != nil {
		t.Fire(Reason{Kind: TriggerPanic, Err: fmt.Errorf("%w: %v", ErrUncaughtFailure, r)})
	}
}

// PanicHandler adapts Fire to components that recover their own panics.
func (t *Triggers) PanicHandler() func(error) {
	return func(err error) {
		t.Fire(Reason{Kind: TriggerPanic, Err: fmt.Errorf("%w: %w", ErrUncaughtFailure, err)})
	}
}

// NotifySignals routes the termination signal set into the trigger channel.
// The returned function stops signal delivery.
func (t *Triggers) NotifySignals() func() {
	sigCh := make(chan os.Signal, len(terminationSignals))
	signal.Notify(sigCh, terminationSignals...)

	stop := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigCh:
				t.Fire(Reason{Kind: TriggerSignal, Signal: sig})
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stop)
		})
	}
}

// WatchContext fires a shutdown trigger when ctx is cancelled.
func (t *Triggers) WatchContext(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			t.Fire(Reason{Kind: TriggerShutdown, Err: context.Cause(ctx)})
		case <-t.done:
		}
	}()
}
