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
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/runtime-agent/pkg/identity"
)

func waitFired(t *testing.T, tr *Triggers) {
	t.Helper()

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not fire")
	}
}

func TestTriggersFirstWins(t *testing.T) {
	t.Parallel()

	tr := NewTriggers()
	assert.False(t, tr.Fired())

	tr.Fire(Reason{Kind: TriggerSignal, Signal: os.Interrupt})
	waitFired(t, tr)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for range 10 {
			tr.Fire(Reason{Kind: TriggerFailure, Err: errBoom})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Fire blocked after the first trigger")
	}

	assert.True(t, tr.Fired())
	assert.Equal(t, TriggerSignal, tr.Reason().Kind)
	assert.Equal(t, "signal interrupt", tr.Reason().String())
}

func TestTriggersPanicHandler(t *testing.T) {
	t.Parallel()

	tr := NewTriggers()
	tr.PanicHandler()(errors.New("publication writer exploded"))
	waitFired(t, tr)

	reason := tr.Reason()
	assert.Equal(t, TriggerPanic, reason.Kind)
	require.ErrorIs(t, reason.Err, ErrUncaughtFailure)
	assert.Contains(t, reason.String(), "publication writer exploded")
}

func TestTriggersWatchContext(t *testing.T) {
	t.Parallel()

	tr := NewTriggers()
	ctx, cancel := context.WithCancel(context.Background())

	tr.WatchContext(ctx)
	assert.False(t, tr.Fired())

	cancel()
	waitFired(t, tr)

	assert.Equal(t, TriggerShutdown, tr.Reason().Kind)
	require.ErrorIs(t, tr.Reason().Err, context.Canceled)
}

func TestNewAgentContext(t *testing.T) {
	t.Parallel()

	id := strings.Repeat("a", 64)

	agent, err := NewAgentContext(id, "containerList", "containerList/"+id)
	require.NoError(t, err)
	assert.Equal(t, id, agent.Identity)
	assert.Equal(t, "containerList/"+id, agent.RecordKey)
	assert.Equal(t, id+" (list=containerList record=containerList/"+id+")", agent.String())

	_, err = NewAgentContext("web-7f9c", "containerList", "web-7f9c")
	require.ErrorIs(t, err, identity.ErrInvalidIdentity)

	_, err = NewAgentContext(id, "", id)
	require.ErrorIs(t, err, errEmptyListKey)

	_, err = NewAgentContext(id, "containerList", "")
	require.ErrorIs(t, err, errEmptyRecordKey)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "UNREGISTERED", StateUnregistered.String())
	assert.Equal(t, "DEREGISTERING", StateDeregistering.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
