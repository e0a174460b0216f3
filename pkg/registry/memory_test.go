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

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected")

func TestMemoryClientListSemantics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryClient()
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.ListRemove(ctx, "containerList", "missing"))
	require.NoError(t, m.ListAdd(ctx, "containerList", "a"))
	require.NoError(t, m.ListAdd(ctx, "containerList", "a"))
	require.NoError(t, m.ListAdd(ctx, "containerList", "b"))
	assert.Equal(t, []string{"a", "b"}, m.List("containerList"))

	require.NoError(t, m.ListRemove(ctx, "containerList", "a"))
	require.NoError(t, m.ListRemove(ctx, "containerList", "a"))
	assert.Equal(t, []string{"b"}, m.List("containerList"))

	assert.Equal(t, 3, m.Calls(OpListAdd))
	assert.Equal(t, 3, m.Calls(OpListRemove))
}

func TestMemoryClientRejectsCallsBeforeConnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryClient()

	require.ErrorIs(t, m.ListAdd(ctx, "containerList", "a"), ErrNotConnected)
	require.ErrorIs(t, m.RecordSet(ctx, "a", map[string]int{"n": 1}), ErrNotConnected)
	assert.Empty(t, m.List("containerList"))

	_, ok := m.Record("a")
	assert.False(t, ok)

	// Rejected calls are still counted.
	assert.Equal(t, 1, m.Calls(OpListAdd))
	assert.Equal(t, 1, m.Calls(OpRecordSet))
}

func TestMemoryClientRecordSetHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryClient()
	require.NoError(t, m.Connect(ctx))

	var keys []string

	m.SetRecordSetHook(func(_ context.Context, key string) error {
		keys = append(keys, key)
		if len(keys) == 1 {
			return errInjected
		}

		return nil
	})

	err := m.RecordSet(ctx, "a", map[string]int{"n": 1})
	require.ErrorIs(t, err, ErrWriteFailed)
	require.ErrorIs(t, err, errInjected)

	_, ok := m.Record("a")
	assert.False(t, ok)

	require.NoError(t, m.RecordSet(ctx, "a", map[string]int{"n": 2}))

	raw, ok := m.Record("a")
	require.True(t, ok)
	assert.JSONEq(t, `{"n":2}`, string(raw))
	assert.Equal(t, []string{"a", "a"}, keys)
}

func TestMemoryClientRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryClient()
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.RecordSet(ctx, "k", map[string]int{"seq": 1}))
	require.NoError(t, m.RecordSet(ctx, "k", map[string]int{"seq": 2}))

	raw, ok := m.Record("k")
	require.True(t, ok)

	var got map[string]int
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 2, got["seq"])

	require.NoError(t, m.RecordDelete(ctx, "k"))
	require.NoError(t, m.RecordDelete(ctx, "k"))

	_, ok = m.Record("k")
	assert.False(t, ok)
}

func TestMemoryClientFailNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryClient()

	m.FailNext(OpConnect, errInjected)

	err := m.Connect(ctx)
	require.ErrorIs(t, err, ErrLoginFailed)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, StateFailed, m.State())

	require.NoError(t, m.Connect(ctx))

	m.FailNext(OpRecordSet, errInjected)
	require.ErrorIs(t, m.RecordSet(ctx, "k", 1), ErrWriteFailed)
	require.NoError(t, m.RecordSet(ctx, "k", 2))

	m.FailNext(OpRecordDelete, errInjected)
	require.ErrorIs(t, m.RecordDelete(ctx, "k"), ErrDeleteFailed)
}

func TestMemoryClientStateNotifications(t *testing.T) {
	t.Parallel()

	m := NewMemoryClient()

	var transitions []string

	m.OnStateChange(func(prev, next ConnectionState) {
		transitions = append(transitions, prev.String()+"->"+next.String())
	})

	require.NoError(t, m.Connect(context.Background()))
	m.SetState(StateDisconnected)
	m.SetState(StateOpen)
	require.NoError(t, m.Close())

	assert.Equal(t, []string{
		"DISCONNECTED->OPEN",
		"OPEN->DISCONNECTED",
		"DISCONNECTED->OPEN",
		"OPEN->DISCONNECTED",
	}, transitions)
}
