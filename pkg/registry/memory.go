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
	"fmt"
	"slices"
	"sync"
)

// Op names a Client operation for call counting and fault injection.
type Op string

const (
	OpConnect      Op = "connect"
	OpListAdd      Op = "list_add"
	OpListRemove   Op = "list_remove"
	OpRecordSet    Op = "record_set"
	OpRecordDelete Op = "record_delete"
	OpClose        Op = "close"
)

// MemoryClient is a process-local registry used by tests and dry runs.
type MemoryClient struct {
	mu       sync.Mutex
	state    ConnectionState
	lists    map[string][]string
	records  map[string][]byte
	calls    map[Op]int
	failures map[Op][]error
	handler  func(prev, next ConnectionState)
	onWrite  func(ctx context.Context, key string) error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		lists:    make(map[string][]string),
		records:  make(map[string][]byte),
		calls:    make(map[Op]int),
		failures: make(map[Op][]error),
	}
}

// FailNext queues err to be returned by the next call of op.
func (m *MemoryClient) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[op] = append(m.failures[op], err)
}

// SetRecordSetHook runs fn before every RecordSet; a non-nil result fails the write.
func (m *MemoryClient) SetRecordSetHook(fn func(ctx context.Context, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onWrite = fn
}

// Calls returns how many times op was invoked.
func (m *MemoryClient) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[op]
}

// TotalCalls returns the number of invocations across all operations.
func (m *MemoryClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, n := range m.calls {
		total += n
	}

	return total
}

// List returns a copy of the list stored at key.
func (m *MemoryClient) List(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.lists[key])
}

// Record returns the raw JSON stored at key.
func (m *MemoryClient) Record(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.records[key]

	return slices.Clone(v), ok
}

// SetState forces a connection state, notifying the registered handler.
func (m *MemoryClient) SetState(next ConnectionState) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	fn := m.handler
	m.mu.Unlock()

	if fn != nil && prev != next {
		fn(prev, next)
	}
}

func (m *MemoryClient) OnStateChange(fn func(prev, next ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = fn
}

func (m *MemoryClient) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// begin counts the call and pops an injected failure; the caller holds no lock.
func (m *MemoryClient) begin(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[op]++

	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}

	return nil
}

func (m *MemoryClient) Connect(ctx context.Context) error {
	if err := m.begin(OpConnect); err != nil {
		m.SetState(StateFailed)
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	m.SetState(StateOpen)

	return nil
}

func (m *MemoryClient) ListAdd(ctx context.Context, listKey, entry string) error {
	if err := m.begin(OpListAdd); err != nil {
		return fmt.Errorf("%w: %w", ErrListUpdateFailed, err)
	}

	if err := m.ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrListUpdateFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.lists[listKey], entry) {
		m.lists[listKey] = append(m.lists[listKey], entry)
	}

	return nil
}

func (m *MemoryClient) ListRemove(ctx context.Context, listKey, entry string) error {
	if err := m.begin(OpListRemove); err != nil {
		return fmt.Errorf("%w: %w", ErrListUpdateFailed, err)
	}

	if err := m.ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrListUpdateFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.lists[listKey]
	if !ok {
		return nil
	}

	m.lists[listKey] = slices.DeleteFunc(list, func(s string) bool { return s == entry })

	return nil
}

func (m *MemoryClient) RecordSet(ctx context.Context, key string, value any) error {
	if err := m.begin(OpRecordSet); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	m.mu.Lock()
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, key); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	}

	if err := m.ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = payload

	return nil
}

func (m *MemoryClient) RecordDelete(ctx context.Context, key string) error {
	if err := m.begin(OpRecordDelete); err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}

	if err := m.ready(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)

	return nil
}

func (m *MemoryClient) Close() error {
	if err := m.begin(OpClose); err != nil {
		return err
	}

	m.SetState(StateDisconnected)

	return nil
}

func (m *MemoryClient) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.State() != StateOpen {
		return ErrNotConnected
	}

	return nil
}

var (
	_ Client        = (*MemoryClient)(nil)
	_ StateNotifier = (*MemoryClient)(nil)
)
