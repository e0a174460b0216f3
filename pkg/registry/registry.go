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

//go:generate mockgen -destination=mock_registry.go -package=registry github.com/carverauto/runtime-agent/pkg/registry Client

// Package registry is the shared, externally visible agent registry: a list of
// live agents plus one keyed record per agent.
package registry

import "context"

// ConnectionState is the observable state of the registry connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Client is the capability set the agent needs from a registry backend.
type Client interface {
	// Connect blocks until the connection is OPEN or fails with ErrLoginFailed.
	Connect(ctx context.Context) error
	// ListAdd adds entry to the list at listKey, creating the list when absent.
	// Adding an entry that is already present is a no-op.
	ListAdd(ctx context.Context, listKey, entry string) error
	// ListRemove removes entry from the list at listKey. Removing an absent
	// entry is a no-op.
	ListRemove(ctx context.Context, listKey, entry string) error
	// RecordSet replaces the whole value stored at key with value encoded as JSON.
	RecordSet(ctx context.Context, key string, value any) error
	// RecordDelete removes the record at key. Deleting an absent record is not an error.
	RecordDelete(ctx context.Context, key string) error
	State() ConnectionState
	Close() error
}

// StateNotifier is implemented by clients that report connection state transitions.
type StateNotifier interface {
	OnStateChange(fn func(prev, next ConnectionState))
}
