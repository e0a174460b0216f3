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
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/natsutil"
)

// NATSClient keeps the registry in a NATS JetStream key-value bucket. The
// list is a JSON string array mutated with revision compare-and-set.
type NATSClient struct {
	cfg    Config
	logger logger.Logger

	state   atomic.Int32
	closing atomic.Bool

	mu sync.RWMutex
	nc *nats.Conn
	kv jetstream.KeyValue

	handlerMu sync.RWMutex
	handler   func(prev, next ConnectionState)

	connectFn  func(url string, opts ...nats.Option) (*nats.Conn, error)
	newBackOff func() backoff.BackOff
}

// NewNATSClient creates a client; no network activity happens until Connect.
func NewNATSClient(cfg Config, log logger.Logger) *NATSClient {
	cfg.Normalize()

	if log == nil {
		log = logger.NewTestLogger()
	}

	c := &NATSClient{
		cfg:       cfg,
		logger:    log,
		connectFn: nats.Connect,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = time.Second

			return b
		},
	}
	c.state.Store(int32(StateDisconnected))

	return c
}

// OnStateChange registers the callback invoked on every state transition.
func (c *NATSClient) OnStateChange(fn func(prev, next ConnectionState)) {
	c.handlerMu.Lock()
	c.handler = fn
	c.handlerMu.Unlock()
}

func (c *NATSClient) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *NATSClient) setState(next ConnectionState) {
	prev := ConnectionState(c.state.Swap(int32(next)))
	if prev == next {
		return
	}

	c.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("Registry connection state changed")

	c.handlerMu.RLock()
	fn := c.handler
	c.handlerMu.RUnlock()

	if fn != nil {
		fn(prev, next)
	}
}

// Connect dials the server and opens (creating if needed) the bucket.
func (c *NATSClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoginFailed, c.cfg.URL, err)
	}

	c.setState(StateConnecting)

	opts, err := c.options()
	if err != nil {
		c.setState(StateFailed)

		return fmt.Errorf("%w: %s: %w", ErrLoginFailed, c.cfg.URL, err)
	}

	nc, err := c.connectFn(c.cfg.URL, opts...)
	if err != nil {
		c.setState(StateFailed)

		return fmt.Errorf("%w: %s: %w", ErrLoginFailed, c.cfg.URL, err)
	}

	kv, err := c.openBucket(ctx, nc)
	if err != nil {
		nc.Close()
		c.setState(StateFailed)

		return fmt.Errorf("%w: %s bucket %s: %w", ErrLoginFailed, c.cfg.URL, c.cfg.Bucket, err)
	}

	c.mu.Lock()
	c.nc = nc
	c.kv = kv
	c.mu.Unlock()

	c.logger.Info().
		Str("url", nc.ConnectedUrlRedacted()).
		Str("bucket", c.cfg.Bucket).
		Msg("Connected to registry")

	c.setState(StateOpen)

	return nil
}

func (c *NATSClient) options() ([]nats.Option, error) {
	increment := c.cfg.ReconnectIncrement.Std()
	maxInterval := c.cfg.MaxReconnectInterval.Std()

	opts := []nats.Option{
		nats.Name(c.cfg.ClientName),
		nats.Timeout(c.cfg.ConnectTimeout.Std()),
		nats.MaxReconnects(*c.cfg.MaxReconnects),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return reconnectDelay(attempts, increment, maxInterval)
		}),
		nats.PingInterval(c.cfg.HeartbeatInterval.Std()),
		nats.MaxPingsOutstanding(c.cfg.MaxPingsOutstanding),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closing.Load() {
				return
			}

			c.logger.Warn().Err(err).Msg("Registry connection lost")
			c.setState(StateDisconnected)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("Registry connection re-established")
			c.setState(StateOpen)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if c.closing.Load() {
				c.setState(StateDisconnected)
				return
			}

			c.logger.Error().Msg("Registry connection closed, reconnect attempts exhausted")
			c.setState(StateFailed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Warn().Err(err).Msg("Registry connection error")
		}),
	}

	switch {
	case c.cfg.CredsFile != "":
		if err := checkCredsFile(c.cfg.CredsFile, time.Now()); err != nil {
			return nil, err
		}

		opts = append(opts, nats.UserCredentials(c.cfg.CredsFile))
	case c.cfg.NkeySeedFile != "":
		opt, err := nkeyOption(c.cfg.NkeySeedFile)
		if err != nil {
			return nil, err
		}

		opts = append(opts, opt)
	case c.cfg.Token != "":
		opts = append(opts, nats.Token(c.cfg.Token))
	case c.cfg.User != "":
		opts = append(opts, nats.UserInfo(c.cfg.User, c.cfg.Password))
	}

	if c.cfg.Security != nil && c.cfg.Security.Mode != "" && c.cfg.Security.Mode != models.SecurityModeNone {
		tlsConf, err := natsutil.TLSConfig(c.cfg.Security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	return opts, nil
}

func (c *NATSClient) openBucket(ctx context.Context, nc *nats.Conn) (jetstream.KeyValue, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if c.cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, c.cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, c.cfg.Bucket)
	if err == nil {
		return kv, nil
	}

	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to open KV bucket: %w", err)
	}

	storage := jetstream.FileStorage
	if c.cfg.Storage == storageMemory {
		storage = jetstream.MemoryStorage
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      c.cfg.Bucket,
		Description: "runtime agent registry",
		History:     1,
		Storage:     storage,
		Replicas:    c.cfg.Replicas,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		// another agent created it first
		return js.KeyValue(ctx, c.cfg.Bucket)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	return kv, nil
}

func (c *NATSClient) bucket() (jetstream.KeyValue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.kv == nil {
		return nil, ErrNotConnected
	}

	return c.kv, nil
}

// Conn exposes the underlying connection, nil before Connect.
func (c *NATSClient) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.nc
}

func (c *NATSClient) ListAdd(ctx context.Context, listKey, entry string) error {
	return c.mutateList(ctx, listKey, func(list []string) ([]string, bool) {
		if slices.Contains(list, entry) {
			return list, false
		}

		return append(list, entry), true
	})
}

func (c *NATSClient) ListRemove(ctx context.Context, listKey, entry string) error {
	return c.mutateList(ctx, listKey, func(list []string) ([]string, bool) {
		idx := slices.Index(list, entry)
		if idx < 0 {
			return list, false
		}

		return slices.Delete(list, idx, idx+1), true
	})
}

// ListEntries returns the current members of the list at listKey.
func (c *NATSClient) ListEntries(ctx context.Context, listKey string) ([]string, error) {
	kv, err := c.bucket()
	if err != nil {
		return nil, err
	}

	list, _, err := readList(ctx, kv, listKey)

	return list, err
}

func (c *NATSClient) mutateList(ctx context.Context, listKey string, mutate func([]string) ([]string, bool)) error {
	kv, err := c.bucket()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListUpdateFailed, err)
	}

	attempt := 0

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++

		list, revision, err := readList(ctx, kv, listKey)
		if err != nil {
			if errors.Is(err, ErrCorruptList) {
				return struct{}{}, backoff.Permanent(err)
			}

			return struct{}{}, err
		}

		next, changed := mutate(list)
		if !changed {
			return struct{}{}, nil
		}

		if next == nil {
			next = []string{}
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		if revision == 0 {
			_, err = kv.Create(ctx, listKey, payload)
		} else {
			_, err = kv.Update(ctx, listKey, payload, revision)
		}

		if err != nil && isRevisionConflict(err) {
			c.logger.Debug().Str("key", listKey).Int("attempt", attempt).Msg("List revision conflict, retrying")
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.CASMaxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrListUpdateFailed, listKey, attempt, err)
	}

	return nil
}

func readList(ctx context.Context, kv jetstream.KeyValue, listKey string) ([]string, uint64, error) {
	entry, err := kv.Get(ctx, listKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}

	if err != nil {
		return nil, 0, fmt.Errorf("failed to get key %s: %w", listKey, err)
	}

	var list []string
	if len(entry.Value()) > 0 {
		if err := json.Unmarshal(entry.Value(), &list); err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %w", ErrCorruptList, listKey, err)
		}
	}

	return list, entry.Revision(), nil
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (c *NATSClient) RecordSet(ctx context.Context, key string, value any) error {
	kv, err := c.bucket()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrWriteFailed, key, err)
	}

	if _, err := kv.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("%w: failed to put key %s: %w", ErrWriteFailed, key, err)
	}

	return nil
}

func (c *NATSClient) RecordDelete(ctx context.Context, key string) error {
	kv, err := c.bucket()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}

	if err := kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("%w: failed to delete key %s: %w", ErrDeleteFailed, key, err)
	}

	return nil
}

// Get returns the raw value stored at key.
func (c *NATSClient) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	kv, err := c.bucket()
	if err != nil {
		return nil, false, err
	}

	entry, err := kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return entry.Value(), true, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *NATSClient) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.kv = nil
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}

	c.setState(StateDisconnected)

	return nil
}

var (
	_ Client        = (*NATSClient)(nil)
	_ StateNotifier = (*NATSClient)(nil)
)
