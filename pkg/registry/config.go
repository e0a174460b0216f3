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
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/carverauto/runtime-agent/pkg/models"
)

const (
	DefaultURL     = "nats://127.0.0.1:4222"
	DefaultBucket  = "agent-registry"
	DefaultListKey = "containerList"

	defaultClientName           = "runtime-agent"
	defaultConnectTimeout       = 5 * time.Second
	defaultReconnectIncrement   = 500 * time.Millisecond
	defaultMaxReconnectInterval = 10 * time.Second
	defaultPingInterval         = 10 * time.Second
	defaultMaxPingsOutstanding  = 2
	defaultCASMaxAttempts       = 10

	// UnlimitedReconnects keeps the client reconnecting forever.
	UnlimitedReconnects = -1

	storageFile   = "file"
	storageMemory = "memory"
)

var (
	bucketPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	keyPattern    = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)
)

// Config describes the registry connection and layout.
type Config struct {
	URL                  string                 `json:"url"`
	Bucket               string                 `json:"bucket"`
	Domain               string                 `json:"domain,omitempty"`
	ListKey              string                 `json:"list_key"`
	NamespaceRecords     bool                   `json:"namespace_records"`
	Storage              string                 `json:"storage"`
	Replicas             int                    `json:"replicas"`
	ClientName           string                 `json:"client_name"`
	ConnectTimeout       models.Duration        `json:"connect_timeout"`
	ReconnectIncrement   models.Duration        `json:"reconnect_increment"`
	MaxReconnectInterval models.Duration        `json:"max_reconnect_interval"`
	MaxReconnects        *int                   `json:"max_reconnects,omitempty"`
	HeartbeatInterval    models.Duration        `json:"heartbeat_interval"`
	MaxPingsOutstanding  int                    `json:"max_pings_outstanding"`
	CASMaxAttempts       int                    `json:"cas_max_attempts"`
	User                 string                 `json:"user,omitempty"`
	Password             string                 `json:"password,omitempty"`
	Token                string                 `json:"token,omitempty"`
	CredsFile            string                 `json:"creds_file,omitempty"`
	NkeySeedFile         string                 `json:"nkey_seed_file,omitempty"`
	Security             *models.SecurityConfig `json:"security,omitempty"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.URL == "" {
		c.URL = DefaultURL
	}

	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}

	if c.ListKey == "" {
		c.ListKey = DefaultListKey
	}

	if c.Storage == "" {
		c.Storage = storageFile
	}

	if c.Replicas == 0 {
		c.Replicas = 1
	}

	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = models.Duration(defaultConnectTimeout)
	}

	if c.ReconnectIncrement <= 0 {
		c.ReconnectIncrement = models.Duration(defaultReconnectIncrement)
	}

	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = models.Duration(defaultMaxReconnectInterval)
	}

	if c.MaxReconnectInterval < c.ReconnectIncrement {
		c.MaxReconnectInterval = c.ReconnectIncrement
	}

	if c.MaxReconnects == nil {
		unlimited := UnlimitedReconnects
		c.MaxReconnects = &unlimited
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = models.Duration(defaultPingInterval)
	}

	if c.MaxPingsOutstanding <= 0 {
		c.MaxPingsOutstanding = defaultMaxPingsOutstanding
	}

	if c.CASMaxAttempts <= 0 {
		c.CASMaxAttempts = defaultCASMaxAttempts
	}
}

// Validate checks a normalized configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errURLRequired
	}

	for _, raw := range strings.Split(c.URL, ",") {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid registry url %q: %w", raw, err)
		}

		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return fmt.Errorf("%w: %q", errInvalidURLScheme, raw)
		}
	}

	if !bucketPattern.MatchString(c.Bucket) {
		return fmt.Errorf("%w: %q", errInvalidBucket, c.Bucket)
	}

	if !ValidKey(c.ListKey) {
		return fmt.Errorf("%w: %q", errInvalidListKey, c.ListKey)
	}

	if c.Storage != storageFile && c.Storage != storageMemory {
		return fmt.Errorf("%w: %q", errInvalidStorage, c.Storage)
	}

	if c.Replicas < 1 || c.Replicas > 5 {
		return errInvalidReplicas
	}

	creds := 0

	if c.User != "" {
		creds++
	}

	if c.Token != "" {
		creds++
	}

	if c.CredsFile != "" {
		creds++
	}

	if c.NkeySeedFile != "" {
		creds++
	}

	if creds > 1 {
		return errCredsConflict
	}

	if c.Security != nil {
		switch c.Security.Mode {
		case "", models.SecurityModeNone, models.SecurityModeTLS, models.SecurityModeMTLS:
		default:
			return fmt.Errorf("%w: %q", errInvalidSecurity, c.Security.Mode)
		}
	}

	return nil
}

// RecordKey returns the key of the per-agent record.
func (c *Config) RecordKey(identity string) string {
	if c.NamespaceRecords {
		return c.ListKey + "/" + identity
	}

	return identity
}

// ValidKey reports whether key is usable as a registry key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key) && !strings.HasPrefix(key, ".") && !strings.HasSuffix(key, ".")
}

// reconnectDelay grows linearly by increment per attempt and is capped at maxInterval.
func reconnectDelay(attempts int, increment, maxInterval time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	if increment <= 0 || attempts > int(maxInterval/increment) {
		return maxInterval
	}

	return time.Duration(attempts) * increment
}
