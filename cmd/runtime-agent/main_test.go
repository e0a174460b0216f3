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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/runtime-agent/pkg/collector"
	"github.com/carverauto/runtime-agent/pkg/lifecycle"
	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/publisher"
	"github.com/carverauto/runtime-agent/pkg/registry"
)

var errBoom = errors.New("boom")

type stubCollector struct {
	identity string
}

func (s stubCollector) Collect(context.Context) (models.RuntimeSnapshot, error) {
	return models.RuntimeSnapshot{
		Timestamp: time.Now().UTC(),
		Identity:  s.identity,
		Processes: &models.ProcessSummary{
			All:     1,
			Running: 1,
			List:    []models.ProcessInfo{{PID: 1, Name: "runtime-agent", State: "running"}},
		},
	}, nil
}

func writeCgroup(t *testing.T, dir, id string) string {
	t.Helper()

	path := filepath.Join(dir, "cgroup")
	body := fmt.Sprintf("12:memory:/docker/%s\n0::/docker/%s\n", id, id)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func writeConfig(t *testing.T, dir string, doc map[string]any) string {
	t.Helper()

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(dir, "agent.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	return path
}

func baseConfig(cgroupPath, url string) map[string]any {
	return map[string]any{
		"identity": map[string]any{
			"cgroup_path":       cgroupPath,
			"disable_mountinfo": true,
		},
		"registry": map[string]any{
			"url":                    url,
			"bucket":                 "agents",
			"storage":                "memory",
			"connect_timeout":        "2s",
			"reconnect_increment":    "50ms",
			"max_reconnect_interval": "200ms",
		},
		"publisher": map[string]any{"interval": "100ms"},
		"lifecycle": map[string]any{"grace_timeout": "1s", "step_timeout": "500ms"},
	}
}

// memoryDeps wires run to an in-memory registry and counts client constructions.
func memoryDeps(m *registry.MemoryClient, built *atomic.Int32) deps {
	return deps{
		logger:   logger.NewTestLogger(),
		triggers: lifecycle.NewTriggers(),
		newClient: func(registry.Config, logger.Logger) registry.Client {
			built.Add(1)
			return m
		},
		newCollector: func(_ collector.Config, id string, _ logger.Logger) publisher.Collector {
			return stubCollector{identity: id}
		},
	}
}

func TestRunMissingCgroupExitsBeforeRegistry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, baseConfig(filepath.Join(dir, "missing"), "nats://127.0.0.1:4222"))

	m := registry.NewMemoryClient()

	var built atomic.Int32

	code := run(context.Background(), options{configPath: cfgPath}, memoryDeps(m, &built))

	assert.Equal(t, exitNoIdentity, code)
	assert.Zero(t, built.Load())
	assert.Zero(t, m.TotalCalls())
}

func TestRunMissingCgroupStartsNoTelemetry(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var accepted atomic.Int32

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			accepted.Add(1)
			_ = conn.Close()
		}
	}()

	dir := t.TempDir()
	otel := map[string]any{"enabled": true, "endpoint": ln.Addr().String(), "insecure": true}

	doc := baseConfig(filepath.Join(dir, "missing"), "nats://127.0.0.1:4222")
	doc["logging"] = map[string]any{"level": "info", "output": "stderr", "otel": otel}
	doc["metrics"] = map[string]any{"export_interval": "10ms", "otel": otel}
	doc["tracing"] = otel

	cfgPath := writeConfig(t, dir, doc)

	m := registry.NewMemoryClient()

	var built atomic.Int32

	var stderr bytes.Buffer

	d := memoryDeps(m, &built)
	d.logger = nil
	d.stderr = &stderr

	code := run(context.Background(), options{configPath: cfgPath}, d)

	require.NoError(t, ln.Close())

	assert.Equal(t, exitNoIdentity, code)
	assert.Zero(t, built.Load())
	assert.Zero(t, accepted.Load(), "no exporter may dial out without an identity")
	assert.Contains(t, stderr.String(), "Cannot resolve agent identity")
	assert.NotContains(t, stderr.String(), "Starting runtime agent")
}

func TestRunLoginFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	id := strings.Repeat("b", 64)
	cfgPath := writeConfig(t, dir, baseConfig(writeCgroup(t, dir, id), "nats://127.0.0.1:4222"))

	m := registry.NewMemoryClient()
	m.FailNext(registry.OpConnect, errBoom)

	var built atomic.Int32

	code := run(context.Background(), options{configPath: cfgPath}, memoryDeps(m, &built))

	assert.Equal(t, exitLoginFailed, code)
	assert.Zero(t, m.Calls(registry.OpListAdd))
	assert.Zero(t, m.Calls(registry.OpListRemove))
	assert.Zero(t, m.Calls(registry.OpRecordSet))
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(doc map[string]any)
	}{
		{
			name: "unparseable interval",
			mutate: func(doc map[string]any) {
				doc["publisher"] = map[string]any{"interval": "soon"}
			},
		},
		{
			name: "unsupported registry scheme",
			mutate: func(doc map[string]any) {
				doc["registry"].(map[string]any)["url"] = "http://registry:6020"
			},
		},
		{
			name: "grace shorter than step",
			mutate: func(doc map[string]any) {
				doc["lifecycle"] = map[string]any{"grace_timeout": "100ms", "step_timeout": "1s"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			doc := baseConfig(writeCgroup(t, dir, strings.Repeat("c", 64)), "nats://127.0.0.1:4222")
			tt.mutate(doc)

			m := registry.NewMemoryClient()

			var built atomic.Int32

			code := run(context.Background(), options{configPath: writeConfig(t, dir, doc)}, memoryDeps(m, &built))

			assert.Equal(t, exitInvalidConfig, code)
			assert.Zero(t, m.TotalCalls())
		})
	}
}

func TestRunFlagOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, baseConfig(writeCgroup(t, dir, strings.Repeat("d", 64)), "nats://127.0.0.1:4222"))

	cfg, err := loadConfig(context.Background(), options{
		configPath:  cfgPath,
		registryURL: "nats://registry-host:4222",
		interval:    2 * time.Second,
		logLevel:    "debug",
	}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, "nats://registry-host:4222", cfg.Registry.URL)
	assert.Equal(t, 2*time.Second, cfg.Publisher.Interval.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, registry.DefaultListKey, cfg.Registry.ListKey)
}

func TestRunMissingConfigFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig(context.Background(), options{
		configPath: filepath.Join(t.TempDir(), "absent.json"),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, registry.DefaultURL, cfg.Registry.URL)
	assert.Equal(t, publisher.DefaultInterval, cfg.Publisher.Interval.Std())
	assert.Equal(t, lifecycle.DefaultGraceTimeout, cfg.Lifecycle.GraceTimeout.Std())
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Normalize()

	log := logger.NewTestLogger()

	assert.Equal(t, exitOK, exitCode(nil, lifecycle.Reason{Kind: lifecycle.TriggerSignal}, cfg, log))
	assert.Equal(t, exitOK, exitCode(fmt.Errorf("%w: signal", lifecycle.ErrTriggered), lifecycle.Reason{}, cfg, log))
	assert.Equal(t, exitLoginFailed, exitCode(fmt.Errorf("%w: refused", registry.ErrLoginFailed), lifecycle.Reason{}, cfg, log))
	assert.Equal(t, exitLoginFailed, exitCode(fmt.Errorf("%w: cas", lifecycle.ErrRegistrationFailed), lifecycle.Reason{}, cfg, log))
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	srv := runJetStreamServer(t)
	id := strings.Repeat("a", 64)
	dir := t.TempDir()

	doc := baseConfig(writeCgroup(t, dir, id), srv.ClientURL())
	doc["events"] = map[string]any{"enabled": true}
	cfgPath := writeConfig(t, dir, doc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	observer := registry.NewNATSClient(registry.Config{
		URL:     srv.ClientURL(),
		Bucket:  "agents",
		Storage: "memory",
	}, logger.NewTestLogger())
	require.NoError(t, observer.Connect(ctx))
	t.Cleanup(func() { _ = observer.Close() })

	events, err := observer.Conn().SubscribeSync("events.runtimeagent.>")
	require.NoError(t, err)
	require.NoError(t, observer.Conn().Flush())

	d := defaultDeps()
	d.logger = logger.NewTestLogger()
	d.triggers = lifecycle.NewTriggers()
	d.newCollector = func(_ collector.Config, identity string, _ logger.Logger) publisher.Collector {
		return stubCollector{identity: identity}
	}

	exit := make(chan int, 1)

	go func() {
		exit <- run(ctx, options{configPath: cfgPath}, d)
	}()

	require.Eventually(t, func() bool {
		entries, err := observer.ListEntries(ctx, registry.DefaultListKey)
		return err == nil && len(entries) == 1 && entries[0] == id
	}, 10*time.Second, 20*time.Millisecond, "agent never registered")

	var record struct {
		Identity  string          `json:"identity"`
		Processes json.RawMessage `json:"processes"`
	}

	require.Eventually(t, func() bool {
		raw, found, err := observer.Get(ctx, id)
		if err != nil || !found {
			return false
		}

		return json.Unmarshal(raw, &record) == nil
	}, 10*time.Second, 20*time.Millisecond, "agent record never published")

	assert.Equal(t, id, record.Identity)
	assert.NotEqual(t, "null", string(record.Processes))
	assert.NotEmpty(t, record.Processes)

	d.triggers.Fire(lifecycle.Reason{Kind: lifecycle.TriggerSignal, Signal: os.Interrupt})

	select {
	case code := <-exit:
		assert.Equal(t, exitOK, code)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not exit after interrupt")
	}

	entries, err := observer.ListEntries(ctx, registry.DefaultListKey)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, found, err := observer.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	var subjects []string

	for range 2 {
		msg, err := events.NextMsg(2 * time.Second)
		require.NoError(t, err)

		subjects = append(subjects, msg.Subject)
	}

	assert.Equal(t, []string{"events.runtimeagent.registered", "events.runtimeagent.terminated"}, subjects)
}
