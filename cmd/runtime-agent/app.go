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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/runtime-agent/pkg/collector"
	"github.com/carverauto/runtime-agent/pkg/config"
	"github.com/carverauto/runtime-agent/pkg/identity"
	"github.com/carverauto/runtime-agent/pkg/lifecycle"
	"github.com/carverauto/runtime-agent/pkg/logger"
	"github.com/carverauto/runtime-agent/pkg/metrics"
	"github.com/carverauto/runtime-agent/pkg/models"
	"github.com/carverauto/runtime-agent/pkg/natsutil"
	"github.com/carverauto/runtime-agent/pkg/publisher"
	"github.com/carverauto/runtime-agent/pkg/registry"
	"github.com/carverauto/runtime-agent/pkg/version"
)

// Process exit statuses.
const (
	exitOK            = 0
	exitLoginFailed   = 1
	exitNoIdentity    = 2
	exitInvalidConfig = 3
)

const telemetryShutdownTimeout = 5 * time.Second

// options carries the command line overrides.
type options struct {
	configPath  string
	registryURL string
	interval    time.Duration
	logLevel    string
}

// deps are the collaborators run builds; tests replace them.
type deps struct {
	logger       logger.Logger
	stderr       io.Writer
	triggers     *lifecycle.Triggers
	newClient    func(cfg registry.Config, log logger.Logger) registry.Client
	newCollector func(cfg collector.Config, identity string, log logger.Logger) publisher.Collector
}

func defaultDeps() deps {
	return deps{
		stderr: os.Stderr,
		newClient: func(cfg registry.Config, log logger.Logger) registry.Client {
			return registry.NewNATSClient(cfg, log)
		},
		newCollector: func(cfg collector.Config, id string, log logger.Logger) publisher.Collector {
			return collector.New(cfg, id, log)
		},
	}
}

// run is the agent's whole life: it returns the process exit status.
func run(ctx context.Context, opts options, d deps) (code int) {
	triggers := d.triggers
	if triggers == nil {
		triggers = lifecycle.NewTriggers()
	}

	stopSignals := triggers.NotifySignals()
	defer stopSignals()

	triggers.WatchContext(ctx)

	var ctrl *lifecycle.Controller

	log := d.logger
	if log == nil {
		log = lifecycle.NewWriterLogger(d.stderr, zerolog.InfoLevel)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		log.Error().
			Err(fmt.Errorf("%w: %v", lifecycle.ErrUncaughtFailure, r)).
			Msg("Recovered panic in agent main routine")

		if ctrl != nil {
			if err := ctrl.Deregister(ctx); err != nil {
				log.Warn().Err(err).Msg("Deregistration after panic was incomplete")
			}
		}

		code = exitOK
	}()

	cfg, err := loadConfig(ctx, opts, log)
	if err != nil {
		log.Error().Err(err).Str("path", opts.configPath).Msg("Invalid configuration")
		return exitInvalidConfig
	}

	// Identity comes first: nothing may reach the network, OTLP exporters
	// included, when it cannot be resolved.
	id, err := identity.NewResolver(cfg.Identity, lifecycle.ComponentLogger(log, "identity")).Resolve()
	if err != nil {
		log.Error().Err(err).Str("cgroup_path", cfg.Identity.CgroupPath).Msg("Cannot resolve agent identity")
		return exitNoIdentity
	}

	agent, err := lifecycle.NewAgentContext(id, cfg.Registry.ListKey, cfg.Registry.RecordKey(id))
	if err != nil {
		log.Error().Err(err).Msg("Cannot build agent context")
		return exitNoIdentity
	}

	if d.logger == nil {
		agentLogger, err := lifecycle.CreateComponentLogger(ctx, "runtime-agent", cfg.Logging)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize logger")
			return exitInvalidConfig
		}

		log = agentLogger
	}

	provider := startMetrics(ctx, cfg, log)
	tracerProvider := startTracing(ctx, cfg, log)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()

		if err := shutdownTelemetry(shutdownCtx, provider, tracerProvider); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	build := version.Get()

	log.Info().
		Str("version", build.Version).
		Str("build_id", build.BuildID).
		Str("go_version", build.GoVersion).
		Str("platform", build.Platform).
		Str("registry", cfg.Registry.URL).
		Dur("interval", cfg.Publisher.Interval.Std()).
		Stringer("agent", agent).
		Msg("Starting runtime agent")

	client := d.newClient(cfg.Registry, lifecycle.ComponentLogger(log, "registry"))

	publishMetrics, err := newPublishMetrics(provider, agent.Identity)
	if err != nil {
		log.Warn().Err(err).Msg("Publication metrics disabled")
	}

	loop := publisher.New(
		d.newCollector(cfg.Collector, agent.Identity, lifecycle.ComponentLogger(log, "collector")),
		client,
		agent.RecordKey,
		cfg.Publisher,
		lifecycle.ComponentLogger(log, "publisher"),
		publisher.WithMetrics(publishMetrics),
		publisher.WithPanicHandler(triggers.PanicHandler()),
	)

	ctrlOpts := []lifecycle.Option{lifecycle.WithVersion(version.GetVersion())}

	if cfg.Events.Enabled {
		if nc, ok := client.(*registry.NATSClient); ok {
			ctrlOpts = append(ctrlOpts, lifecycle.WithEvents(&lazyEvents{
				client: nc,
				cfg:    cfg.Events,
				logger: lifecycle.ComponentLogger(log, "events"),
			}))
		} else {
			log.Warn().Msg("Lifecycle events need the NATS registry backend, disabling")
		}
	}

	ctrl = lifecycle.NewController(agent, client, loop, triggers, cfg.Lifecycle,
		lifecycle.ComponentLogger(log, "lifecycle"), ctrlOpts...)

	reason, err := ctrl.Run(ctx)

	return exitCode(err, reason, cfg, log)
}

func exitCode(err error, reason lifecycle.Reason, cfg *Config, log logger.Logger) int {
	switch {
	case err == nil:
		log.Info().Str("reason", reason.String()).Msg("Runtime agent stopped")
		return exitOK
	case errors.Is(err, lifecycle.ErrTriggered):
		log.Info().Str("reason", reason.String()).Msg("Runtime agent stopped before registration")
		return exitOK
	case errors.Is(err, registry.ErrLoginFailed):
		log.Error().Err(err).Str("registry", cfg.Registry.URL).Msg("Registry login failed")
		return exitLoginFailed
	default:
		log.Error().Err(err).Str("registry", cfg.Registry.URL).Str("list_key", cfg.Registry.ListKey).
			Msg("Registry registration failed")
		return exitLoginFailed
	}
}

func loadConfig(ctx context.Context, opts options, log logger.Logger) (*Config, error) {
	cfg := &Config{}

	loader := config.NewConfig(log)
	loader.SetOptionalFile(true)

	if err := loader.LoadAndValidate(ctx, opts.configPath, cfg); err != nil {
		return nil, err
	}

	if opts.registryURL != "" {
		cfg.Registry.URL = opts.registryURL
	}

	if opts.interval > 0 {
		cfg.Publisher.Interval = models.Duration(opts.interval)
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func startMetrics(ctx context.Context, cfg *Config, log logger.Logger) *sdkmetric.MeterProvider {
	provider, err := metrics.InitializeMetrics(ctx, cfg.Metrics, version.GetVersion())
	if err != nil {
		if !errors.Is(err, metrics.ErrOTelMetricsDisabled) {
			log.Warn().Err(err).Msg("Failed to initialize OTLP metrics")
		}

		return nil
	}

	return provider
}

func startTracing(ctx context.Context, cfg *Config, log logger.Logger) *sdktrace.TracerProvider {
	tp, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version.GetVersion(),
		Logger:         log,
		OTel:           &cfg.Tracing,
	})
	if err != nil {
		if !errors.Is(err, logger.ErrOTelTracingDisabled) {
			log.Warn().Err(err).Msg("Failed to initialize OTLP tracing")
		}

		return nil
	}

	return tp
}

// newPublishMetrics keeps a nil provider from reaching the interface as a typed nil.
func newPublishMetrics(provider *sdkmetric.MeterProvider, id string) (*metrics.PublishMetrics, error) {
	if provider == nil {
		return metrics.NewPublishMetrics(nil, id)
	}

	return metrics.NewPublishMetrics(provider, id)
}

func shutdownTelemetry(ctx context.Context, provider *sdkmetric.MeterProvider, tp *sdktrace.TracerProvider) error {
	g, gctx := errgroup.WithContext(ctx)

	if provider != nil {
		g.Go(func() error {
			return provider.Shutdown(gctx)
		})
	}

	if tp != nil {
		g.Go(func() error {
			return tp.Shutdown(gctx)
		})
	}

	g.Go(func() error {
		return lifecycle.ShutdownLogger(gctx)
	})

	return g.Wait()
}

// lazyEvents opens the event publisher on first use, once the registry
// connection exists.
type lazyEvents struct {
	client *registry.NATSClient
	cfg    natsutil.EventConfig
	logger logger.Logger

	once sync.Once
	pub  *natsutil.EventPublisher
	err  error
}

func (l *lazyEvents) publisher(ctx context.Context) (*natsutil.EventPublisher, error) {
	l.once.Do(func() {
		l.pub, l.err = natsutil.NewEventPublisher(ctx, l.client.Conn(), l.cfg, l.logger)
	})

	return l.pub, l.err
}

func (l *lazyEvents) PublishRegistered(ctx context.Context, data models.AgentLifecycleEventData) error {
	pub, err := l.publisher(ctx)
	if err != nil {
		return err
	}

	return pub.PublishRegistered(ctx, data)
}

func (l *lazyEvents) PublishDeregistered(ctx context.Context, data models.AgentLifecycleEventData) error {
	pub, err := l.publisher(ctx)
	if err != nil {
		return err
	}

	return pub.PublishDeregistered(ctx, data)
}
