// package main provides the entry point for the pdvd-remediation microservice:
// it wires the remediation coordinator to its store, backends, Kafka topics and
// the REST/GraphQL API, and runs the background sweepers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/database"
	"github.com/ortelius/pdvd-remediation/events/modules/remediation"
	"github.com/ortelius/pdvd-remediation/internal/api"
	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/autonomy"
	"github.com/ortelius/pdvd-remediation/internal/config"
	"github.com/ortelius/pdvd-remediation/internal/coordinator"
	"github.com/ortelius/pdvd-remediation/internal/deploy"
	"github.com/ortelius/pdvd-remediation/internal/kafka"
	"github.com/ortelius/pdvd-remediation/internal/metrics"
	"github.com/ortelius/pdvd-remediation/internal/risk"
	"github.com/ortelius/pdvd-remediation/internal/rollback"
	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/services"
	"github.com/ortelius/pdvd-remediation/internal/snapshot"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/internal/store/arango"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
)

// backends are the external collaborators of one process.
type backends struct {
	signals   risk.SignalProvider
	snapshots snapshot.Backend
	sandbox   sandbox.Backend
	deployer  deploy.Deployer
}

func newBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	if cfg.SimulateBackends {
		logger.Warn("Using simulated sandbox, deployment and snapshot backends")
		signals := services.NewStaticSignals()
		if cfg.SignalsFile != "" {
			var err error
			if signals, err = services.LoadStaticSignals(cfg.SignalsFile); err != nil {
				return nil, err
			}
		}
		return &backends{
			signals:   signals,
			snapshots: &services.SimulatedSnapshots{},
			sandbox:   services.NewSimulatedSandbox(),
			deployer:  &services.SimulatedDeployer{},
		}, nil
	}

	client := func(url string) *services.Client {
		return services.NewClient(url, cfg.BackendToken, cfg.BackendTimeout, logger)
	}
	return &backends{
		signals:   &services.HTTPSignals{Intel: client(cfg.IntelURL), Inventory: client(cfg.InventoryURL)},
		snapshots: &services.HTTPSnapshots{Client: client(cfg.SnapshotURL)},
		sandbox:   &services.HTTPSandbox{Client: client(cfg.SandboxURL)},
		deployer:  &services.HTTPDeployer{Client: client(cfg.DeployURL)},
	}, nil
}

func newStore(cfg *config.Config, logger *zap.Logger) store.Store {
	if cfg.InMemoryStore {
		logger.Warn("Using the in-memory store; state is lost on restart")
		return store.NewMemory()
	}
	return arango.New(database.InitializeDatabase())
}

// initTracing installs a stdout span exporter when requested. The returned
// function flushes it.
func initTracing(exporter string, logger *zap.Logger) func(context.Context) {
	if exporter != "stdout" {
		return func(context.Context) {}
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		return func(context.Context) {}
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
}

// sweepSnapshots expires snapshots past their retention every interval.
func sweepSnapshots(ctx context.Context, m *snapshot.Manager, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := m.Sweep(ctx)
		if err != nil {
			logger.Error("Snapshot sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("Expired snapshots", zap.Int("count", n))
		}
	}
}

func jwtSecret(cfg *config.Config, logger *zap.Logger) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	secret, err := auth.GenerateSecureToken(32)
	if err != nil {
		logger.Fatal("Failed to generate JWT secret", zap.Error(err))
	}
	logger.Warn("JWT_SECRET is not set; generated an ephemeral secret, tokens will not survive a restart")
	return secret
}

func main() {
	logger := database.InitLogger()
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	policy, err := config.LoadPolicy(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to load remediation policy", zap.Error(err))
	}
	gatePolicy, err := policy.GatePolicy()
	if err != nil {
		logger.Fatal("Invalid autonomy policy", zap.Error(err))
	}
	auth.SetJWTSecret(jwtSecret(cfg, logger))
	flushTraces := initTracing(cfg.TraceExporter, logger)

	st := newStore(cfg, logger)
	be, err := newBackends(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up backends", zap.Error(err))
	}

	auditLog := audit.NewLogger(st, logger)
	var notifier coordinator.Notifier
	var producer *remediation.Producer
	if cfg.KafkaEnabled {
		producer = remediation.NewProducer(kafka.NewWriter(cfg, logger), cfg.RequestTopic, cfg.EventTopic, cfg.AnchorTopic, logger)
		auditLog.SetAnchor(producer)
		notifier = producer
	}

	snaps := snapshot.NewManager(snapshot.Config{Retention: policy.Snapshot.Retention}, be.snapshots, st, logger)
	coord, err := coordinator.New(policy.Coordinator, coordinator.Deps{
		Store:     st,
		Assessor:  risk.NewAssessor(policy.RiskConfig(), risk.NewDeriver(be.signals, st), st, logger),
		Gate:      autonomy.NewGate(gatePolicy),
		Snapshots: snaps,
		Sandbox:   sandbox.NewValidator(be.sandbox, policy.Sandbox.PassRate, logger),
		Stager:    deploy.NewStager(be.deployer, st, policy.Health, logger),
		Rollback:  rollback.NewController(snaps, logger),
		Audit:     auditLog,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create coordinator", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord.Start(ctx)
	go metrics.NewAggregator(st, logger).Run(ctx, cfg.MetricsInterval)
	go sweepSnapshots(ctx, snaps, cfg.SweepInterval, logger)

	if cfg.KafkaEnabled {
		if err := kafka.RunEventProcessor(ctx, cfg, coord, logger); err != nil {
			logger.Error("Kafka event processor not started", zap.Error(err))
		}
	}

	app, err := api.NewFiberApp(coord, st, api.Options{AccessLog: true}, logger)
	if err != nil {
		logger.Fatal("Failed to create API", zap.Error(err))
	}

	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("Server stopped", zap.Error(err))
		}
		stop()
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	coord.Wait()

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("Failed to close Kafka producer", zap.Error(err))
		}
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushTraces(flushCtx)
}
