package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/autonomy"
	"github.com/ortelius/pdvd-remediation/internal/deploy"
	"github.com/ortelius/pdvd-remediation/internal/rollback"
	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Config tunes scheduling, retries and timeouts.
type Config struct {
	Workers       int           `yaml:"workers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	DispatchBatch int           `yaml:"dispatch_batch"`

	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	RollbackTimeout  time.Duration `yaml:"rollback_timeout"`
	MonitorWindow    time.Duration `yaml:"monitor_window"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`

	MaxRetries         int           `yaml:"max_retries"`
	RetryInitial       time.Duration `yaml:"retry_initial"`
	RetryMax           time.Duration `yaml:"retry_max"`
	RetryMultiplier    float64       `yaml:"retry_multiplier"`
	RetryRandomization float64       `yaml:"retry_randomization"`

	SnapshotType model.SnapshotType `yaml:"snapshot_type"`
	Stages       deploy.PlanConfig  `yaml:"stages"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		PollInterval:       2 * time.Second,
		DispatchBatch:      64,
		ExecutionTimeout:   30 * time.Minute,
		RollbackTimeout:    10 * time.Minute,
		MonitorWindow:      5 * time.Minute,
		MonitorInterval:    30 * time.Second,
		MaxRetries:         3,
		RetryInitial:       30 * time.Second,
		RetryMax:           10 * time.Minute,
		RetryMultiplier:    2,
		RetryRandomization: 0.1,
		SnapshotType:       model.SnapshotVM,
		Stages:             deploy.DefaultPlanConfig(),
	}
}

// Validate rejects settings the coordinator cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return errors.New("workers must be at least 1")
	case c.PollInterval <= 0:
		return errors.New("poll_interval must be positive")
	case c.ExecutionTimeout <= 0:
		return errors.New("execution_timeout must be positive")
	case c.RollbackTimeout <= 0:
		return errors.New("rollback_timeout must be positive")
	case c.MaxRetries < 0:
		return errors.New("max_retries must not be negative")
	case c.MonitorWindow > 0 && c.MonitorInterval <= 0:
		return errors.New("monitor_interval must be positive when monitoring is enabled")
	case !c.SnapshotType.Valid():
		return fmt.Errorf("unknown snapshot_type %q", c.SnapshotType)
	}
	return c.Stages.Validate()
}

// Assessor scores a plan.
type Assessor interface {
	Assess(ctx context.Context, plan *model.RemediationPlan) (*model.RiskAssessment, error)
}

// Snapshotter captures a verified pre-change snapshot.
type Snapshotter interface {
	CreateVerified(ctx context.Context, exec *model.Execution, typ model.SnapshotType) (*model.Snapshot, error)
}

// Validator runs the sandbox gate.
type Validator interface {
	Validate(ctx context.Context, exec *model.Execution) (sandbox.Result, error)
}

// Stager runs the rollout and the post-deployment watch.
type Stager interface {
	Run(ctx context.Context, exec *model.Execution, snap *model.Snapshot, stages []*model.DeploymentStage, observe deploy.StageObserver) error
	Monitor(ctx context.Context, exec *model.Execution, window, interval time.Duration) error
}

// RollbackController undoes a deployment.
type RollbackController interface {
	Rollback(ctx context.Context, exec *model.Execution, reason string) (rollback.Result, error)
}

// Deps are the collaborators of a Coordinator. Notifier, Logger and Tracer are optional.
type Deps struct {
	Store     store.Store
	Assessor  Assessor
	Gate      *autonomy.Gate
	Snapshots Snapshotter
	Sandbox   Validator
	Stager    Stager
	Rollback  RollbackController
	Audit     *audit.Logger
	Notifier  Notifier
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("store is required")
	case d.Assessor == nil:
		return errors.New("assessor is required")
	case d.Gate == nil:
		return errors.New("gate is required")
	case d.Snapshots == nil:
		return errors.New("snapshot manager is required")
	case d.Sandbox == nil:
		return errors.New("sandbox validator is required")
	case d.Stager == nil:
		return errors.New("stager is required")
	case d.Rollback == nil:
		return errors.New("rollback controller is required")
	case d.Audit == nil:
		return errors.New("audit logger is required")
	}
	return nil
}
