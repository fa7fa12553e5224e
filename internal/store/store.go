// Package store defines the persistence contracts of the remediation engine.
// Each component depends on the narrow interface it needs; Store combines them.
package store

import (
	"context"
	"time"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/model"
)

// Shared lookup errors. Implementations wrap these so errors.Is works.
var (
	ErrNotFound = errs.ErrNotFound
	ErrConflict = errs.ErrConflict
)

// PlanFilter narrows ListPlans.
type PlanFilter struct {
	Status model.PlanStatus
	Limit  int
}

// PlanStore persists remediation plans.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *model.RemediationPlan) error
	GetPlan(ctx context.Context, id string) (*model.RemediationPlan, error)
	UpdatePlan(ctx context.Context, plan *model.RemediationPlan) error
	ListPlans(ctx context.Context, filter PlanFilter) ([]*model.RemediationPlan, error)

	// ListDispatchable returns plans a worker can advance: PENDING plans not parked
	// for approval, and APPROVED plans without an active execution, whose
	// next_attempt_at has passed. Ordered by priority desc, then created_at asc.
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]*model.RemediationPlan, error)

	// ListExpiredApprovals returns plans still awaiting approval past their expiry.
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]*model.RemediationPlan, error)

	// ClaimPlan atomically records executionID as the plan's active execution.
	// It fails with ErrConflict when another execution is already active.
	ClaimPlan(ctx context.Context, planID, executionID string) error
}

// ExecutionStore persists executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	UpdateExecution(ctx context.Context, exec *model.Execution) error
	ListExecutionsByPlan(ctx context.Context, planID string) ([]*model.Execution, error)
	ListCompletedExecutions(ctx context.Context, from, to time.Time) ([]*model.Execution, error)

	// CompleteExecution moves exec into its terminal status and applies the patch
	// counter delta in one atomic step. It is a no-op returning false when the
	// stored execution is already terminal, and fails with ErrNotFound without
	// moving the execution when its patch is not in the catalog.
	CompleteExecution(ctx context.Context, exec *model.Execution) (bool, error)
}

// AssessmentStore persists risk assessments.
type AssessmentStore interface {
	CreateAssessment(ctx context.Context, a *model.RiskAssessment) error
	GetAssessment(ctx context.Context, id string) (*model.RiskAssessment, error)
}

// DecisionStore persists autonomous decisions.
type DecisionStore interface {
	CreateDecision(ctx context.Context, d *model.AutonomousDecision) error
	ListDecisionsByPlan(ctx context.Context, planID string) ([]*model.AutonomousDecision, error)
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	UpdateSnapshot(ctx context.Context, s *model.Snapshot) error
	ListSnapshotsByExecution(ctx context.Context, executionID string) ([]*model.Snapshot, error)
	ListExpiredSnapshots(ctx context.Context, now time.Time) ([]*model.Snapshot, error)
}

// StageStore persists deployment stages.
type StageStore interface {
	CreateStage(ctx context.Context, s *model.DeploymentStage) error
	UpdateStage(ctx context.Context, s *model.DeploymentStage) error
	ListStagesByExecution(ctx context.Context, executionID string) ([]*model.DeploymentStage, error)
}

// AuditStore is append-only; entries are never updated or deleted.
type AuditStore interface {
	// AppendAuditEntry fails with ErrConflict when the chain already holds the sequence.
	AppendAuditEntry(ctx context.Context, e *model.AuditLogEntry) error
	// LastAuditEntry returns nil, nil for an empty chain.
	LastAuditEntry(ctx context.Context, chainID string) (*model.AuditLogEntry, error)
	ListAuditEntries(ctx context.Context, chainID string) ([]*model.AuditLogEntry, error)
}

// PatchStore persists the patch catalog.
type PatchStore interface {
	UpsertPatch(ctx context.Context, p *model.Patch) error
	GetPatch(ctx context.Context, id string) (*model.Patch, error)
	ListPatches(ctx context.Context) ([]*model.Patch, error)
}

// MetricsStore persists hourly rollups and job watermarks.
type MetricsStore interface {
	UpsertMetricsBucket(ctx context.Context, b *model.MetricsBucket) error
	ListMetricsBuckets(ctx context.Context, from, to time.Time) ([]*model.MetricsBucket, error)
	GetLastRun(ctx context.Context, job string) (time.Time, error)
	SaveLastRun(ctx context.Context, job string, t time.Time) error
}

// Store is the full persistence surface.
type Store interface {
	PlanStore
	ExecutionStore
	AssessmentStore
	DecisionStore
	SnapshotStore
	StageStore
	AuditStore
	PatchStore
	MetricsStore
}
