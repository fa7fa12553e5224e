// Package model defines the persisted entities of the remediation engine.
package model

import "fmt"

// PlanStatus is the top-level state of a RemediationPlan.
type PlanStatus string

// Plan lifecycle states.
const (
	PlanPending    PlanStatus = "PENDING"
	PlanApproved   PlanStatus = "APPROVED"
	PlanInProgress PlanStatus = "IN_PROGRESS"
	PlanSuccess    PlanStatus = "SUCCESS"
	PlanFailed     PlanStatus = "FAILED"
	PlanRolledBack PlanStatus = "ROLLED_BACK"
	PlanCancelled  PlanStatus = "CANCELLED"
)

// IsTerminal reports whether no further automatic transition occurs from s.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanSuccess, PlanFailed, PlanRolledBack, PlanCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanPending, PlanApproved, PlanInProgress, PlanSuccess, PlanFailed, PlanRolledBack, PlanCancelled:
		return true
	}
	return false
}

// ApprovalStatus tracks the human approval step of a plan.
type ApprovalStatus string

// Approval states. An empty value means the plan has not been gated yet.
const (
	ApprovalNotRequired ApprovalStatus = "NOT_REQUIRED"
	ApprovalAwaiting    ApprovalStatus = "AWAITING"
	ApprovalApproved    ApprovalStatus = "APPROVED"
	ApprovalRejected    ApprovalStatus = "REJECTED"
	ApprovalExpired     ApprovalStatus = "EXPIRED"
)

// ExecutionStatus is the state of a single attempt to carry out a plan.
type ExecutionStatus string

// Execution states.
const (
	ExecutionQueued     ExecutionStatus = "QUEUED"
	ExecutionRunning    ExecutionStatus = "RUNNING"
	ExecutionSuccess    ExecutionStatus = "SUCCESS"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionRolledBack ExecutionStatus = "ROLLED_BACK"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
	ExecutionTimeout    ExecutionStatus = "TIMEOUT"
)

// TerminalExecutionStatuses lists every status an execution cannot leave.
var TerminalExecutionStatuses = []ExecutionStatus{
	ExecutionSuccess, ExecutionFailed, ExecutionRolledBack, ExecutionCancelled, ExecutionTimeout,
}

// IsTerminal reports whether s is a final execution state.
func (s ExecutionStatus) IsTerminal() bool {
	for _, t := range TerminalExecutionStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Strategy is the rollout strategy used by the deployment stager.
type Strategy string

// Supported rollout strategies.
const (
	StrategyAllAtOnce Strategy = "all-at-once"
	StrategyRolling   Strategy = "rolling"
	StrategyCanary    Strategy = "canary"
	StrategyBlueGreen Strategy = "blue-green"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAllAtOnce, StrategyRolling, StrategyCanary, StrategyBlueGreen:
		return true
	}
	return false
}

// ParseStrategy converts free text into a Strategy. An empty string yields an empty strategy.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return "", nil
	}
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown deployment strategy %q", s)
	}
	return st, nil
}

// ActorType identifies who caused an audited event.
type ActorType string

// Actor kinds.
const (
	ActorSystem  ActorType = "system"
	ActorHuman   ActorType = "human"
	ActorAIModel ActorType = "ai-model"
)

// SnapshotType is the kind of state captured before a change.
type SnapshotType string

// Snapshot kinds.
const (
	SnapshotVM                   SnapshotType = "vm"
	SnapshotContainer            SnapshotType = "container"
	SnapshotOrchestratedWorkload SnapshotType = "orchestrated-workload"
	SnapshotDatabase             SnapshotType = "database"
	SnapshotConfig               SnapshotType = "config"
)

// Valid reports whether t is a known snapshot type.
func (t SnapshotType) Valid() bool {
	switch t {
	case SnapshotVM, SnapshotContainer, SnapshotOrchestratedWorkload, SnapshotDatabase, SnapshotConfig:
		return true
	}
	return false
}

// SnapshotStatus is the lifecycle state of a Snapshot.
type SnapshotStatus string

// Snapshot states.
const (
	SnapshotCreating  SnapshotStatus = "CREATING"
	SnapshotReady     SnapshotStatus = "READY"
	SnapshotRestoring SnapshotStatus = "RESTORING"
	SnapshotExpired   SnapshotStatus = "EXPIRED"
	SnapshotDeleted   SnapshotStatus = "DELETED"
)

// StageStatus is the state of one deployment stage.
type StageStatus string

// Stage states.
const (
	StagePending StageStatus = "PENDING"
	StageRunning StageStatus = "RUNNING"
	StageSuccess StageStatus = "SUCCESS"
	StageFailed  StageStatus = "FAILED"
	StageSkipped StageStatus = "SKIPPED"
)

// AutonomyLevel is 0 (manual only) through 5 (fully autonomous).
type AutonomyLevel int

// Autonomy bounds.
const (
	AutonomyManual AutonomyLevel = 0
	AutonomyFull   AutonomyLevel = 5
)

// Valid reports whether l is within 0..5.
func (l AutonomyLevel) Valid() bool {
	return l >= AutonomyManual && l <= AutonomyFull
}

// Severity grades audit entries and notifications.
type Severity string

// Severity levels.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// EventCategory groups audit entries by the component that produced them.
type EventCategory string

// Audit event categories.
const (
	CategoryPlan       EventCategory = "plan"
	CategoryRisk       EventCategory = "risk"
	CategoryApproval   EventCategory = "approval"
	CategoryExecution  EventCategory = "execution"
	CategorySnapshot   EventCategory = "snapshot"
	CategorySandbox    EventCategory = "sandbox"
	CategoryDeployment EventCategory = "deployment"
	CategoryMonitoring EventCategory = "monitoring"
	CategoryRollback   EventCategory = "rollback"
	CategoryRetry      EventCategory = "retry"
)

// DecisionType names the automated choice an AutonomousDecision records.
type DecisionType string

// Decision kinds.
const (
	DecisionAutonomyLevel DecisionType = "autonomy_level"
	DecisionStrategy      DecisionType = "strategy"
	DecisionApproval      DecisionType = "approval"
	DecisionRetry         DecisionType = "retry"
	DecisionEscalate      DecisionType = "escalate"
	DecisionRollback      DecisionType = "rollback"
	DecisionCancel        DecisionType = "cancel"
)

// HumanDecision is the supervised correction applied to an automated decision.
type HumanDecision string

// Human override outcomes. Empty means no human was involved.
const (
	HumanApproved HumanDecision = "APPROVED"
	HumanRejected HumanDecision = "REJECTED"
	HumanModified HumanDecision = "MODIFIED"
)
