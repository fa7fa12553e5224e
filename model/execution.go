package model

import (
	"time"

	"github.com/google/uuid"
)

// Execution phases reported through progress.
const (
	PhaseQueued     = "queued"
	PhaseSnapshot   = "snapshot"
	PhaseSandbox    = "sandbox"
	PhaseDeployment = "deployment"
	PhaseMonitoring = "monitoring"
	PhaseRollback   = "rollback"
	PhaseDone       = "done"
)

// Execution is one attempt to carry out a plan.
type Execution struct {
	Key             string          `json:"_key"`
	PlanID          string          `json:"plan_id"`
	PatchID         string          `json:"patch_id"`
	VulnerabilityID string          `json:"vulnerability_id"`
	AssetIDs        []string        `json:"asset_ids"`
	Status          ExecutionStatus `json:"status"`
	Phase           string          `json:"phase"`
	Strategy        Strategy        `json:"strategy"`
	AutonomyLevel   AutonomyLevel   `json:"autonomy_level"`
	HumanOverride   bool            `json:"human_override"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`

	SnapshotID      string `json:"snapshot_id,omitempty"`
	Deployed        bool   `json:"deployed"`
	StagesTotal     int    `json:"stages_total"`
	StagesCompleted int    `json:"stages_completed"`

	// Timing breakdown in milliseconds.
	RiskAnalysisMs int64 `json:"risk_analysis_ms"`
	SandboxMs      int64 `json:"sandbox_ms"`
	DeploymentMs   int64 `json:"deployment_ms"`
	MonitoringMs   int64 `json:"monitoring_ms"`
	TotalMs        int64 `json:"total_ms"`

	SandboxPassed    *bool   `json:"sandbox_passed,omitempty"`
	TestsRun         int     `json:"tests_run"`
	TestsPassed      int     `json:"tests_passed"`
	TestsFailed      int     `json:"tests_failed"`
	PerformanceScore float64 `json:"performance_score"`

	RollbackPerformed  bool   `json:"rollback_performed"`
	RollbackReason     string `json:"rollback_reason,omitempty"`
	RollbackDurationMs int64  `json:"rollback_duration_ms"`
	RollbackSuccess    *bool  `json:"rollback_success,omitempty"`
	Escalated          bool   `json:"escalated"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	FailedPhase  string `json:"failed_phase,omitempty"`
	Retryable    bool   `json:"retryable"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ObjType     string     `json:"objtype"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewExecution creates a QUEUED execution for plan. The key may be preassigned
// so the plan can be claimed before the record is written.
func NewExecution(key string, plan *RemediationPlan, maxRetries int) *Execution {
	if key == "" {
		key = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Execution{
		Key:             key,
		PlanID:          plan.Key,
		PatchID:         plan.PatchID,
		VulnerabilityID: plan.VulnerabilityID,
		AssetIDs:        append([]string(nil), plan.AssetIDs...),
		Status:          ExecutionQueued,
		Phase:           PhaseQueued,
		Strategy:        plan.EffectiveStrategy(),
		AutonomyLevel:   plan.AutonomyLevel,
		HumanOverride:   plan.ApprovalStatus == ApprovalApproved,
		RetryCount:      plan.RetryCount,
		MaxRetries:      maxRetries,
		RiskAnalysisMs:  plan.RiskAnalysisMs,
		ObjType:         "Execution",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	c := *e
	c.AssetIDs = append([]string(nil), e.AssetIDs...)
	c.SandboxPassed = cloneBool(e.SandboxPassed)
	c.RollbackSuccess = cloneBool(e.RollbackSuccess)
	c.StartedAt = cloneTime(e.StartedAt)
	c.CompletedAt = cloneTime(e.CompletedAt)
	return &c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// PatchDelta is the counter change a terminal execution applies to its patch.
type PatchDelta struct {
	Installations int64
	Success       int64
	Failure       int64
	Rollback      int64
}

// IsZero reports whether the delta changes nothing.
func (d PatchDelta) IsZero() bool {
	return d == PatchDelta{}
}

// DeltaFor returns the patch counter change for an execution entering a terminal status.
// Cancelled executions never count as an installation.
func DeltaFor(e *Execution) PatchDelta {
	rolledBack := e.RollbackPerformed && e.RollbackSuccess != nil && *e.RollbackSuccess
	switch e.Status {
	case ExecutionSuccess:
		return PatchDelta{Installations: 1, Success: 1}
	case ExecutionFailed:
		d := PatchDelta{Installations: 1, Failure: 1}
		if rolledBack {
			d.Rollback = 1
		}
		return d
	case ExecutionRolledBack:
		return PatchDelta{Installations: 1, Rollback: 1}
	case ExecutionTimeout:
		d := PatchDelta{Installations: 1, Failure: 1}
		if rolledBack {
			d.Rollback = 1
		}
		return d
	}
	return PatchDelta{}
}
