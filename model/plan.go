package model

import (
	"time"

	"github.com/google/uuid"
)

// RemediationPlan is a proposed fix for one vulnerability on one or more assets.
// Identity and inputs never change after creation; only the status, approval and
// scheduling fields move.
type RemediationPlan struct {
	Key              string   `json:"_key"`
	VulnerabilityID  string   `json:"vulnerability_id"`
	AssetIDs         []string `json:"asset_ids"`
	PatchID          string   `json:"patch_id"`
	StrategyHint     Strategy `json:"strategy_hint,omitempty"`
	Priority         int      `json:"priority"`
	RequiresApproval bool     `json:"requires_approval"`
	SubmittedBy      string   `json:"submitted_by,omitempty"`

	// Written once by the risk assessor.
	RiskAssessmentID string        `json:"risk_assessment_id,omitempty"`
	RiskScore        float64       `json:"risk_score"`
	Confidence       float64       `json:"confidence"`
	AutonomyLevel    AutonomyLevel `json:"autonomy_level"`
	ProposedStrategy Strategy      `json:"proposed_strategy,omitempty"`
	RiskAnalysisMs   int64         `json:"risk_analysis_ms"`

	Status            PlanStatus     `json:"status"`
	StatusReason      string         `json:"status_reason,omitempty"`
	ApprovalStatus    ApprovalStatus `json:"approval_status,omitempty"`
	ApprovalCodeHash  string         `json:"approval_code_hash,omitempty"`
	ApprovalExpiresAt *time.Time     `json:"approval_expires_at,omitempty"`
	ApprovedBy        string         `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time     `json:"approved_at,omitempty"`
	ApprovedStrategy  Strategy       `json:"approved_strategy,omitempty"`

	ActiveExecutionID string     `json:"active_execution_id,omitempty"`
	LastExecutionID   string     `json:"last_execution_id,omitempty"`
	RetryCount        int        `json:"retry_count"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`

	ObjType   string    `json:"objtype"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRemediationPlan creates a PENDING plan with a fresh key.
func NewRemediationPlan(vulnerabilityID string, assetIDs []string, patchID string, hint Strategy, priority int) *RemediationPlan {
	now := time.Now().UTC()
	return &RemediationPlan{
		Key:             uuid.NewString(),
		VulnerabilityID: vulnerabilityID,
		AssetIDs:        append([]string(nil), assetIDs...),
		PatchID:         patchID,
		StrategyHint:    hint,
		Priority:        priority,
		Status:          PlanPending,
		ObjType:         "RemediationPlan",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// EffectiveStrategy is the human-approved strategy when one was given,
// otherwise the assessor's proposal.
func (p *RemediationPlan) EffectiveStrategy() Strategy {
	if p.ApprovedStrategy != "" {
		return p.ApprovedStrategy
	}
	return p.ProposedStrategy
}

// Assessed reports whether the risk assessor has scored the plan.
func (p *RemediationPlan) Assessed() bool {
	return p.RiskAssessmentID != ""
}

// AwaitingApproval reports whether the plan is parked waiting for a human.
func (p *RemediationPlan) AwaitingApproval() bool {
	return p.Status == PlanPending && p.ApprovalStatus == ApprovalAwaiting
}

// Clone returns a deep copy of the plan.
func (p *RemediationPlan) Clone() *RemediationPlan {
	c := *p
	c.AssetIDs = append([]string(nil), p.AssetIDs...)
	c.ApprovalExpiresAt = cloneTime(p.ApprovalExpiresAt)
	c.ApprovedAt = cloneTime(p.ApprovedAt)
	c.NextAttemptAt = cloneTime(p.NextAttemptAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
