// Package model - API types for plan submission, status and audit responses
package model

// SubmitPlanRequest is the body of a plan submission.
type SubmitPlanRequest struct {
	VulnerabilityID  string   `json:"vulnerability_id"`
	AssetID          string   `json:"asset_id,omitempty"`
	AssetIDs         []string `json:"asset_ids,omitempty"`
	PatchID          string   `json:"patch_id"`
	StrategyHint     string   `json:"strategy_hint,omitempty"`
	Priority         int      `json:"priority,omitempty"`
	RequiresApproval bool     `json:"requires_approval,omitempty"`
	SubmittedBy      string   `json:"submitted_by,omitempty"`
}

// Assets merges AssetID and AssetIDs, dropping blanks and duplicates.
func (r SubmitPlanRequest) Assets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append([]string{r.AssetID}, r.AssetIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ApproveRequest is the body of an approval. Strategy optionally overrides the proposal.
type ApproveRequest struct {
	ApprovalCode string `json:"approval_code"`
	Strategy     string `json:"strategy,omitempty"`
}

// ReasonRequest is the body of a rejection or cancellation.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// Progress describes how far an execution has advanced.
type Progress struct {
	Phase           string `json:"phase"`
	StagesTotal     int    `json:"stages_total"`
	StagesCompleted int    `json:"stages_completed"`
	Percent         int    `json:"percent"`
}

// PlanStatusView is the user-facing status of a plan.
type PlanStatusView struct {
	PlanID         string         `json:"plan_id"`
	Status         PlanStatus     `json:"status"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	Progress       Progress       `json:"progress"`
	Reasoning      string         `json:"reasoning"`
	AutonomyLevel  AutonomyLevel  `json:"autonomy_level"`
	RiskScore      float64        `json:"risk_score"`
	Confidence     float64        `json:"confidence"`
	Strategy       Strategy       `json:"strategy,omitempty"`
	RetryCount     int            `json:"retry_count"`
}

// AuditTrail is an ordered chain of entries and the result of verifying it.
type AuditTrail struct {
	ChainID        string           `json:"chain_id"`
	Entries        []*AuditLogEntry `json:"entries"`
	TamperDetected bool             `json:"tamper_detected"`
	BrokenAt       int64            `json:"broken_at,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}
