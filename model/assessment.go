package model

import (
	"time"

	"github.com/google/uuid"
)

// RiskFactors holds the eight risk-oriented factor scores. A nil factor is missing.
type RiskFactors struct {
	Severity            *float64 `json:"severity"`
	Exploitability      *float64 `json:"exploitability"`
	AssetCriticality    *float64 `json:"asset_criticality"`
	PatchMaturity       *float64 `json:"patch_maturity"`
	DependencyRisk      *float64 `json:"dependency_risk"`
	RollbackFeasibility *float64 `json:"rollback_feasibility"`
	ComplianceImpact    *float64 `json:"compliance_impact"`
	TimingSensitivity   *float64 `json:"timing_sensitivity"`
}

// RiskWeights are the coefficients of the weighted risk sum.
type RiskWeights struct {
	Severity            float64 `json:"severity" yaml:"severity"`
	Exploitability      float64 `json:"exploitability" yaml:"exploitability"`
	AssetCriticality    float64 `json:"asset_criticality" yaml:"asset_criticality"`
	PatchMaturity       float64 `json:"patch_maturity" yaml:"patch_maturity"`
	DependencyRisk      float64 `json:"dependency_risk" yaml:"dependency_risk"`
	RollbackFeasibility float64 `json:"rollback_feasibility" yaml:"rollback_feasibility"`
	ComplianceImpact    float64 `json:"compliance_impact" yaml:"compliance_impact"`
	TimingSensitivity   float64 `json:"timing_sensitivity" yaml:"timing_sensitivity"`
}

// FactorCount is the number of factors in a RiskFactors value.
const FactorCount = 8

// Pairs returns each factor with its weight in a fixed order.
func (f RiskFactors) Pairs(w RiskWeights) []FactorWeight {
	return []FactorWeight{
		{Name: "severity", Score: f.Severity, Weight: w.Severity},
		{Name: "exploitability", Score: f.Exploitability, Weight: w.Exploitability},
		{Name: "asset_criticality", Score: f.AssetCriticality, Weight: w.AssetCriticality},
		{Name: "patch_maturity", Score: f.PatchMaturity, Weight: w.PatchMaturity},
		{Name: "dependency_risk", Score: f.DependencyRisk, Weight: w.DependencyRisk},
		{Name: "rollback_feasibility", Score: f.RollbackFeasibility, Weight: w.RollbackFeasibility},
		{Name: "compliance_impact", Score: f.ComplianceImpact, Weight: w.ComplianceImpact},
		{Name: "timing_sensitivity", Score: f.TimingSensitivity, Weight: w.TimingSensitivity},
	}
}

// FactorWeight pairs a factor score with its weight.
type FactorWeight struct {
	Name   string
	Score  *float64
	Weight float64
}

// Sum returns the total of all weights.
func (w RiskWeights) Sum() float64 {
	return w.Severity + w.Exploitability + w.AssetCriticality + w.PatchMaturity +
		w.DependencyRisk + w.RollbackFeasibility + w.ComplianceImpact + w.TimingSensitivity
}

// RiskAssessment is an immutable scoring record for a vulnerability and asset set.
type RiskAssessment struct {
	Key              string        `json:"_key"`
	PlanID           string        `json:"plan_id"`
	VulnerabilityID  string        `json:"vulnerability_id"`
	AssetIDs         []string      `json:"asset_ids"`
	Factors          RiskFactors   `json:"factors"`
	Weights          RiskWeights   `json:"weights"`
	TotalRiskScore   float64       `json:"total_risk_score"`
	Confidence       float64       `json:"confidence"`
	AutonomyLevel    AutonomyLevel `json:"autonomy_level"`
	ProposedStrategy Strategy      `json:"proposed_strategy"`
	Reasoning        string        `json:"reasoning"`
	ModelName        string        `json:"model_name"`
	ModelVersion     string        `json:"model_version"`
	DurationMs       int64         `json:"duration_ms"`
	ObjType          string        `json:"objtype"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewRiskAssessment creates an assessment record for plan.
func NewRiskAssessment(plan *RemediationPlan) *RiskAssessment {
	return &RiskAssessment{
		Key:             uuid.NewString(),
		PlanID:          plan.Key,
		VulnerabilityID: plan.VulnerabilityID,
		AssetIDs:        append([]string(nil), plan.AssetIDs...),
		ObjType:         "RiskAssessment",
		CreatedAt:       time.Now().UTC(),
	}
}

// Score returns a pointer to v for building RiskFactors literals.
func Score(v float64) *float64 {
	return &v
}
