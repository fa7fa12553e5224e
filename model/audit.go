package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry is one append-only, hash-chained record. Entries of one chain are
// ordered by Sequence; Timestamp is informational.
type AuditLogEntry struct {
	Key         string            `json:"_key"`
	ChainID     string            `json:"chain_id"`
	Sequence    int64             `json:"sequence"`
	PlanID      string            `json:"plan_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	ActorType   ActorType         `json:"actor_type"`
	ActorID     string            `json:"actor_id"`
	Category    EventCategory     `json:"category"`
	Severity    Severity          `json:"severity"`
	PriorStatus string            `json:"prior_status,omitempty"`
	NewStatus   string            `json:"new_status,omitempty"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	PrevHash    string            `json:"prev_hash"`
	EntryHash   string            `json:"entry_hash"`
	ObjType     string            `json:"objtype"`
}

// AutonomousDecision records one automated choice and any human correction of it.
type AutonomousDecision struct {
	Key           string                 `json:"_key"`
	PlanID        string                 `json:"plan_id"`
	ExecutionID   string                 `json:"execution_id,omitempty"`
	DecisionType  DecisionType           `json:"decision_type"`
	ModelName     string                 `json:"model_name"`
	ModelVersion  string                 `json:"model_version"`
	Input         map[string]interface{} `json:"input,omitempty"`
	Outcome       string                 `json:"outcome"`
	Confidence    float64                `json:"confidence"`
	Reasoning     string                 `json:"reasoning,omitempty"`
	HumanDecision HumanDecision          `json:"human_decision,omitempty"`
	DecidedBy     string                 `json:"decided_by"`
	Supersedes    string                 `json:"supersedes,omitempty"`
	ObjType       string                 `json:"objtype"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewAutonomousDecision creates a decision record decided by the engine itself.
func NewAutonomousDecision(planID, executionID string, typ DecisionType, outcome string) *AutonomousDecision {
	return &AutonomousDecision{
		Key:          uuid.NewString(),
		PlanID:       planID,
		ExecutionID:  executionID,
		DecisionType: typ,
		Outcome:      outcome,
		DecidedBy:    string(ActorSystem),
		ObjType:      "AutonomousDecision",
		CreatedAt:    time.Now().UTC(),
	}
}

// MetricsBucket is the hourly rollup of completed executions.
type MetricsBucket struct {
	Key                string         `json:"_key"` // 2006-01-02T15
	Date               string         `json:"date"`
	Hour               int            `json:"hour"`
	Volume             int            `json:"volume"`
	SuccessCount       int            `json:"success_count"`
	FailureCount       int            `json:"failure_count"`
	RolledBackCount    int            `json:"rolled_back_count"`
	TimeoutCount       int            `json:"timeout_count"`
	CancelledCount     int            `json:"cancelled_count"`
	RollbacksPerformed int            `json:"rollbacks_performed"`
	SuccessRate        float64        `json:"success_rate"`
	ByAutonomyLevel    map[string]int `json:"by_autonomy_level"`
	P50TotalMs         int64          `json:"p50_total_ms"`
	P90TotalMs         int64          `json:"p90_total_ms"`
	P99TotalMs         int64          `json:"p99_total_ms"`
	AvgRiskAnalysisMs  int64          `json:"avg_risk_analysis_ms"`
	AvgSandboxMs       int64          `json:"avg_sandbox_ms"`
	AvgDeploymentMs    int64          `json:"avg_deployment_ms"`
	AvgMonitoringMs    int64          `json:"avg_monitoring_ms"`
	HumanOverrideCount int            `json:"human_override_count"`
	ComputedAt         time.Time      `json:"computed_at"`
	ObjType            string         `json:"objtype"`
}

// BucketKey returns the (date, hour) key for the hour containing t.
func BucketKey(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format("2006-01-02T15")
}
