package model

import (
	"time"

	"github.com/google/uuid"
)

// HealthMetrics is the telemetry reported for a stage or monitoring probe.
type HealthMetrics struct {
	ErrorRate      float64 `json:"error_rate"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	SuccessRate    float64 `json:"success_rate"`
}

// DeploymentStage is one ordered step of an execution's rollout.
type DeploymentStage struct {
	Key                string         `json:"_key"`
	ExecutionID        string         `json:"execution_id"`
	StageNumber        int            `json:"stage_number"`
	Name               string         `json:"name"`
	TrafficPercentage  int            `json:"traffic_percentage"`
	AssetIDs           []string       `json:"asset_ids"`
	Health             *HealthMetrics `json:"health,omitempty"`
	ProceedToNextStage bool           `json:"proceed_to_next_stage"`
	AbortReason        string         `json:"abort_reason,omitempty"`
	Status             StageStatus    `json:"status"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	ObjType            string         `json:"objtype"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewDeploymentStage creates a PENDING stage.
func NewDeploymentStage(number int, name string, traffic int, assets []string) *DeploymentStage {
	now := time.Now().UTC()
	return &DeploymentStage{
		Key:               uuid.NewString(),
		StageNumber:       number,
		Name:              name,
		TrafficPercentage: traffic,
		AssetIDs:          append([]string(nil), assets...),
		Status:            StagePending,
		ObjType:           "DeploymentStage",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a deep copy of the stage.
func (s *DeploymentStage) Clone() *DeploymentStage {
	c := *s
	c.AssetIDs = append([]string(nil), s.AssetIDs...)
	if s.Health != nil {
		h := *s.Health
		c.Health = &h
	}
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return &c
}
