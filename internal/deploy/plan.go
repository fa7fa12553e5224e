// Package deploy turns a rollout strategy into ordered, health-gated stages and
// drives them against a deployment backend.
package deploy

import (
	"fmt"

	"github.com/ortelius/pdvd-remediation/model"
)

// HealthThresholds bound acceptable stage telemetry.
type HealthThresholds struct {
	MaxErrorRate      float64 `json:"max_error_rate" yaml:"max_error_rate"`
	MaxResponseTimeMs float64 `json:"max_response_time_ms" yaml:"max_response_time_ms"`
	MinSuccessRate    float64 `json:"min_success_rate" yaml:"min_success_rate"`
}

// DefaultHealthThresholds allows 5% errors, 1s responses and 95% success.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{MaxErrorRate: 0.05, MaxResponseTimeMs: 1000, MinSuccessRate: 0.95}
}

// Check returns an empty string when h is healthy, otherwise the breached bound.
func (t HealthThresholds) Check(h model.HealthMetrics) string {
	switch {
	case h.ErrorRate > t.MaxErrorRate:
		return fmt.Sprintf("error_rate %.4f exceeds %.4f", h.ErrorRate, t.MaxErrorRate)
	case t.MaxResponseTimeMs > 0 && h.ResponseTimeMs > t.MaxResponseTimeMs:
		return fmt.Sprintf("response_time %.0fms exceeds %.0fms", h.ResponseTimeMs, t.MaxResponseTimeMs)
	case h.SuccessRate < t.MinSuccessRate:
		return fmt.Sprintf("success_rate %.4f below %.4f", h.SuccessRate, t.MinSuccessRate)
	}
	return ""
}

// PlanConfig shapes strategy stage plans.
type PlanConfig struct {
	CanaryLadder   []int `json:"canary_ladder" yaml:"canary_ladder"`
	RollingBatches int   `json:"rolling_batches" yaml:"rolling_batches"`
}

// DefaultPlanConfig is a 5/25/50/100 canary ladder and three rolling batches.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{CanaryLadder: []int{5, 25, 50, 100}, RollingBatches: 3}
}

// Validate checks that the ladder strictly increases to 100.
func (c PlanConfig) Validate() error {
	if len(c.CanaryLadder) == 0 {
		return fmt.Errorf("canary ladder is empty")
	}
	prev := 0
	for _, p := range c.CanaryLadder {
		if p <= prev || p > 100 {
			return fmt.Errorf("canary ladder %v must strictly increase within (0,100]", c.CanaryLadder)
		}
		prev = p
	}
	if prev != 100 {
		return fmt.Errorf("canary ladder %v must end at 100", c.CanaryLadder)
	}
	if c.RollingBatches < 1 {
		return fmt.Errorf("rolling_batches must be at least 1")
	}
	return nil
}

// BuildStages returns the PENDING stages for strategy over assets.
func BuildStages(strategy model.Strategy, assets []string, cfg PlanConfig) ([]*model.DeploymentStage, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("no assets to deploy to")
	}
	switch strategy {
	case model.StrategyAllAtOnce:
		return []*model.DeploymentStage{model.NewDeploymentStage(1, "all-at-once", 100, assets)}, nil

	case model.StrategyRolling:
		n := cfg.RollingBatches
		if n < 1 {
			n = 1
		}
		if n > len(assets) {
			n = len(assets)
		}
		stages := make([]*model.DeploymentStage, 0, n)
		start := 0
		for i := 0; i < n; i++ {
			// spread the remainder over the first batches
			size := len(assets) / n
			if i < len(assets)%n {
				size++
			}
			end := start + size
			traffic := end * 100 / len(assets)
			stages = append(stages, model.NewDeploymentStage(i+1, fmt.Sprintf("batch-%d", i+1), traffic, assets[start:end]))
			start = end
		}
		return stages, nil

	case model.StrategyCanary:
		ladder := cfg.CanaryLadder
		if len(ladder) == 0 {
			ladder = DefaultPlanConfig().CanaryLadder
		}
		stages := make([]*model.DeploymentStage, 0, len(ladder))
		for i, pct := range ladder {
			stages = append(stages, model.NewDeploymentStage(i+1, fmt.Sprintf("canary-%d%%", pct), pct, assets))
		}
		return stages, nil

	case model.StrategyBlueGreen:
		return []*model.DeploymentStage{
			model.NewDeploymentStage(1, "deploy-idle", 0, assets),
			model.NewDeploymentStage(2, "cutover", 100, assets),
		}, nil
	}
	return nil, fmt.Errorf("unknown deployment strategy %q", strategy)
}
