package remediation

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/model"
)

// PlanSubmitter accepts new plans.
type PlanSubmitter interface {
	SubmitPlan(ctx context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error)
}

// HandlePlanRequested decodes a PlanRequestedEvent and submits its plan.
func HandlePlanRequested(ctx context.Context, msg []byte, svc PlanSubmitter, logger *zap.Logger) (*model.RemediationPlan, error) {
	var event PlanRequestedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PlanRequestedEvent: %w", err)
	}
	if event.EventType != "" && event.EventType != EventPlanRequested {
		return nil, fmt.Errorf("unexpected event type %q", event.EventType)
	}

	if event.Request.SubmittedBy == "" {
		event.Request.SubmittedBy = "kafka"
	}
	plan, err := svc.SubmitPlan(ctx, event.Request)
	if err != nil {
		return nil, fmt.Errorf("submit plan from event %s: %w", event.EventID, err)
	}

	logger.Info("Plan submitted from event",
		zap.String("event_id", event.EventID),
		zap.String("plan_id", plan.Key),
		zap.String("vulnerability_id", plan.VulnerabilityID))
	return plan, nil
}
