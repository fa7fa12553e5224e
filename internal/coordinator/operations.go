package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/autonomy"
	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/metrics"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// DefaultPriority is used when a submission leaves priority unset.
const DefaultPriority = 5

// SubmitPlan validates and stores a new plan and wakes the dispatcher.
func (c *Coordinator) SubmitPlan(ctx context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error) {
	const op = "coordinator.SubmitPlan"
	assets := req.Assets()
	switch {
	case strings.TrimSpace(req.VulnerabilityID) == "":
		return nil, errs.Errorf(errs.KindInvalid, op, "vulnerability_id is required")
	case len(assets) == 0:
		return nil, errs.Errorf(errs.KindInvalid, op, "at least one asset id is required")
	case strings.TrimSpace(req.PatchID) == "":
		return nil, errs.Errorf(errs.KindInvalid, op, "patch_id is required")
	}
	hint, err := model.ParseStrategy(req.StrategyHint)
	if err != nil {
		return nil, errs.E(errs.KindInvalid, op, err)
	}
	if _, err := c.deps.Store.GetPatch(ctx, req.PatchID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Errorf(errs.KindInvalid, op, "patch %s is not in the catalog", req.PatchID)
		}
		return nil, errs.E(errs.KindTransientInfra, op, err)
	}
	priority := req.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 1 || priority > 10 {
		return nil, errs.Errorf(errs.KindInvalid, op, "priority %d is outside 1..10", req.Priority)
	}

	plan := model.NewRemediationPlan(req.VulnerabilityID, assets, req.PatchID, hint, priority)
	plan.RequiresApproval = req.RequiresApproval
	plan.SubmittedBy = req.SubmittedBy
	if err := c.deps.Store.CreatePlan(ctx, plan); err != nil {
		return nil, errs.E(errs.KindTransientInfra, op, err)
	}
	metrics.RecordPlanSubmitted()

	c.record(ctx, audit.Record{
		PlanID:    plan.Key,
		Actor:     actorType(req.SubmittedBy),
		ActorID:   req.SubmittedBy,
		Category:  model.CategoryPlan,
		NewStatus: string(plan.Status),
		Message: fmt.Sprintf("plan submitted for %s on %d asset(s) with patch %s",
			plan.VulnerabilityID, len(plan.AssetIDs), plan.PatchID),
		Details: map[string]string{"priority": fmt.Sprint(plan.Priority)},
	})
	c.log.Info("Plan submitted",
		zap.String("plan_id", plan.Key),
		zap.String("vulnerability_id", plan.VulnerabilityID),
		zap.Strings("asset_ids", plan.AssetIDs))
	c.Wake()
	return plan, nil
}

// GetStatus reports where a plan is and why.
func (c *Coordinator) GetStatus(ctx context.Context, planID string) (*model.PlanStatusView, error) {
	plan, err := c.deps.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	v := &model.PlanStatusView{
		PlanID:         plan.Key,
		Status:         plan.Status,
		ApprovalStatus: plan.ApprovalStatus,
		AutonomyLevel:  plan.AutonomyLevel,
		RiskScore:      plan.RiskScore,
		Confidence:     plan.Confidence,
		Strategy:       plan.EffectiveStrategy(),
		RetryCount:     plan.RetryCount,
		Progress:       model.Progress{Phase: model.PhaseQueued},
	}

	execID := plan.ActiveExecutionID
	if execID == "" {
		execID = plan.LastExecutionID
	}
	if execID != "" {
		exec, err := c.deps.Store.GetExecution(ctx, execID)
		switch {
		case err == nil:
			v.ExecutionID = exec.Key
			v.Progress = ProgressOf(exec)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if plan.Status.IsTerminal() && v.ExecutionID == "" {
		v.Progress.Phase = model.PhaseDone
	}

	var parts []string
	if plan.Assessed() {
		if ra, err := c.deps.Store.GetAssessment(ctx, plan.RiskAssessmentID); err == nil && ra.Reasoning != plan.StatusReason {
			parts = append(parts, ra.Reasoning)
		}
	}
	if plan.StatusReason != "" {
		parts = append(parts, plan.StatusReason)
	}
	v.Reasoning = strings.Join(parts, "\n")
	return v, nil
}

// ProgressOf maps an execution's phase and stage counts to a percentage.
func ProgressOf(e *model.Execution) model.Progress {
	p := model.Progress{Phase: e.Phase, StagesTotal: e.StagesTotal, StagesCompleted: e.StagesCompleted}
	switch e.Phase {
	case model.PhaseSnapshot:
		p.Percent = 5
	case model.PhaseSandbox:
		p.Percent = 20
	case model.PhaseDeployment, model.PhaseRollback:
		p.Percent = 30
		if e.StagesTotal > 0 {
			p.Percent += 60 * e.StagesCompleted / e.StagesTotal
		}
	case model.PhaseMonitoring:
		p.Percent = 90
	case model.PhaseDone:
		p.Percent = 100
	}
	return p
}

// Approve releases a plan parked for approval. The one-time code must match;
// a non-empty strategy replaces the proposed one.
func (c *Coordinator) Approve(ctx context.Context, planID, approver, code, strategy string) (*model.RemediationPlan, error) {
	const op = "coordinator.Approve"
	if approver == "" {
		return nil, errs.Errorf(errs.KindInvalid, op, "approver is required")
	}
	st, err := model.ParseStrategy(strategy)
	if err != nil {
		return nil, errs.E(errs.KindInvalid, op, err)
	}

	c.approvalMu.Lock()
	defer c.approvalMu.Unlock()

	plan, err := c.awaiting(ctx, op, planID)
	if err != nil {
		return nil, err
	}
	if !autonomy.VerifyApprovalCode(code, plan.ApprovalCodeHash) {
		c.record(ctx, audit.Record{
			PlanID:      plan.Key,
			Actor:       model.ActorHuman,
			ActorID:     approver,
			Category:    model.CategoryApproval,
			Severity:    model.SeverityWarning,
			PriorStatus: string(plan.Status),
			NewStatus:   string(plan.Status),
			Message:     "approval refused: invalid approval code",
		})
		return nil, errs.Errorf(errs.KindUnauthorized, op, "invalid approval code for plan %s", planID)
	}

	now := c.now().UTC()
	human := model.HumanApproved
	if st != "" && st != plan.ProposedStrategy {
		plan.ApprovedStrategy = st
		human = model.HumanModified
	}
	prior := plan.Status
	plan.Status = model.PlanApproved
	plan.ApprovalStatus = model.ApprovalApproved
	plan.ApprovalCodeHash = ""
	plan.ApprovedBy = approver
	plan.ApprovedAt = &now
	plan.NextAttemptAt = nil
	plan.StatusReason = fmt.Sprintf("approved by %s", approver)
	if human == model.HumanModified {
		plan.StatusReason += fmt.Sprintf(" with strategy %s instead of %s", st, plan.ProposedStrategy)
	}
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		return nil, errs.E(errs.KindTransientInfra, op, err)
	}

	c.decide(ctx, autonomy.HumanOverride(plan.Key, approver, human,
		string(plan.EffectiveStrategy()), plan.StatusReason, c.gateDecision(ctx, plan.Key)))
	metrics.RecordApproval("approved")
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Actor:       model.ActorHuman,
		ActorID:     approver,
		Category:    model.CategoryApproval,
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
		Details:     map[string]string{"human_decision": string(human), "strategy": string(plan.EffectiveStrategy())},
	})
	c.notify(ctx, plan, "", EventApproved, model.SeverityInfo, plan.StatusReason)
	c.log.Info("Plan approved", zap.String("plan_id", plan.Key), zap.String("approver", approver))
	c.Wake()
	return plan, nil
}

// Reject cancels a plan parked for approval.
func (c *Coordinator) Reject(ctx context.Context, planID, approver, reason string) (*model.RemediationPlan, error) {
	const op = "coordinator.Reject"
	if approver == "" {
		return nil, errs.Errorf(errs.KindInvalid, op, "approver is required")
	}

	c.approvalMu.Lock()
	defer c.approvalMu.Unlock()

	plan, err := c.awaiting(ctx, op, planID)
	if err != nil {
		return nil, err
	}
	prior := plan.Status
	plan.Status = model.PlanCancelled
	plan.ApprovalStatus = model.ApprovalRejected
	plan.ApprovalCodeHash = ""
	plan.ApprovedBy = approver
	plan.StatusReason = fmt.Sprintf("rejected by %s: %s", approver, reason)
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		return nil, errs.E(errs.KindTransientInfra, op, err)
	}

	c.decide(ctx, autonomy.HumanOverride(plan.Key, approver, model.HumanRejected,
		"rejected", reason, c.gateDecision(ctx, plan.Key)))
	metrics.RecordApproval("rejected")
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Actor:       model.ActorHuman,
		ActorID:     approver,
		Category:    model.CategoryApproval,
		Severity:    model.SeverityWarning,
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
		Details:     map[string]string{"human_decision": string(model.HumanRejected)},
	})
	c.notify(ctx, plan, "", EventRejected, model.SeverityWarning, plan.StatusReason)
	return plan, nil
}

// awaiting loads a plan that must be parked for approval. An expired plan is
// cancelled on the spot. Callers hold approvalMu.
func (c *Coordinator) awaiting(ctx context.Context, op, planID string) (*model.RemediationPlan, error) {
	plan, err := c.deps.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.AwaitingApproval() {
		return nil, errs.Errorf(errs.KindConflict, op, "plan %s is not awaiting approval (status %s, approval %s)",
			planID, plan.Status, plan.ApprovalStatus)
	}
	now := c.now().UTC()
	if plan.ApprovalExpiresAt != nil && !now.Before(*plan.ApprovalExpiresAt) {
		c.expire(ctx, planID, now)
		return nil, errs.Errorf(errs.KindApprovalTimeout, op, "approval window for plan %s closed at %s",
			planID, plan.ApprovalExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return plan, nil
}

// gateDecision returns the key of the latest automated approval decision.
func (c *Coordinator) gateDecision(ctx context.Context, planID string) string {
	ds, err := c.deps.Store.ListDecisionsByPlan(ctx, planID)
	if err != nil {
		c.log.Warn("Failed to list decisions", zap.String("plan_id", planID), zap.Error(err))
		return ""
	}
	for i := len(ds) - 1; i >= 0; i-- {
		if ds[i].DecisionType == model.DecisionApproval && ds[i].HumanDecision == "" {
			return ds[i].Key
		}
	}
	return ""
}

// Cancel stops a plan. A running execution is interrupted and rolled back if
// anything was deployed; a waiting plan is cancelled directly.
func (c *Coordinator) Cancel(ctx context.Context, planID, actor, reason string) error {
	const op = "coordinator.Cancel"
	if actor == "" {
		actor = string(model.ActorSystem)
	}
	if reason == "" {
		reason = "no reason given"
	}
	current, err := c.deps.Store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return errs.Errorf(errs.KindConflict, op, "plan %s is already %s", planID, current.Status)
	}

	c.mu.Lock()
	if w, busy := c.held[planID]; busy {
		if w == nil {
			c.mu.Unlock()
			return errs.Errorf(errs.KindConflict, op, "plan %s is being updated; retry", planID)
		}
		w.requested = &cancelRequest{actor: actor, reason: reason}
		c.mu.Unlock()
		w.cancel(errs.Errorf(errs.KindCancelled, op, "cancelled by %s: %s", actor, reason))
		c.log.Info("Cancel requested for running plan", zap.String("plan_id", planID), zap.String("actor", actor))
		return nil
	}
	c.held[planID] = nil
	c.mu.Unlock()
	defer c.release(planID)

	plan, err := c.deps.Store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	switch {
	case plan.Status.IsTerminal():
		return errs.Errorf(errs.KindConflict, op, "plan %s is already %s", planID, plan.Status)
	case plan.Status == model.PlanInProgress:
		return errs.Errorf(errs.KindConflict, op, "plan %s is executing on another instance", planID)
	}

	c.approvalMu.Lock()
	defer c.approvalMu.Unlock()
	return c.cancelPlan(ctx, plan, actor, reason)
}

// ListAuditTrail returns the verified audit chain of an execution.
func (c *Coordinator) ListAuditTrail(ctx context.Context, executionID string) (*model.AuditTrail, error) {
	if _, err := c.deps.Store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return c.deps.Audit.VerifyChain(ctx, audit.ChainFor("", executionID))
}

// ListPlanAuditTrail returns the verified audit chain of a plan's own transitions.
func (c *Coordinator) ListPlanAuditTrail(ctx context.Context, planID string) (*model.AuditTrail, error) {
	if _, err := c.deps.Store.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return c.deps.Audit.VerifyChain(ctx, audit.ChainFor(planID, ""))
}
