package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/autonomy"
	"github.com/ortelius/pdvd-remediation/internal/deploy"
	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/metrics"
	"github.com/ortelius/pdvd-remediation/internal/rollback"
	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// process advances one plan as far as it can go without waiting.
func (c *Coordinator) process(ctx context.Context, planID string) {
	ctx, span := c.deps.Tracer.Start(ctx, "coordinator.process",
		trace.WithAttributes(attribute.String("plan.id", planID)))
	defer span.End()

	plan, err := c.deps.Store.GetPlan(ctx, planID)
	if err != nil {
		c.log.Error("Failed to load plan", zap.String("plan_id", planID), zap.Error(err))
		return
	}
	if plan.Status.IsTerminal() || plan.AwaitingApproval() {
		return
	}

	if plan.Status == model.PlanPending {
		if !plan.Assessed() && !c.assess(ctx, plan) {
			return
		}
		if c.interrupted(ctx, plan) || !c.gate(ctx, plan) {
			return
		}
	}
	if plan.Status != model.PlanApproved || plan.ActiveExecutionID != "" {
		return
	}
	if c.interrupted(ctx, plan) {
		return
	}
	c.execute(ctx, plan)
}

// interrupted cancels plan when the worker context is done.
func (c *Coordinator) interrupted(ctx context.Context, plan *model.RemediationPlan) bool {
	if ctx.Err() == nil {
		return false
	}
	req := c.cancelRequested(plan.Key)
	if req == nil {
		req = &cancelRequest{actor: string(model.ActorSystem), reason: context.Cause(ctx).Error()}
	}
	c.approvalMu.Lock()
	defer c.approvalMu.Unlock()
	if err := c.cancelPlan(context.WithoutCancel(ctx), plan, req.actor, req.reason); err != nil {
		c.log.Error("Failed to cancel plan", zap.String("plan_id", plan.Key), zap.Error(err))
	}
	return true
}

func (c *Coordinator) assess(ctx context.Context, plan *model.RemediationPlan) bool {
	ctx, span := c.deps.Tracer.Start(ctx, "coordinator.assess")
	defer span.End()

	ra, err := c.deps.Assessor.Assess(ctx, plan)
	if c.interrupted(ctx, plan) {
		return false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kind := errs.KindOf(err)
		if kind == errs.KindTransientInfra && plan.RetryCount < c.cfg.MaxRetries {
			c.retryAssessment(ctx, plan, err)
			return false
		}
		c.failPlan(ctx, plan, model.CategoryRisk, kind, err)
		return false
	}

	plan.RiskAssessmentID = ra.Key
	plan.RiskScore = ra.TotalRiskScore
	plan.Confidence = ra.Confidence
	plan.AutonomyLevel = ra.AutonomyLevel
	plan.ProposedStrategy = ra.ProposedStrategy
	plan.RiskAnalysisMs = ra.DurationMs
	plan.StatusReason = ra.Reasoning
	plan.NextAttemptAt = nil
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to store assessment on plan", zap.String("plan_id", plan.Key), zap.Error(err))
		return false
	}
	metrics.RecordAutonomyLevel(ra.AutonomyLevel)
	span.SetAttributes(
		attribute.Float64("risk.score", ra.TotalRiskScore),
		attribute.Int("autonomy.level", int(ra.AutonomyLevel)))

	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Actor:       model.ActorAIModel,
		ActorID:     ra.ModelName + "/" + ra.ModelVersion,
		Category:    model.CategoryRisk,
		PriorStatus: string(plan.Status),
		NewStatus:   string(plan.Status),
		Message: fmt.Sprintf("risk %.3f, confidence %.2f, autonomy level %d, strategy %s",
			ra.TotalRiskScore, ra.Confidence, ra.AutonomyLevel, ra.ProposedStrategy),
		Details: map[string]string{
			"assessment_id": ra.Key,
			"reasoning":     ra.Reasoning,
		},
	})
	return true
}

// retryAssessment parks a plan whose signals could not be read.
func (c *Coordinator) retryAssessment(ctx context.Context, plan *model.RemediationPlan, cause error) {
	plan.RetryCount++
	next := c.now().UTC().Add(c.retryDelay(plan.RetryCount))
	plan.NextAttemptAt = &next
	plan.StatusReason = fmt.Sprintf("risk assessment attempt %d failed: %s; retrying at %s",
		plan.RetryCount, describe(errs.KindTransientInfra.String(), ""), next.Format(time.RFC3339))
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to schedule assessment retry", zap.String("plan_id", plan.Key), zap.Error(err))
		return
	}
	d := model.NewAutonomousDecision(plan.Key, "", model.DecisionRetry, "retry-assessment")
	d.Reasoning = plan.StatusReason
	c.decide(ctx, d)
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Category:    model.CategoryRetry,
		Severity:    model.SeverityWarning,
		PriorStatus: string(plan.Status),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
		Details:     map[string]string{"error_kind": errs.KindTransientInfra.String(), "error": cause.Error()},
	})
}

// failPlan ends a plan that never reached execution.
func (c *Coordinator) failPlan(ctx context.Context, plan *model.RemediationPlan, cat model.EventCategory, kind errs.Kind, cause error) {
	ctx = context.WithoutCancel(ctx)
	prior := plan.Status
	plan.Status = model.PlanFailed
	plan.NextAttemptAt = nil
	plan.StatusReason = describe(kind.String(), "")
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to mark plan failed", zap.String("plan_id", plan.Key), zap.Error(err))
		return
	}
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Category:    cat,
		Severity:    kind.Severity(),
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     fmt.Sprintf("%s: %v", plan.StatusReason, cause),
		Details:     map[string]string{"error_kind": kind.String()},
	})
	c.notify(ctx, plan, "", EventFailed, kind.Severity(), plan.StatusReason)
	c.log.Warn("Plan failed before execution",
		zap.String("plan_id", plan.Key),
		zap.String("error_kind", kind.String()),
		zap.Error(cause))
}

// gate applies the autonomy gate. It returns true when the plan may execute now.
func (c *Coordinator) gate(ctx context.Context, plan *model.RemediationPlan) bool {
	now := c.now().UTC()
	g := c.deps.Gate.Decide(plan.AutonomyLevel, plan.RequiresApproval, now)
	metrics.RecordApproval(string(g.Outcome))

	d := model.NewAutonomousDecision(plan.Key, "", model.DecisionApproval, string(g.Outcome))
	d.Confidence = plan.Confidence
	d.Reasoning = g.Reason
	d.Input = map[string]interface{}{
		"autonomy_level":    int(plan.AutonomyLevel),
		"requires_approval": plan.RequiresApproval,
	}

	prior := plan.Status
	plan.StatusReason = g.Reason
	switch g.Outcome {
	case autonomy.OutcomeAutoApprove:
		plan.Status = model.PlanApproved
		plan.ApprovalStatus = model.ApprovalNotRequired
		plan.NextAttemptAt = nil
		if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
			c.log.Error("Failed to approve plan", zap.String("plan_id", plan.Key), zap.Error(err))
			return false
		}
		c.decide(ctx, d)
		c.record(ctx, audit.Record{
			PlanID:      plan.Key,
			Category:    model.CategoryApproval,
			PriorStatus: string(prior),
			NewStatus:   string(plan.Status),
			Message:     g.Reason,
			Details:     map[string]string{"outcome": string(g.Outcome)},
		})
		return true

	case autonomy.OutcomeDefer:
		plan.NextAttemptAt = &g.NotBefore
		if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
			c.log.Error("Failed to defer plan", zap.String("plan_id", plan.Key), zap.Error(err))
			return false
		}
		c.decide(ctx, d)
		c.record(ctx, audit.Record{
			PlanID:      plan.Key,
			Category:    model.CategoryApproval,
			PriorStatus: string(prior),
			NewStatus:   string(plan.Status),
			Message:     g.Reason,
			Details:     map[string]string{"outcome": string(g.Outcome), "not_before": g.NotBefore.UTC().Format(time.RFC3339)},
		})
		c.notify(ctx, plan, "", EventDeferred, model.SeverityInfo, g.Reason)
		return false
	}

	code, hash, err := autonomy.IssueApprovalCode()
	if err != nil {
		c.log.Error("Failed to issue approval code", zap.String("plan_id", plan.Key), zap.Error(err))
		return false
	}
	expires := g.ExpiresAt.UTC()
	plan.ApprovalStatus = model.ApprovalAwaiting
	plan.ApprovalCodeHash = hash
	plan.ApprovalExpiresAt = &expires
	plan.NextAttemptAt = nil
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to park plan for approval", zap.String("plan_id", plan.Key), zap.Error(err))
		return false
	}
	c.decide(ctx, d)
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Category:    model.CategoryApproval,
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     g.Reason,
		Details: map[string]string{
			"outcome":    string(g.Outcome),
			"expires_at": expires.Format(time.RFC3339),
		},
	})
	level := plan.AutonomyLevel
	c.deps.Notifier.Notify(context.WithoutCancel(ctx), Notification{
		Event:        EventApprovalRequired,
		PlanID:       plan.Key,
		Status:       string(plan.Status),
		Severity:     model.SeverityInfo,
		Message:      g.Reason,
		ApprovalCode: code,
		ExpiresAt:    &expires,
		Level:        &level,
		Timestamp:    now,
	})
	c.log.Info("Plan awaiting approval",
		zap.String("plan_id", plan.Key),
		zap.Int("autonomy_level", int(level)),
		zap.Time("expires_at", expires))
	return false
}

// execute claims the plan, runs one execution and settles the plan.
func (c *Coordinator) execute(ctx context.Context, plan *model.RemediationPlan) {
	execID := uuid.NewString()
	if err := c.deps.Store.ClaimPlan(ctx, plan.Key, execID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.log.Debug("Plan already claimed", zap.String("plan_id", plan.Key))
			return
		}
		c.log.Error("Failed to claim plan", zap.String("plan_id", plan.Key), zap.Error(err))
		return
	}
	plan.ActiveExecutionID = execID

	exec := model.NewExecution(execID, plan, c.cfg.MaxRetries)
	if err := c.deps.Store.CreateExecution(ctx, exec); err != nil {
		c.log.Error("Failed to create execution", zap.String("plan_id", plan.Key), zap.Error(err))
		plan.ActiveExecutionID = ""
		if err := c.deps.Store.UpdatePlan(context.WithoutCancel(ctx), plan); err != nil {
			c.log.Error("Failed to release plan claim", zap.String("plan_id", plan.Key), zap.Error(err))
		}
		return
	}

	ctx, span := c.deps.Tracer.Start(ctx, "coordinator.execute", trace.WithAttributes(
		attribute.String("execution.id", execID),
		attribute.String("execution.strategy", string(exec.Strategy))))
	defer span.End()

	prior := plan.Status
	plan.Status = model.PlanInProgress
	plan.NextAttemptAt = nil
	plan.StatusReason = fmt.Sprintf("execution %s started with %s strategy", execID, exec.Strategy)
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to mark plan in progress", zap.String("plan_id", plan.Key), zap.Error(err))
	}
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Category:    model.CategoryPlan,
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
		Details:     map[string]string{"execution_id": execID, "attempt": strconv.Itoa(exec.RetryCount + 1)},
	})

	started := c.now().UTC()
	exec.Status = model.ExecutionRunning
	exec.StartedAt = &started
	c.saveExecution(ctx, exec)
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		ExecutionID: exec.Key,
		Category:    model.CategoryExecution,
		PriorStatus: string(model.ExecutionQueued),
		NewStatus:   string(exec.Status),
		Message:     fmt.Sprintf("execution started: %s strategy on %d asset(s)", exec.Strategy, len(exec.AssetIDs)),
	})

	metrics.ExecutionStarted()
	defer metrics.ExecutionFinished()
	c.log.Info("Execution started",
		zap.String("plan_id", plan.Key),
		zap.String("execution_id", exec.Key),
		zap.String("strategy", string(exec.Strategy)))

	runCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.ExecutionTimeout, errs.ErrExecutionTimeout)
	err := c.run(runCtx, plan, exec)
	cause := context.Cause(runCtx)
	cancel()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.finish(ctx, plan, exec, err, cause)
}

// run carries exec through snapshot, sandbox, staged deployment and monitoring.
func (c *Coordinator) run(ctx context.Context, plan *model.RemediationPlan, exec *model.Execution) error {
	pctx, span := c.phase(ctx, exec, model.PhaseSnapshot)
	snap, err := c.deps.Snapshots.CreateVerified(pctx, exec, c.cfg.SnapshotType)
	endPhase(span, err)
	if err != nil {
		c.record(ctx, audit.Record{
			PlanID:      plan.Key,
			ExecutionID: exec.Key,
			Category:    model.CategorySnapshot,
			Severity:    model.SeverityError,
			Message:     "snapshot failed: " + err.Error(),
		})
		return err
	}
	exec.SnapshotID = snap.Key
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		ExecutionID: exec.Key,
		Category:    model.CategorySnapshot,
		PriorStatus: string(model.SnapshotCreating),
		NewStatus:   string(snap.Status),
		Message:     fmt.Sprintf("%s snapshot %s ready and verified", snap.Type, snap.Key),
		Details:     map[string]string{"snapshot_id": snap.Key, "checksum": snap.Checksum},
	})
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	pctx, span = c.phase(ctx, exec, model.PhaseSandbox)
	res, err := c.deps.Sandbox.Validate(pctx, exec)
	endPhase(span, err)
	sev := model.SeverityInfo
	if err != nil {
		sev = errs.KindOf(err).Severity()
	}
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		ExecutionID: exec.Key,
		Category:    model.CategorySandbox,
		Severity:    sev,
		Message:     sandboxMessage(res, err),
		Details: map[string]string{
			"tests_run":    strconv.Itoa(res.TestsRun),
			"tests_passed": strconv.Itoa(res.TestsPassed),
			"tests_failed": strconv.Itoa(res.TestsFailed),
		},
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	stages, err := deploy.BuildStages(exec.Strategy, exec.AssetIDs, c.cfg.Stages)
	if err != nil {
		return fmt.Errorf("build stages for execution %s: %w", exec.Key, err)
	}
	pctx, span = c.phase(ctx, exec, model.PhaseDeployment)
	err = c.deps.Stager.Run(pctx, exec, snap, stages, c.observeStage(ctx, plan, exec))
	endPhase(span, err)
	if err != nil {
		return err
	}

	pctx, span = c.phase(ctx, exec, model.PhaseMonitoring)
	err = c.deps.Stager.Monitor(pctx, exec, c.cfg.MonitorWindow, c.cfg.MonitorInterval)
	endPhase(span, err)
	if err != nil {
		c.record(ctx, audit.Record{
			PlanID:      plan.Key,
			ExecutionID: exec.Key,
			Category:    model.CategoryMonitoring,
			Severity:    errs.KindOf(err).Severity(),
			Message:     "post-deployment monitoring failed: " + err.Error(),
		})
	}
	return err
}

func sandboxMessage(res sandbox.Result, err error) string {
	if err != nil {
		return "sandbox validation failed: " + err.Error()
	}
	return fmt.Sprintf("sandbox passed %d/%d tests", res.TestsPassed, res.TestsRun)
}

// phase records exec entering a phase and opens a span for it.
func (c *Coordinator) phase(ctx context.Context, exec *model.Execution, name string) (context.Context, trace.Span) {
	exec.Phase = name
	c.saveExecution(ctx, exec)
	return c.deps.Tracer.Start(ctx, "execution."+name)
}

func endPhase(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Coordinator) observeStage(ctx context.Context, plan *model.RemediationPlan, exec *model.Execution) deploy.StageObserver {
	return func(st *model.DeploymentStage, prior model.StageStatus) {
		sev := model.SeverityInfo
		msg := fmt.Sprintf("stage %d %s (%d%% traffic) %s", st.StageNumber, st.Name, st.TrafficPercentage, st.Status)
		switch st.Status {
		case model.StageFailed:
			sev = model.SeverityError
			msg += ": " + st.AbortReason
		case model.StageSkipped:
			sev = model.SeverityWarning
		}
		c.record(ctx, audit.Record{
			PlanID:      plan.Key,
			ExecutionID: exec.Key,
			Category:    model.CategoryDeployment,
			Severity:    sev,
			PriorStatus: string(prior),
			NewStatus:   string(st.Status),
			Message:     msg,
			Details:     map[string]string{"stage_id": st.Key},
		})
		if st.Status == model.StageSuccess {
			c.saveExecution(ctx, exec)
		}
	}
}

func (c *Coordinator) saveExecution(ctx context.Context, exec *model.Execution) {
	if err := c.deps.Store.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		c.log.Warn("Failed to persist execution progress", zap.String("execution_id", exec.Key), zap.Error(err))
	}
}

// finish rolls back when needed, completes the execution and settles the plan.
// perr is the pipeline error and cause the run context's cancellation cause.
func (c *Coordinator) finish(ctx context.Context, plan *model.RemediationPlan, exec *model.Execution, perr, cause error) {
	ctx = context.WithoutCancel(ctx)
	failedIn := exec.Phase

	kind := errs.KindUnknown
	if perr != nil {
		kind = errs.KindOf(perr)
		if k := errs.KindOf(cause); k == errs.KindCancelled || k == errs.KindExecutionTimeout {
			kind = k
		}
	}

	var req *cancelRequest
	if kind == errs.KindCancelled {
		req = c.cancelRequested(plan.Key)
	}

	var rb rollback.Result
	var rerr error
	if perr != nil && exec.Deployed {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RollbackTimeout)
		rb, rerr = c.deps.Rollback.Rollback(rctx, exec, fmt.Sprintf("%s: %v", kind, perr))
		cancel()
		c.recordRollback(ctx, plan, exec, rb, rerr)
	}

	done := c.now().UTC()
	exec.CompletedAt = &done
	if exec.StartedAt != nil {
		exec.TotalMs = done.Sub(*exec.StartedAt).Milliseconds() + exec.RiskAnalysisMs
	}
	exec.Phase = model.PhaseDone

	switch {
	case perr == nil:
		exec.Status = model.ExecutionSuccess
	case rerr != nil:
		exec.Status = model.ExecutionFailed
		kind = errs.KindRollbackFailure
	case kind == errs.KindCancelled:
		exec.Status = model.ExecutionCancelled
	case kind == errs.KindExecutionTimeout:
		exec.Status = model.ExecutionTimeout
	case rb.Performed:
		exec.Status = model.ExecutionRolledBack
	default:
		exec.Status = model.ExecutionFailed
	}
	if perr != nil {
		exec.ErrorKind = kind.String()
		exec.ErrorMessage = perr.Error()
		exec.FailedPhase = failedIn
		if rerr != nil {
			exec.ErrorMessage += "; " + rerr.Error()
		}
		exec.Retryable = kind == errs.KindTransientInfra
	}

	applied, err := c.deps.Store.CompleteExecution(ctx, exec)
	switch {
	case err != nil:
		c.log.Error("Failed to complete execution", zap.String("execution_id", exec.Key), zap.Error(err))
	case !applied:
		c.log.Warn("Execution was already terminal", zap.String("execution_id", exec.Key))
	default:
		metrics.RecordExecution(exec)
	}

	sev := model.SeverityInfo
	msg := fmt.Sprintf("execution %s: %d/%d stages in %dms", exec.Status, exec.StagesCompleted, exec.StagesTotal, exec.TotalMs)
	details := map[string]string{"strategy": string(exec.Strategy)}
	if perr != nil {
		sev = kind.Severity()
		msg = fmt.Sprintf("execution %s: %s", exec.Status, exec.ErrorMessage)
		details["error_kind"] = exec.ErrorKind
	}
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		ExecutionID: exec.Key,
		Category:    model.CategoryExecution,
		Severity:    sev,
		PriorStatus: string(model.ExecutionRunning),
		NewStatus:   string(exec.Status),
		Message:     msg,
		Details:     details,
	})

	c.log.Info("Execution finished",
		zap.String("plan_id", plan.Key),
		zap.String("execution_id", exec.Key),
		zap.String("status", string(exec.Status)),
		zap.String("error_kind", exec.ErrorKind),
		zap.Int64("total_ms", exec.TotalMs))

	c.settle(ctx, plan, exec, req)
}

func (c *Coordinator) recordRollback(ctx context.Context, plan *model.RemediationPlan, exec *model.Execution, rb rollback.Result, rerr error) {
	if !rb.Performed {
		return
	}
	d := model.NewAutonomousDecision(plan.Key, exec.Key, model.DecisionRollback, "rolled-back")
	d.Reasoning = rb.Reason
	d.Confidence = 1
	r := audit.Record{
		PlanID:      plan.Key,
		ExecutionID: exec.Key,
		Category:    model.CategoryRollback,
		Severity:    model.SeverityWarning,
		PriorStatus: string(model.SnapshotReady),
		NewStatus:   string(model.SnapshotExpired),
		Message:     fmt.Sprintf("restored snapshot %s in %dms: %s", exec.SnapshotID, rb.DurationMs, rb.Reason),
		Details:     map[string]string{"snapshot_id": exec.SnapshotID},
	}
	if rerr != nil {
		d.Outcome = "rollback-failed"
		r.Severity = errs.KindRollbackFailure.Severity()
		r.Message = "rollback failed, escalated to a human: " + rerr.Error()
	}
	c.decide(ctx, d)
	c.record(ctx, r)

	if rerr != nil {
		esc := model.NewAutonomousDecision(plan.Key, exec.Key, model.DecisionEscalate, "human-intervention")
		esc.Reasoning = rerr.Error()
		esc.Confidence = 1
		c.decide(ctx, esc)
		c.deps.Notifier.Notify(ctx, Notification{
			Event:       EventEscalated,
			PlanID:      plan.Key,
			ExecutionID: exec.Key,
			Status:      string(plan.Status),
			Severity:    model.SeverityCritical,
			Message:     r.Message,
			Timestamp:   c.now().UTC(),
		})
	}
}

var kindPhrases = map[string]string{
	errs.KindRiskDataIncomplete.String():     "risk signals are incomplete",
	errs.KindApprovalTimeout.String():        "the approval window expired",
	errs.KindSnapshotCreationFailed.String(): "the pre-change snapshot could not be captured",
	errs.KindSandboxFailure.String():         "sandbox validation did not pass",
	errs.KindStageHealthBreach.String():      "health thresholds were breached",
	errs.KindRollbackFailure.String():        "rollback failed and was escalated",
	errs.KindExecutionTimeout.String():       "the execution ran out of time",
	errs.KindTransientInfra.String():         "a backend was unavailable",
	errs.KindCancelled.String():              "the execution was cancelled",
}

// describe summarises a failure for status readers by kind and phase. The
// underlying error text is kept on the execution and in the audit trail.
func describe(kind, phase string) string {
	s := kind
	if p, ok := kindPhrases[kind]; ok {
		s += " (" + p + ")"
	}
	if phase != "" && phase != model.PhaseQueued && phase != model.PhaseDone {
		s += " in " + phase
	}
	return s
}

// settle moves the plan after its execution reached a terminal status.
func (c *Coordinator) settle(ctx context.Context, plan *model.RemediationPlan, exec *model.Execution, req *cancelRequest) {
	prior := plan.Status
	plan.ActiveExecutionID = ""
	plan.LastExecutionID = exec.Key
	plan.NextAttemptAt = nil

	event, sev := EventCompleted, model.SeverityInfo
	cat := model.CategoryPlan
	switch {
	case exec.Status == model.ExecutionSuccess:
		plan.Status = model.PlanSuccess
		plan.StatusReason = fmt.Sprintf("execution %s succeeded", exec.Key)

	case exec.Status == model.ExecutionCancelled:
		plan.Status = model.PlanCancelled
		actor, reason := string(model.ActorSystem), describe(exec.ErrorKind, exec.FailedPhase)
		if req != nil {
			actor, reason = req.actor, req.reason
		}
		plan.StatusReason = fmt.Sprintf("cancelled by %s: %s", actor, reason)
		event, sev = EventCancelled, model.SeverityWarning

	case exec.Retryable && plan.RetryCount < c.cfg.MaxRetries:
		plan.RetryCount++
		next := c.now().UTC().Add(c.retryDelay(plan.RetryCount))
		plan.Status = model.PlanApproved
		plan.NextAttemptAt = &next
		plan.StatusReason = fmt.Sprintf("attempt %d failed with %s; retry %d of %d at %s",
			exec.RetryCount+1, exec.ErrorKind, plan.RetryCount, c.cfg.MaxRetries, next.Format(time.RFC3339))
		event, sev, cat = EventRetryScheduled, model.SeverityWarning, model.CategoryRetry

		d := model.NewAutonomousDecision(plan.Key, exec.Key, model.DecisionRetry, "retry")
		d.Reasoning = plan.StatusReason
		d.Input = map[string]interface{}{"retry_count": plan.RetryCount, "max_retries": c.cfg.MaxRetries}
		c.decide(ctx, d)

	case exec.Status == model.ExecutionRolledBack,
		exec.Status == model.ExecutionTimeout && exec.RollbackSuccess != nil && *exec.RollbackSuccess:
		plan.Status = model.PlanRolledBack
		plan.StatusReason = fmt.Sprintf("execution %s rolled back after %s", exec.Key, describe(exec.ErrorKind, exec.FailedPhase))
		event, sev = EventFailed, model.SeverityWarning

	default:
		plan.Status = model.PlanFailed
		plan.StatusReason = fmt.Sprintf("execution %s failed: %s", exec.Key, describe(exec.ErrorKind, exec.FailedPhase))
		if exec.Retryable {
			plan.StatusReason += fmt.Sprintf(" (retries exhausted after %d)", plan.RetryCount)
		}
		event, sev = EventFailed, model.SeverityError
		if exec.Escalated {
			sev = model.SeverityCritical
		}
	}

	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to settle plan", zap.String("plan_id", plan.Key), zap.Error(err))
		return
	}
	r := audit.Record{
		PlanID:      plan.Key,
		Category:    cat,
		Severity:    sev,
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
		Details:     map[string]string{"execution_id": exec.Key},
	}
	if req != nil {
		r.Actor, r.ActorID = actorType(req.actor), req.actor
	}
	c.record(ctx, r)
	c.notify(ctx, plan, exec.Key, event, sev, plan.StatusReason)
}

// cancelPlan cancels a plan with no running execution. Callers hold approvalMu.
func (c *Coordinator) cancelPlan(ctx context.Context, plan *model.RemediationPlan, actor, reason string) error {
	prior := plan.Status
	plan.Status = model.PlanCancelled
	plan.ApprovalCodeHash = ""
	plan.NextAttemptAt = nil
	plan.StatusReason = fmt.Sprintf("cancelled by %s: %s", actor, reason)
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		return errs.E(errs.KindTransientInfra, "coordinator.cancelPlan", err)
	}

	d := model.NewAutonomousDecision(plan.Key, "", model.DecisionCancel, "cancelled")
	d.DecidedBy = actor
	d.Reasoning = reason
	d.Confidence = 1
	c.decide(ctx, d)
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Actor:       actorType(actor),
		ActorID:     actor,
		Category:    model.CategoryPlan,
		Severity:    model.SeverityWarning,
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
	})
	c.notify(ctx, plan, "", EventCancelled, model.SeverityWarning, plan.StatusReason)
	return nil
}

func actorType(actor string) model.ActorType {
	if actor == "" || actor == string(model.ActorSystem) {
		return model.ActorSystem
	}
	return model.ActorHuman
}
