// Package coordinator drives remediation plans through assessment, the approval
// gate and execution.
//
// A single dispatcher polls the store for plans a worker can advance and hands
// them to a bounded pool. Each worker owns one plan until it parks (approval,
// deferral, retry backoff) or reaches a terminal state. Cancellation reaches a
// running worker through its context cause.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

const tracerName = "github.com/ortelius/pdvd-remediation/internal/coordinator"

type cancelRequest struct {
	actor  string
	reason string
}

type worker struct {
	cancel    context.CancelCauseFunc
	requested *cancelRequest
}

// Coordinator schedules and executes plans.
type Coordinator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	sem  *semaphore.Weighted
	wake chan struct{}
	wg   sync.WaitGroup

	mu sync.Mutex
	// held maps plan ids to the worker advancing them. A nil worker marks a plan
	// reserved by an API call.
	held map[string]*worker

	// approvalMu serializes mutations of plans parked for approval.
	approvalMu sync.Mutex
}

// New creates a coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("coordinator deps: %w", err)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = cfg.Workers * 4
	}
	return &Coordinator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		now:  time.Now,
		sem:  semaphore.NewWeighted(int64(cfg.Workers)),
		wake: make(chan struct{}, 1),
		held: make(map[string]*worker),
	}, nil
}

// Store exposes the underlying store for read-only views.
func (c *Coordinator) Store() store.Store {
	return c.deps.Store
}

// Start runs the dispatch loop until ctx is done. Running workers are not
// interrupted by ctx; use Wait to drain them.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		c.log.Info("Coordinator started",
			zap.Int("workers", c.cfg.Workers),
			zap.Duration("poll_interval", c.cfg.PollInterval))
		for {
			c.DispatchOnce(ctx)
			select {
			case <-ctx.Done():
				c.log.Info("Coordinator stopping; draining workers")
				return
			case <-ticker.C:
			case <-c.wake:
			}
		}
	}()
}

// Wait blocks until the dispatch loop and every worker have returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Wake asks the dispatch loop to poll now.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// DispatchOnce expires stale approvals and starts workers for as many
// dispatchable plans as there are free slots. It returns the number started.
func (c *Coordinator) DispatchOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	c.expireApprovals(ctx)

	plans, err := c.deps.Store.ListDispatchable(ctx, c.now().UTC(), c.cfg.DispatchBatch)
	if err != nil {
		c.log.Error("Failed to list dispatchable plans", zap.Error(err))
		return 0
	}

	started := 0
	for _, p := range plans {
		if !c.sem.TryAcquire(1) {
			break
		}
		wctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		if !c.hold(p.Key, &worker{cancel: cancel}) {
			cancel(nil)
			c.sem.Release(1)
			continue
		}

		c.wg.Add(1)
		go func(planID string) {
			defer c.wg.Done()
			defer c.sem.Release(1)
			defer cancel(nil)
			c.process(wctx, planID)
			c.releaseWorker(wctx, planID)
		}(p.Key)
		started++
	}
	return started
}

// hold marks planID as owned by w. It fails when the plan is already held.
func (c *Coordinator) hold(planID string, w *worker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.held[planID]; busy {
		return false
	}
	c.held[planID] = w
	return true
}

func (c *Coordinator) release(planID string) {
	c.mu.Lock()
	delete(c.held, planID)
	c.mu.Unlock()
}

// releaseWorker drops the worker's hold. A cancel that arrived after the worker
// finished its last step is applied here so it is never lost.
func (c *Coordinator) releaseWorker(ctx context.Context, planID string) {
	c.mu.Lock()
	w := c.held[planID]
	delete(c.held, planID)
	c.mu.Unlock()

	if w == nil || w.requested == nil {
		return
	}
	plan, err := c.deps.Store.GetPlan(context.WithoutCancel(ctx), planID)
	if err != nil || plan.Status.IsTerminal() {
		return
	}
	c.approvalMu.Lock()
	defer c.approvalMu.Unlock()
	c.cancelPlan(context.WithoutCancel(ctx), plan, w.requested.actor, w.requested.reason)
}

// cancelRequested returns and clears the pending cancel request of planID.
func (c *Coordinator) cancelRequested(planID string) *cancelRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.held[planID]
	if w == nil {
		return nil
	}
	r := w.requested
	w.requested = nil
	return r
}

// expireApprovals cancels plans whose approval window has closed.
func (c *Coordinator) expireApprovals(ctx context.Context) {
	now := c.now().UTC()
	plans, err := c.deps.Store.ListExpiredApprovals(ctx, now)
	if err != nil {
		c.log.Error("Failed to list expired approvals", zap.Error(err))
		return
	}
	for _, p := range plans {
		if !c.hold(p.Key, nil) {
			continue
		}
		c.approvalMu.Lock()
		c.expire(ctx, p.Key, now)
		c.approvalMu.Unlock()
		c.release(p.Key)
	}
}

// expire moves an expired awaiting plan to CANCELLED. Callers hold approvalMu.
func (c *Coordinator) expire(ctx context.Context, planID string, now time.Time) bool {
	plan, err := c.deps.Store.GetPlan(ctx, planID)
	if err != nil {
		c.log.Error("Failed to load plan for expiry", zap.String("plan_id", planID), zap.Error(err))
		return false
	}
	if !plan.AwaitingApproval() || plan.ApprovalExpiresAt == nil || now.Before(*plan.ApprovalExpiresAt) {
		return false
	}

	prior := plan.Status
	plan.Status = model.PlanCancelled
	plan.ApprovalStatus = model.ApprovalExpired
	plan.ApprovalCodeHash = ""
	plan.StatusReason = fmt.Sprintf("%s: no approval within %s", errs.KindApprovalTimeout, c.deps.Gate.ApprovalTTL())
	if err := c.deps.Store.UpdatePlan(ctx, plan); err != nil {
		c.log.Error("Failed to expire plan", zap.String("plan_id", planID), zap.Error(err))
		return false
	}

	d := model.NewAutonomousDecision(plan.Key, "", model.DecisionCancel, "approval-expired")
	d.Reasoning = plan.StatusReason
	d.Confidence = 1
	c.decide(ctx, d)
	c.record(ctx, audit.Record{
		PlanID:      plan.Key,
		Category:    model.CategoryApproval,
		Severity:    errs.KindApprovalTimeout.Severity(),
		PriorStatus: string(prior),
		NewStatus:   string(plan.Status),
		Message:     plan.StatusReason,
		Details:     map[string]string{"error_kind": errs.KindApprovalTimeout.String()},
	})
	c.notify(ctx, plan, "", EventExpired, model.SeverityWarning, plan.StatusReason)
	c.log.Warn("Approval expired", zap.String("plan_id", plan.Key))
	return true
}

// record appends an audit entry. Audit writes outlive the caller's context.
func (c *Coordinator) record(ctx context.Context, r audit.Record) {
	if _, err := c.deps.Audit.Append(context.WithoutCancel(ctx), r); err != nil {
		c.log.Error("Failed to append audit entry",
			zap.String("plan_id", r.PlanID),
			zap.String("execution_id", r.ExecutionID),
			zap.String("message", r.Message),
			zap.Error(err))
	}
}

func (c *Coordinator) decide(ctx context.Context, d *model.AutonomousDecision) {
	if err := c.deps.Store.CreateDecision(context.WithoutCancel(ctx), d); err != nil {
		c.log.Error("Failed to record decision",
			zap.String("plan_id", d.PlanID),
			zap.String("decision_type", string(d.DecisionType)),
			zap.Error(err))
	}
}

func (c *Coordinator) notify(ctx context.Context, plan *model.RemediationPlan, executionID, event string, sev model.Severity, msg string) {
	c.deps.Notifier.Notify(context.WithoutCancel(ctx), Notification{
		Event:       event,
		PlanID:      plan.Key,
		ExecutionID: executionID,
		Status:      string(plan.Status),
		Severity:    sev,
		Message:     msg,
		Timestamp:   c.now().UTC(),
	})
}

// retryDelay is the backoff before attempt (1-based).
func (c *Coordinator) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.MaxInterval = c.cfg.RetryMax
	b.RandomizationFactor = c.cfg.RetryRandomization
	if c.cfg.RetryMultiplier > 1 {
		b.Multiplier = c.cfg.RetryMultiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
