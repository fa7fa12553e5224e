package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ortelius/pdvd-remediation/model"
)

// Memory is an in-process Store used by tests and single-node local runs.
// A single mutex makes every method atomic, including CompleteExecution.
type Memory struct {
	mu          sync.RWMutex
	plans       map[string]*model.RemediationPlan
	executions  map[string]*model.Execution
	assessments map[string]*model.RiskAssessment
	decisions   []*model.AutonomousDecision
	snapshots   map[string]*model.Snapshot
	stages      map[string]*model.DeploymentStage
	audit       map[string][]*model.AuditLogEntry
	patches     map[string]*model.Patch
	buckets     map[string]*model.MetricsBucket
	lastRuns    map[string]time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		plans:       make(map[string]*model.RemediationPlan),
		executions:  make(map[string]*model.Execution),
		assessments: make(map[string]*model.RiskAssessment),
		snapshots:   make(map[string]*model.Snapshot),
		stages:      make(map[string]*model.DeploymentStage),
		audit:       make(map[string][]*model.AuditLogEntry),
		patches:     make(map[string]*model.Patch),
		buckets:     make(map[string]*model.MetricsBucket),
		lastRuns:    make(map[string]time.Time),
	}
}

var _ Store = (*Memory)(nil)

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// ============================================================================
// PLANS
// ============================================================================

// CreatePlan stores a new plan.
func (m *Memory) CreatePlan(_ context.Context, plan *model.RemediationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.Key]; ok {
		return fmt.Errorf("plan %s: %w", plan.Key, ErrConflict)
	}
	m.plans[plan.Key] = plan.Clone()
	return nil
}

// GetPlan returns a copy of the plan.
func (m *Memory) GetPlan(_ context.Context, id string) (*model.RemediationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, notFound("plan", id)
	}
	return p.Clone(), nil
}

// UpdatePlan replaces the stored plan.
func (m *Memory) UpdatePlan(_ context.Context, plan *model.RemediationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.Key]; !ok {
		return notFound("plan", plan.Key)
	}
	plan.UpdatedAt = time.Now().UTC()
	m.plans[plan.Key] = plan.Clone()
	return nil
}

// ListPlans returns plans ordered newest first.
func (m *Memory) ListPlans(_ context.Context, filter PlanFilter) ([]*model.RemediationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RemediationPlan
	for _, p := range m.plans {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListDispatchable returns plans ready for a worker in dequeue order.
func (m *Memory) ListDispatchable(_ context.Context, now time.Time, limit int) ([]*model.RemediationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RemediationPlan
	for _, p := range m.plans {
		if !dispatchable(p, now) {
			continue
		}
		out = append(out, p.Clone())
	}
	SortForDispatch(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func dispatchable(p *model.RemediationPlan, now time.Time) bool {
	if p.NextAttemptAt != nil && p.NextAttemptAt.After(now) {
		return false
	}
	switch p.Status {
	case model.PlanPending:
		return p.ApprovalStatus != model.ApprovalAwaiting
	case model.PlanApproved:
		return p.ActiveExecutionID == ""
	}
	return false
}

// SortForDispatch orders plans by priority desc, then created_at asc.
func SortForDispatch(plans []*model.RemediationPlan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Priority != plans[j].Priority {
			return plans[i].Priority > plans[j].Priority
		}
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
}

// ListExpiredApprovals returns parked plans whose approval window has closed.
func (m *Memory) ListExpiredApprovals(_ context.Context, now time.Time) ([]*model.RemediationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RemediationPlan
	for _, p := range m.plans {
		if p.AwaitingApproval() && p.ApprovalExpiresAt != nil && !now.Before(*p.ApprovalExpiresAt) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// ClaimPlan sets the active execution if none is set.
func (m *Memory) ClaimPlan(_ context.Context, planID, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return notFound("plan", planID)
	}
	if p.ActiveExecutionID != "" {
		return fmt.Errorf("plan %s already has active execution %s: %w", planID, p.ActiveExecutionID, ErrConflict)
	}
	p.ActiveExecutionID = executionID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ============================================================================
// EXECUTIONS
// ============================================================================

// CreateExecution stores a new execution.
func (m *Memory) CreateExecution(_ context.Context, exec *model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[exec.Key]; ok {
		return fmt.Errorf("execution %s: %w", exec.Key, ErrConflict)
	}
	m.executions[exec.Key] = exec.Clone()
	return nil
}

// GetExecution returns a copy of the execution.
func (m *Memory) GetExecution(_ context.Context, id string) (*model.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, notFound("execution", id)
	}
	return e.Clone(), nil
}

// UpdateExecution replaces a non-terminal execution. Terminal executions only
// change through CompleteExecution.
func (m *Memory) UpdateExecution(_ context.Context, exec *model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.executions[exec.Key]
	if !ok {
		return notFound("execution", exec.Key)
	}
	if cur.Status.IsTerminal() {
		return fmt.Errorf("execution %s is %s: %w", exec.Key, cur.Status, ErrConflict)
	}
	exec.UpdatedAt = time.Now().UTC()
	m.executions[exec.Key] = exec.Clone()
	return nil
}

// ListExecutionsByPlan returns the plan's executions oldest first.
func (m *Memory) ListExecutionsByPlan(_ context.Context, planID string) ([]*model.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Execution
	for _, e := range m.executions {
		if e.PlanID == planID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListCompletedExecutions returns terminal executions completed in [from, to).
func (m *Memory) ListCompletedExecutions(_ context.Context, from, to time.Time) ([]*model.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Execution
	for _, e := range m.executions {
		if !e.Status.IsTerminal() || e.CompletedAt == nil {
			continue
		}
		if e.CompletedAt.Before(from) || !e.CompletedAt.Before(to) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

// CompleteExecution applies the terminal transition and patch counters under one lock.
func (m *Memory) CompleteExecution(_ context.Context, exec *model.Execution) (bool, error) {
	if !exec.Status.IsTerminal() {
		return false, fmt.Errorf("execution %s: status %s is not terminal", exec.Key, exec.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.executions[exec.Key]
	if !ok {
		return false, notFound("execution", exec.Key)
	}
	if cur.Status.IsTerminal() {
		return false, nil
	}
	p, ok := m.patches[exec.PatchID]
	if !ok {
		return false, notFound("patch", exec.PatchID)
	}
	now := time.Now().UTC()
	exec.UpdatedAt = now
	m.executions[exec.Key] = exec.Clone()

	if d := model.DeltaFor(exec); !d.IsZero() {
		p.Apply(d)
		p.UpdatedAt = now
	}
	return true, nil
}

// ============================================================================
// ASSESSMENTS & DECISIONS
// ============================================================================

// CreateAssessment stores an immutable assessment.
func (m *Memory) CreateAssessment(_ context.Context, a *model.RiskAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assessments[a.Key]; ok {
		return fmt.Errorf("assessment %s: %w", a.Key, ErrConflict)
	}
	c := *a
	m.assessments[a.Key] = &c
	return nil
}

// GetAssessment returns a copy of the assessment.
func (m *Memory) GetAssessment(_ context.Context, id string) (*model.RiskAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[id]
	if !ok {
		return nil, notFound("assessment", id)
	}
	c := *a
	return &c, nil
}

// CreateDecision appends a decision record.
func (m *Memory) CreateDecision(_ context.Context, d *model.AutonomousDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	m.decisions = append(m.decisions, &c)
	return nil
}

// ListDecisionsByPlan returns the plan's decisions in insertion order.
func (m *Memory) ListDecisionsByPlan(_ context.Context, planID string) ([]*model.AutonomousDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.AutonomousDecision
	for _, d := range m.decisions {
		if d.PlanID == planID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

// ============================================================================
// SNAPSHOTS & STAGES
// ============================================================================

// CreateSnapshot stores a new snapshot.
func (m *Memory) CreateSnapshot(_ context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.Key] = s.Clone()
	return nil
}

// GetSnapshot returns a copy of the snapshot.
func (m *Memory) GetSnapshot(_ context.Context, id string) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, notFound("snapshot", id)
	}
	return s.Clone(), nil
}

// UpdateSnapshot replaces the stored snapshot.
func (m *Memory) UpdateSnapshot(_ context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[s.Key]; !ok {
		return notFound("snapshot", s.Key)
	}
	s.UpdatedAt = time.Now().UTC()
	m.snapshots[s.Key] = s.Clone()
	return nil
}

// ListSnapshotsByExecution returns the execution's snapshots oldest first.
func (m *Memory) ListSnapshotsByExecution(_ context.Context, executionID string) ([]*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Snapshot
	for _, s := range m.snapshots {
		if s.ExecutionID == executionID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListExpiredSnapshots returns READY snapshots whose expiry has passed.
func (m *Memory) ListExpiredSnapshots(_ context.Context, now time.Time) ([]*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Snapshot
	for _, s := range m.snapshots {
		if s.Status == model.SnapshotReady && !now.Before(s.ExpiresAt) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// CreateStage stores a new stage.
func (m *Memory) CreateStage(_ context.Context, s *model.DeploymentStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[s.Key] = s.Clone()
	return nil
}

// UpdateStage replaces the stored stage.
func (m *Memory) UpdateStage(_ context.Context, s *model.DeploymentStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[s.Key]; !ok {
		return notFound("stage", s.Key)
	}
	s.UpdatedAt = time.Now().UTC()
	m.stages[s.Key] = s.Clone()
	return nil
}

// ListStagesByExecution returns the execution's stages by stage number.
func (m *Memory) ListStagesByExecution(_ context.Context, executionID string) ([]*model.DeploymentStage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.DeploymentStage
	for _, s := range m.stages {
		if s.ExecutionID == executionID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out, nil
}

// ============================================================================
// AUDIT
// ============================================================================

// AppendAuditEntry appends e to its chain, rejecting a reused sequence number.
func (m *Memory) AppendAuditEntry(_ context.Context, e *model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.audit[e.ChainID] {
		if existing.Sequence == e.Sequence {
			return fmt.Errorf("audit chain %s sequence %d: %w", e.ChainID, e.Sequence, ErrConflict)
		}
	}
	c := *e
	m.audit[e.ChainID] = append(m.audit[e.ChainID], &c)
	return nil
}

// LastAuditEntry returns the highest-sequence entry of the chain.
func (m *Memory) LastAuditEntry(_ context.Context, chainID string) (*model.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *model.AuditLogEntry
	for _, e := range m.audit[chainID] {
		if last == nil || e.Sequence > last.Sequence {
			last = e
		}
	}
	if last == nil {
		return nil, nil
	}
	c := *last
	return &c, nil
}

// ListAuditEntries returns the chain ordered by sequence.
func (m *Memory) ListAuditEntries(_ context.Context, chainID string) ([]*model.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.AuditLogEntry, 0, len(m.audit[chainID]))
	for _, e := range m.audit[chainID] {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// TamperAuditEntry overwrites a stored entry in place. It exists so tests can
// simulate post-write tampering; no production path calls it.
func (m *Memory) TamperAuditEntry(chainID string, sequence int64, mutate func(*model.AuditLogEntry)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.audit[chainID] {
		if e.Sequence == sequence {
			mutate(e)
			return true
		}
	}
	return false
}

// ============================================================================
// PATCHES
// ============================================================================

// UpsertPatch inserts a catalog entry or refreshes its metadata. Counters are
// never overwritten here.
func (m *Memory) UpsertPatch(_ context.Context, p *model.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	if cur, ok := m.patches[p.Key]; ok {
		c.InstallationsCount = cur.InstallationsCount
		c.SuccessCount = cur.SuccessCount
		c.FailureCount = cur.FailureCount
		c.RollbackCount = cur.RollbackCount
		c.SuccessRate = cur.SuccessRate
		c.CreatedAt = cur.CreatedAt
	}
	c.UpdatedAt = time.Now().UTC()
	m.patches[p.Key] = &c
	return nil
}

// GetPatch returns a copy of the patch.
func (m *Memory) GetPatch(_ context.Context, id string) (*model.Patch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patches[id]
	if !ok {
		return nil, notFound("patch", id)
	}
	c := *p
	return &c, nil
}

// ListPatches returns the catalog ordered by key.
func (m *Memory) ListPatches(_ context.Context) ([]*model.Patch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Patch, 0, len(m.patches))
	for _, p := range m.patches {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ============================================================================
// METRICS
// ============================================================================

// UpsertMetricsBucket overwrites the bucket with the same key.
func (m *Memory) UpsertMetricsBucket(_ context.Context, b *model.MetricsBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	m.buckets[b.Key] = &c
	return nil
}

// ListMetricsBuckets returns buckets whose hour lies in [from, to), oldest first.
func (m *Memory) ListMetricsBuckets(_ context.Context, from, to time.Time) ([]*model.MetricsBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := model.BucketKey(from), model.BucketKey(to)
	var out []*model.MetricsBucket
	for k, b := range m.buckets {
		if k >= lo && k < hi {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetLastRun returns the stored watermark of job, or the zero time.
func (m *Memory) GetLastRun(_ context.Context, job string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRuns[job], nil
}

// SaveLastRun stores the watermark of job.
func (m *Memory) SaveLastRun(_ context.Context, job string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRuns[job] = t
	return nil
}
