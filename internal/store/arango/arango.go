// Package arango implements store.Store on ArangoDB using AQL.
package arango

import (
	"context"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"

	"github.com/ortelius/pdvd-remediation/database"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/util"
)

// Store persists engine state in the collections created by database.InitializeDatabase.
type Store struct {
	db database.DBConnection
}

// New wraps an initialized connection.
func New(db database.DBConnection) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

func terminalStatuses() []string {
	out := make([]string, 0, len(model.TerminalExecutionStatuses))
	for _, s := range model.TerminalExecutionStatuses {
		out = append(out, string(s))
	}
	return out
}

// classify maps driver errors onto the store sentinels.
func classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case shared.IsNotFound(err):
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	case shared.IsConflict(err):
		return fmt.Errorf("%s: %w", what, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Store) run(ctx context.Context, aql string, bindVars map[string]interface{}, what string) error {
	cursor, err := s.db.Database.Query(ctx, aql, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return classify(err, what)
	}
	return cursor.Close()
}

func queryAll[T any](ctx context.Context, db arangodb.Database, aql string, bindVars map[string]interface{}) ([]*T, error) {
	cursor, err := db.Query(ctx, aql, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []*T
	for cursor.HasMore() {
		var doc T
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, nil
}

func queryOne[T any](ctx context.Context, db arangodb.Database, aql string, bindVars map[string]interface{}, what string) (*T, error) {
	docs, err := queryAll[T](ctx, db, aql, bindVars)
	if err != nil {
		return nil, classify(err, what)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return docs[0], nil
}

func (s *Store) insert(ctx context.Context, col string, doc interface{}, what string) error {
	return s.run(ctx, `INSERT @doc INTO @@col`, map[string]interface{}{"@col": col, "doc": doc}, what)
}

func (s *Store) replace(ctx context.Context, col, key string, doc interface{}, what string) error {
	return s.run(ctx, `REPLACE @key WITH @doc IN @@col`,
		map[string]interface{}{"@col": col, "key": key, "doc": doc}, what)
}

func getByKey[T any](ctx context.Context, db arangodb.Database, col, key string) (*T, error) {
	return queryOne[T](ctx, db, `FOR d IN @@col FILTER d._key == @key LIMIT 1 RETURN d`,
		map[string]interface{}{"@col": col, "key": key}, col+" "+key)
}

func listBy[T any](ctx context.Context, db arangodb.Database, col, field, value, sortExpr string) ([]*T, error) {
	aql := fmt.Sprintf(`FOR d IN @@col FILTER d.%s == @value SORT %s RETURN d`, field, sortExpr)
	docs, err := queryAll[T](ctx, db, aql, map[string]interface{}{"@col": col, "value": value})
	if err != nil {
		return nil, classify(err, col)
	}
	return docs, nil
}

// ============================================================================
// PLANS
// ============================================================================

// CreatePlan inserts a plan document.
func (s *Store) CreatePlan(ctx context.Context, plan *model.RemediationPlan) error {
	return s.insert(ctx, database.ColPlan, plan, "plan "+plan.Key)
}

// GetPlan loads a plan by key.
func (s *Store) GetPlan(ctx context.Context, id string) (*model.RemediationPlan, error) {
	return getByKey[model.RemediationPlan](ctx, s.db.Database, database.ColPlan, id)
}

// UpdatePlan replaces a plan document.
func (s *Store) UpdatePlan(ctx context.Context, plan *model.RemediationPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	return s.replace(ctx, database.ColPlan, plan.Key, plan, "plan "+plan.Key)
}

// ListPlans returns plans newest first.
func (s *Store) ListPlans(ctx context.Context, filter store.PlanFilter) ([]*model.RemediationPlan, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	aql := `
		FOR p IN remediation_plan
			FILTER @status == "" OR p.status == @status
			SORT DATE_TIMESTAMP(p.created_at) DESC
			LIMIT @limit
			RETURN p
	`
	docs, err := queryAll[model.RemediationPlan](ctx, s.db.Database, aql, map[string]interface{}{
		"status": string(filter.Status),
		"limit":  limit,
	})
	return docs, classify(err, "list plans")
}

// ListDispatchable returns plans ready for a worker in dequeue order.
func (s *Store) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]*model.RemediationPlan, error) {
	if limit <= 0 {
		limit = 1000
	}
	aql := `
		FOR p IN remediation_plan
			FILTER (p.status == "PENDING" AND p.approval_status != "AWAITING")
				OR (p.status == "APPROVED" AND (p.active_execution_id == null OR p.active_execution_id == ""))
			FILTER p.next_attempt_at == null OR DATE_TIMESTAMP(p.next_attempt_at) <= @now
			SORT p.priority DESC, DATE_TIMESTAMP(p.created_at) ASC
			LIMIT @limit
			RETURN p
	`
	docs, err := queryAll[model.RemediationPlan](ctx, s.db.Database, aql, map[string]interface{}{
		"now":   now.UnixMilli(),
		"limit": limit,
	})
	return docs, classify(err, "list dispatchable plans")
}

// ListExpiredApprovals returns parked plans whose approval window has closed.
func (s *Store) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*model.RemediationPlan, error) {
	aql := `
		FOR p IN remediation_plan
			FILTER p.status == "PENDING" AND p.approval_status == "AWAITING"
			FILTER p.approval_expires_at != null AND DATE_TIMESTAMP(p.approval_expires_at) <= @now
			RETURN p
	`
	docs, err := queryAll[model.RemediationPlan](ctx, s.db.Database, aql, map[string]interface{}{"now": now.UnixMilli()})
	return docs, classify(err, "list expired approvals")
}

// ClaimPlan sets active_execution_id only when it is unset.
func (s *Store) ClaimPlan(ctx context.Context, planID, executionID string) error {
	aql := `
		FOR p IN remediation_plan
			FILTER p._key == @key AND (p.active_execution_id == null OR p.active_execution_id == "")
			UPDATE p WITH { active_execution_id: @exec, updated_at: @now } IN remediation_plan
			RETURN NEW._key
	`
	keys, err := queryAll[string](ctx, s.db.Database, aql, map[string]interface{}{
		"key":  planID,
		"exec": executionID,
		"now":  time.Now().UTC(),
	})
	if err != nil {
		return classify(err, "claim plan "+planID)
	}
	if len(keys) == 0 {
		return fmt.Errorf("plan %s already has an active execution: %w", planID, store.ErrConflict)
	}
	return nil
}

// ============================================================================
// EXECUTIONS
// ============================================================================

// CreateExecution inserts an execution document.
func (s *Store) CreateExecution(ctx context.Context, exec *model.Execution) error {
	return s.insert(ctx, database.ColExecution, exec, "execution "+exec.Key)
}

// GetExecution loads an execution by key.
func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	return getByKey[model.Execution](ctx, s.db.Database, database.ColExecution, id)
}

// UpdateExecution replaces a non-terminal execution.
func (s *Store) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	exec.UpdatedAt = time.Now().UTC()
	aql := `
		FOR e IN execution
			FILTER e._key == @key AND e.status NOT IN @terminal
			REPLACE e WITH @doc IN execution
			RETURN NEW._key
	`
	keys, err := queryAll[string](ctx, s.db.Database, aql, map[string]interface{}{
		"key":      exec.Key,
		"doc":      exec,
		"terminal": terminalStatuses(),
	})
	if err != nil {
		return classify(err, "update execution "+exec.Key)
	}
	if len(keys) == 0 {
		return fmt.Errorf("execution %s is missing or terminal: %w", exec.Key, store.ErrConflict)
	}
	return nil
}

// ListExecutionsByPlan returns the plan's executions oldest first.
func (s *Store) ListExecutionsByPlan(ctx context.Context, planID string) ([]*model.Execution, error) {
	return listBy[model.Execution](ctx, s.db.Database, database.ColExecution, "plan_id", planID, "DATE_TIMESTAMP(d.created_at) ASC")
}

// ListCompletedExecutions returns terminal executions completed in [from, to).
func (s *Store) ListCompletedExecutions(ctx context.Context, from, to time.Time) ([]*model.Execution, error) {
	aql := `
		FOR e IN execution
			FILTER e.status IN @terminal AND e.completed_at != null
			LET done = DATE_TIMESTAMP(e.completed_at)
			FILTER done >= @from AND done < @to
			SORT done ASC
			RETURN e
	`
	docs, err := queryAll[model.Execution](ctx, s.db.Database, aql, map[string]interface{}{
		"terminal": terminalStatuses(),
		"from":     from.UnixMilli(),
		"to":       to.UnixMilli(),
	})
	return docs, classify(err, "list completed executions")
}

// CompleteExecution runs the guarded terminal transition and the patch counter
// update as a single AQL statement, so both land or neither does.
func (s *Store) CompleteExecution(ctx context.Context, exec *model.Execution) (bool, error) {
	if !exec.Status.IsTerminal() {
		return false, fmt.Errorf("execution %s: status %s is not terminal", exec.Key, exec.Status)
	}
	now := time.Now().UTC()
	exec.UpdatedAt = now
	d := model.DeltaFor(exec)

	aql := `
		LET target = DOCUMENT("patch", @patch)
		LET moved = (
			FOR e IN execution
				FILTER e._key == @key AND e.status NOT IN @terminal AND target != null
				REPLACE e WITH @doc IN execution
				RETURN NEW._key
		)
		LET counted = (
			FOR p IN patch
				FILTER p._key == @patch AND LENGTH(moved) > 0
				LET installs = p.installations_count + @installs
				LET successes = p.success_count + @success
				UPDATE p WITH {
					installations_count: installs,
					success_count: successes,
					failure_count: p.failure_count + @failure,
					rollback_count: p.rollback_count + @rollback,
					success_rate: installs > 0 ? successes / installs : 0,
					updated_at: @now
				} IN patch
				RETURN 1
		)
		RETURN target == null ? -1 : LENGTH(moved)
	`
	res, err := queryAll[int](ctx, s.db.Database, aql, map[string]interface{}{
		"key":      exec.Key,
		"doc":      exec,
		"terminal": terminalStatuses(),
		"patch":    exec.PatchID,
		"installs": d.Installations,
		"success":  d.Success,
		"failure":  d.Failure,
		"rollback": d.Rollback,
		"now":      now,
	})
	if err != nil {
		return false, classify(err, "complete execution "+exec.Key)
	}
	if len(res) == 1 && *res[0] < 0 {
		return false, fmt.Errorf("complete execution %s: patch %s: %w", exec.Key, exec.PatchID, store.ErrNotFound)
	}
	return len(res) == 1 && *res[0] > 0, nil
}

// ============================================================================
// ASSESSMENTS & DECISIONS
// ============================================================================

// CreateAssessment inserts an immutable assessment.
func (s *Store) CreateAssessment(ctx context.Context, a *model.RiskAssessment) error {
	return s.insert(ctx, database.ColAssessment, a, "assessment "+a.Key)
}

// GetAssessment loads an assessment by key.
func (s *Store) GetAssessment(ctx context.Context, id string) (*model.RiskAssessment, error) {
	return getByKey[model.RiskAssessment](ctx, s.db.Database, database.ColAssessment, id)
}

// CreateDecision inserts a decision record.
func (s *Store) CreateDecision(ctx context.Context, d *model.AutonomousDecision) error {
	return s.insert(ctx, database.ColDecision, d, "decision "+d.Key)
}

// ListDecisionsByPlan returns the plan's decisions oldest first.
func (s *Store) ListDecisionsByPlan(ctx context.Context, planID string) ([]*model.AutonomousDecision, error) {
	return listBy[model.AutonomousDecision](ctx, s.db.Database, database.ColDecision, "plan_id", planID, "DATE_TIMESTAMP(d.created_at) ASC")
}

// ============================================================================
// SNAPSHOTS & STAGES
// ============================================================================

// CreateSnapshot inserts a snapshot document.
func (s *Store) CreateSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return s.insert(ctx, database.ColSnapshot, snap, "snapshot "+snap.Key)
}

// GetSnapshot loads a snapshot by key.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	return getByKey[model.Snapshot](ctx, s.db.Database, database.ColSnapshot, id)
}

// UpdateSnapshot replaces a snapshot document.
func (s *Store) UpdateSnapshot(ctx context.Context, snap *model.Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	return s.replace(ctx, database.ColSnapshot, snap.Key, snap, "snapshot "+snap.Key)
}

// ListSnapshotsByExecution returns the execution's snapshots oldest first.
func (s *Store) ListSnapshotsByExecution(ctx context.Context, executionID string) ([]*model.Snapshot, error) {
	return listBy[model.Snapshot](ctx, s.db.Database, database.ColSnapshot, "execution_id", executionID, "DATE_TIMESTAMP(d.created_at) ASC")
}

// ListExpiredSnapshots returns READY snapshots whose expiry has passed.
func (s *Store) ListExpiredSnapshots(ctx context.Context, now time.Time) ([]*model.Snapshot, error) {
	aql := `
		FOR s IN snapshot
			FILTER s.status == "READY" AND DATE_TIMESTAMP(s.expires_at) <= @now
			RETURN s
	`
	docs, err := queryAll[model.Snapshot](ctx, s.db.Database, aql, map[string]interface{}{"now": now.UnixMilli()})
	return docs, classify(err, "list expired snapshots")
}

// CreateStage inserts a stage document.
func (s *Store) CreateStage(ctx context.Context, stage *model.DeploymentStage) error {
	return s.insert(ctx, database.ColStage, stage, "stage "+stage.Key)
}

// UpdateStage replaces a stage document.
func (s *Store) UpdateStage(ctx context.Context, stage *model.DeploymentStage) error {
	stage.UpdatedAt = time.Now().UTC()
	return s.replace(ctx, database.ColStage, stage.Key, stage, "stage "+stage.Key)
}

// ListStagesByExecution returns the execution's stages by stage number.
func (s *Store) ListStagesByExecution(ctx context.Context, executionID string) ([]*model.DeploymentStage, error) {
	return listBy[model.DeploymentStage](ctx, s.db.Database, database.ColStage, "execution_id", executionID, "d.stage_number ASC")
}

// ============================================================================
// AUDIT
// ============================================================================

// AppendAuditEntry inserts an entry; the unique (chain_id, sequence) index rejects reuse.
func (s *Store) AppendAuditEntry(ctx context.Context, e *model.AuditLogEntry) error {
	return s.insert(ctx, database.ColAudit, e, fmt.Sprintf("audit chain %s sequence %d", e.ChainID, e.Sequence))
}

// LastAuditEntry returns the highest-sequence entry of the chain.
func (s *Store) LastAuditEntry(ctx context.Context, chainID string) (*model.AuditLogEntry, error) {
	aql := `FOR a IN audit_log FILTER a.chain_id == @chain SORT a.sequence DESC LIMIT 1 RETURN a`
	docs, err := queryAll[model.AuditLogEntry](ctx, s.db.Database, aql, map[string]interface{}{"chain": chainID})
	if err != nil {
		return nil, classify(err, "audit chain "+chainID)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// ListAuditEntries returns the chain ordered by sequence.
func (s *Store) ListAuditEntries(ctx context.Context, chainID string) ([]*model.AuditLogEntry, error) {
	return listBy[model.AuditLogEntry](ctx, s.db.Database, database.ColAudit, "chain_id", chainID, "d.sequence ASC")
}

// ============================================================================
// PATCHES
// ============================================================================

// UpsertPatch inserts a catalog entry or refreshes its metadata without touching counters.
func (s *Store) UpsertPatch(ctx context.Context, p *model.Patch) error {
	p.UpdatedAt = time.Now().UTC()
	aql := `
		UPSERT { _key: @key }
		INSERT @doc
		UPDATE UNSET(@doc, "_key", "created_at", "installations_count", "success_count",
			"failure_count", "rollback_count", "success_rate")
		IN patch
	`
	return s.run(ctx, aql, map[string]interface{}{"key": p.Key, "doc": p}, "patch "+p.Key)
}

// GetPatch loads a patch by key.
func (s *Store) GetPatch(ctx context.Context, id string) (*model.Patch, error) {
	return getByKey[model.Patch](ctx, s.db.Database, database.ColPatch, id)
}

// ListPatches returns the catalog ordered by key.
func (s *Store) ListPatches(ctx context.Context) ([]*model.Patch, error) {
	docs, err := queryAll[model.Patch](ctx, s.db.Database, `FOR p IN patch SORT p._key RETURN p`, nil)
	return docs, classify(err, "list patches")
}

// ============================================================================
// METRICS
// ============================================================================

// UpsertMetricsBucket replaces the bucket with the same (date, hour) key.
func (s *Store) UpsertMetricsBucket(ctx context.Context, b *model.MetricsBucket) error {
	aql := `UPSERT { _key: @key } INSERT @doc REPLACE @doc IN metrics_hourly`
	return s.run(ctx, aql, map[string]interface{}{"key": b.Key, "doc": b}, "metrics bucket "+b.Key)
}

// ListMetricsBuckets returns buckets whose hour lies in [from, to), oldest first.
func (s *Store) ListMetricsBuckets(ctx context.Context, from, to time.Time) ([]*model.MetricsBucket, error) {
	aql := `FOR b IN metrics_hourly FILTER b._key >= @lo AND b._key < @hi SORT b._key RETURN b`
	docs, err := queryAll[model.MetricsBucket](ctx, s.db.Database, aql, map[string]interface{}{
		"lo": model.BucketKey(from),
		"hi": model.BucketKey(to),
	})
	return docs, classify(err, "list metrics buckets")
}

// GetLastRun returns the stored watermark of job.
func (s *Store) GetLastRun(ctx context.Context, job string) (time.Time, error) {
	return util.GetLastRun(ctx, s.db, job)
}

// SaveLastRun stores the watermark of job.
func (s *Store) SaveLastRun(ctx context.Context, job string, t time.Time) error {
	return util.SaveLastRun(ctx, s.db, job, t)
}
