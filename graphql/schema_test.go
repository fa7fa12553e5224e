package graphql

import (
	"context"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
)

type trails struct {
	st  *store.Memory
	log *audit.Logger
}

func (t trails) GetStatus(ctx context.Context, planID string) (*model.PlanStatusView, error) {
	p, err := t.st.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &model.PlanStatusView{
		PlanID:    p.Key,
		Status:    p.Status,
		Reasoning: p.StatusReason,
		Progress:  model.Progress{Phase: model.PhaseDone, StagesTotal: 2, StagesCompleted: 2, Percent: 100},
	}, nil
}

func (t trails) ListPlanAuditTrail(ctx context.Context, planID string) (*model.AuditTrail, error) {
	return t.log.VerifyChain(ctx, audit.ChainFor(planID, ""))
}

func (t trails) ListAuditTrail(ctx context.Context, executionID string) (*model.AuditTrail, error) {
	return t.log.VerifyChain(ctx, audit.ChainFor("", executionID))
}

func fixture(t *testing.T) (graphql.Schema, *model.RemediationPlan, *model.Execution) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	svc := trails{st: st, log: audit.NewLogger(st, zap.NewNop())}

	plan := model.NewRemediationPlan("CVE-2024-0001", []string{"web-1", "web-2"}, "patch-1", "", 5)
	plan.Status = model.PlanSuccess
	plan.StatusReason = "deployed"
	plan.AutonomyLevel = 4
	plan.ApprovalCodeHash = "secret-hash"
	require.NoError(t, st.CreatePlan(ctx, plan))

	exec := model.NewExecution("", plan, 3)
	exec.Status = model.ExecutionSuccess
	require.NoError(t, st.CreateExecution(ctx, exec))

	stage := model.NewDeploymentStage(1, "canary-50", 50, []string{"web-1"})
	stage.ExecutionID = exec.Key
	stage.Status = model.StageSuccess
	require.NoError(t, st.CreateStage(ctx, stage))

	_, err := svc.log.Append(ctx, audit.Record{
		PlanID:    plan.Key,
		Actor:     model.ActorHuman,
		ActorID:   "alice",
		Category:  model.CategoryPlan,
		NewStatus: string(model.PlanPending),
		Message:   "plan submitted",
		Details:   map[string]string{"priority": "5"},
	})
	require.NoError(t, err)

	require.NoError(t, st.UpsertPatch(ctx, model.NewPatch("patch-1", "openssl", "3.0.14")))

	schema, err := CreateSchema(st, svc)
	require.NoError(t, err)
	return schema, plan, exec
}

func run(schema graphql.Schema, user, query string, vars map[string]interface{}) *graphql.Result {
	ctx := context.Background()
	if user != "" {
		ctx = context.WithValue(ctx, auth.UserKey, user)
	}
	return graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        ctx,
	})
}

func TestPlanQueryResolvesNestedData(t *testing.T) {
	schema, plan, exec := fixture(t)

	res := run(schema, "alice", `query($id: String!) {
		plan(id: $id) {
			key status autonomy_level reasoning
			progress { percent }
			executions { key status stages { name traffic_percentage status } }
			audit_trail { tamper_detected entries { sequence actor_id details { key value } } }
		}
	}`, map[string]interface{}{"id": plan.Key})
	require.Empty(t, res.Errors)

	got := res.Data.(map[string]interface{})["plan"].(map[string]interface{})
	assert.Equal(t, plan.Key, got["key"])
	assert.Equal(t, "SUCCESS", got["status"])
	assert.Equal(t, 4, got["autonomy_level"])
	assert.Equal(t, "deployed", got["reasoning"])
	assert.Equal(t, 100, got["progress"].(map[string]interface{})["percent"])

	execs := got["executions"].([]interface{})
	require.Len(t, execs, 1)
	e := execs[0].(map[string]interface{})
	assert.Equal(t, exec.Key, e["key"])
	stages := e["stages"].([]interface{})
	require.Len(t, stages, 1)
	assert.Equal(t, "canary-50", stages[0].(map[string]interface{})["name"])
	assert.Equal(t, 50, stages[0].(map[string]interface{})["traffic_percentage"])

	trail := got["audit_trail"].(map[string]interface{})
	assert.Equal(t, false, trail["tamper_detected"])
	entries := trail["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].(map[string]interface{})["actor_id"])
}

func TestPlanQueriesRequireAuthentication(t *testing.T) {
	schema, plan, _ := fixture(t)

	res := run(schema, "", `query($id: String!) { plan(id: $id) { key } }`, map[string]interface{}{"id": plan.Key})
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0].Message, "authentication required")
}

func TestPlansFilterAndUnknownPlan(t *testing.T) {
	schema, plan, _ := fixture(t)

	res := run(schema, "alice", `{ success: plans(status: SUCCESS) { key } pending: plans(status: PENDING) { key } missing: plan(id: "nope") { key } }`, nil)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]interface{})
	success := data["success"].([]interface{})
	require.Len(t, success, 1)
	assert.Equal(t, plan.Key, success[0].(map[string]interface{})["key"])
	assert.Empty(t, data["pending"])
	assert.Nil(t, data["missing"])
}

func TestPatchAndMetricsQueries(t *testing.T) {
	schema, _, _ := fixture(t)

	res := run(schema, "", `{ patch(id: "patch-1") { key name version installations_count } hourlyMetrics { key } }`, nil)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]interface{})
	p := data["patch"].(map[string]interface{})
	assert.Equal(t, "openssl", p["name"])
	assert.Equal(t, 0, p["installations_count"])
	assert.Empty(t, data["hourlyMetrics"])
}
