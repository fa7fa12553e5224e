package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	gqlschema "github.com/ortelius/pdvd-remediation/graphql"
	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/auth"
)

func init() {
	auth.SetJWTSecret("router-test-secret")
}

// fakeService records calls and returns canned errors.
type fakeService struct {
	st *store.Memory

	submitted   []model.SubmitPlanRequest
	approvedBy  string
	approveErr  error
	cancelActor string
}

func (f *fakeService) SubmitPlan(ctx context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error) {
	if req.VulnerabilityID == "" {
		return nil, errs.Errorf(errs.KindInvalid, "SubmitPlan", "vulnerability_id is required")
	}
	f.submitted = append(f.submitted, req)
	p := model.NewRemediationPlan(req.VulnerabilityID, req.Assets(), req.PatchID, "", 5)
	return p, f.st.CreatePlan(ctx, p)
}

func (f *fakeService) GetStatus(ctx context.Context, planID string) (*model.PlanStatusView, error) {
	p, err := f.st.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &model.PlanStatusView{PlanID: p.Key, Status: p.Status, Reasoning: "queued"}, nil
}

func (f *fakeService) Approve(ctx context.Context, planID, approver, _, _ string) (*model.RemediationPlan, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	f.approvedBy = approver
	p, err := f.st.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	p.Status = model.PlanApproved
	return p, nil
}

func (f *fakeService) Reject(ctx context.Context, planID, _, _ string) (*model.RemediationPlan, error) {
	p, err := f.st.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	p.Status = model.PlanCancelled
	return p, nil
}

func (f *fakeService) Cancel(_ context.Context, _, actor, _ string) error {
	f.cancelActor = actor
	return nil
}

func (f *fakeService) ListPlanAuditTrail(_ context.Context, planID string) (*model.AuditTrail, error) {
	return &model.AuditTrail{ChainID: "plan/" + planID, Entries: []*model.AuditLogEntry{}}, nil
}

func (f *fakeService) ListAuditTrail(ctx context.Context, executionID string) (*model.AuditTrail, error) {
	if _, err := f.st.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return &model.AuditTrail{ChainID: executionID, Entries: []*model.AuditLogEntry{}}, nil
}

func newTestApp(t *testing.T) (*fiber.App, *fakeService) {
	t.Helper()
	st := store.NewMemory()
	svc := &fakeService{st: st}
	schema, err := gqlschema.CreateSchema(st, svc)
	require.NoError(t, err)

	app := fiber.New()
	SetupRoutes(app, svc, st, schema, zap.NewNop())
	return app, svc
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, app *fiber.App, method, path, tok string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestSubmitPlanRequiresOperator(t *testing.T) {
	app, svc := newTestApp(t)
	body := model.SubmitPlanRequest{VulnerabilityID: "CVE-2024-1", AssetID: "web-1", PatchID: "p-1", SubmittedBy: "mallory"}

	code, _ := do(t, app, http.MethodPost, "/api/v1/plans", "", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, app, http.MethodPost, "/api/v1/plans", token(t, "vic", auth.RoleViewer), body)
	assert.Equal(t, http.StatusForbidden, code)

	code, out := do(t, app, http.MethodPost, "/api/v1/plans", token(t, "olga", auth.RoleOperator), body)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, out["success"])
	assert.NotEmpty(t, out["plan_id"])
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "olga", svc.submitted[0].SubmittedBy, "token identity overrides the body")

	code, out = do(t, app, http.MethodPost, "/api/v1/plans", token(t, "olga", auth.RoleOperator), model.SubmitPlanRequest{AssetID: "web-1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid", out["kind"])
}

func TestPlanStatusAndList(t *testing.T) {
	app, svc := newTestApp(t)
	viewer := token(t, "vic", auth.RoleViewer)

	p := model.NewRemediationPlan("CVE-2024-2", []string{"db-1"}, "p-2", "", 5)
	p.ApprovalCodeHash = "bcrypt-hash"
	require.NoError(t, svc.st.CreatePlan(context.Background(), p))

	code, out := do(t, app, http.MethodGet, "/api/v1/plans/"+p.Key, viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PENDING", out["status"])
	assert.Equal(t, "queued", out["reasoning"])

	code, out = do(t, app, http.MethodGet, "/api/v1/plans/missing", viewer, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, out["success"])

	code, out = do(t, app, http.MethodGet, "/api/v1/plans?status=pending", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	plans := out["plans"].([]interface{})
	require.Len(t, plans, 1)
	_, leaked := plans[0].(map[string]interface{})["approval_code_hash"]
	assert.False(t, leaked)

	code, _ = do(t, app, http.MethodGet, "/api/v1/plans?status=bogus", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApproveMapsErrors(t *testing.T) {
	app, svc := newTestApp(t)
	approver := token(t, "alice", auth.RoleApprover)

	p := model.NewRemediationPlan("CVE-2024-3", []string{"db-1"}, "p-3", "", 5)
	require.NoError(t, svc.st.CreatePlan(context.Background(), p))
	path := "/api/v1/plans/" + p.Key + "/approve"

	code, _ := do(t, app, http.MethodPost, path, token(t, "olga", auth.RoleOperator), model.ApproveRequest{ApprovalCode: "x"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = do(t, app, http.MethodPost, path, approver, model.ApproveRequest{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out := do(t, app, http.MethodPost, path, approver, model.ApproveRequest{ApprovalCode: "good"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "APPROVED", out["status"])
	assert.Equal(t, "alice", svc.approvedBy)

	for kind, want := range map[errs.Kind]int{
		errs.KindUnauthorized:    http.StatusUnauthorized,
		errs.KindConflict:        http.StatusConflict,
		errs.KindApprovalTimeout: http.StatusGone,
		errs.KindTransientInfra:  http.StatusServiceUnavailable,
	} {
		svc.approveErr = errs.Errorf(kind, "Approve", "nope")
		code, out = do(t, app, http.MethodPost, path, approver, model.ApproveRequest{ApprovalCode: "bad"})
		assert.Equal(t, want, code, kind.String())
		assert.Equal(t, kind.String(), out["kind"])
	}
}

func TestRejectAndCancel(t *testing.T) {
	app, svc := newTestApp(t)
	p := model.NewRemediationPlan("CVE-2024-4", []string{"db-1"}, "p-4", "", 5)
	require.NoError(t, svc.st.CreatePlan(context.Background(), p))

	code, out := do(t, app, http.MethodPost, "/api/v1/plans/"+p.Key+"/reject", token(t, "alice", auth.RoleApprover), model.ReasonRequest{Reason: "window"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CANCELLED", out["status"])

	code, _ = do(t, app, http.MethodPost, "/api/v1/plans/"+p.Key+"/cancel", token(t, "olga", auth.RoleOperator), nil)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "olga", svc.cancelActor)
}

func TestExecutionRoutes(t *testing.T) {
	app, svc := newTestApp(t)
	viewer := token(t, "vic", auth.RoleViewer)
	ctx := context.Background()

	p := model.NewRemediationPlan("CVE-2024-5", []string{"db-1"}, "p-5", "", 5)
	exec := model.NewExecution("", p, 3)
	require.NoError(t, svc.st.CreateExecution(ctx, exec))
	stage := model.NewDeploymentStage(1, "all", 100, []string{"db-1"})
	stage.ExecutionID = exec.Key
	require.NoError(t, svc.st.CreateStage(ctx, stage))

	code, out := do(t, app, http.MethodGet, "/api/v1/executions/"+exec.Key, viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, exec.Key, out["_key"])

	code, out = do(t, app, http.MethodGet, "/api/v1/executions/"+exec.Key+"/stages", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["stages"], 1)

	code, out = do(t, app, http.MethodGet, "/api/v1/executions/"+exec.Key+"/snapshots", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, out["snapshots"])

	code, out = do(t, app, http.MethodGet, "/api/v1/executions/"+exec.Key+"/audit", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["tamper_detected"])

	code, _ = do(t, app, http.MethodGet, "/api/v1/executions/missing/stages", viewer, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPatchCatalog(t *testing.T) {
	app, _ := newTestApp(t)
	operator := token(t, "olga", auth.RoleOperator)

	body := map[string]interface{}{
		"name":             "lodash",
		"version":          "4.17.21",
		"purl":             "pkg:npm/lodash@4.17.21",
		"compatible_from":  "4.0.0",
		"compatible_until": "5.0.0",
	}
	code, out := do(t, app, http.MethodPut, "/api/v1/patches/lodash-4.17.21", operator, body)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "npm", out["patch"].(map[string]interface{})["ecosystem"])

	body["compatible_from"] = "6.0.0"
	code, _ = do(t, app, http.MethodPut, "/api/v1/patches/lodash-4.17.21", operator, body)
	assert.Equal(t, http.StatusBadRequest, code, "inverted range")

	body["compatible_from"] = "4.0.0"
	body["purl"] = "not a purl"
	code, _ = do(t, app, http.MethodPut, "/api/v1/patches/lodash-4.17.21", operator, body)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = do(t, app, http.MethodGet, "/api/v1/patches", token(t, "vic", auth.RoleViewer), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["count"])
}

func TestHourlyMetricsWindow(t *testing.T) {
	app, _ := newTestApp(t)
	viewer := token(t, "vic", auth.RoleViewer)

	code, out := do(t, app, http.MethodGet, "/api/v1/metrics/hourly", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, out["buckets"])

	code, _ = do(t, app, http.MethodGet, "/api/v1/metrics/hourly?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/metrics/hourly?from=yesterday", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGraphQLEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	code, out := do(t, app, http.MethodPost, "/api/v1/graphql", "", map[string]interface{}{"query": "{ patches { key } }"})
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, out["errors"])

	code, out = do(t, app, http.MethodPost, "/api/v1/graphql", "", map[string]interface{}{"query": "{ plans { key } }"})
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, out["errors"], "plans need a caller")

	code, out = do(t, app, http.MethodPost, "/api/v1/graphql", token(t, "vic", auth.RoleViewer), map[string]interface{}{"query": "{ plans { key } }"})
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, out["errors"])
}
