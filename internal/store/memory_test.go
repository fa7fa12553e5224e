package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/model"
)

func TestClaimPlanAllowsSingleActiveExecution(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	plan := model.NewRemediationPlan("CVE-2024-1", []string{"asset-1"}, "patch-1", "", 5)
	require.NoError(t, m.CreatePlan(ctx, plan))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.ClaimPlan(ctx, plan.Key, string(rune('a'+i))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.True(t, errors.Is(err, ErrConflict))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCompleteExecutionAppliesCountersExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertPatch(ctx, model.NewPatch("patch-1", "openssl", "3.0.14")))
	plan := model.NewRemediationPlan("CVE-2024-1", []string{"asset-1"}, "patch-1", "", 5)
	exec := model.NewExecution("", plan, 3)
	require.NoError(t, m.CreateExecution(ctx, exec))

	exec.Status = model.ExecutionSuccess
	applied, err := m.CompleteExecution(ctx, exec)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = m.CompleteExecution(ctx, exec)
	require.NoError(t, err)
	assert.False(t, applied)

	p, err := m.GetPatch(ctx, "patch-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.InstallationsCount)
	assert.EqualValues(t, 1, p.SuccessCount)
	assert.Equal(t, 1.0, p.SuccessRate)
}

func TestCompleteExecutionRequiresCataloguedPatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	plan := model.NewRemediationPlan("CVE-2024-1", []string{"asset-1"}, "no-such-patch", "", 5)
	exec := model.NewExecution("", plan, 3)
	require.NoError(t, m.CreateExecution(ctx, exec))

	exec.Status = model.ExecutionFailed
	applied, err := m.CompleteExecution(ctx, exec)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, applied)

	stored, err := m.GetExecution(ctx, exec.Key)
	require.NoError(t, err)
	assert.False(t, stored.Status.IsTerminal(), "the transition is not applied without its counter update")
}

func TestConcurrentCompletionsKeepSuccessRateConsistent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertPatch(ctx, model.NewPatch("patch-1", "openssl", "3.0.14")))

	statuses := []model.ExecutionStatus{model.ExecutionSuccess, model.ExecutionFailed, model.ExecutionRolledBack, model.ExecutionCancelled}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		plan := model.NewRemediationPlan("CVE-2024-1", []string{"asset-1"}, "patch-1", "", 5)
		exec := model.NewExecution("", plan, 3)
		require.NoError(t, m.CreateExecution(ctx, exec))
		exec.Status = statuses[i%len(statuses)]
		wg.Add(1)
		go func(e *model.Execution) {
			defer wg.Done()
			_, err := m.CompleteExecution(ctx, e)
			assert.NoError(t, err)
		}(exec)
	}
	wg.Wait()

	p, err := m.GetPatch(ctx, "patch-1")
	require.NoError(t, err)
	assert.EqualValues(t, 30, p.InstallationsCount)
	assert.EqualValues(t, 10, p.SuccessCount)
	assert.EqualValues(t, 10, p.FailureCount)
	assert.EqualValues(t, 10, p.RollbackCount)
	assert.InDelta(t, float64(p.SuccessCount)/float64(p.InstallationsCount), p.SuccessRate, 1e-12)
}

func TestUpdateExecutionRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	plan := model.NewRemediationPlan("CVE-2024-1", []string{"asset-1"}, "patch-1", "", 5)
	exec := model.NewExecution("", plan, 3)
	require.NoError(t, m.CreateExecution(ctx, exec))
	exec.Status = model.ExecutionFailed
	_, err := m.CompleteExecution(ctx, exec)
	require.NoError(t, err)

	exec.Status = model.ExecutionSuccess
	err = m.UpdateExecution(ctx, exec)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestListDispatchableOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	low := model.NewRemediationPlan("CVE-1", []string{"a"}, "p", "", 2)
	high := model.NewRemediationPlan("CVE-2", []string{"a"}, "p", "", 9)
	highLater := model.NewRemediationPlan("CVE-3", []string{"a"}, "p", "", 9)
	highLater.CreatedAt = high.CreatedAt.Add(time.Second)
	parked := model.NewRemediationPlan("CVE-4", []string{"a"}, "p", "", 10)
	parked.ApprovalStatus = model.ApprovalAwaiting
	deferred := model.NewRemediationPlan("CVE-5", []string{"a"}, "p", "", 10)
	deferred.NextAttemptAt = model.TimePtr(now.Add(time.Hour))
	running := model.NewRemediationPlan("CVE-6", []string{"a"}, "p", "", 10)
	running.Status = model.PlanApproved
	running.ActiveExecutionID = "exec-1"

	for _, p := range []*model.RemediationPlan{low, high, highLater, parked, deferred, running} {
		require.NoError(t, m.CreatePlan(ctx, p))
	}

	got, err := m.ListDispatchable(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, high.Key, got[0].Key)
	assert.Equal(t, highLater.Key, got[1].Key)
	assert.Equal(t, low.Key, got[2].Key)
}

func TestAuditAppendRejectsDuplicateSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	e := &model.AuditLogEntry{Key: "1", ChainID: "exec-1", Sequence: 1}
	require.NoError(t, m.AppendAuditEntry(ctx, e))
	err := m.AppendAuditEntry(ctx, &model.AuditLogEntry{Key: "2", ChainID: "exec-1", Sequence: 1})
	assert.True(t, errors.Is(err, ErrConflict))

	last, err := m.LastAuditEntry(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "1", last.Key)

	none, err := m.LastAuditEntry(ctx, "exec-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUpsertPatchPreservesCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertPatch(ctx, model.NewPatch("patch-1", "openssl", "3.0.14")))
	plan := model.NewRemediationPlan("CVE-1", []string{"a"}, "patch-1", "", 5)
	exec := model.NewExecution("", plan, 3)
	require.NoError(t, m.CreateExecution(ctx, exec))
	exec.Status = model.ExecutionSuccess
	_, err := m.CompleteExecution(ctx, exec)
	require.NoError(t, err)

	refreshed := model.NewPatch("patch-1", "openssl", "3.0.15")
	require.NoError(t, m.UpsertPatch(ctx, refreshed))
	p, err := m.GetPatch(ctx, "patch-1")
	require.NoError(t, err)
	assert.Equal(t, "3.0.15", p.Version)
	assert.EqualValues(t, 1, p.SuccessCount)
}
