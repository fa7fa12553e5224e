package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

var healthy = model.HealthMetrics{ErrorRate: 0.001, ResponseTimeMs: 120, SuccessRate: 0.999}

type fakeDeployer struct {
	mu      sync.Mutex
	byStage map[int]model.HealthMetrics
	probe   model.HealthMetrics
	applied []int
	block   chan struct{}
}

func (f *fakeDeployer) ApplyStage(ctx context.Context, _ *model.Execution, st *model.DeploymentStage) (model.HealthMetrics, error) {
	f.mu.Lock()
	f.applied = append(f.applied, st.StageNumber)
	h, ok := f.byStage[st.StageNumber]
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.HealthMetrics{}, ctx.Err()
		}
	}
	if !ok {
		h = healthy
	}
	return h, nil
}

func (f *fakeDeployer) Probe(context.Context, *model.Execution) (model.HealthMetrics, error) {
	return f.probe, nil
}

func readySnapshot(exec *model.Execution) *model.Snapshot {
	s := model.NewSnapshot(exec, model.SnapshotVM)
	ready := time.Now().UTC().Add(-time.Second)
	s.Status = model.SnapshotReady
	s.Verified = true
	s.ReadyAt = &ready
	s.ExpiresAt = ready.Add(time.Hour)
	return s
}

func newExec(assets ...string) *model.Execution {
	return model.NewExecution("", model.NewRemediationPlan("CVE-1", assets, "p", "", 1), 3)
}

func TestBuildStagesPerStrategy(t *testing.T) {
	assets := []string{"a", "b", "c", "d", "e"}
	cfg := DefaultPlanConfig()

	stages, err := BuildStages(model.StrategyAllAtOnce, assets, cfg)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 100, stages[0].TrafficPercentage)

	stages, err = BuildStages(model.StrategyCanary, assets, cfg)
	require.NoError(t, err)
	var ladder []int
	for _, s := range stages {
		ladder = append(ladder, s.TrafficPercentage)
	}
	assert.Equal(t, []int{5, 25, 50, 100}, ladder)

	stages, err = BuildStages(model.StrategyRolling, assets, cfg)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	seen := map[string]int{}
	for _, s := range stages {
		for _, a := range s.AssetIDs {
			seen[a]++
		}
	}
	assert.Len(t, seen, 5)
	for a, n := range seen {
		assert.Equal(t, 1, n, "asset %s deployed in more than one batch", a)
	}
	assert.Equal(t, 100, stages[2].TrafficPercentage)

	stages, err = BuildStages(model.StrategyBlueGreen, assets, cfg)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, 0, stages[0].TrafficPercentage)
	assert.Equal(t, 100, stages[1].TrafficPercentage)

	_, err = BuildStages(model.StrategyRolling, nil, cfg)
	assert.Error(t, err)
}

func TestPlanConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultPlanConfig().Validate())
	assert.Error(t, PlanConfig{CanaryLadder: []int{50, 25, 100}, RollingBatches: 1}.Validate())
	assert.Error(t, PlanConfig{CanaryLadder: []int{5, 50}, RollingBatches: 1}.Validate())
}

func TestRunCanaryBreachAtSecondStage(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	backend := &fakeDeployer{byStage: map[int]model.HealthMetrics{
		2: {ErrorRate: 0.2, ResponseTimeMs: 150, SuccessRate: 0.8},
	}}
	s := NewStager(backend, mem, DefaultHealthThresholds(), nil)
	exec := newExec("web-1", "web-2")
	stages, err := BuildStages(model.StrategyCanary, exec.AssetIDs, DefaultPlanConfig())
	require.NoError(t, err)

	err = s.Run(ctx, exec, readySnapshot(exec), stages, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStageHealthBreach))
	assert.Equal(t, []int{1, 2}, backend.applied)
	assert.Equal(t, 1, exec.StagesCompleted)

	stored, err := mem.ListStagesByExecution(ctx, exec.Key)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, model.StageSuccess, stored[0].Status)
	assert.True(t, stored[0].ProceedToNextStage)
	assert.Equal(t, model.StageFailed, stored[1].Status)
	assert.Contains(t, stored[1].AbortReason, "error_rate")
	assert.False(t, stored[1].ProceedToNextStage)
	assert.Equal(t, model.StageSkipped, stored[2].Status)
	assert.Equal(t, model.StageSkipped, stored[3].Status)
}

func TestRunStartsStagesAfterSnapshotReady(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := NewStager(&fakeDeployer{}, mem, DefaultHealthThresholds(), nil)
	exec := newExec("web-1")
	snap := readySnapshot(exec)
	stages, _ := BuildStages(model.StrategyCanary, exec.AssetIDs, DefaultPlanConfig())

	var order []model.StageStatus
	require.NoError(t, s.Run(ctx, exec, snap, stages, func(st *model.DeploymentStage, _ model.StageStatus) {
		order = append(order, st.Status)
	}))
	assert.Equal(t, 4, exec.StagesCompleted)
	assert.True(t, exec.Deployed)
	for i, st := range stages {
		require.NotNil(t, st.StartedAt)
		assert.True(t, snap.ReadyAt.Before(*st.StartedAt))
		if i > 0 {
			assert.False(t, st.StartedAt.Before(*stages[i-1].CompletedAt), "stage %d started before its predecessor finished", st.StageNumber)
		}
	}
	assert.False(t, stages[3].ProceedToNextStage)
	assert.Len(t, order, 8)
}

func TestRunRequiresVerifiedSnapshot(t *testing.T) {
	backend := &fakeDeployer{}
	s := NewStager(backend, store.NewMemory(), DefaultHealthThresholds(), nil)
	exec := newExec("web-1")
	snap := readySnapshot(exec)
	snap.Verified = false
	stages, _ := BuildStages(model.StrategyAllAtOnce, exec.AssetIDs, DefaultPlanConfig())

	err := s.Run(context.Background(), exec, snap, stages, nil)
	assert.True(t, errors.Is(err, errs.ErrSnapshotCreationFailed))
	assert.Empty(t, backend.applied)
	assert.False(t, exec.Deployed)
}

func TestRunRefusesSnapshotReadyAtFirstStageStart(t *testing.T) {
	backend := &fakeDeployer{}
	s := NewStager(backend, store.NewMemory(), DefaultHealthThresholds(), nil)
	exec := newExec("web-1")
	snap := readySnapshot(exec)
	s.now = func() time.Time { return *snap.ReadyAt }
	stages, _ := BuildStages(model.StrategyAllAtOnce, exec.AssetIDs, DefaultPlanConfig())

	err := s.Run(context.Background(), exec, snap, stages, nil)
	assert.True(t, errors.Is(err, errs.ErrSnapshotCreationFailed))
	assert.Empty(t, backend.applied)
	assert.False(t, exec.Deployed)
	assert.Nil(t, stages[0].StartedAt)
}

func TestRunCancelledMidStage(t *testing.T) {
	mem := store.NewMemory()
	backend := &fakeDeployer{block: make(chan struct{})}
	s := NewStager(backend, mem, DefaultHealthThresholds(), nil)
	exec := newExec("web-1")
	stages, _ := BuildStages(model.StrategyCanary, exec.AssetIDs, DefaultPlanConfig())

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(errs.ErrCancelled)
	}()
	err := s.Run(ctx, exec, readySnapshot(exec), stages, nil)
	assert.True(t, errors.Is(err, errs.ErrCancelled))
	assert.True(t, exec.Deployed)
	assert.Equal(t, model.StageFailed, stages[0].Status)
	assert.Equal(t, model.StageSkipped, stages[3].Status)
}

func TestMonitorDetectsBreach(t *testing.T) {
	backend := &fakeDeployer{probe: model.HealthMetrics{ErrorRate: 0, ResponseTimeMs: 5000, SuccessRate: 1}}
	s := NewStager(backend, store.NewMemory(), DefaultHealthThresholds(), nil)
	err := s.Monitor(context.Background(), newExec("a"), time.Second, 10*time.Millisecond)
	assert.True(t, errors.Is(err, errs.ErrStageHealthBreach))

	backend.probe = healthy
	exec := newExec("a")
	require.NoError(t, s.Monitor(context.Background(), exec, 50*time.Millisecond, 10*time.Millisecond))
	assert.GreaterOrEqual(t, exec.MonitoringMs, int64(40))
	assert.NoError(t, s.Monitor(context.Background(), exec, 0, 0))
}
