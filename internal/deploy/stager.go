package deploy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Deployer is the deployment execution backend.
type Deployer interface {
	// ApplyStage applies the patch for one stage and reports its health telemetry.
	ApplyStage(ctx context.Context, exec *model.Execution, stage *model.DeploymentStage) (model.HealthMetrics, error)
	// Probe reports current health of everything the execution touched.
	Probe(ctx context.Context, exec *model.Execution) (model.HealthMetrics, error)
}

// StageObserver is told about every stage status change.
type StageObserver func(stage *model.DeploymentStage, prior model.StageStatus)

// Stager runs stages strictly in order, gating each on health.
type Stager struct {
	backend Deployer
	store   store.StageStore
	health  HealthThresholds
	logger  *zap.Logger
	now     func() time.Time
}

// NewStager creates a stager.
func NewStager(backend Deployer, st store.StageStore, health HealthThresholds, logger *zap.Logger) *Stager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stager{backend: backend, store: st, health: health, logger: logger, now: time.Now}
}

// Run executes stages for exec. A verified READY snapshot that became ready
// strictly before the first stage starts is required. On a health breach the stage is
// FAILED, every later stage SKIPPED, and a StageHealthBreach returned. On
// context cancellation the remaining stages are SKIPPED and the cause returned.
func (s *Stager) Run(ctx context.Context, exec *model.Execution, snap *model.Snapshot, stages []*model.DeploymentStage, observe StageObserver) error {
	const op = "deploy.Run"
	if observe == nil {
		observe = func(*model.DeploymentStage, model.StageStatus) {}
	}
	if snap == nil || !snap.Verified || snap.Status != model.SnapshotReady || snap.ReadyAt == nil {
		return errs.Errorf(errs.KindSnapshotCreationFailed, op, "execution %s has no verified READY snapshot", exec.Key)
	}

	for _, st := range stages {
		st.ExecutionID = exec.Key
		if err := s.store.CreateStage(ctx, st); err != nil {
			return errs.E(errs.KindTransientInfra, op, err)
		}
	}
	exec.StagesTotal = len(stages)
	exec.StagesCompleted = 0

	start := s.now()
	defer func() { exec.DeploymentMs = s.now().Sub(start).Milliseconds() }()

	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			cause := context.Cause(ctx)
			s.skip(ctx, stages[i:], "aborted: "+cause.Error(), observe)
			return cause
		}

		started := s.now().UTC()
		if !snap.ReadyAt.Before(started) {
			return errs.Errorf(errs.KindSnapshotCreationFailed, op, "snapshot %s was not ready before stage %d started", snap.Key, st.StageNumber)
		}
		st.StartedAt = &started
		s.transition(ctx, st, model.StageRunning, observe)

		exec.Deployed = true
		h, err := s.backend.ApplyStage(ctx, exec, st)
		if err != nil {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			} else {
				err = errs.E(errs.KindTransientInfra, op, err)
			}
			s.fail(ctx, st, err.Error(), observe)
			s.skip(ctx, stages[i+1:], "previous stage failed", observe)
			return err
		}

		st.Health = &h
		if reason := s.health.Check(h); reason != "" {
			s.fail(ctx, st, reason, observe)
			s.skip(ctx, stages[i+1:], "previous stage breached health thresholds", observe)
			s.logger.Warn("Stage health breach",
				zap.String("execution_id", exec.Key),
				zap.Int("stage", st.StageNumber),
				zap.Int("traffic", st.TrafficPercentage),
				zap.String("reason", reason))
			return errs.Errorf(errs.KindStageHealthBreach, op, "stage %d (%s, %d%% traffic): %s",
				st.StageNumber, st.Name, st.TrafficPercentage, reason)
		}

		done := s.now().UTC()
		st.CompletedAt = &done
		st.ProceedToNextStage = i < len(stages)-1
		s.transition(ctx, st, model.StageSuccess, observe)
		exec.StagesCompleted++
	}
	return nil
}

func (s *Stager) transition(ctx context.Context, st *model.DeploymentStage, to model.StageStatus, observe StageObserver) {
	prior := st.Status
	st.Status = to
	// Stage rows are progress records; a failed write must not abort a rollout half way.
	if err := s.store.UpdateStage(context.WithoutCancel(ctx), st); err != nil {
		s.logger.Warn("Failed to persist stage", zap.String("stage_id", st.Key), zap.Error(err))
	}
	observe(st, prior)
}

func (s *Stager) fail(ctx context.Context, st *model.DeploymentStage, reason string, observe StageObserver) {
	done := s.now().UTC()
	st.CompletedAt = &done
	st.AbortReason = reason
	st.ProceedToNextStage = false
	s.transition(ctx, st, model.StageFailed, observe)
}

func (s *Stager) skip(ctx context.Context, stages []*model.DeploymentStage, reason string, observe StageObserver) {
	for _, st := range stages {
		st.AbortReason = reason
		s.transition(ctx, st, model.StageSkipped, observe)
	}
}

// Monitor probes health every interval for window after the final stage.
// A breach returns StageHealthBreach; window <= 0 disables monitoring.
func (s *Stager) Monitor(ctx context.Context, exec *model.Execution, window, interval time.Duration) error {
	const op = "deploy.Monitor"
	if window <= 0 {
		return nil
	}
	if interval <= 0 || interval > window {
		interval = window
	}
	start := s.now()
	defer func() { exec.MonitoringMs = s.now().Sub(start).Milliseconds() }()

	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-deadline.C:
			return nil
		case <-ticker.C:
			h, err := s.backend.Probe(ctx, exec)
			if err != nil {
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				return errs.E(errs.KindTransientInfra, op, err)
			}
			if reason := s.health.Check(h); reason != "" {
				return errs.Errorf(errs.KindStageHealthBreach, op, "post-deploy monitoring: %s", reason)
			}
		}
	}
}
