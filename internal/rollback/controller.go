// Package rollback restores an execution's live snapshot after a failed or
// aborted deployment.
package rollback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/model"
)

// Restorer restores a snapshot by id.
type Restorer interface {
	Restore(ctx context.Context, snapshotID string) (*model.Snapshot, error)
}

// Result is the outcome of a rollback as recorded on the execution.
type Result struct {
	Performed  bool   `json:"rollback_performed"`
	Success    bool   `json:"rollback_success"`
	Reason     string `json:"rollback_reason,omitempty"`
	DurationMs int64  `json:"rollback_duration_ms"`
	Escalated  bool   `json:"escalated"`
}

// ResultOf reads the rollback fields of exec.
func ResultOf(exec *model.Execution) Result {
	r := Result{
		Performed:  exec.RollbackPerformed,
		Reason:     exec.RollbackReason,
		DurationMs: exec.RollbackDurationMs,
		Escalated:  exec.Escalated,
	}
	if exec.RollbackSuccess != nil {
		r.Success = *exec.RollbackSuccess
	}
	return r
}

// Controller performs rollbacks.
type Controller struct {
	snapshots Restorer
	logger    *zap.Logger
}

// NewController creates a controller.
func NewController(snapshots Restorer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{snapshots: snapshots, logger: logger}
}

// Rollback restores exec's snapshot and records the outcome on exec.
//
// It is idempotent: once a rollback has been attempted the stored result is
// returned without restoring again. When nothing was deployed it is a no-op.
// A failed restore escalates the execution and returns RollbackFailure.
func (c *Controller) Rollback(ctx context.Context, exec *model.Execution, reason string) (Result, error) {
	const op = "rollback.Rollback"
	if exec.RollbackPerformed {
		res := ResultOf(exec)
		if !res.Success {
			return res, errs.Errorf(errs.KindRollbackFailure, op, "previous rollback of execution %s failed", exec.Key)
		}
		return res, nil
	}
	if !exec.Deployed {
		c.logger.Debug("Nothing deployed; rollback skipped", zap.String("execution_id", exec.Key))
		return Result{}, nil
	}

	exec.Phase = model.PhaseRollback
	exec.RollbackPerformed = true
	exec.RollbackReason = reason

	start := time.Now()
	var err error
	if exec.SnapshotID == "" {
		err = errs.Errorf(errs.KindRollbackFailure, op, "execution %s has no snapshot to restore", exec.Key)
	} else {
		_, err = c.snapshots.Restore(ctx, exec.SnapshotID)
	}
	exec.RollbackDurationMs = time.Since(start).Milliseconds()
	exec.RollbackSuccess = model.BoolPtr(err == nil)

	if err != nil {
		exec.Escalated = true
		c.logger.Error("Rollback failed; escalating to a human",
			zap.String("execution_id", exec.Key),
			zap.String("snapshot_id", exec.SnapshotID),
			zap.Error(err))
		return ResultOf(exec), errs.E(errs.KindRollbackFailure, op, err)
	}

	c.logger.Info("Rollback completed",
		zap.String("execution_id", exec.Key),
		zap.String("reason", reason),
		zap.Int64("duration_ms", exec.RollbackDurationMs))
	return ResultOf(exec), nil
}
