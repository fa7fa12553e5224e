package rollback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/model"
)

type countingRestorer struct {
	calls int
	err   error
}

func (r *countingRestorer) Restore(_ context.Context, id string) (*model.Snapshot, error) {
	r.calls++
	return &model.Snapshot{Key: id}, r.err
}

func deployedExec() *model.Execution {
	exec := model.NewExecution("", model.NewRemediationPlan("CVE-1", []string{"a"}, "p", "", 1), 3)
	exec.Deployed = true
	exec.SnapshotID = "snap-1"
	return exec
}

func TestRollbackIsIdempotent(t *testing.T) {
	r := &countingRestorer{}
	c := NewController(r, nil)
	exec := deployedExec()

	first, err := c.Rollback(context.Background(), exec, "stage 2 breached")
	require.NoError(t, err)
	assert.True(t, first.Performed)
	assert.True(t, first.Success)
	assert.Equal(t, model.PhaseRollback, exec.Phase)

	exec.Status = model.ExecutionRolledBack
	second, err := c.Rollback(context.Background(), exec, "again")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "stage 2 breached", exec.RollbackReason)
}

func TestRollbackNothingDeployedIsNoop(t *testing.T) {
	r := &countingRestorer{}
	exec := deployedExec()
	exec.Deployed = false

	res, err := NewController(r, nil).Rollback(context.Background(), exec, "sandbox failed")
	require.NoError(t, err)
	assert.False(t, res.Performed)
	assert.False(t, exec.RollbackPerformed)
	assert.Zero(t, r.calls)
}

func TestRollbackFailureEscalates(t *testing.T) {
	r := &countingRestorer{err: errors.New("hypervisor unreachable")}
	c := NewController(r, nil)
	exec := deployedExec()

	res, err := c.Rollback(context.Background(), exec, "timeout")
	assert.True(t, errors.Is(err, errs.ErrRollbackFailure))
	assert.False(t, errs.IsTransient(err))
	assert.True(t, res.Escalated)
	assert.False(t, *exec.RollbackSuccess)

	_, err = c.Rollback(context.Background(), exec, "retry")
	assert.True(t, errors.Is(err, errs.ErrRollbackFailure))
	assert.Equal(t, 1, r.calls)
}

func TestRollbackWithoutSnapshotFails(t *testing.T) {
	r := &countingRestorer{}
	exec := deployedExec()
	exec.SnapshotID = ""
	_, err := NewController(r, nil).Rollback(context.Background(), exec, "breach")
	assert.True(t, errors.Is(err, errs.ErrRollbackFailure))
	assert.True(t, exec.Escalated)
	assert.Zero(t, r.calls)
}
