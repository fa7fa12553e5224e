package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/model"
)

type backendFunc func(ctx context.Context, job Job) (Result, error)

func (f backendFunc) Run(ctx context.Context, job Job) (Result, error) { return f(ctx, job) }

func fixed(res Result, err error) Backend {
	return backendFunc(func(context.Context, Job) (Result, error) { return res, err })
}

func newExec() *model.Execution {
	return model.NewExecution("", model.NewRemediationPlan("CVE-1", []string{"a"}, "p", "", 1), 3)
}

func TestValidateGate(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		ok   bool
	}{
		{"all passing", Result{Passed: true, TestsRun: 100, TestsPassed: 100}, true},
		{"at threshold", Result{Passed: true, TestsRun: 100, TestsPassed: 95, TestsFailed: 5}, true},
		{"below threshold", Result{Passed: true, TestsRun: 100, TestsPassed: 94, TestsFailed: 6}, false},
		{"backend verdict failed", Result{Passed: false, TestsRun: 10, TestsPassed: 10}, false},
		{"nothing ran", Result{Passed: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newExec()
			_, err := NewValidator(fixed(tt.res, nil), 0, nil).Validate(context.Background(), exec)
			require.NotNil(t, exec.SandboxPassed)
			assert.Equal(t, tt.ok, *exec.SandboxPassed)
			assert.Equal(t, tt.res.TestsRun, exec.TestsRun)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, errs.ErrSandboxFailure))
			}
		})
	}
}

func TestValidateBackendErrorIsTransient(t *testing.T) {
	exec := newExec()
	_, err := NewValidator(fixed(Result{}, errors.New("runner unavailable")), 0, nil).Validate(context.Background(), exec)
	assert.True(t, errs.IsTransient(err))
	assert.Nil(t, exec.SandboxPassed)
}

func TestValidateReturnsCancelCause(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errs.ErrCancelled)
	backend := backendFunc(func(ctx context.Context, _ Job) (Result, error) { return Result{}, ctx.Err() })

	_, err := NewValidator(backend, 0, nil).Validate(ctx, newExec())
	assert.True(t, errors.Is(err, errs.ErrCancelled))
}
