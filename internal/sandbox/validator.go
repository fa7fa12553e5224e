// Package sandbox gates deployments on a test run against a non-production replica.
package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/model"
)

// DefaultPassRate is the minimum fraction of passing tests.
const DefaultPassRate = 0.95

// Job is what is submitted to a sandbox backend.
type Job struct {
	ExecutionID     string   `json:"execution_id"`
	PlanID          string   `json:"plan_id"`
	PatchID         string   `json:"patch_id"`
	VulnerabilityID string   `json:"vulnerability_id"`
	AssetIDs        []string `json:"asset_ids"`
}

// Result is the backend's report.
type Result struct {
	Passed           bool    `json:"sandbox_passed"`
	TestsRun         int     `json:"tests_run"`
	TestsPassed      int     `json:"tests_passed"`
	TestsFailed      int     `json:"tests_failed"`
	PerformanceScore float64 `json:"performance_score"`
	Detail           string  `json:"detail,omitempty"`
}

// PassRate is passed/run, zero when nothing ran.
func (r Result) PassRate() float64 {
	if r.TestsRun <= 0 {
		return 0
	}
	return float64(r.TestsPassed) / float64(r.TestsRun)
}

// Backend runs a job to completion. An error means the sandbox itself failed,
// not the patch.
type Backend interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// Validator applies the gate rule to backend results.
type Validator struct {
	backend  Backend
	passRate float64
	logger   *zap.Logger
}

// NewValidator creates a validator. passRate <= 0 selects DefaultPassRate.
func NewValidator(backend Backend, passRate float64, logger *zap.Logger) *Validator {
	if passRate <= 0 || passRate > 1 {
		passRate = DefaultPassRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{backend: backend, passRate: passRate, logger: logger}
}

// Validate runs the sandbox for exec and records the test metrics on it.
// Backend errors are transient; a run that fails the gate is a SandboxFailure.
func (v *Validator) Validate(ctx context.Context, exec *model.Execution) (Result, error) {
	const op = "sandbox.Validate"
	start := time.Now()
	res, err := v.backend.Run(ctx, Job{
		ExecutionID:     exec.Key,
		PlanID:          exec.PlanID,
		PatchID:         exec.PatchID,
		VulnerabilityID: exec.VulnerabilityID,
		AssetIDs:        exec.AssetIDs,
	})
	exec.SandboxMs = time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return res, context.Cause(ctx)
		}
		return res, errs.E(errs.KindTransientInfra, op, err)
	}

	exec.TestsRun = res.TestsRun
	exec.TestsPassed = res.TestsPassed
	exec.TestsFailed = res.TestsFailed
	exec.PerformanceScore = res.PerformanceScore

	passed := res.Passed && res.TestsRun > 0 && res.PassRate() >= v.passRate
	exec.SandboxPassed = model.BoolPtr(passed)

	v.logger.Info("Sandbox finished",
		zap.String("execution_id", exec.Key),
		zap.Bool("passed", passed),
		zap.Int("tests_run", res.TestsRun),
		zap.Int("tests_failed", res.TestsFailed))

	if !passed {
		return res, errs.Errorf(errs.KindSandboxFailure, op,
			"sandbox_passed=%v with %d/%d tests passing (required %.2f)", res.Passed, res.TestsPassed, res.TestsRun, v.passRate)
	}
	return res, nil
}
