package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/autonomy"
	"github.com/ortelius/pdvd-remediation/model"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	gp, err := p.GatePolicy()
	require.NoError(t, err)
	assert.Equal(t, autonomy.DefaultApprovalTTL, gp.ApprovalTTL)
	require.NotNil(t, gp.BusinessHours)
	assert.Len(t, gp.BusinessHours.Days, 5)
}

func TestParsePolicyOverlaysDefaults(t *testing.T) {
	p, err := ParsePolicy([]byte(`
risk:
  thresholds:
    full_autonomy: 0.1
    min_confidence: 0.9
    approval: 0.4
    manual_only: 0.7
autonomy:
  approval_ttl: 24h
  business_hours:
    timezone: Europe/Berlin
    start: 8
    end: 18
    days: [Monday, tuesday, WED]
coordinator:
  workers: 8
  stages:
    canary_ladder: [10, 50, 100]
    rolling_batches: 2
`))
	require.NoError(t, err)

	assert.Equal(t, 0.4, p.Risk.Thresholds.Approval)
	assert.Equal(t, 0.25, p.Risk.Weights.Severity, "weights keep their defaults")
	assert.Equal(t, 24*time.Hour, p.Autonomy.ApprovalTTL)
	assert.Equal(t, 8, p.Coordinator.Workers)
	assert.Equal(t, 30*time.Minute, p.Coordinator.ExecutionTimeout)
	assert.Equal(t, []int{10, 50, 100}, p.Coordinator.Stages.CanaryLadder)

	gp, err := p.GatePolicy()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", gp.BusinessHours.Location.String())
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, gp.BusinessHours.Days)

	rc := p.RiskConfig()
	assert.Equal(t, 0.1, rc.Thresholds.FullAutonomy)
}

func TestParsePolicyNullBusinessHoursMeansAlwaysOpen(t *testing.T) {
	p, err := ParsePolicy([]byte("autonomy:\n  business_hours: null\n"))
	require.NoError(t, err)
	gp, err := p.GatePolicy()
	require.NoError(t, err)
	assert.Nil(t, gp.BusinessHours)
}

func TestParsePolicyRejects(t *testing.T) {
	cases := map[string]string{
		"weights":    "risk:\n  weights:\n    severity: 0.9\n",
		"thresholds": "risk:\n  thresholds:\n    approval: 0.9\n    manual_only: 0.5\n",
		"ladder":     "coordinator:\n  stages:\n    canary_ladder: [50, 25, 100]\n",
		"day":        "autonomy:\n  business_hours:\n    days: [someday]\n",
		"timezone":   "autonomy:\n  business_hours:\n    timezone: Mars/Olympus\n",
		"pass rate":  "sandbox:\n  pass_rate: 1.5\n",
		"workers":    "coordinator:\n  workers: 0\n",
		"yaml":       "risk: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicyFromFileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  max_retries: 5\n"), 0o600))
	t.Setenv("WORKERS", "2")
	t.Setenv("EXECUTION_TIMEOUT", "45m")
	t.Setenv("SANDBOX_PASS_RATE", "0.9")

	p, err := LoadPolicy(&Config{PolicyPath: path}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5, p.Coordinator.MaxRetries)
	assert.Equal(t, 2, p.Coordinator.Workers)
	assert.Equal(t, 45*time.Minute, p.Coordinator.ExecutionTimeout)
	assert.Equal(t, 0.9, p.Sandbox.PassRate)
}

func TestLoadPolicyRejectsBadPassRateOverride(t *testing.T) {
	t.Setenv("SANDBOX_PASS_RATE", "1.5")
	_, err := LoadPolicy(&Config{PolicyPath: filepath.Join(t.TempDir(), "missing.yaml")}, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadPolicyFallsBackToDefaults(t *testing.T) {
	p, err := LoadPolicy(&Config{PolicyPath: filepath.Join(t.TempDir(), "missing.yaml")}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotVM, p.Coordinator.SnapshotType)
}

func TestSyncPolicyFromRepoRequiresURL(t *testing.T) {
	_, err := SyncPolicyFromRepo("", "token", "")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("SIMULATE_BACKENDS", "false")
	t.Setenv("SANDBOX_URL", "http://sandbox")
	cfg := Load()
	assert.Error(t, cfg.Validate(), "remote backends need every URL")

	cfg.SimulateBackends = true
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}
