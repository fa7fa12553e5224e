// Package services provides the execution backends the engine drives: in-process
// simulators for development and tests, and HTTP clients for real collaborators.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ortelius/pdvd-remediation/internal/deploy"
	"github.com/ortelius/pdvd-remediation/internal/risk"
	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/snapshot"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

// SimulatedSnapshots captures nothing and always restores successfully unless
// told otherwise.
type SimulatedSnapshots struct {
	mu sync.Mutex

	CaptureErr  error
	VerifyFails bool
	RestoreErr  error
	Delay       time.Duration

	captured map[string]bool
	restores int
}

// Capture records the snapshot and returns a synthetic location and checksum.
func (s *SimulatedSnapshots) Capture(ctx context.Context, snap *model.Snapshot) (snapshot.Capture, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return snapshot.Capture{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CaptureErr != nil {
		return snapshot.Capture{}, s.CaptureErr
	}
	if s.captured == nil {
		s.captured = make(map[string]bool)
	}
	s.captured[snap.Key] = true
	sum := sha256.Sum256([]byte(snap.ExecutionID + "/" + snap.Key))
	return snapshot.Capture{
		Method:    "simulated-" + string(snap.Type),
		Location:  "sim://snapshots/" + snap.Key,
		SizeBytes: int64(len(snap.AssetIDs)) << 20,
		Checksum:  hex.EncodeToString(sum[:]),
	}, nil
}

// Verify confirms a previously captured snapshot.
func (s *SimulatedSnapshots) Verify(_ context.Context, snap *model.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured[snap.Key] && !s.VerifyFails, nil
}

// Restore counts the restore.
func (s *SimulatedSnapshots) Restore(ctx context.Context, _ *model.Snapshot) error {
	if err := sleep(ctx, s.Delay); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores++
	return s.RestoreErr
}

// Restores returns the number of restore calls.
func (s *SimulatedSnapshots) Restores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restores
}

// ============================================================================
// SANDBOX
// ============================================================================

// SimulatedSandbox returns a fixed result after Delay.
type SimulatedSandbox struct {
	mu sync.Mutex

	Result sandbox.Result
	Err    error
	// Errs, when non-empty, is consumed one per run before Err applies.
	Errs  []error
	Delay time.Duration

	runs int
}

// NewSimulatedSandbox returns a sandbox where 40 of 40 tests pass.
func NewSimulatedSandbox() *SimulatedSandbox {
	return &SimulatedSandbox{Result: sandbox.Result{
		Passed:           true,
		TestsRun:         40,
		TestsPassed:      40,
		PerformanceScore: 0.97,
	}}
}

// Run returns the configured result.
func (s *SimulatedSandbox) Run(ctx context.Context, _ sandbox.Job) (sandbox.Result, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return sandbox.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		if err != nil {
			return sandbox.Result{}, err
		}
	}
	if s.Err != nil {
		return sandbox.Result{}, s.Err
	}
	return s.Result, nil
}

// Runs returns the number of sandbox runs.
func (s *SimulatedSandbox) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// ============================================================================
// DEPLOYER
// ============================================================================

// Healthy is the telemetry of an undisturbed service.
var Healthy = model.HealthMetrics{ErrorRate: 0.001, ResponseTimeMs: 120, SuccessRate: 0.999}

// SimulatedDeployer applies stages instantly (or after Delay) and reports
// healthy telemetry unless HealthFor says otherwise.
type SimulatedDeployer struct {
	mu sync.Mutex

	// HealthFor overrides the telemetry of a stage. Nil means always Healthy.
	HealthFor func(stage *model.DeploymentStage) model.HealthMetrics
	// ProbeHealth overrides monitoring probes.
	ProbeHealth *model.HealthMetrics
	ApplyErr    error
	Delay       time.Duration
	// OnApply is called before each stage is applied.
	OnApply func(stage *model.DeploymentStage)

	applied []string
}

// ApplyStage applies one stage.
func (d *SimulatedDeployer) ApplyStage(ctx context.Context, _ *model.Execution, stage *model.DeploymentStage) (model.HealthMetrics, error) {
	d.mu.Lock()
	onApply := d.OnApply
	d.mu.Unlock()
	if onApply != nil {
		onApply(stage)
	}
	if err := sleep(ctx, d.Delay); err != nil {
		return model.HealthMetrics{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ApplyErr != nil {
		return model.HealthMetrics{}, d.ApplyErr
	}
	d.applied = append(d.applied, stage.Name)
	if d.HealthFor != nil {
		return d.HealthFor(stage), nil
	}
	return Healthy, nil
}

// Probe reports monitoring health.
func (d *SimulatedDeployer) Probe(ctx context.Context, _ *model.Execution) (model.HealthMetrics, error) {
	if err := ctx.Err(); err != nil {
		return model.HealthMetrics{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ProbeHealth != nil {
		return *d.ProbeHealth, nil
	}
	return Healthy, nil
}

// Applied returns the names of applied stages in order.
func (d *SimulatedDeployer) Applied() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.applied...)
}

// BreachAt returns a HealthFor that breaches the error-rate threshold at the given stage number.
func BreachAt(stageNumber int) func(*model.DeploymentStage) model.HealthMetrics {
	return func(st *model.DeploymentStage) model.HealthMetrics {
		if st.StageNumber == stageNumber {
			return model.HealthMetrics{ErrorRate: 0.12, ResponseTimeMs: 480, SuccessRate: 0.88}
		}
		return Healthy
	}
}

// ============================================================================
// SIGNALS
// ============================================================================

// StaticSignals serves vulnerability and asset signals from memory.
type StaticSignals struct {
	mu     sync.RWMutex
	vulns  map[string]*model.VulnerabilitySignal
	assets map[string]*model.AssetProfile
}

// NewStaticSignals creates an empty provider.
func NewStaticSignals() *StaticSignals {
	return &StaticSignals{
		vulns:  make(map[string]*model.VulnerabilitySignal),
		assets: make(map[string]*model.AssetProfile),
	}
}

// PutVulnerability adds or replaces a vulnerability signal.
func (s *StaticSignals) PutVulnerability(v *model.VulnerabilitySignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vulns[v.ID] = v
}

// PutAsset adds or replaces an asset profile.
func (s *StaticSignals) PutAsset(a *model.AssetProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = a
}

// VulnerabilitySignal returns the signal for id.
func (s *StaticSignals) VulnerabilitySignal(_ context.Context, id string) (*model.VulnerabilitySignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vulns[id]
	if !ok {
		return nil, fmt.Errorf("vulnerability %s: %w", id, store.ErrNotFound)
	}
	return v, nil
}

// AssetProfile returns the profile for id.
func (s *StaticSignals) AssetProfile(_ context.Context, id string) (*model.AssetProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, store.ErrNotFound)
	}
	return a, nil
}

// SignalsSeed is the document accepted by LoadStaticSignals.
type SignalsSeed struct {
	Vulnerabilities []*model.VulnerabilitySignal `json:"vulnerabilities"`
	Assets          []*model.AssetProfile        `json:"assets"`
}

// LoadStaticSignals builds a provider from a JSON seed file.
func LoadStaticSignals(path string) (*StaticSignals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signals seed: %w", err)
	}
	var seed SignalsSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse signals seed: %w", err)
	}
	s := NewStaticSignals()
	for _, v := range seed.Vulnerabilities {
		if v == nil || v.ID == "" {
			return nil, fmt.Errorf("signals seed: vulnerability without id")
		}
		s.PutVulnerability(v)
	}
	for _, a := range seed.Assets {
		if a == nil || a.ID == "" {
			return nil, fmt.Errorf("signals seed: asset without id")
		}
		s.PutAsset(a)
	}
	return s, nil
}

// ErrSimulatedOutage is a convenient transient failure for simulators.
var ErrSimulatedOutage = errors.New("simulated backend outage")

// Ensure compile-time interface checks
var (
	_ snapshot.Backend    = (*SimulatedSnapshots)(nil)
	_ sandbox.Backend     = (*SimulatedSandbox)(nil)
	_ deploy.Deployer     = (*SimulatedDeployer)(nil)
	_ risk.SignalProvider = (*StaticSignals)(nil)
)
