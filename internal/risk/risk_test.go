package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

func TestLevelAnchors(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		risk, confidence float64
		want             model.AutonomyLevel
	}{
		{0.10, 0.90, 5},
		{0.10, 0.50, 4},
		{0.15, 0.90, 3},
		{0.49, 0.90, 3},
		{0.60, 0.90, 2},
		{0.70, 0.90, 1},
		{0.80, 0.90, 0},
		{1.00, 1.00, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Level(tt.risk, tt.confidence), "risk=%v confidence=%v", tt.risk, tt.confidence)
	}
}

func TestLevelNeverIncreasesWithRisk(t *testing.T) {
	th := DefaultThresholds()
	for _, confidence := range []float64{0, 0.5, 0.8, 1} {
		prev := model.AutonomyFull
		for i := 0; i <= 100; i++ {
			level := th.Level(float64(i)/100, confidence)
			assert.True(t, level.Valid())
			assert.LessOrEqual(t, level, prev, "risk=%v confidence=%v", float64(i)/100, confidence)
			prev = level
		}
	}
}

func TestScoreClipsAndCountsPresentFactors(t *testing.T) {
	f := model.RiskFactors{
		Severity:       model.Score(2),
		Exploitability: model.Score(1),
	}
	w := model.RiskWeights{Severity: 0.8, Exploitability: 0.8}
	total, present := Score(f, w)
	assert.Equal(t, 1.0, total)
	assert.Equal(t, 2, present)

	total, present = Score(model.RiskFactors{}, DefaultWeights())
	assert.Zero(t, total)
	assert.Zero(t, present)
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, DefaultWeights().Sum(), 1e-9)
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{FullAutonomy: 0.6, Approval: 0.5, ManualOnly: 0.8}.Validate())
}

func TestConfidenceScalesWithCompleteness(t *testing.T) {
	assert.Equal(t, 1.0, Confidence(8, 1))
	assert.Equal(t, 0.5, Confidence(4, 1))
	assert.InDelta(t, 0.45, Confidence(4, 0.9), 1e-9)
	assert.Equal(t, 1.0, Confidence(8, 0), "zero quality is treated as unknown")
}

func TestStrategyHonoursHintOnlyForLowRisk(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, model.StrategyBlueGreen, th.Strategy(0.3, model.StrategyBlueGreen))
	assert.Equal(t, model.StrategyCanary, th.Strategy(0.6, model.StrategyAllAtOnce))
	assert.Equal(t, model.StrategyAllAtOnce, th.Strategy(0.1, ""))
	assert.Equal(t, model.StrategyRolling, th.Strategy(0.3, ""))
}

func uniform(v float64) model.RiskFactors {
	return model.RiskFactors{
		Severity: model.Score(v), Exploitability: model.Score(v), AssetCriticality: model.Score(v),
		PatchMaturity: model.Score(v), DependencyRisk: model.Score(v), RollbackFeasibility: model.Score(v),
		ComplianceImpact: model.Score(v), TimingSensitivity: model.Score(v),
	}
}

func TestAssessPersistsAssessmentAndDecisions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	source := FactorFunc(func(context.Context, *model.RemediationPlan) (Input, error) {
		return Input{Factors: uniform(0.10), SignalQuality: 0.9}, nil
	})
	a := NewAssessor(DefaultConfig(), source, mem, nil)
	plan := model.NewRemediationPlan("CVE-2024-3094", []string{"web-1"}, "patch-1", "", 5)

	ra, err := a.Assess(ctx, plan)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, ra.TotalRiskScore, 1e-9)
	assert.InDelta(t, 0.9, ra.Confidence, 1e-9)
	assert.Equal(t, model.AutonomyFull, ra.AutonomyLevel)
	assert.Equal(t, model.StrategyAllAtOnce, ra.ProposedStrategy)
	assert.Contains(t, ra.Reasoning, "autonomy level 5")
	assert.Contains(t, ra.Reasoning, "Severity rated LOW")

	stored, err := mem.GetAssessment(ctx, ra.Key)
	require.NoError(t, err)
	assert.Equal(t, plan.Key, stored.PlanID)

	decisions, err := mem.ListDecisionsByPlan(ctx, plan.Key)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, model.DecisionAutonomyLevel, decisions[0].DecisionType)
	assert.Equal(t, "level-5", decisions[0].Outcome)
}

func TestAssessMissingMandatoryFactors(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	source := FactorFunc(func(context.Context, *model.RemediationPlan) (Input, error) {
		f := uniform(0.3)
		f.Exploitability = nil
		return Input{Factors: f}, nil
	})
	a := NewAssessor(DefaultConfig(), source, mem, nil)
	plan := model.NewRemediationPlan("CVE-2024-1", []string{"web-1"}, "patch-1", "", 5)

	_, err := a.Assess(ctx, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrRiskDataIncomplete))
	assert.Contains(t, err.Error(), "exploitability")

	decisions, err := mem.ListDecisionsByPlan(ctx, plan.Key)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestAssessClassifiesSourceErrorsAsTransient(t *testing.T) {
	source := FactorFunc(func(context.Context, *model.RemediationPlan) (Input, error) {
		return Input{}, errors.New("connection reset")
	})
	a := NewAssessor(DefaultConfig(), source, store.NewMemory(), nil)
	_, err := a.Assess(context.Background(), model.NewRemediationPlan("CVE-1", []string{"a"}, "p", "", 1))
	assert.True(t, errs.IsTransient(err))
}

type stubSignals struct {
	vulns  map[string]*model.VulnerabilitySignal
	assets map[string]*model.AssetProfile
}

func (s stubSignals) VulnerabilitySignal(_ context.Context, id string) (*model.VulnerabilitySignal, error) {
	if v, ok := s.vulns[id]; ok {
		return v, nil
	}
	return nil, errs.ErrNotFound
}

func (s stubSignals) AssetProfile(_ context.Context, id string) (*model.AssetProfile, error) {
	if a, ok := s.assets[id]; ok {
		return a, nil
	}
	return nil, errs.ErrNotFound
}

func TestDeriverBuildsFactorsFromSignals(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	released := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	patch := model.NewPatch("lodash-4.17.21", "lodash", "4.17.21")
	patch.PackageURL = "pkg:npm/lodash@4.17.21"
	patch.Ecosystem = "npm"
	patch.CompatibleFrom = "4.0.0"
	patch.CompatibleUntil = "5.0.0"
	patch.DependencyCount = 4
	patch.ReleasedAt = &released
	require.NoError(t, mem.UpsertPatch(ctx, patch))

	signals := stubSignals{
		vulns: map[string]*model.VulnerabilitySignal{
			"GHSA-35jh-r3h4-6jhm": {
				ID:         "GHSA-35jh-r3h4-6jhm",
				CVSSVector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H",
				EPSS:       model.Score(0.3),
			},
		},
		assets: map[string]*model.AssetProfile{
			"web-1": {ID: "web-1", Criticality: model.Score(0.4), SnapshotSupported: true,
				Components: []string{"pkg:npm/lodash@4.17.20"}},
			"web-2": {ID: "web-2", Criticality: model.Score(0.9), SnapshotSupported: true,
				ComplianceScopes: []string{"pci"}, Components: []string{"pkg:npm/lodash@3.10.1"}},
		},
	}
	d := NewDeriver(signals, mem)
	d.now = func() time.Time { return released.Add(45 * 24 * time.Hour) }

	plan := model.NewRemediationPlan("GHSA-35jh-r3h4-6jhm", []string{"web-1", "web-2"}, patch.Key, "", 5)
	in, err := d.Factors(ctx, plan)
	require.NoError(t, err)

	require.NotNil(t, in.Factors.Severity)
	assert.InDelta(t, 0.98, *in.Factors.Severity, 1e-9)
	assert.InDelta(t, 0.3, *in.Factors.Exploitability, 1e-9)
	assert.InDelta(t, 0.9, *in.Factors.AssetCriticality, 1e-9)
	assert.InDelta(t, 0.5, *in.Factors.PatchMaturity, 1e-9)
	assert.InDelta(t, 0.1, *in.Factors.RollbackFeasibility, 1e-9)
	assert.InDelta(t, 0.5, *in.Factors.ComplianceImpact, 1e-9)
	assert.InDelta(t, 0.5, *in.Factors.TimingSensitivity, 1e-9)
	assert.Equal(t, 1.0, *in.Factors.DependencyRisk, "web-2 runs an incompatible major version")
	assert.Equal(t, 1.0, in.SignalQuality)
}

func TestDeriverPenalisesPatchStillAffected(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	patch := model.NewPatch("lodash-4.17.20", "lodash", "4.17.20")
	patch.PackageURL = "pkg:npm/lodash@4.17.20"
	require.NoError(t, mem.UpsertPatch(ctx, patch))

	signals := stubSignals{
		vulns: map[string]*model.VulnerabilitySignal{
			"CVE-2021-23337": {
				ID:             "CVE-2021-23337",
				SeverityRating: "HIGH",
				KnownExploited: true,
				OSV: &models.Vulnerability{
					ID: "CVE-2021-23337",
					Affected: []models.Affected{{
						Package: models.Package{Ecosystem: "npm", Name: "lodash"},
						Ranges: []models.Range{{
							Type:   models.RangeSemVer,
							Events: []models.Event{{Introduced: "0"}, {Fixed: "4.17.21"}},
						}},
					}},
				},
			},
		},
		assets: map[string]*model.AssetProfile{},
	}
	d := NewDeriver(signals, mem)
	plan := model.NewRemediationPlan("CVE-2021-23337", []string{"unknown-asset"}, patch.Key, "", 5)

	in, err := d.Factors(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *in.Factors.Exploitability)
	assert.InDelta(t, 0.7, *in.Factors.Severity, 1e-9)
	assert.Nil(t, in.Factors.AssetCriticality)
	assert.InDelta(t, 0.45, in.SignalQuality, 1e-9)
	assert.Len(t, in.Notes, 2)
}

func TestDeriverNotesPatchOffTheFixLine(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	patch := model.NewPatch("lodash-4.17.22", "lodash", "4.17.22")
	patch.PackageURL = "pkg:npm/lodash@4.17.22"
	require.NoError(t, mem.UpsertPatch(ctx, patch))

	signals := stubSignals{
		vulns: map[string]*model.VulnerabilitySignal{
			"CVE-2021-23337": {
				ID: "CVE-2021-23337",
				OSV: &models.Vulnerability{
					ID: "CVE-2021-23337",
					Affected: []models.Affected{{
						Package: models.Package{Ecosystem: "npm", Name: "lodash"},
						Ranges: []models.Range{{
							Type:   models.RangeSemVer,
							Events: []models.Event{{Introduced: "0"}, {Fixed: "4.17.21"}},
						}},
					}},
				},
			},
		},
	}
	d := NewDeriver(signals, mem)
	in, err := d.Factors(ctx, model.NewRemediationPlan("CVE-2021-23337", nil, patch.Key, "", 5))
	require.NoError(t, err)
	assert.Equal(t, 1.0, in.SignalQuality)
	require.Len(t, in.Notes, 1)
	assert.Contains(t, in.Notes[0], "4.17.21")
}

func TestDeriverUnknownVulnerabilityIsIncomplete(t *testing.T) {
	d := NewDeriver(stubSignals{}, store.NewMemory())
	_, err := d.Factors(context.Background(), model.NewRemediationPlan("CVE-0", nil, "p", "", 1))
	assert.True(t, errors.Is(err, errs.ErrRiskDataIncomplete))
}
