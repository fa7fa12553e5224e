package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/util"
)

// SignalProvider is the read-only query interface of the threat-intelligence
// and inventory collaborators.
type SignalProvider interface {
	VulnerabilitySignal(ctx context.Context, id string) (*model.VulnerabilitySignal, error)
	AssetProfile(ctx context.Context, id string) (*model.AssetProfile, error)
}

// PatchCatalog resolves patch metadata.
type PatchCatalog interface {
	GetPatch(ctx context.Context, id string) (*model.Patch, error)
}

// Deriver turns external signals and patch metadata into factor scores.
type Deriver struct {
	signals SignalProvider
	patches PatchCatalog
	now     func() time.Time

	// MaturityHorizon is the patch age after which release age stops adding risk.
	MaturityHorizon time.Duration
}

// NewDeriver creates a Deriver.
func NewDeriver(signals SignalProvider, patches PatchCatalog) *Deriver {
	return &Deriver{
		signals:         signals,
		patches:         patches,
		now:             time.Now,
		MaturityHorizon: 90 * 24 * time.Hour,
	}
}

var _ FactorSource = (*Deriver)(nil)

// Factors derives the eight factors. Per-asset factors take the worst value across
// the plan's assets.
func (d *Deriver) Factors(ctx context.Context, plan *model.RemediationPlan) (Input, error) {
	const op = "risk.Derive"
	in := Input{SignalQuality: 1}
	now := d.now()

	vuln, err := d.signals.VulnerabilitySignal(ctx, plan.VulnerabilityID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return in, errs.Errorf(errs.KindRiskDataIncomplete, op, "vulnerability %s is unknown", plan.VulnerabilityID)
	case err != nil:
		return in, errs.E(errs.KindTransientInfra, op, err)
	}
	in.Factors.Severity = severityFactor(vuln)
	in.Factors.Exploitability = exploitabilityFactor(vuln)

	patch, err := d.patches.GetPatch(ctx, plan.PatchID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		patch = nil
		in.SignalQuality *= 0.8
		in.Notes = append(in.Notes, fmt.Sprintf("Patch %s is not in the catalog", plan.PatchID))
	case err != nil:
		return in, errs.E(errs.KindTransientInfra, op, err)
	}

	if patch != nil {
		in.Factors.PatchMaturity = model.Score(d.maturity(patch, now))
		if vuln.OSV != nil && patch.PackageURL != "" && patch.Version != "" {
			if base, err := util.GetStandardBasePURL(patch.PackageURL); err == nil {
				if util.IsVersionAffectedAny(patch.Version, util.AffectedFor(base, vuln.OSV.Affected)) {
					in.SignalQuality *= 0.5
					in.Notes = append(in.Notes, fmt.Sprintf("Patch version %s is itself listed as affected", patch.Version))
				} else if fixed := util.FixedVersions(base, vuln.OSV.Affected); len(fixed) > 0 && !slices.Contains(fixed, patch.Version) {
					in.Notes = append(in.Notes, fmt.Sprintf("Patch version %s is not an upstream fix release (%s)", patch.Version, strings.Join(fixed, ", ")))
				}
			}
		}
	}

	var critical, rollback, compliance, timing, dependency *float64
	for _, assetID := range plan.AssetIDs {
		asset, err := d.signals.AssetProfile(ctx, assetID)
		if errors.Is(err, errs.ErrNotFound) {
			in.SignalQuality *= 0.9
			in.Notes = append(in.Notes, fmt.Sprintf("Asset %s is not in the inventory", assetID))
			continue
		}
		if err != nil {
			return in, errs.E(errs.KindTransientInfra, op, err)
		}

		if asset.Criticality != nil {
			critical = worst(critical, *asset.Criticality)
		}
		rollback = worst(rollback, rollbackFactor(asset))
		compliance = worst(compliance, complianceFactor(asset))
		timing = worst(timing, timingFactor(asset, now))
		if patch != nil {
			dep, note := dependencyFactor(patch, asset)
			dependency = worst(dependency, dep)
			if note != "" {
				in.Notes = append(in.Notes, note)
			}
		}
	}
	in.Factors.AssetCriticality = critical
	in.Factors.RollbackFeasibility = rollback
	in.Factors.ComplianceImpact = compliance
	in.Factors.TimingSensitivity = timing
	in.Factors.DependencyRisk = dependency

	return in, nil
}

func severityFactor(v *model.VulnerabilitySignal) *float64 {
	if score := util.CalculateCVSSScore(v.CVSSVector); score > 0 {
		return model.Score(clip(score / 10))
	}
	if score, ok := util.HighestCVSSScore(v.OSV); ok {
		return model.Score(clip(score / 10))
	}
	if score := util.GetSeverityScore(v.SeverityRating); score > 0 {
		return model.Score(clip(score / 10))
	}
	return nil
}

func exploitabilityFactor(v *model.VulnerabilitySignal) *float64 {
	switch {
	case v.KnownExploited:
		return model.Score(1)
	case v.PublicExploit:
		base := 0.7
		if v.EPSS != nil {
			base = math.Max(base, *v.EPSS)
		}
		return model.Score(clip(base))
	case v.EPSS != nil:
		return model.Score(clip(*v.EPSS))
	}
	return nil
}

// maturity is high for young patches with a poor track record.
func (d *Deriver) maturity(p *model.Patch, now time.Time) float64 {
	age := 0.6
	if p.ReleasedAt != nil && d.MaturityHorizon > 0 {
		age = clip(1 - float64(now.Sub(*p.ReleasedAt))/float64(d.MaturityHorizon))
	}
	if p.InstallationsCount == 0 {
		return age
	}
	return clip(0.5*age + 0.5*(1-p.SuccessRate))
}

func rollbackFactor(a *model.AssetProfile) float64 {
	if a.SnapshotSupported {
		return 0.1
	}
	return 0.9
}

func complianceFactor(a *model.AssetProfile) float64 {
	switch n := len(a.ComplianceScopes); {
	case n == 0:
		return 0.1
	case n == 1:
		return 0.5
	}
	return 0.8
}

func timingFactor(a *model.AssetProfile, now time.Time) float64 {
	switch {
	case a.MaintenanceWindow == nil:
		return 0.5
	case a.MaintenanceWindow.Contains(now):
		return 0.1
	}
	return 0.7
}

// dependencyFactor scores the transitive footprint of the patch on the asset and
// maxes out when the installed version is outside the patch's compatibility range.
func dependencyFactor(p *model.Patch, a *model.AssetProfile) (float64, string) {
	score := clip(float64(p.DependencyCount) / 20)
	if p.RequiresRestart {
		score = clip(score + 0.2)
	}
	if p.PackageURL == "" {
		return score, ""
	}
	installed, ok := util.InstalledVersion(a.Components, p.PackageURL)
	if !ok {
		return score, ""
	}
	ecosystem := p.Ecosystem
	if ecosystem == "" {
		if purl, err := util.ParsePURL(p.PackageURL); err == nil {
			ecosystem = util.PurlTypeToEcosystem(purl.Type)
		}
	}
	compatible, err := util.InVersionRange(ecosystem, installed, p.CompatibleFrom, p.CompatibleUntil)
	if err != nil || !compatible {
		return 1, fmt.Sprintf("Asset %s runs %s outside the patch compatibility range", a.ID, installed)
	}
	return score, ""
}

func worst(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return model.Score(v)
	}
	return cur
}
