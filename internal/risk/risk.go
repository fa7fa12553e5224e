// Package risk scores candidate remediations and proposes an autonomy level and
// deployment strategy for each.
package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/util"
)

// DefaultWeights returns the baseline factor weights. They sum to 1.
func DefaultWeights() model.RiskWeights {
	return model.RiskWeights{
		Severity:            0.25,
		Exploitability:      0.20,
		AssetCriticality:    0.20,
		PatchMaturity:       0.10,
		DependencyRisk:      0.10,
		RollbackFeasibility: 0.05,
		ComplianceImpact:    0.05,
		TimingSensitivity:   0.05,
	}
}

// Thresholds maps a total risk score onto an autonomy level.
//
//	risk <  FullAutonomy                    level 5 when confidence >= MinConfidence, else 4
//	risk <  Approval                        level 3
//	risk <  (Approval+ManualOnly)/2         level 2
//	risk <  ManualOnly                      level 1
//	risk >= ManualOnly                      level 0
type Thresholds struct {
	FullAutonomy  float64 `json:"full_autonomy" yaml:"full_autonomy"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	Approval      float64 `json:"approval" yaml:"approval"`
	ManualOnly    float64 `json:"manual_only" yaml:"manual_only"`
}

// DefaultThresholds returns the baseline anchors 0.15 / 0.8 / 0.5 / 0.8.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FullAutonomy:  0.15,
		MinConfidence: 0.8,
		Approval:      0.5,
		ManualOnly:    0.8,
	}
}

// Validate checks that the anchors are ordered and inside [0,1].
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"full_autonomy": t.FullAutonomy, "min_confidence": t.MinConfidence,
		"approval": t.Approval, "manual_only": t.ManualOnly,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s=%v outside [0,1]", name, v)
		}
	}
	if !(t.FullAutonomy <= t.Approval && t.Approval <= t.ManualOnly) {
		return fmt.Errorf("thresholds must satisfy full_autonomy <= approval <= manual_only")
	}
	return nil
}

// Level returns the autonomy level for a risk score and confidence. For a fixed
// confidence the result never increases as risk increases.
func (t Thresholds) Level(risk, confidence float64) model.AutonomyLevel {
	switch {
	case risk < t.FullAutonomy:
		if confidence >= t.MinConfidence {
			return model.AutonomyFull
		}
		return 4
	case risk < t.Approval:
		return 3
	case risk < (t.Approval+t.ManualOnly)/2:
		return 2
	case risk < t.ManualOnly:
		return 1
	}
	return model.AutonomyManual
}

// Strategy proposes a rollout strategy. A valid hint is honoured below the approval
// anchor; riskier changes always get a canary.
func (t Thresholds) Strategy(risk float64, hint model.Strategy) model.Strategy {
	if hint.Valid() && risk < t.Approval {
		return hint
	}
	switch {
	case risk < t.FullAutonomy:
		return model.StrategyAllAtOnce
	case risk < t.Approval:
		return model.StrategyRolling
	}
	return model.StrategyCanary
}

// Score returns the clipped weighted sum of the present factors and how many were present.
// Missing factors contribute nothing.
func Score(f model.RiskFactors, w model.RiskWeights) (float64, int) {
	var total float64
	present := 0
	for _, p := range f.Pairs(w) {
		if p.Score == nil {
			continue
		}
		present++
		total += p.Weight * clip(*p.Score)
	}
	return clip(total), present
}

// Confidence is the fraction of present factors scaled by the signal quality.
func Confidence(present int, quality float64) float64 {
	if quality <= 0 || quality > 1 {
		quality = 1
	}
	return clip(float64(present) / float64(model.FactorCount) * quality)
}

// MissingMandatory lists the mandatory factors that are absent.
func MissingMandatory(f model.RiskFactors) []string {
	var missing []string
	if f.Severity == nil {
		missing = append(missing, "severity")
	}
	if f.Exploitability == nil {
		missing = append(missing, "exploitability")
	}
	return missing
}

func clip(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// reasoning renders the machine-generated explanation stored on the assessment.
func reasoning(f model.RiskFactors, w model.RiskWeights, total, confidence float64, level model.AutonomyLevel, strategy model.Strategy, notes []string) string {
	type contribution struct {
		name  string
		value float64
	}
	var contribs []contribution
	var missing []string
	for _, p := range f.Pairs(w) {
		if p.Score == nil {
			missing = append(missing, p.Name)
			continue
		}
		contribs = append(contribs, contribution{p.Name, p.Weight * clip(*p.Score)})
	}
	sort.SliceStable(contribs, func(i, j int) bool { return contribs[i].value > contribs[j].value })

	var b strings.Builder
	fmt.Fprintf(&b, "risk %.2f with confidence %.2f; autonomy level %d; strategy %s.", total, confidence, level, strategy)
	if f.Severity != nil {
		fmt.Fprintf(&b, " Severity rated %s.", util.GetSeverityRating(clip(*f.Severity)*10))
	}
	if len(contribs) > 0 {
		top := contribs
		if len(top) > 3 {
			top = top[:3]
		}
		parts := make([]string, 0, len(top))
		for _, c := range top {
			parts = append(parts, fmt.Sprintf("%s %.3f", c.name, c.value))
		}
		fmt.Fprintf(&b, " Top contributors: %s.", strings.Join(parts, ", "))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, " Missing factors: %s.", strings.Join(missing, ", "))
	}
	for _, n := range notes {
		b.WriteString(" ")
		b.WriteString(n)
		if !strings.HasSuffix(n, ".") {
			b.WriteString(".")
		}
	}
	return b.String()
}
