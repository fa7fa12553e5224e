package risk

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// Input is what a FactorSource derives for one plan.
type Input struct {
	Factors model.RiskFactors
	// SignalQuality in (0,1] scales confidence down for stale or partial signals.
	SignalQuality float64
	Notes         []string
}

// FactorSource produces factor scores for a plan.
type FactorSource interface {
	Factors(ctx context.Context, plan *model.RemediationPlan) (Input, error)
}

// FactorFunc adapts a function to FactorSource.
type FactorFunc func(ctx context.Context, plan *model.RemediationPlan) (Input, error)

// Factors calls f.
func (f FactorFunc) Factors(ctx context.Context, plan *model.RemediationPlan) (Input, error) {
	return f(ctx, plan)
}

// Config holds the scoring policy.
type Config struct {
	Weights      model.RiskWeights
	Thresholds   Thresholds
	ModelName    string
	ModelVersion string
}

// DefaultConfig returns the baseline weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights:      DefaultWeights(),
		Thresholds:   DefaultThresholds(),
		ModelName:    "weighted-linear",
		ModelVersion: "1.0.0",
	}
}

// Store is the persistence the assessor needs.
type Store interface {
	store.AssessmentStore
	store.DecisionStore
}

// Assessor produces immutable RiskAssessments.
type Assessor struct {
	cfg    Config
	source FactorSource
	store  Store
	logger *zap.Logger
}

// NewAssessor creates an assessor.
func NewAssessor(cfg Config, source FactorSource, st Store, logger *zap.Logger) *Assessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{cfg: cfg, source: source, store: st, logger: logger}
}

// Config returns the active scoring policy.
func (a *Assessor) Config() Config {
	return a.cfg
}

// Assess scores plan, persists the assessment and its autonomy and strategy
// decisions, and returns the assessment. Missing severity or exploitability
// fails with RiskDataIncomplete and persists nothing.
func (a *Assessor) Assess(ctx context.Context, plan *model.RemediationPlan) (*model.RiskAssessment, error) {
	const op = "risk.Assess"
	start := time.Now()

	in, err := a.source.Factors(ctx, plan)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, errs.E(errs.KindTransientInfra, op, err)
	}

	if missing := MissingMandatory(in.Factors); len(missing) > 0 {
		return nil, errs.Errorf(errs.KindRiskDataIncomplete, op, "plan %s missing mandatory factors: %s",
			plan.Key, strings.Join(missing, ", "))
	}

	total, present := Score(in.Factors, a.cfg.Weights)
	confidence := Confidence(present, in.SignalQuality)
	level := a.cfg.Thresholds.Level(total, confidence)
	strategy := a.cfg.Thresholds.Strategy(total, plan.StrategyHint)

	ra := model.NewRiskAssessment(plan)
	ra.Factors = in.Factors
	ra.Weights = a.cfg.Weights
	ra.TotalRiskScore = total
	ra.Confidence = confidence
	ra.AutonomyLevel = level
	ra.ProposedStrategy = strategy
	ra.Reasoning = reasoning(in.Factors, a.cfg.Weights, total, confidence, level, strategy, in.Notes)
	ra.ModelName = a.cfg.ModelName
	ra.ModelVersion = a.cfg.ModelVersion
	ra.DurationMs = time.Since(start).Milliseconds()

	if err := a.store.CreateAssessment(ctx, ra); err != nil {
		return nil, errs.E(errs.KindTransientInfra, op, err)
	}

	input := factorInput(in.Factors)
	input["total_risk_score"] = total
	decisions := []*model.AutonomousDecision{
		a.decision(plan, model.DecisionAutonomyLevel, input, levelOutcome(level), confidence, ra.Reasoning),
		a.decision(plan, model.DecisionStrategy, map[string]interface{}{
			"total_risk_score": total,
			"strategy_hint":    string(plan.StrategyHint),
		}, string(strategy), confidence, ""),
	}
	for _, d := range decisions {
		if err := a.store.CreateDecision(ctx, d); err != nil {
			return nil, errs.E(errs.KindTransientInfra, op, err)
		}
	}

	a.logger.Info("Risk assessed",
		zap.String("plan_id", plan.Key),
		zap.Float64("risk_score", total),
		zap.Float64("confidence", confidence),
		zap.Int("autonomy_level", int(level)),
		zap.String("strategy", string(strategy)))

	return ra, nil
}

func (a *Assessor) decision(plan *model.RemediationPlan, typ model.DecisionType, input map[string]interface{}, outcome string, confidence float64, why string) *model.AutonomousDecision {
	d := model.NewAutonomousDecision(plan.Key, "", typ, outcome)
	d.ModelName = a.cfg.ModelName
	d.ModelVersion = a.cfg.ModelVersion
	d.Input = input
	d.Confidence = confidence
	d.Reasoning = why
	return d
}

func factorInput(f model.RiskFactors) map[string]interface{} {
	out := make(map[string]interface{}, model.FactorCount)
	for _, p := range f.Pairs(model.RiskWeights{}) {
		if p.Score != nil {
			out[p.Name] = *p.Score
		} else {
			out[p.Name] = nil
		}
	}
	return out
}

func levelOutcome(l model.AutonomyLevel) string {
	return "level-" + strconv.Itoa(int(l))
}
