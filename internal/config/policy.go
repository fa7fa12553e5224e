package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // business hours may name any IANA zone

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/ortelius/pdvd-remediation/internal/autonomy"
	"github.com/ortelius/pdvd-remediation/internal/coordinator"
	"github.com/ortelius/pdvd-remediation/internal/deploy"
	"github.com/ortelius/pdvd-remediation/internal/risk"
	"github.com/ortelius/pdvd-remediation/internal/sandbox"
	"github.com/ortelius/pdvd-remediation/internal/snapshot"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/util"
)

// Policy is the remediation policy file.
type Policy struct {
	Risk        RiskPolicy              `yaml:"risk"`
	Autonomy    AutonomyPolicy          `yaml:"autonomy"`
	Health      deploy.HealthThresholds `yaml:"health"`
	Sandbox     SandboxPolicy           `yaml:"sandbox"`
	Snapshot    SnapshotPolicy          `yaml:"snapshot"`
	Coordinator coordinator.Config      `yaml:"coordinator"`
}

// RiskPolicy holds the scoring weights and the autonomy anchors.
type RiskPolicy struct {
	Weights    model.RiskWeights `yaml:"weights"`
	Thresholds risk.Thresholds   `yaml:"thresholds"`
}

// AutonomyPolicy configures the approval gate.
type AutonomyPolicy struct {
	ApprovalTTL   time.Duration        `yaml:"approval_ttl"`
	BusinessHours *BusinessHoursPolicy `yaml:"business_hours"`
}

// BusinessHoursPolicy is the YAML form of autonomy.BusinessHours.
type BusinessHoursPolicy struct {
	Timezone string   `yaml:"timezone"`
	Start    int      `yaml:"start"`
	End      int      `yaml:"end"`
	Days     []string `yaml:"days"`
}

// SandboxPolicy configures the sandbox gate.
type SandboxPolicy struct {
	PassRate float64 `yaml:"pass_rate"`
}

// SnapshotPolicy configures snapshot retention.
type SnapshotPolicy struct {
	Retention time.Duration `yaml:"retention"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Risk: RiskPolicy{
			Weights:    risk.DefaultWeights(),
			Thresholds: risk.DefaultThresholds(),
		},
		Autonomy: AutonomyPolicy{
			ApprovalTTL: autonomy.DefaultApprovalTTL,
			BusinessHours: &BusinessHoursPolicy{
				Timezone: "UTC",
				Start:    9,
				End:      17,
				Days:     []string{"mon", "tue", "wed", "thu", "fri"},
			},
		},
		Health:      deploy.DefaultHealthThresholds(),
		Sandbox:     SandboxPolicy{PassRate: sandbox.DefaultPassRate},
		Snapshot:    SnapshotPolicy{Retention: snapshot.DefaultRetention},
		Coordinator: coordinator.DefaultConfig(),
	}
}

// ParsePolicy overlays YAML onto the defaults and validates the result.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// LoadPolicyFile reads and parses a policy file.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// LoadPolicy resolves the policy from the configured git repository, then the
// local file, then the built-in defaults. Environment overrides are applied last.
func LoadPolicy(cfg *Config, logger *zap.Logger) (*Policy, error) {
	var p *Policy
	switch {
	case cfg.PolicyRepo != "":
		data, err := SyncPolicyFromRepo(cfg.PolicyRepo, cfg.PolicyRepoToken, cfg.PolicyRepoFile)
		if err != nil {
			return nil, err
		}
		if p, err = ParsePolicy(data); err != nil {
			return nil, err
		}
		logger.Info("Loaded remediation policy from repository", zap.String("repo", cfg.PolicyRepo))
	default:
		if _, err := os.Stat(cfg.PolicyPath); err != nil {
			logger.Info("No policy file found, using built-in policy", zap.String("path", cfg.PolicyPath))
			p = DefaultPolicy()
			break
		}
		var err error
		if p, err = LoadPolicyFile(cfg.PolicyPath); err != nil {
			return nil, err
		}
		logger.Info("Loaded remediation policy", zap.String("path", cfg.PolicyPath))
	}

	p.ApplyEnv()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy after environment overrides: %w", err)
	}
	return p, nil
}

// ApplyEnv lets operators override the scheduling knobs without editing the policy.
func (p *Policy) ApplyEnv() {
	c := &p.Coordinator
	c.Workers = util.GetEnvInt("WORKERS", c.Workers)
	c.PollInterval = util.GetEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.ExecutionTimeout = util.GetEnvDuration("EXECUTION_TIMEOUT", c.ExecutionTimeout)
	c.RollbackTimeout = util.GetEnvDuration("ROLLBACK_TIMEOUT", c.RollbackTimeout)
	c.MonitorWindow = util.GetEnvDuration("MONITOR_WINDOW", c.MonitorWindow)
	c.MaxRetries = util.GetEnvInt("MAX_RETRIES", c.MaxRetries)
	p.Autonomy.ApprovalTTL = util.GetEnvDuration("APPROVAL_TTL", p.Autonomy.ApprovalTTL)
	p.Sandbox.PassRate = util.GetEnvFloat("SANDBOX_PASS_RATE", p.Sandbox.PassRate)
}

// Validate rejects inconsistent policies.
func (p *Policy) Validate() error {
	w := p.Risk.Weights
	for _, f := range (model.RiskFactors{}).Pairs(w) {
		if f.Weight < 0 || f.Weight > 1 {
			return fmt.Errorf("weight %s=%v outside [0,1]", f.Name, f.Weight)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("risk weights sum to %.3f, want 1", sum)
	}
	if err := p.Risk.Thresholds.Validate(); err != nil {
		return err
	}
	if p.Autonomy.ApprovalTTL <= 0 {
		return fmt.Errorf("approval_ttl must be positive")
	}
	if _, err := p.Autonomy.BusinessHours.resolve(); err != nil {
		return err
	}
	h := p.Health
	if h.MaxErrorRate < 0 || h.MaxErrorRate > 1 || h.MinSuccessRate < 0 || h.MinSuccessRate > 1 {
		return fmt.Errorf("health rates must be within [0,1]")
	}
	if p.Sandbox.PassRate <= 0 || p.Sandbox.PassRate > 1 {
		return fmt.Errorf("sandbox pass_rate must be within (0,1]")
	}
	if p.Snapshot.Retention < 0 {
		return fmt.Errorf("snapshot retention must not be negative")
	}
	if err := p.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}

// RiskConfig returns the assessor configuration.
func (p *Policy) RiskConfig() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.Weights = p.Risk.Weights
	cfg.Thresholds = p.Risk.Thresholds
	return cfg
}

// GatePolicy returns the autonomy gate configuration.
func (p *Policy) GatePolicy() (autonomy.Policy, error) {
	bh, err := p.Autonomy.BusinessHours.resolve()
	if err != nil {
		return autonomy.Policy{}, err
	}
	return autonomy.Policy{ApprovalTTL: p.Autonomy.ApprovalTTL, BusinessHours: bh}, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// resolve converts the YAML form. A nil policy means the window is always open.
func (b *BusinessHoursPolicy) resolve() (*autonomy.BusinessHours, error) {
	if b == nil {
		return nil, nil
	}
	tz := b.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("business_hours timezone %q: %w", tz, err)
	}
	bh := &autonomy.BusinessHours{Location: loc, StartHour: b.Start, EndHour: b.End}
	for _, d := range b.Days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("business_hours day %q is not a weekday", d)
		}
		bh.Days = append(bh.Days, wd)
	}
	if err := bh.Validate(); err != nil {
		return nil, err
	}
	return bh, nil
}
