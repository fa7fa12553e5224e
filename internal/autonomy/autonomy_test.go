package autonomy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/model"
)

// Wednesday 2026-03-04 10:00 UTC
var midweek = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func TestDecideByLevel(t *testing.T) {
	g := NewGate(DefaultPolicy())
	tests := []struct {
		level    model.AutonomyLevel
		required bool
		want     Outcome
	}{
		{5, false, OutcomeAutoApprove},
		{4, false, OutcomeAutoApprove},
		{3, false, OutcomeRequireApproval},
		{2, false, OutcomeRequireApproval},
		{0, false, OutcomeRequireApproval},
		{5, true, OutcomeRequireApproval},
	}
	for _, tt := range tests {
		d := g.Decide(tt.level, tt.required, midweek)
		assert.Equal(t, tt.want, d.Outcome, "level %d required=%v", tt.level, tt.required)
		if d.Outcome == OutcomeRequireApproval {
			assert.Equal(t, midweek.Add(72*time.Hour), d.ExpiresAt)
		}
	}
}

func TestLevelFourDefersOutsideBusinessHours(t *testing.T) {
	g := NewGate(DefaultPolicy())
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	d := g.Decide(4, false, saturday)
	assert.Equal(t, OutcomeDefer, d.Outcome)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), d.NotBefore)

	assert.Equal(t, OutcomeAutoApprove, g.Decide(5, false, saturday).Outcome)
}

func TestNextOpenSameDayBeforeStart(t *testing.T) {
	bh := DefaultBusinessHours()
	early := time.Date(2026, 3, 4, 6, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), bh.NextOpen(early))
	assert.Equal(t, midweek, bh.NextOpen(midweek))

	evening := time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC) // Friday
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), bh.NextOpen(evening))
}

func TestNoBusinessHoursMeansAlwaysOpen(t *testing.T) {
	g := NewGate(Policy{})
	d := g.Decide(4, false, time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, OutcomeAutoApprove, d.Outcome)
	assert.Equal(t, DefaultApprovalTTL, g.ApprovalTTL())
}

func TestApprovalCodeRoundTrip(t *testing.T) {
	code, hash, err := IssueApprovalCode()
	require.NoError(t, err)
	assert.NotEqual(t, code, hash)
	assert.True(t, VerifyApprovalCode(code, hash))
	assert.False(t, VerifyApprovalCode(code+"x", hash))
	assert.False(t, VerifyApprovalCode("", hash))
}

func TestHumanOverrideReferencesOriginal(t *testing.T) {
	d := HumanOverride("plan-1", "alice", model.HumanModified, "approved", "switch to canary", "dec-1")
	assert.Equal(t, model.DecisionApproval, d.DecisionType)
	assert.Equal(t, model.HumanModified, d.HumanDecision)
	assert.Equal(t, "alice", d.DecidedBy)
	assert.Equal(t, "dec-1", d.Supersedes)
}

func TestBusinessHoursValidate(t *testing.T) {
	assert.NoError(t, DefaultBusinessHours().Validate())
	assert.Error(t, BusinessHours{StartHour: 17, EndHour: 9}.Validate())
}
