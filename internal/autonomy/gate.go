// Package autonomy decides whether an assessed plan may proceed on its own,
// must wait for a human, or must wait for business hours.
package autonomy

import (
	"fmt"
	"time"

	"github.com/ortelius/pdvd-remediation/model"
)

// Outcome is the gate's verdict for a plan.
type Outcome string

// Gate outcomes.
const (
	OutcomeAutoApprove     Outcome = "auto-approve"
	OutcomeRequireApproval Outcome = "require-approval"
	OutcomeDefer           Outcome = "defer"
)

// DefaultApprovalTTL is how long a plan may wait for a human before it is cancelled.
const DefaultApprovalTTL = 72 * time.Hour

// BusinessHours is the weekly window in which level-4 changes may proceed
// without a human.
type BusinessHours struct {
	Location  *time.Location
	StartHour int
	EndHour   int
	Days      []time.Weekday
}

// DefaultBusinessHours is Monday to Friday, 09:00 to 17:00 UTC.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Location:  time.UTC,
		StartHour: 9,
		EndHour:   17,
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// Validate checks the hour bounds.
func (b BusinessHours) Validate() error {
	if b.StartHour < 0 || b.StartHour > 23 || b.EndHour < 1 || b.EndHour > 24 || b.StartHour >= b.EndHour {
		return fmt.Errorf("business hours %02d-%02d are invalid", b.StartHour, b.EndHour)
	}
	return nil
}

func (b BusinessHours) local(t time.Time) time.Time {
	if b.Location != nil {
		return t.In(b.Location)
	}
	return t.UTC()
}

func (b BusinessHours) workday(d time.Weekday) bool {
	if len(b.Days) == 0 {
		return true
	}
	for _, w := range b.Days {
		if w == d {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside the window.
func (b BusinessHours) Contains(t time.Time) bool {
	lt := b.local(t)
	return b.workday(lt.Weekday()) && lt.Hour() >= b.StartHour && lt.Hour() < b.EndHour
}

// NextOpen returns t when the window is open, otherwise the next opening time.
func (b BusinessHours) NextOpen(t time.Time) time.Time {
	if b.Contains(t) {
		return t
	}
	lt := b.local(t)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), b.StartHour, 0, 0, 0, lt.Location())
	for i := 0; i < 8; i++ {
		if day.After(lt) && b.workday(day.Weekday()) {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return t
}

// Policy configures the gate.
type Policy struct {
	// ApprovalTTL bounds how long a plan waits for a human.
	ApprovalTTL time.Duration
	// BusinessHours restricts unattended level-4 changes. Nil means always open.
	BusinessHours *BusinessHours
}

// DefaultPolicy returns a 72h approval window restricted to default business hours.
func DefaultPolicy() Policy {
	bh := DefaultBusinessHours()
	return Policy{ApprovalTTL: DefaultApprovalTTL, BusinessHours: &bh}
}

// Decision is the gate's answer for one plan.
type Decision struct {
	Outcome   Outcome
	Reason    string
	NotBefore time.Time // set for OutcomeDefer
	ExpiresAt time.Time // set for OutcomeRequireApproval
}

// Gate is the pure decision layer over autonomy level, approval flag and time.
type Gate struct {
	policy Policy
}

// NewGate creates a gate.
func NewGate(p Policy) *Gate {
	if p.ApprovalTTL <= 0 {
		p.ApprovalTTL = DefaultApprovalTTL
	}
	return &Gate{policy: p}
}

// ApprovalTTL returns the configured approval window.
func (g *Gate) ApprovalTTL() time.Duration {
	return g.policy.ApprovalTTL
}

// Decide returns the outcome for a plan with the given level and approval flag at now.
//
//	level 5                    auto-approve
//	level 4 in business hours  auto-approve
//	level 4 outside            defer to the next opening
//	level 0..3                 require approval
//	requiresApproval           require approval at any level
func (g *Gate) Decide(level model.AutonomyLevel, requiresApproval bool, now time.Time) Decision {
	if requiresApproval || level <= 3 || !level.Valid() {
		reason := fmt.Sprintf("autonomy level %d requires human approval", level)
		if requiresApproval {
			reason = "plan was submitted with requires_approval"
		}
		return Decision{
			Outcome:   OutcomeRequireApproval,
			Reason:    reason,
			ExpiresAt: now.Add(g.policy.ApprovalTTL),
		}
	}

	if level == 4 && g.policy.BusinessHours != nil && !g.policy.BusinessHours.Contains(now) {
		next := g.policy.BusinessHours.NextOpen(now)
		return Decision{
			Outcome:   OutcomeDefer,
			Reason:    fmt.Sprintf("autonomy level 4 proceeds only in business hours; deferred until %s", next.UTC().Format(time.RFC3339)),
			NotBefore: next,
		}
	}

	return Decision{
		Outcome: OutcomeAutoApprove,
		Reason:  fmt.Sprintf("autonomy level %d proceeds without human approval", level),
	}
}
