package coordinator

import (
	"context"
	"time"

	"github.com/ortelius/pdvd-remediation/model"
)

// Notification events.
const (
	EventApprovalRequired = "plan.approval_required"
	EventApproved         = "plan.approved"
	EventRejected         = "plan.rejected"
	EventDeferred         = "plan.deferred"
	EventExpired          = "plan.approval_expired"
	EventCancelled        = "plan.cancelled"
	EventFailed           = "plan.failed"
	EventRetryScheduled   = "plan.retry_scheduled"
	EventCompleted        = "execution.completed"
	EventEscalated        = "execution.escalated"
)

// Notification is pushed to approvers and operators. ApprovalCode is only set
// on EventApprovalRequired and is the one place the plaintext code leaves the engine.
type Notification struct {
	Event        string               `json:"event"`
	PlanID       string               `json:"plan_id"`
	ExecutionID  string               `json:"execution_id,omitempty"`
	Status       string               `json:"status"`
	Severity     model.Severity       `json:"severity"`
	Message      string               `json:"message"`
	ApprovalCode string               `json:"approval_code,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	Level        *model.AutonomyLevel `json:"autonomy_level,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Notifier delivers notifications. Implementations must not block the caller
// for long; delivery failures are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}
