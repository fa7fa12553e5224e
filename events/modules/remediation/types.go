// Package remediation defines the Kafka event contracts of the remediation engine.
package remediation

import (
	"time"

	"github.com/ortelius/pdvd-remediation/model"
)

// Event types carried on the request and event topics.
const (
	EventPlanRequested = "remediation.plan.requested"
	EventAuditAnchor   = "remediation.audit.anchor"
	SchemaVersion      = "v1"
)

// PlanRequestedEvent asks the engine to remediate a vulnerability.
type PlanRequestedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Request model.SubmitPlanRequest `json:"request"`
}

// StatusEvent reports a plan or execution transition to downstream consumers.
type StatusEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	PlanID        string               `json:"plan_id"`
	ExecutionID   string               `json:"execution_id,omitempty"`
	Status        string               `json:"status"`
	Severity      model.Severity       `json:"severity"`
	Message       string               `json:"message"`
	AutonomyLevel *model.AutonomyLevel `json:"autonomy_level,omitempty"`
	ExpiresAt     *time.Time           `json:"approval_expires_at,omitempty"`
	// ApprovalCode is only set on approval requests; the topic must be restricted to approvers.
	ApprovalCode string `json:"approval_code,omitempty"`
}

// AuditAnchorEvent publishes the head of an audit chain so tampering with the
// store can be detected from outside it.
type AuditAnchorEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	ChainID   string    `json:"chain_id"`
	Sequence  int64     `json:"sequence"`
	EntryHash string    `json:"entry_hash"`
	PrevHash  string    `json:"prev_hash"`
	Timestamp time.Time `json:"timestamp"`
}
