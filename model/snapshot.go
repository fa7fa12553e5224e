package model

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is captured pre-change state for one execution.
type Snapshot struct {
	Key               string         `json:"_key"`
	ExecutionID       string         `json:"execution_id"`
	PlanID            string         `json:"plan_id"`
	AssetIDs          []string       `json:"asset_ids"`
	Type              SnapshotType   `json:"type"`
	Method            string         `json:"method,omitempty"`
	Location          string         `json:"location,omitempty"`
	SizeBytes         int64          `json:"size_bytes"`
	Checksum          string         `json:"checksum,omitempty"`
	Verified          bool           `json:"verified"`
	VerifiedAt        *time.Time     `json:"verified_at,omitempty"`
	Status            SnapshotStatus `json:"status"`
	ReadyAt           *time.Time     `json:"ready_at,omitempty"`
	ExpiresAt         time.Time      `json:"expires_at"`
	RestoredAt        *time.Time     `json:"restored_at,omitempty"`
	RestoreDurationMs int64          `json:"restore_duration_ms"`
	RestoreSuccess    *bool          `json:"restore_success,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	ObjType           string         `json:"objtype"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewSnapshot creates a CREATING snapshot for exec.
func NewSnapshot(exec *Execution, typ SnapshotType) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		Key:         uuid.NewString(),
		ExecutionID: exec.Key,
		PlanID:      exec.PlanID,
		AssetIDs:    append([]string(nil), exec.AssetIDs...),
		Type:        typ,
		Status:      SnapshotCreating,
		ObjType:     "Snapshot",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Live reports whether the snapshot is READY and not past its expiry.
func (s *Snapshot) Live(now time.Time) bool {
	return s.Status == SnapshotReady && now.Before(s.ExpiresAt)
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.AssetIDs = append([]string(nil), s.AssetIDs...)
	c.VerifiedAt = cloneTime(s.VerifiedAt)
	c.ReadyAt = cloneTime(s.ReadyAt)
	c.RestoredAt = cloneTime(s.RestoredAt)
	c.RestoreSuccess = cloneBool(s.RestoreSuccess)
	return &c
}
