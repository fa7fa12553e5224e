// Package snapshot captures, retains and restores pre-change state.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// DefaultRetention is how long a READY snapshot stays usable.
const DefaultRetention = 30 * 24 * time.Hour

var (
	// ErrUnverified is returned when restoring a snapshot whose integrity was never confirmed.
	ErrUnverified = errors.New("snapshot integrity is unverified")
	// ErrNotLive is returned when restoring a snapshot that is not READY or has expired.
	ErrNotLive = errors.New("snapshot is not live")
)

// Capture describes what a backend stored.
type Capture struct {
	Method    string
	Location  string
	SizeBytes int64
	Checksum  string
}

// Backend performs the actual state capture and restore.
type Backend interface {
	Capture(ctx context.Context, snap *model.Snapshot) (Capture, error)
	Verify(ctx context.Context, snap *model.Snapshot) (bool, error)
	Restore(ctx context.Context, snap *model.Snapshot) error
}

// Config tunes the manager.
type Config struct {
	Retention time.Duration
}

// Manager owns the snapshot lifecycle CREATING -> READY -> RESTORING -> EXPIRED.
type Manager struct {
	cfg     Config
	backend Backend
	store   store.SnapshotStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a manager.
func NewManager(cfg Config, backend Backend, st store.SnapshotStore, logger *zap.Logger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, backend: backend, store: st, logger: logger, now: time.Now}
}

// Create captures a snapshot for exec and marks it READY. Any other READY
// snapshot of the same execution is expired so only one stays live.
func (m *Manager) Create(ctx context.Context, exec *model.Execution, typ model.SnapshotType) (*model.Snapshot, error) {
	const op = "snapshot.Create"
	if !typ.Valid() {
		return nil, errs.Errorf(errs.KindSnapshotCreationFailed, op, "unknown snapshot type %q", typ)
	}

	snap := model.NewSnapshot(exec, typ)
	if err := m.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, errs.E(errs.KindSnapshotCreationFailed, op, err)
	}

	c, err := m.backend.Capture(ctx, snap)
	if err != nil {
		snap.Status = model.SnapshotDeleted
		snap.FailureReason = err.Error()
		if uerr := m.store.UpdateSnapshot(ctx, snap); uerr != nil {
			m.logger.Warn("Failed to record snapshot failure", zap.String("snapshot_id", snap.Key), zap.Error(uerr))
		}
		return nil, errs.E(errs.KindSnapshotCreationFailed, op, err)
	}

	now := m.now().UTC()
	snap.Method = c.Method
	snap.Location = c.Location
	snap.SizeBytes = c.SizeBytes
	snap.Checksum = c.Checksum
	snap.Status = model.SnapshotReady
	snap.ReadyAt = &now
	snap.ExpiresAt = now.Add(m.cfg.Retention)
	if err := m.store.UpdateSnapshot(ctx, snap); err != nil {
		return nil, errs.E(errs.KindSnapshotCreationFailed, op, err)
	}

	if err := m.expireOthers(ctx, snap); err != nil {
		return nil, errs.E(errs.KindSnapshotCreationFailed, op, err)
	}

	m.logger.Info("Snapshot ready",
		zap.String("snapshot_id", snap.Key),
		zap.String("execution_id", exec.Key),
		zap.String("type", string(typ)),
		zap.Int64("size_bytes", snap.SizeBytes))
	return snap, nil
}

func (m *Manager) expireOthers(ctx context.Context, keep *model.Snapshot) error {
	existing, err := m.store.ListSnapshotsByExecution(ctx, keep.ExecutionID)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s.Key == keep.Key || s.Status != model.SnapshotReady {
			continue
		}
		s.Status = model.SnapshotExpired
		if err := m.store.UpdateSnapshot(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Verify asks the backend to confirm integrity and records the result.
func (m *Manager) Verify(ctx context.Context, snap *model.Snapshot) (*model.Snapshot, error) {
	ok, err := m.backend.Verify(ctx, snap)
	if err != nil {
		return snap, errs.E(errs.KindTransientInfra, "snapshot.Verify", err)
	}
	now := m.now().UTC()
	snap.Verified = ok
	snap.VerifiedAt = &now
	if err := m.store.UpdateSnapshot(ctx, snap); err != nil {
		return snap, errs.E(errs.KindTransientInfra, "snapshot.Verify", err)
	}
	return snap, nil
}

// CreateVerified creates and verifies a snapshot, failing closed when either step fails.
func (m *Manager) CreateVerified(ctx context.Context, exec *model.Execution, typ model.SnapshotType) (*model.Snapshot, error) {
	snap, err := m.Create(ctx, exec, typ)
	if err != nil {
		return nil, err
	}
	snap, err = m.Verify(ctx, snap)
	if err != nil {
		return nil, errs.E(errs.KindSnapshotCreationFailed, "snapshot.CreateVerified", err)
	}
	if !snap.Verified {
		return nil, errs.Errorf(errs.KindSnapshotCreationFailed, "snapshot.CreateVerified",
			"snapshot %s failed integrity verification", snap.Key)
	}
	return snap, nil
}

// Restore puts the snapshot's state back. Unverified or non-live snapshots are refused.
// The snapshot is consumed either way once the backend has been called.
func (m *Manager) Restore(ctx context.Context, id string) (*model.Snapshot, error) {
	snap, err := m.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snap.Verified {
		return snap, fmt.Errorf("restore %s: %w", id, ErrUnverified)
	}
	if !snap.Live(m.now()) {
		return snap, fmt.Errorf("restore %s (status %s): %w", id, snap.Status, ErrNotLive)
	}

	snap.Status = model.SnapshotRestoring
	if err := m.store.UpdateSnapshot(ctx, snap); err != nil {
		return snap, err
	}

	start := m.now()
	rerr := m.backend.Restore(ctx, snap)
	done := m.now().UTC()

	snap.RestoredAt = &done
	snap.RestoreDurationMs = done.Sub(start).Milliseconds()
	snap.RestoreSuccess = model.BoolPtr(rerr == nil)
	snap.Status = model.SnapshotExpired
	if rerr != nil {
		snap.FailureReason = rerr.Error()
	}
	if err := m.store.UpdateSnapshot(ctx, snap); err != nil {
		m.logger.Error("Failed to record restore result", zap.String("snapshot_id", id), zap.Error(err))
	}

	if rerr != nil {
		return snap, fmt.Errorf("restore %s: %w", id, rerr)
	}
	m.logger.Info("Snapshot restored", zap.String("snapshot_id", id), zap.Int64("duration_ms", snap.RestoreDurationMs))
	return snap, nil
}

// Live returns the execution's live snapshot.
func (m *Manager) Live(ctx context.Context, executionID string) (*model.Snapshot, error) {
	snaps, err := m.store.ListSnapshotsByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Live(now) {
			return snaps[i], nil
		}
	}
	return nil, fmt.Errorf("live snapshot for execution %s: %w", executionID, store.ErrNotFound)
}

// Sweep expires READY snapshots past their retention and returns how many changed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredSnapshots(ctx, m.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range expired {
		s.Status = model.SnapshotExpired
		if err := m.store.UpdateSnapshot(ctx, s); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.logger.Info("Expired snapshots past retention", zap.Int("count", n))
	}
	return n, nil
}
