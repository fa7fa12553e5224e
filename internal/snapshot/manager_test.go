package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/errs"
	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

type fakeBackend struct {
	captureErr error
	verified   bool
	restoreErr error
	restores   int
}

func (f *fakeBackend) Capture(_ context.Context, s *model.Snapshot) (Capture, error) {
	if f.captureErr != nil {
		return Capture{}, f.captureErr
	}
	return Capture{Method: "lvm", Location: "s3://snapshots/" + s.Key, SizeBytes: 1 << 20, Checksum: "sha256:abc"}, nil
}

func (f *fakeBackend) Verify(context.Context, *model.Snapshot) (bool, error) {
	return f.verified, nil
}

func (f *fakeBackend) Restore(context.Context, *model.Snapshot) error {
	f.restores++
	return f.restoreErr
}

func newExec() *model.Execution {
	plan := model.NewRemediationPlan("CVE-1", []string{"db-1"}, "patch-1", "", 5)
	return model.NewExecution("", plan, 3)
}

func TestCreateVerifiedSetsReadyAndExpiry(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	m := NewManager(Config{}, &fakeBackend{verified: true}, mem, nil)

	snap, err := m.CreateVerified(ctx, newExec(), model.SnapshotVM)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotReady, snap.Status)
	assert.True(t, snap.Verified)
	require.NotNil(t, snap.ReadyAt)
	assert.Equal(t, snap.ReadyAt.Add(DefaultRetention), snap.ExpiresAt)
	assert.Equal(t, "lvm", snap.Method)
}

func TestCreateExpiresOtherReadySnapshots(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	m := NewManager(Config{}, &fakeBackend{verified: true}, mem, nil)
	exec := newExec()

	first, err := m.Create(ctx, exec, model.SnapshotContainer)
	require.NoError(t, err)
	second, err := m.Create(ctx, exec, model.SnapshotContainer)
	require.NoError(t, err)

	old, err := mem.GetSnapshot(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotExpired, old.Status)

	live, err := m.Live(ctx, exec.Key)
	require.NoError(t, err)
	assert.Equal(t, second.Key, live.Key)
}

func TestCreateFailsClosed(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Config{}, &fakeBackend{captureErr: errors.New("disk full")}, store.NewMemory(), nil)
	_, err := m.CreateVerified(ctx, newExec(), model.SnapshotVM)
	assert.True(t, errors.Is(err, errs.ErrSnapshotCreationFailed))

	m = NewManager(Config{}, &fakeBackend{verified: false}, store.NewMemory(), nil)
	_, err = m.CreateVerified(ctx, newExec(), model.SnapshotVM)
	assert.True(t, errors.Is(err, errs.ErrSnapshotCreationFailed))

	_, err = m.Create(ctx, newExec(), model.SnapshotType("tape"))
	assert.True(t, errors.Is(err, errs.ErrSnapshotCreationFailed))
}

func TestRestoreRefusesUnverified(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{verified: false}
	m := NewManager(Config{}, backend, store.NewMemory(), nil)

	snap, err := m.Create(ctx, newExec(), model.SnapshotVM)
	require.NoError(t, err)
	_, err = m.Restore(ctx, snap.Key)
	assert.ErrorIs(t, err, ErrUnverified)
	assert.Zero(t, backend.restores)
}

func TestRestoreRecordsOutcomeAndConsumesSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{verified: true}
	m := NewManager(Config{}, backend, store.NewMemory(), nil)

	snap, err := m.CreateVerified(ctx, newExec(), model.SnapshotVM)
	require.NoError(t, err)
	restored, err := m.Restore(ctx, snap.Key)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotExpired, restored.Status)
	require.NotNil(t, restored.RestoreSuccess)
	assert.True(t, *restored.RestoreSuccess)

	_, err = m.Restore(ctx, snap.Key)
	assert.ErrorIs(t, err, ErrNotLive)
	assert.Equal(t, 1, backend.restores)
}

func TestRestoreFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Config{}, &fakeBackend{verified: true, restoreErr: errors.New("volume busy")}, store.NewMemory(), nil)
	snap, err := m.CreateVerified(ctx, newExec(), model.SnapshotDatabase)
	require.NoError(t, err)

	restored, err := m.Restore(ctx, snap.Key)
	require.Error(t, err)
	assert.False(t, *restored.RestoreSuccess)
	assert.Equal(t, "volume busy", restored.FailureReason)
}

func TestSweepExpiresPastRetention(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	m := NewManager(Config{Retention: time.Hour}, &fakeBackend{verified: true}, mem, nil)
	exec := newExec()
	_, err := m.Create(ctx, exec, model.SnapshotConfig)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Live(ctx, exec.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
