package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

func appendN(t *testing.T, l *Logger, execID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), Record{
			PlanID:      "plan-1",
			ExecutionID: execID,
			Category:    model.CategoryExecution,
			Message:     fmt.Sprintf("step %d", i),
			Details:     map[string]string{"i": fmt.Sprint(i), "phase": "deploy"},
		})
		require.NoError(t, err)
	}
}

func TestAppendBuildsVerifiableChain(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)
	appendN(t, l, "exec-1", 5)

	trail, err := l.VerifyChain(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.False(t, trail.TamperDetected)
	require.Len(t, trail.Entries, 5)
	assert.Equal(t, GenesisHash, trail.Entries[0].PrevHash)
	for i, e := range trail.Entries {
		assert.EqualValues(t, i+1, e.Sequence)
		assert.Equal(t, model.ActorSystem, e.ActorType)
		if i > 0 {
			assert.Equal(t, trail.Entries[i-1].EntryHash, e.PrevHash)
		}
	}
}

func TestVerifyDetectsAlteredEntry(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)
	appendN(t, l, "exec-1", 4)

	require.True(t, mem.TamperAuditEntry("exec-1", 3, func(e *model.AuditLogEntry) {
		e.NewStatus = string(model.ExecutionSuccess)
	}))

	trail, err := l.VerifyChain(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, trail.TamperDetected)
	assert.EqualValues(t, 3, trail.BrokenAt)
}

func TestVerifyDetectsRehashedEntry(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)
	appendN(t, l, "exec-1", 4)

	// Recomputing the altered entry's own hash still breaks the next link.
	require.True(t, mem.TamperAuditEntry("exec-1", 2, func(e *model.AuditLogEntry) {
		e.Message = "rewritten"
		e.EntryHash = ComputeHash(e)
	}))

	trail, err := l.VerifyChain(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, trail.TamperDetected)
	assert.EqualValues(t, 3, trail.BrokenAt)
}

func TestVerifyIgnoresWallClockOrder(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	skew := []time.Duration{0, -time.Minute, time.Second}
	i := 0
	l.now = func() time.Time { d := skew[i%len(skew)]; i++; return base.Add(d) }
	appendN(t, l, "exec-1", 3)

	trail, err := l.VerifyChain(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.False(t, trail.TamperDetected)
}

func TestVerifyDetectsMissingEntry(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)
	appendN(t, l, "exec-1", 3)
	entries, err := mem.ListAuditEntries(context.Background(), "exec-1")
	require.NoError(t, err)

	trail := Verify("exec-1", []*model.AuditLogEntry{entries[0], entries[2]})
	assert.True(t, trail.TamperDetected)
	assert.EqualValues(t, 2, trail.BrokenAt)
}

func TestConcurrentAppendsKeepContiguousSequence(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(context.Background(), Record{
				PlanID: "plan-1", ExecutionID: "exec-1",
				Category: model.CategoryMonitoring, Message: fmt.Sprintf("probe %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	trail, err := l.VerifyChain(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.False(t, trail.TamperDetected)
	assert.Len(t, trail.Entries, 20)
}

type recordingAnchor struct {
	mu     sync.Mutex
	hashes []string
}

func (a *recordingAnchor) Anchor(_ context.Context, e *model.AuditLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes = append(a.hashes, e.EntryHash)
}

func TestPlanChainAndAnchor(t *testing.T) {
	mem := store.NewMemory()
	l := NewLogger(mem, nil)
	anchor := &recordingAnchor{}
	l.SetAnchor(anchor)

	e, err := l.Append(context.Background(), Record{PlanID: "plan-9", Category: model.CategoryPlan, Message: "submitted"})
	require.NoError(t, err)
	assert.Equal(t, "plan/plan-9", e.ChainID)
	assert.Equal(t, []string{e.EntryHash}, anchor.hashes)
	assert.Equal(t, "exec-1", ChainFor("plan-9", "exec-1"))
}
