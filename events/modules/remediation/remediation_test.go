package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/coordinator"
	"github.com/ortelius/pdvd-remediation/model"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type submitterFunc func(ctx context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error)

func (f submitterFunc) SubmitPlan(ctx context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error) {
	return f(ctx, req)
}

func TestPlanRequestRoundTripsThroughHandler(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, "requests", "events", "", nil)
	require.NoError(t, p.PublishPlanRequested(context.Background(), model.SubmitPlanRequest{
		VulnerabilityID: "CVE-2024-3094",
		AssetIDs:        []string{"build-01"},
		PatchID:         "xz-5.6.1-revert",
	}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "requests", w.msgs[0].Topic)
	assert.Equal(t, "CVE-2024-3094", string(w.msgs[0].Key))

	var got model.SubmitPlanRequest
	plan, err := HandlePlanRequested(context.Background(), w.msgs[0].Value, submitterFunc(
		func(_ context.Context, req model.SubmitPlanRequest) (*model.RemediationPlan, error) {
			got = req
			return model.NewRemediationPlan(req.VulnerabilityID, req.AssetIDs, req.PatchID, "", 5), nil
		}), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-3094", plan.VulnerabilityID)
	assert.Equal(t, "kafka", got.SubmittedBy)
}

func TestHandlePlanRequestedRejectsBadInput(t *testing.T) {
	never := submitterFunc(func(context.Context, model.SubmitPlanRequest) (*model.RemediationPlan, error) {
		t.Fatal("submitter must not be called")
		return nil, nil
	})
	_, err := HandlePlanRequested(context.Background(), []byte("{"), never, zap.NewNop())
	assert.Error(t, err)
	_, err = HandlePlanRequested(context.Background(), []byte(`{"event_type":"release.sbom.created"}`), never, zap.NewNop())
	assert.Error(t, err)

	failing := submitterFunc(func(context.Context, model.SubmitPlanRequest) (*model.RemediationPlan, error) {
		return nil, errors.New("invalid")
	})
	_, err = HandlePlanRequested(context.Background(), []byte(`{"request":{}}`), failing, zap.NewNop())
	assert.Error(t, err)
}

func TestNotifyPublishesStatusEvent(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducer(w, "requests", "events", "", nil)
	level := model.AutonomyLevel(2)
	p.Notify(context.Background(), coordinator.Notification{
		Event:        coordinator.EventApprovalRequired,
		PlanID:       "plan-1",
		Status:       string(model.PlanPending),
		Severity:     model.SeverityInfo,
		ApprovalCode: "abc123",
		Level:        &level,
		Timestamp:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "events", w.msgs[0].Topic)

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "remediation.plan.approval_required", ev.EventType)
	assert.Equal(t, "abc123", ev.ApprovalCode)
	require.NotNil(t, ev.AutonomyLevel)
	assert.Equal(t, level, *ev.AutonomyLevel)
}

func TestNotifySwallowsWriteErrors(t *testing.T) {
	p := NewProducer(&recordingWriter{err: errors.New("broker down")}, "r", "e", "a", nil)
	assert.NotPanics(t, func() {
		p.Notify(context.Background(), coordinator.Notification{Event: coordinator.EventFailed, PlanID: "p"})
		p.Anchor(context.Background(), &model.AuditLogEntry{ChainID: "c"})
	})
}

func TestAnchorOnlyWhenTopicConfigured(t *testing.T) {
	w := &recordingWriter{}
	entry := &model.AuditLogEntry{ChainID: "exec-1", Sequence: 3, EntryHash: "h3", PrevHash: "h2"}

	NewProducer(w, "r", "e", "", nil).Anchor(context.Background(), entry)
	assert.Empty(t, w.msgs)

	NewProducer(w, "r", "e", "anchors", nil).Anchor(context.Background(), entry)
	require.Len(t, w.msgs, 1)
	var ev AuditAnchorEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, int64(3), ev.Sequence)
	assert.Equal(t, "h3", ev.EntryHash)
}
