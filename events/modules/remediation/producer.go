package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/audit"
	"github.com/ortelius/pdvd-remediation/internal/coordinator"
	"github.com/ortelius/pdvd-remediation/model"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes plan requests, status events and audit anchors. Messages
// carry their topic, so one writer serves every topic.
type Producer struct {
	Writer       MessageWriter
	RequestTopic string
	EventTopic   string
	AnchorTopic  string
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewProducer creates a producer over w. An empty anchorTopic disables anchoring.
func NewProducer(w MessageWriter, requestTopic, eventTopic, anchorTopic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		Writer:       w,
		RequestTopic: requestTopic,
		EventTopic:   eventTopic,
		AnchorTopic:  anchorTopic,
		Timeout:      5 * time.Second,
		Logger:       logger,
	}
}

// PublishPlanRequested sends a plan request to the request topic.
func (p *Producer) PublishPlanRequested(ctx context.Context, req model.SubmitPlanRequest) error {
	event := PlanRequestedEvent{
		EventType:     EventPlanRequested,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Request:       req,
	}
	return p.write(ctx, p.RequestTopic, req.VulnerabilityID, event)
}

// Notify publishes a status event. Failures are logged, never returned.
func (p *Producer) Notify(ctx context.Context, n coordinator.Notification) {
	event := StatusEvent{
		EventType:     "remediation." + n.Event,
		EventID:       uuid.New().String(),
		EventTime:     n.Timestamp,
		SchemaVersion: SchemaVersion,
		PlanID:        n.PlanID,
		ExecutionID:   n.ExecutionID,
		Status:        n.Status,
		Severity:      n.Severity,
		Message:       n.Message,
		AutonomyLevel: n.Level,
		ExpiresAt:     n.ExpiresAt,
		ApprovalCode:  n.ApprovalCode,
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	if err := p.write(ctx, p.EventTopic, n.PlanID, event); err != nil {
		p.Logger.Warn("Failed to publish status event",
			zap.String("plan_id", n.PlanID),
			zap.String("event", n.Event),
			zap.Error(err))
	}
}

// Anchor publishes the new head of an audit chain.
func (p *Producer) Anchor(ctx context.Context, e *model.AuditLogEntry) {
	if p.AnchorTopic == "" {
		return
	}
	event := AuditAnchorEvent{
		EventType:     EventAuditAnchor,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		ChainID:       e.ChainID,
		Sequence:      e.Sequence,
		EntryHash:     e.EntryHash,
		PrevHash:      e.PrevHash,
		Timestamp:     e.Timestamp,
	}
	if err := p.write(ctx, p.AnchorTopic, e.ChainID, event); err != nil {
		p.Logger.Warn("Failed to anchor audit entry",
			zap.String("chain_id", e.ChainID),
			zap.Int64("sequence", e.Sequence),
			zap.Error(err))
	}
}

func (p *Producer) write(ctx context.Context, topic, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
}

// Close cleans up the Kafka writer
func (p *Producer) Close() error {
	return p.Writer.Close()
}

// Ensure compile-time interface checks
var (
	_ coordinator.Notifier = (*Producer)(nil)
	_ audit.Anchor         = (*Producer)(nil)
)
