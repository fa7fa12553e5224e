// Package kafka connects the engine to Kafka: it consumes plan requests and
// builds the writer used for status events and audit anchors.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/events/modules/remediation"
	"github.com/ortelius/pdvd-remediation/internal/config"
)

// NewDialer returns a dialer with SASL/PLAIN over TLS when credentials are set.
func NewDialer(cfg *config.Config) *kafka.Dialer {
	if cfg.KafkaAPIKey != "" && cfg.KafkaAPISecret != "" {
		return &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			SASLMechanism: plain.Mechanism{
				Username: cfg.KafkaAPIKey,
				Password: cfg.KafkaAPISecret,
			},
			TLS: &tls.Config{}, // Confluent Cloud requires TLS
		}
	}
	// Default dialer for local development (no SASL/TLS)
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
}

// NewWriter returns an async writer for messages that carry their own topic.
func NewWriter(cfg *config.Config, logger *zap.Logger) *kafka.Writer {
	transport := &kafka.Transport{DialTimeout: 10 * time.Second}
	if cfg.KafkaAPIKey != "" && cfg.KafkaAPISecret != "" {
		transport.SASL = plain.Mechanism{Username: cfg.KafkaAPIKey, Password: cfg.KafkaAPISecret}
		transport.TLS = &tls.Config{}
	}
	return &kafka.Writer{
		Addr:      kafka.TCP(cfg.KafkaBrokers...),
		Balancer:  &kafka.Hash{},
		Transport: transport,
		Async:     true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("Kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

// RunEventProcessor checks broker connectivity and then consumes plan
// requests in the background until ctx is done.
func RunEventProcessor(ctx context.Context, cfg *config.Config, svc remediation.PlanSubmitter, logger *zap.Logger) error {
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("no Kafka brokers configured")
	}
	dialer := NewDialer(cfg)

	var err error
	// Retry logic: 3 tries
	for i := 1; i <= 3; i++ {
		logger.Info("Kafka connection attempt", zap.Int("attempt", i), zap.String("broker", cfg.KafkaBrokers[0]))
		var conn *kafka.Conn
		conn, err = dialer.DialContext(ctx, "tcp", cfg.KafkaBrokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("connect to Kafka: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.RequestTopic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go func() {
		defer reader.Close()
		logger.Info("Kafka event processor started", zap.String("topic", cfg.RequestTopic))
		Consume(ctx, reader, svc, logger)
	}()
	return nil
}

// MessageReader is the subset of *kafka.Reader the consumer loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// readBackoff paces retries after failed reads so a broker outage does not
// turn the loop into a busy spin.
var readBackoff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Consume reads plan requests until ctx is done. Bad messages are logged and
// skipped so one poison message cannot stall the partition. Read errors back off
// exponentially and the delay resets after the next successful read.
func Consume(ctx context.Context, reader MessageReader, svc remediation.PlanSubmitter, logger *zap.Logger) {
	bo := readBackoff()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				delay = 30 * time.Second
			}
			logger.Warn("Kafka read failed", zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()
		if _, err := remediation.HandlePlanRequested(ctx, msg.Value, svc, logger); err != nil {
			logger.Error("Failed to process plan request",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}
