// Package auditbus wires the pipeline's AUDIT stage (C7) to a Kafka topic,
// adapted from the teacher's producer/main.go (kafka.Writer configured for
// low-latency batched async writes) and consumer/main.go (kafka.Reader
// without a consumer group, read from a fixed partition). Where the teacher
// published hand-rolled ISO 20022 XML, Publisher here marshals
// model.AuditRecord as JSON.
package auditbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/pipeline"
)

// DefaultTopic is the audit event topic, mirroring the teacher's fixed
// "nexus-transactions" topic name convention.
const DefaultTopic = "fep-audit-events"

// Publisher writes AuditRecords to Kafka. It is safe for concurrent use;
// *kafka.Writer itself is goroutine-safe.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher configures a kafka.Writer the way the teacher's producer
// does: LeastBytes balancing, snappy compression, small batches, short
// batch timeout, async writes so a slow broker never blocks the pipeline's
// AUDIT stage.
func NewPublisher(brokerAddr, topic string, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddr),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Compression:  kafka.Snappy,
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
		},
		logger: logger.With(zap.String("component", "auditbus")),
	}
}

// Publish writes rec to the audit topic, keyed by transaction id so all
// events for one transaction land on the same partition.
func (p *Publisher) Publish(ctx context.Context, rec model.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return ferr.System("marshal audit record", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.TransactionID),
		Value: data,
		Time:  rec.Timestamp,
	})
	if err != nil {
		p.logger.Error("publish audit record failed", zap.String("transaction_id", rec.TransactionID), zap.Error(err))
		return ferr.System("publish audit record", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error { return p.writer.Close() }

// eventPublisher is the narrow seam AuditHandler needs, so tests can supply
// an in-memory fake instead of a real Kafka-backed Publisher.
type eventPublisher interface {
	Publish(ctx context.Context, rec model.AuditRecord) error
}

var _ eventPublisher = (*Publisher)(nil)

// AuditHandler returns a pipeline.Handler for the AUDIT stage that
// publishes every transaction's outcome, approved or declined, fire-and-log
// (a publish failure is logged but never fails the already-completed
// pipeline run).
func AuditHandler(pub eventPublisher, logger *zap.Logger) pipeline.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return pipeline.NewHandlerFunc("audit-publish", func(ctx context.Context, pctx *pipeline.Context) error {
		rec := model.AuditRecord{
			EventID:          uuid.NewString(),
			TransactionID:    pctx.Request.TransactionID,
			Type:             pctx.Request.Type,
			ChannelName:      pctx.Request.ChannelName,
			RequestSummary:   pctx.Request.RRN + "/" + pctx.Request.STAN,
			ResponseCode:     pctx.Response.ResponseCode,
			Approved:         pctx.Response.Approved,
			ProcessingTimeMS: pctx.Response.ProcessingTimeMS,
			StageTimings:     cloneTimings(pctx.StageTimings),
			Timestamp:        time.Now(),
		}
		if err := pub.Publish(ctx, rec); err != nil {
			logger.Warn("audit publish failed, outcome still recorded locally", zap.Error(err))
		}
		return nil
	})
}

func cloneTimings(in map[pipeline.Stage]time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

// Subscriber reads AuditRecords from Kafka, grounded on the teacher's
// consumer.go reader configuration (no consumer group, fixed partition,
// short MaxWait for responsive shutdown).
type Subscriber struct {
	reader *kafka.Reader
}

// NewSubscriber configures a kafka.Reader starting from the latest offset,
// matching the teacher's `reader.SetOffset(kafka.LastOffset)` so a
// restarted dashboard consumer doesn't replay the entire topic history.
func NewSubscriber(brokerAddr, topic string) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{brokerAddr},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   100 * time.Millisecond,
	})
	reader.SetOffset(kafka.LastOffset)
	return &Subscriber{reader: reader}
}

// Next blocks until the next AuditRecord arrives or ctx is cancelled.
func (s *Subscriber) Next(ctx context.Context) (model.AuditRecord, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return model.AuditRecord{}, err
	}
	var rec model.AuditRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return model.AuditRecord{}, ferr.System("unmarshal audit record", err)
	}
	return rec, nil
}

// Close closes the underlying reader.
func (s *Subscriber) Close() error { return s.reader.Close() }
