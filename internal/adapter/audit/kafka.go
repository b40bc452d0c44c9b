package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/medgate/inference-gateway/internal/domain"
)

// KafkaSink ships audit records to a Kafka/Redpanda topic so compliance
// tooling can consume them off the serving box. Production is asynchronous;
// a broker outage costs records, never request latency.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects a producer and makes sure the topic exists.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=audit.kafka: no seed brokers")
	}
	if topic == "" {
		return nil, fmt.Errorf("op=audit.kafka: topic required")
	}

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.DialTimeout(10 * time.Second),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("op=audit.kafka: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 1, 1); err != nil {
		// the broker may have it already, or creation is restricted; either
		// way production will tell us
		slog.Warn("audit topic ensure failed", slog.String("topic", topic), slog.Any("error", err))
	}

	slog.Info("audit kafka sink ready", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &KafkaSink{client: client, topic: topic}, nil
}

// Record produces one record asynchronously. Failures are logged and
// dropped.
func (s *KafkaSink) Record(ctx domain.Context, rec domain.AuditRecord) {
	b, err := json.Marshal(rec)
	if err != nil {
		slog.Error("audit record marshal failed", slog.Any("error", err))
		return
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(rec.RequestID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "agent_kind", Value: []byte(rec.AgentKind)},
			{Key: "outcome", Value: []byte(rec.Outcome)},
		},
	}
	// the record must survive the request that spawned it
	s.client.Produce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Error("audit record produce failed",
				slog.String("topic", s.topic),
				slog.String("request_id", rec.RequestID),
				slog.Any("error", err))
		}
	})
}

// Close flushes buffered records and releases the client.
func (s *KafkaSink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Flush(ctx); err != nil {
		slog.Warn("audit kafka flush on close failed", slog.Any("error", err))
	}
	s.client.Close()
}

// ensureTopic creates the topic, tolerating TOPIC_ALREADY_EXISTS (code 36).
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = partitions
	t.ReplicationFactor = replication
	req.Topics = append(req.Topics, t)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=audit.ensure_topic: %w", err)
	}
	ct, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=audit.ensure_topic: unexpected response %T", resp)
	}
	for _, tr := range ct.Topics {
		if tr.ErrorCode == 0 || tr.ErrorCode == 36 {
			continue
		}
		msg := ""
		if tr.ErrorMessage != nil {
			msg = *tr.ErrorMessage
		}
		return fmt.Errorf("op=audit.ensure_topic: %s (code %d)", msg, tr.ErrorCode)
	}
	return nil
}

var _ domain.AuditSink = (*KafkaSink)(nil)
