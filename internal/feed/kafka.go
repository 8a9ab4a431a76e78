package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConsumer applies ticks from a Kafka topic, one JSON tick per record.
type KafkaConsumer struct {
	client *kgo.Client
	topic  string
	group  string
	sink   Sink
	logger *slog.Logger
}

// NewKafkaConsumer joins group and consumes topic.
func NewKafkaConsumer(brokers []string, group, topic string, sink Sink, logger *slog.Logger) (*KafkaConsumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	logger.Info("kafka tick consumer initialized", "brokers", brokers, "group", group, "topic", topic)
	return &KafkaConsumer{client: client, topic: topic, group: group, sink: sink, logger: logger}, nil
}

// Run polls until ctx is cancelled. Offsets are committed after each batch
// is applied; ticks are idempotent so redelivery is harmless.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return errors.New("kafka client closed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var records []*kgo.Record
		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			apply(ctx, c.sink, c.logger, "kafka", rec.Value)
			records = append(records, rec)
		}
		if len(records) > 0 {
			if err := c.client.CommitRecords(ctx, records...); err != nil {
				c.logger.Warn("kafka commit failed", "group", c.group, "error", err)
			}
		}
	}
}

// Close leaves the group and closes the client.
func (c *KafkaConsumer) Close() {
	c.client.Close()
}
