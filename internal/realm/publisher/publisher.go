// Package publisher broadcasts persisted realm events to Kafka. The
// journal stays the source of truth; consumers treat the topic as a
// best-effort change feed.
package publisher

import (
	"context"
	"fmt"
	"strconv"

	"aegis/internal/platform/kafka/producer"
	"aegis/internal/realm/journal"
	"aegis/internal/realm/models"
)

// Kafka publishes realm events keyed by label so per-realm ordering is
// preserved within a partition.
type Kafka struct {
	producer *producer.Producer
	topic    string
}

// NewKafka creates the publisher.
func NewKafka(p *producer.Producer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

// Publish encodes and produces the event synchronously.
func (k *Kafka) Publish(ctx context.Context, env *journal.Envelope) error {
	payload, err := models.MarshalEvent(env.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return k.producer.Produce(ctx, &producer.Message{
		Topic: k.topic,
		Key:   []byte(env.RealmID.String()),
		Value: payload,
		Headers: map[string]string{
			"event_id": env.EventID.String(),
			"rev":      strconv.FormatInt(env.Rev, 10),
			"tag":      env.Tag,
		},
	})
}
