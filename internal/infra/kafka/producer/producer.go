package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/manupriyaaa/tracelens/internal/config"
	"github.com/manupriyaaa/tracelens/internal/model"
)

// Producer publishes image lifecycle events. Each event type has its own
// topic so downstream consumers can subscribe independently.
type Producer struct {
	uploaded  *wbfkafka.Producer
	processed *wbfkafka.Producer
	strategy  retry.Strategy
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		uploaded:  wbfkafka.NewProducer(cfg.Brokers, cfg.UploadedTopic),
		processed: wbfkafka.NewProducer(cfg.Brokers, cfg.ProcessedTopic),
		strategy:  s,
	}
}

// Publish serializes the event to JSON and sends it to the topic matching
// its type. The image ID is used as the message key for partitioning and
// ordering.
func (p *Producer) Publish(ctx context.Context, ev model.ImageEvent) error {
	var client *wbfkafka.Producer
	switch ev.Type {
	case model.EventImageUploaded:
		client = p.uploaded
	case model.EventImageProcessed:
		client = p.processed
	default:
		return fmt.Errorf("unknown event type: %q", ev.Type)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	key := []byte(ev.ImageID)

	if err = client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send event: %v", err)
	}

	return nil
}

// Close closes both underlying producers, even when the first one fails.
func (p *Producer) Close() error {
	return errors.Join(p.uploaded.Close(), p.processed.Close())
}
