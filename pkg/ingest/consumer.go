package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/sender"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler processes one raw message
type MessageHandler interface {
	Receive(ctx context.Context, raw []byte) error
}

// Consumer reads reports from a Kafka topic as part of a consumer group.
// An offset is committed only after the handler accepts the message. A
// message that keeps failing stops the consumer with its offset
// uncommitted, so it is redelivered after a restart or rebalance.
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	backoff sender.Backoff
}

// ConsumerConfig configures the report reader
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewConsumer creates a consumer group reader on cfg.Topic
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return newConsumer(r, handler)
}

func newConsumer(r messageReader, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		backoff: sender.Backoff{Attempts: config.SubmitRetryAttempts, Initial: config.SubmitRetryBackoff},
	}
}

// Run consumes until ctx is cancelled or the reader fails
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if err := c.backoff.Execute(ctx, func() error {
			return c.handler.Receive(ctx, msg.Value)
		}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("Report at %s/%d/%d not processed, leaving uncommitted: %v",
				msg.Topic, msg.Partition, msg.Offset, err)
			return fmt.Errorf("failed to process %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("Failed to commit %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		}
	}
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
