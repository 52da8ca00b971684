package sender

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/registry"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/segmentio/kafka-go"
)

// Message headers
const (
	HeaderCorrelationID  = "correlation-id"
	HeaderInstallationID = "installation-id"
	HeaderReports        = "reports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubmitter publishes one message per batch, keyed by installation so
// an installation's batches stay ordered on one partition.
type KafkaSubmitter struct {
	writer   messageWriter
	codec    report.Codec
	backoff  Backoff
	observer Observer
}

// KafkaConfig configures the batch writer
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Observer Observer
}

// NewKafkaSubmitter creates a submitter writing to cfg.Topic
func NewKafkaSubmitter(cfg KafkaConfig) *KafkaSubmitter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		WriteTimeout: config.KafkaWriteTimeout,
		BatchBytes:   config.KafkaMaxBatchBytes,
	}
	return newKafkaSubmitter(w, cfg.Observer)
}

func newKafkaSubmitter(w messageWriter, observer Observer) *KafkaSubmitter {
	if observer == nil {
		observer = nopObserver{}
	}
	return &KafkaSubmitter{
		writer:   w,
		backoff:  Backoff{Attempts: config.SubmitRetryAttempts, Initial: config.SubmitRetryBackoff},
		observer: observer,
	}
}

// Send publishes batch, retires it, and keeps going with the next batch of
// the same installation until extraction has nothing more to offer.
func (k *KafkaSubmitter) Send(ctx context.Context, batch *registry.Submittable) error {
	for batch != nil {
		correlationID := uuid.NewString()
		msg, err := k.message(batch, correlationID)
		if err != nil {
			batch.Release()
			return err
		}

		if err := k.backoff.Execute(ctx, func() error {
			return k.writer.WriteMessages(ctx, msg)
		}); err != nil {
			batch.Release()
			k.observer.Failed(batch.InstallationID(), err)
			return fmt.Errorf("failed to publish batch of installation %d: %w", batch.InstallationID(), err)
		}

		log.Printf("Installation %d batch %s published with %d reports",
			batch.InstallationID(), correlationID, len(batch.Reports()))

		next, err := batch.OnSubmitSuccess(ctx)
		if err != nil {
			return fmt.Errorf("failed to retire batch of installation %d: %w", batch.InstallationID(), err)
		}

		k.observer.Submitted(SubmittedEvent{
			Type:           EventBatchSubmitted,
			CorrelationID:  correlationID,
			InstallationID: batch.InstallationID(),
			Reports:        len(batch.Reports()),
			Retired:        len(batch.RetireSet()),
			Timestamp:      time.Now(),
		})
		batch = next
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaSubmitter) Close() error {
	return k.writer.Close()
}

func (k *KafkaSubmitter) message(batch *registry.Submittable, correlationID string) (kafka.Message, error) {
	value, err := k.codec.SerializeList(batch.Reports())
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode batch of installation %d: %w", batch.InstallationID(), err)
	}
	return kafka.Message{
		Key:   []byte(batch.ID()),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: HeaderCorrelationID, Value: []byte(correlationID)},
			{Key: HeaderInstallationID, Value: []byte(batch.ID())},
			{Key: HeaderReports, Value: []byte(strconv.Itoa(len(batch.Reports())))},
		},
	}, nil
}
