// Package sender ships extracted batches to the downstream consumer.
package sender

import (
	"context"
	"time"

	"github.com/nicktill/tixcondenser/pkg/registry"
)

// Submitter delivers a batch and every batch that follows it for the same
// installation. A batch is retired only after confirmed delivery; on error
// the undelivered batch is released, its reports stay stored and are offered
// again later.
type Submitter interface {
	Send(ctx context.Context, batch *registry.Submittable) error
}

// SubmittedEvent describes one delivered batch.
type SubmittedEvent struct {
	Type           string    `json:"type"`
	CorrelationID  string    `json:"correlation_id"`
	InstallationID int64     `json:"installation_id"`
	Reports        int       `json:"reports"`
	Retired        int       `json:"retired"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventBatchSubmitted is the Type of every SubmittedEvent
const EventBatchSubmitted = "batch_submitted"

// Observer is told about every publish outcome.
type Observer interface {
	Submitted(SubmittedEvent)
	Failed(installationID int64, err error)
}

type nopObserver struct{}

func (nopObserver) Submitted(SubmittedEvent) {}
func (nopObserver) Failed(int64, error)      {}
