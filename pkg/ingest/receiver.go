// Package ingest turns raw report messages into stored reports.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nicktill/tixcondenser/pkg/registry"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/sender"
	"github.com/nicktill/tixcondenser/pkg/telemetry"
)

// ErrAuthorization wraps failures to reach or understand the TIX API
var ErrAuthorization = errors.New("authorization failed")

// Outcome is what happened to one received report
type Outcome string

const (
	Accepted     Outcome = telemetry.OutcomeAccepted
	Undecodable  Outcome = telemetry.OutcomeUndecodable
	Invalid      Outcome = telemetry.OutcomeInvalid
	Unauthorized Outcome = telemetry.OutcomeUnauthorized
	Failed       Outcome = telemetry.OutcomeFailed
)

// PacketStore keeps reports and offers the batches they complete
type PacketStore interface {
	StorePacket(ctx context.Context, r report.Report) (*registry.Submittable, error)
}

// Recorder counts outcomes
type Recorder interface {
	Received(outcome string)
}

// Receiver runs decode, validation, authorization, storage and submission
// for every incoming message.
type Receiver struct {
	codec      report.Codec
	validator  Validator
	authorizer Authorizer
	store      PacketStore
	submitter  sender.Submitter
	recorder   Recorder
}

// NewReceiver wires a receiver. recorder may be nil.
func NewReceiver(validator Validator, authorizer Authorizer, store PacketStore, submitter sender.Submitter, recorder Recorder) *Receiver {
	return &Receiver{
		validator:  validator,
		authorizer: authorizer,
		store:      store,
		submitter:  submitter,
		recorder:   recorder,
	}
}

// Receive handles one raw message. Messages that can never be stored are
// discarded with a nil error; an error means the message should be retried.
func (rc *Receiver) Receive(ctx context.Context, raw []byte) error {
	r, err := rc.codec.Deserialize(raw)
	if err != nil {
		log.Printf("Discarding undecodable message (%d bytes): %v", len(raw), err)
		rc.record(Undecodable)
		return nil
	}
	_, err = rc.ReceiveReport(ctx, r)
	return err
}

// ReceiveReport handles an already decoded report
func (rc *Receiver) ReceiveReport(ctx context.Context, r report.Report) (Outcome, error) {
	if !rc.validator.IsValid(r) {
		rc.record(Invalid)
		return Invalid, nil
	}

	ok, err := rc.authorizer.ValidUserAndInstallation(ctx, r)
	if err != nil {
		rc.record(Failed)
		return Failed, fmt.Errorf("%w: installation %d: %w", ErrAuthorization, r.InstallationID, err)
	}
	if !ok {
		log.Printf("Installation %d (user %d) not authorized, discarding report", r.InstallationID, r.UserID)
		rc.record(Unauthorized)
		return Unauthorized, nil
	}

	batch, err := rc.store.StorePacket(ctx, r)
	if err != nil {
		rc.record(Failed)
		return Failed, fmt.Errorf("failed to store report of installation %d: %w", r.InstallationID, err)
	}
	rc.record(Accepted)

	if batch == nil {
		return Accepted, nil
	}
	return Accepted, rc.submitter.Send(ctx, batch)
}

func (rc *Receiver) record(o Outcome) {
	if rc.recorder != nil {
		rc.recorder.Received(string(o))
	}
}
