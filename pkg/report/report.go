package report

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Observation record layout inside a report payload.
// Format: [unix timestamp (8)][tag (1)][size (4)][4 x sub-timestamp (8)]
const (
	TimestampSize    = 8
	TagSize          = 1
	SizeFieldSize    = 4
	SubTimestamps    = 4
	SubTimestampSize = 8

	ObservationSize = TimestampSize + TagSize + SizeFieldSize + SubTimestamps*SubTimestampSize
)

var (
	// ErrEmptyPayload is returned for a report without observations
	ErrEmptyPayload = errors.New("report payload is empty")

	// ErrPartialObservation is returned when the payload length is not a whole number of records
	ErrPartialObservation = fmt.Errorf("report payload is not a multiple of %d bytes", ObservationSize)
)

// Report is one unit of observation data submitted by an installation.
// Reports are immutable once stored.
type Report struct {
	SourceAddress      string `json:"from"`
	DestinationAddress string `json:"to"`
	InitialTimestamp   int64  `json:"initialTimestamp"`
	ReceptionTimestamp int64  `json:"receptionTimestamp"`
	UserID             int64  `json:"userId"`
	InstallationID     int64  `json:"installationId"`
	PublicKey          []byte `json:"publicKey"`
	Payload            []byte `json:"message"`
	Signature          []byte `json:"signature"`
}

// StartTimestamp returns the timestamp of the first observation, which is
// the key of the report inside its installation's store.
func (r Report) StartTimestamp() int64 {
	return FirstObservationTimestamp(r.Payload)
}

// Observations returns how many observation records the payload holds.
func (r Report) Observations() int {
	return ObservationsIn(r.Payload)
}

// SourceHost returns the host part of the source address. Reports from the
// same installation are compared by host only, the port may change.
func (r Report) SourceHost() string {
	host, _, err := net.SplitHostPort(r.SourceAddress)
	if err != nil {
		return r.SourceAddress
	}
	return host
}

// FirstObservationTimestamp reads the first 8 bytes of the payload as a
// big-endian integer. Short payloads yield 0.
func FirstObservationTimestamp(payload []byte) int64 {
	if len(payload) < TimestampSize {
		return 0
	}
	return int64(binary.BigEndian.Uint64(payload[:TimestampSize]))
}

// ObservationTimestamps reads the leading timestamp of every observation record.
func ObservationTimestamps(payload []byte) []int64 {
	timestamps := make([]int64, 0, ObservationsIn(payload))
	for i := 0; i+TimestampSize <= len(payload); i += ObservationSize {
		timestamps = append(timestamps, int64(binary.BigEndian.Uint64(payload[i:i+TimestampSize])))
	}
	return timestamps
}

// ObservationsIn returns the number of whole observation records in payload.
func ObservationsIn(payload []byte) int {
	return len(payload) / ObservationSize
}

// CheckPayload verifies the payload holds at least one record and no trailing partial record.
func CheckPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload)%ObservationSize != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrPartialObservation, len(payload))
	}
	return nil
}
