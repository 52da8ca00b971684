package report

import (
	"encoding/json"
	"fmt"
)

// Codec converts reports to and from their JSON wire representation.
type Codec struct{}

// Serialize encodes a single report.
func (Codec) Serialize(r Report) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// SerializeList encodes a batch of reports as a JSON array.
func (Codec) SerializeList(reports []Report) ([]byte, error) {
	if reports == nil {
		reports = []Report{}
	}
	data, err := json.Marshal(reports)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reports: %w", err)
	}
	return data, nil
}

// Deserialize decodes a single report.
func (Codec) Deserialize(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return r, nil
}

// DeserializeList decodes a JSON array of reports.
func (Codec) DeserializeList(data []byte) ([]Report, error) {
	var reports []Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}
	return reports, nil
}
