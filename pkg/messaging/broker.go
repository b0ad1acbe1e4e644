package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe delivers raw payloads until ctx is cancelled, then closes the
	// returned channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// RecordChannel is the channel record-change events are published on.
const RecordChannel = "portal.records"

// RecordChange is published whenever a clinical record is mutated through the
// portal.
type RecordChange struct {
	PatientID string `json:"patient_id"`
	Kind      string `json:"kind"`
	Action    string `json:"action"`
	RecordID  string `json:"record_id,omitempty"`
}
