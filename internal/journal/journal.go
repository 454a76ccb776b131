// Package journal records dropped tasks so an operator can find and
// resubmit them. Records are JSON documents published to a Kafka topic.
package journal

import (
	"context"
	"encoding/json"
	"time"
)

// DropRecord describes one delivery that was negatively acknowledged
// without requeue.
type DropRecord struct {
	Kind              string    `json:"kind"`
	Step              string    `json:"step,omitempty"`
	Error             string    `json:"error"`
	Body              string    `json:"body"`
	SourceBucket      string    `json:"bucket_original,omitempty"`
	DestinationBucket string    `json:"bucket_processed,omitempty"`
	ObjectKey         string    `json:"object_name,omitempty"`
	WorkerID          string    `json:"worker_id"`
	DeliveryTag       uint64    `json:"delivery_tag"`
	Redelivered       bool      `json:"redelivered"`
	DroppedAt         time.Time `json:"dropped_at"`
}

// Marshal encodes the record for the wire.
func (r DropRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Recorder stores drop records.
type Recorder interface {
	Record(ctx context.Context, rec DropRecord) error
	Close() error
}

// Noop discards every record. It is used when no Kafka broker is configured.
type Noop struct{}

func (Noop) Record(context.Context, DropRecord) error { return nil }
func (Noop) Close() error                             { return nil }
