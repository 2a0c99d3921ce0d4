// Package ingestion holds the event schema shared by the ingestion pipeline
// and its downstream consumers.
package ingestion

import "time"

// CompleteEvent is published to Kafka once an ingestion run ends, whatever
// its outcome.
type CompleteEvent struct {
	RunID       string    `json:"run_id"`
	Index       string    `json:"index"`
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	Documents   int64     `json:"documents"`
	Failed      int64     `json:"failed"`
	Skipped     int64     `json:"skipped"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
