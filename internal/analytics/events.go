package analytics

import "time"

type EventType string

const (
	EventFilmSearch  EventType = "film_search"
	EventAggregation EventType = "aggregation"
	EventZeroResult  EventType = "zero_result"
	EventError       EventType = "error"
)

// SearchEvent describes one answered API request.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Endpoint  string    `json:"endpoint"`
	Selector  string    `json:"selector,omitempty"`
	Query     string    `json:"query,omitempty"`
	TotalHits int64     `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
