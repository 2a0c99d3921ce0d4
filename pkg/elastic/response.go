package elastic

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// SearchResponse is the subset of a _search reply the service reads.
type SearchResponse struct {
	Hits struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// Hit is one matching document.
type Hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// MetricValue is the reply of a single-value metric aggregation (avg,
// value_count). Value is nil when the metric has no input, e.g. avg over an
// empty set.
type MetricValue struct {
	Value *float64 `json:"value"`
}

// Bucket is one bucket of a terms or histogram aggregation.
type Bucket struct {
	Key      BucketKey `json:"key"`
	DocCount int64     `json:"doc_count"`
}

// BucketAgg is the reply of a multi-bucket aggregation.
type BucketAgg struct {
	Buckets []Bucket `json:"buckets"`
}

// BucketKey holds a bucket key, which is a string for keyword fields and a
// number for numeric fields and histograms.
type BucketKey struct {
	Str     string
	Num     float64
	Numeric bool
}

func (k *BucketKey) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		k.Numeric = false
		return json.Unmarshal(data, &k.Str)
	}
	if err := json.Unmarshal(data, &k.Num); err != nil {
		return fmt.Errorf("bucket key %s: %w", data, err)
	}
	k.Numeric = true
	return nil
}

// String renders numeric keys as integers when they are whole numbers.
func (k BucketKey) String() string {
	if !k.Numeric {
		return k.Str
	}
	if k.Num == math.Trunc(k.Num) {
		return strconv.FormatInt(int64(k.Num), 10)
	}
	return strconv.FormatFloat(k.Num, 'f', -1, 64)
}

// Int truncates a numeric key; string keys are parsed.
func (k BucketKey) Int() (int, bool) {
	if k.Numeric {
		return int(k.Num), true
	}
	n, err := strconv.Atoi(k.Str)
	return n, err == nil
}

// Metric decodes the named single-value aggregation. A missing aggregation
// is an error.
func (r *SearchResponse) Metric(name string) (MetricValue, error) {
	var v MetricValue
	raw, ok := r.Aggregations[name]
	if !ok {
		return v, fmt.Errorf("aggregation %q missing from response", name)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decoding aggregation %q: %w", name, err)
	}
	return v, nil
}

// Buckets decodes the named multi-bucket aggregation.
func (r *SearchResponse) Buckets(name string) ([]Bucket, error) {
	raw, ok := r.Aggregations[name]
	if !ok {
		return nil, fmt.Errorf("aggregation %q missing from response", name)
	}
	var agg BucketAgg
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decoding aggregation %q: %w", name, err)
	}
	return agg.Buckets, nil
}
