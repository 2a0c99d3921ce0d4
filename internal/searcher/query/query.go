// Package query builds the Elasticsearch query and aggregation bodies for the
// film catalog endpoints.
package query

import (
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog"
)

// Query is one node of the Elasticsearch query DSL.
type Query map[string]any

// SearchFields are matched by film searches. Every term of the search text
// must match (operator "and").
var SearchFields = []string{
	catalog.FieldTitle,
	catalog.FieldDirector,
	catalog.FieldCast,
	catalog.FieldCountry,
	catalog.FieldGenres,
	catalog.FieldDescription,
}

// Selector values accepted by the film endpoint.
const (
	SelectorMovie = "movie"
	SelectorShow  = "show"
)

// SelectorType maps a selector to the document type it filters on. ok is
// false for unrecognized selectors.
func SelectorType(selector string) (t catalog.Type, ok bool) {
	switch selector {
	case SelectorMovie:
		return catalog.TypeMovie, true
	case SelectorShow:
		return catalog.TypeShow, true
	default:
		return catalog.TypeUnknown, false
	}
}

func MatchAll() Query {
	return Query{"match_all": map[string]any{}}
}

func MatchNone() Query {
	return Query{"match_none": map[string]any{}}
}

// TypeFilter matches documents of exactly type t.
func TypeFilter(t catalog.Type) Query {
	return Query{"term": map[string]any{catalog.FieldType: int(t)}}
}

// Build returns the film search query for selector and searchText.
//
// An unrecognized selector matches everything and ignores searchText. A
// recognized selector with empty searchText matches nothing.
func Build(selector, searchText string) Query {
	t, ok := SelectorType(selector)
	if !ok {
		return MatchAll()
	}
	if searchText == "" {
		return MatchNone()
	}
	return Query{
		"bool": map[string]any{
			"must": []Query{
				TypeFilter(t),
				{
					"multi_match": map[string]any{
						"query":    searchText,
						"fields":   SearchFields,
						"operator": "and",
					},
				},
			},
			"minimum_should_match": "100%",
		},
	}
}

// SearchRequest is the _search body sent to the index.
type SearchRequest struct {
	Query          Query `json:"query"`
	Aggs           Aggs  `json:"aggs,omitempty"`
	Size           int   `json:"size"`
	TrackTotalHits bool  `json:"track_total_hits"`
}

// Hits requests the top size documents matching q.
func Hits(q Query, size int) SearchRequest {
	return SearchRequest{Query: q, Size: size, TrackTotalHits: true}
}

// Aggregate requests only the aggregations over documents matching q.
func Aggregate(q Query, aggs Aggs) SearchRequest {
	return SearchRequest{Query: q, Aggs: aggs, Size: 0, TrackTotalHits: true}
}
