package query

import (
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog"
)

// Aggs maps aggregation names to their definitions.
type Aggs map[string]any

// Aggregation names, also used as keys of the API responses.
const (
	AggTotal     = "total_agg"
	AggAvgDur    = "avg_dur_agg"
	AggHistoDur  = "histo_dur_agg"
	AggDirectors = "director_agg"
	AggActors    = "actor_agg"
	AggGenres    = "genre_agg"
	AggCountries = "country_agg"
	AggRatings   = "rating_agg"
)

const (
	histogramInterval    = 20
	histogramMinDocCount = 10
	topTermsSize         = 5
)

// AggOptions selects the optional aggregations. The zero value requests only
// the total count.
type AggOptions struct {
	AvgDuration   bool
	HistoDuration bool
	Directors     bool
	Actors        bool
	Genres        bool
	Countries     bool
	Ratings       bool
}

// BuildAggregations returns the total count aggregation plus every
// aggregation enabled in opts. Disabled aggregations are absent.
func BuildAggregations(opts AggOptions) Aggs {
	aggs := Aggs{
		AggTotal: map[string]any{"value_count": field(catalog.FieldType)},
	}
	if opts.AvgDuration {
		aggs[AggAvgDur] = map[string]any{"avg": field(catalog.FieldDuration)}
	}
	if opts.HistoDuration {
		aggs[AggHistoDur] = map[string]any{"histogram": map[string]any{
			"field":         catalog.FieldDuration,
			"interval":      histogramInterval,
			"min_doc_count": histogramMinDocCount,
		}}
	}
	if opts.Directors {
		aggs[AggDirectors] = topTerms(catalog.FieldDirector)
	}
	if opts.Actors {
		aggs[AggActors] = topTerms(catalog.FieldCastRaw)
	}
	if opts.Genres {
		aggs[AggGenres] = topTerms(catalog.FieldGenresRaw)
	}
	if opts.Countries {
		aggs[AggCountries] = topTerms(catalog.FieldCountry)
	}
	if opts.Ratings {
		aggs[AggRatings] = topTerms(catalog.FieldRating)
	}
	return aggs
}

func field(name string) map[string]any {
	return map[string]any{"field": name}
}

func topTerms(name string) map[string]any {
	return map[string]any{"terms": map[string]any{
		"field": name,
		"size":  topTermsSize,
	}}
}
