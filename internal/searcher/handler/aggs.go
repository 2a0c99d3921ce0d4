package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/elastic"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
)

// Endpoint labels for metrics, cache keys and analytics.
const (
	endpointMovieAggs = "aggs_movie"
	endpointShowAggs  = "aggs_show"
	endpointAllAggs   = "aggs_all"
)

type MovieAggs struct {
	TotalAgg    int64            `json:"total_agg"`
	AvgDurAgg   int64            `json:"avg_dur_agg"`
	HistoDurAgg map[string]int64 `json:"histo_dur_agg"`
}

type ShowAggs struct {
	TotalAgg int64 `json:"total_agg"`
}

type AllAggs struct {
	TotalAgg    int64            `json:"total_agg"`
	DirectorAgg map[string]int64 `json:"director_agg"`
	ActorAgg    map[string]int64 `json:"actor_agg"`
	RatingAgg   map[string]int64 `json:"rating_agg"`
	CountryAgg  map[string]int64 `json:"country_agg"`
	GenreAgg    map[string]int64 `json:"genre_agg"`
}

// MovieAggs handles GET /api/aggs/movie/: count, mean duration truncated to
// whole minutes, and a duration histogram in 20 minute steps.
func (h *Handler) MovieAggs(w http.ResponseWriter, r *http.Request) {
	h.serveAggs(w, r, endpointMovieAggs, func(ctx context.Context) (any, error) {
		res, err := h.search(ctx, endpointMovieAggs, query.Aggregate(
			query.TypeFilter(catalog.TypeMovie),
			query.BuildAggregations(query.AggOptions{AvgDuration: true, HistoDuration: true}),
		))
		if err != nil {
			return nil, err
		}
		out := MovieAggs{}
		if out.TotalAgg, err = total(res); err != nil {
			return nil, err
		}
		avg, err := res.Metric(query.AggAvgDur)
		if err != nil {
			return nil, malformed(err)
		}
		if avg.Value != nil {
			out.AvgDurAgg = int64(*avg.Value)
		}
		buckets, err := res.Buckets(query.AggHistoDur)
		if err != nil {
			return nil, malformed(err)
		}
		out.HistoDurAgg = make(map[string]int64, len(buckets))
		for _, b := range buckets {
			n, _ := b.Key.Int()
			out.HistoDurAgg[strconv.Itoa(n)] = b.DocCount
		}
		return out, nil
	})
}

// ShowAggs handles GET /api/aggs/show/.
func (h *Handler) ShowAggs(w http.ResponseWriter, r *http.Request) {
	h.serveAggs(w, r, endpointShowAggs, func(ctx context.Context) (any, error) {
		res, err := h.search(ctx, endpointShowAggs, query.Aggregate(
			query.TypeFilter(catalog.TypeShow),
			query.BuildAggregations(query.AggOptions{}),
		))
		if err != nil {
			return nil, err
		}
		n, err := total(res)
		if err != nil {
			return nil, err
		}
		return ShowAggs{TotalAgg: n}, nil
	})
}

// AllAggs handles GET /api/aggs/: the total count plus the top five
// directors, actors, ratings, countries and genres over the whole catalog.
func (h *Handler) AllAggs(w http.ResponseWriter, r *http.Request) {
	h.serveAggs(w, r, endpointAllAggs, func(ctx context.Context) (any, error) {
		res, err := h.search(ctx, endpointAllAggs, query.Aggregate(
			query.MatchAll(),
			query.BuildAggregations(query.AggOptions{
				Directors: true,
				Actors:    true,
				Genres:    true,
				Countries: true,
				Ratings:   true,
			}),
		))
		if err != nil {
			return nil, err
		}
		out := AllAggs{}
		if out.TotalAgg, err = total(res); err != nil {
			return nil, err
		}
		targets := []struct {
			name string
			dst  *map[string]int64
		}{
			{query.AggDirectors, &out.DirectorAgg},
			{query.AggActors, &out.ActorAgg},
			{query.AggRatings, &out.RatingAgg},
			{query.AggCountries, &out.CountryAgg},
			{query.AggGenres, &out.GenreAgg},
		}
		for _, t := range targets {
			buckets, err := res.Buckets(t.name)
			if err != nil {
				return nil, malformed(err)
			}
			m := make(map[string]int64, len(buckets))
			for _, b := range buckets {
				key := b.Key.String()
				if t.name == query.AggRatings {
					key = ratingLabel(b.Key)
				}
				m[key] += b.DocCount
			}
			*t.dst = m
		}
		return out, nil
	})
}

func (h *Handler) serveAggs(w http.ResponseWriter, r *http.Request, endpoint string, compute func(ctx context.Context) (any, error)) {
	start := time.Now()
	ctx := r.Context()

	body, cached, err := h.cache.GetOrCompute(ctx, cache.Key(endpoint), compute)
	if err != nil {
		h.countAggs(endpoint, "error")
		h.track(r, analytics.SearchEvent{Type: analytics.EventError, Endpoint: endpoint}, start)
		h.fail(w, r, "aggregation failed", err)
		return
	}
	h.countAggs(endpoint, "ok")
	h.track(r, analytics.SearchEvent{Type: analytics.EventAggregation, Endpoint: endpoint, CacheHit: cached}, start)
	h.writeRaw(w, http.StatusOK, body)
}

func (h *Handler) countAggs(endpoint, status string) {
	if h.metrics != nil {
		h.metrics.AggRequestsTotal.WithLabelValues(endpoint, status).Inc()
	}
}

func total(res *elastic.SearchResponse) (int64, error) {
	v, err := res.Metric(query.AggTotal)
	if err != nil {
		return 0, malformed(err)
	}
	if v.Value == nil {
		return 0, nil
	}
	return int64(*v.Value), nil
}

// ratingLabel maps a rating bucket back to its label. Codes outside the
// table, including the unknown sentinel, map to "".
func ratingLabel(k elastic.BucketKey) string {
	code, ok := k.Int()
	if !ok {
		return ""
	}
	label, _ := catalog.Rating(code).Label()
	return label
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrIndexResponse, err)
}
