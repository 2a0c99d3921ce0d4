package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog/textnorm"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
)

const queryParam = "query"

// Film is one search result: the stored document without its type, with
// the rating code turned back into its label.
type Film struct {
	Title       *string  `json:"title"`
	Director    *string  `json:"director"`
	Cast        []string `json:"cast"`
	Country     *string  `json:"country"`
	DateAdded   *string  `json:"date_added"`
	ReleaseYear *int     `json:"release_year"`
	Rating      string   `json:"rating"`
	Duration    *int     `json:"duration"`
	Genres      []string `json:"genres"`
	Description *string  `json:"description"`
}

// filmPage is the cached form of a film search: the response array plus the
// index's total hit count, which the response itself does not carry.
type filmPage struct {
	Total int64           `json:"total"`
	Films json.RawMessage `json:"films"`
}

func filmFromDocument(doc catalog.Document) Film {
	label, _ := doc.Rating.Label()
	return Film{
		Title:       doc.Title,
		Director:    doc.Director,
		Cast:        doc.Cast,
		Country:     doc.Country,
		DateAdded:   doc.DateAdded,
		ReleaseYear: doc.ReleaseYear,
		Rating:      label,
		Duration:    doc.Duration,
		Genres:      doc.Genres,
		Description: doc.Description,
	}
}

// Film handles GET /api/film/{type}/?query=. The query parameter must be
// present but may be empty.
func (h *Handler) Film(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	selector := chi.URLParam(r, "type")
	params := r.URL.Query()
	if !params.Has(queryParam) {
		h.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("query parameter '%s' is required", queryParam))
		return
	}
	// Documents were accent-folded at ingestion; fold the search text the
	// same way. Case is left alone because director and country are keywords.
	text := textnorm.Normalize(params.Get(queryParam), textnorm.KeepPunctuation)

	body, cached, err := h.cache.GetOrCompute(ctx, cache.Key("film", selector, text), func(ctx context.Context) (any, error) {
		films, total, err := h.searchFilms(ctx, query.Build(selector, text))
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(films)
		if err != nil {
			return nil, err
		}
		return filmPage{Total: total, Films: encoded}, nil
	})
	var page filmPage
	if err == nil {
		err = decodePage(body, &page)
	}
	if err != nil {
		h.countSearch(selector, metrics.ResultError)
		h.track(r, analytics.SearchEvent{Type: analytics.EventError, Endpoint: "film", Selector: selector}, start)
		h.fail(w, r, "search failed", err)
		return
	}

	returned := countItems(page.Films)
	result := metrics.ResultHit
	evType := analytics.EventFilmSearch
	if returned == 0 {
		result = metrics.ResultZeroResult
		evType = analytics.EventZeroResult
	}
	h.countSearch(selector, result)
	h.track(r, analytics.SearchEvent{
		Type:      evType,
		Endpoint:  "film",
		Selector:  selector,
		Query:     textnorm.NormalizeQuery(text),
		TotalHits: page.Total,
		Returned:  returned,
		CacheHit:  cached,
	}, start)

	log.Info("film search completed",
		"selector", selector,
		"query", text,
		"returned", returned,
		"cache_hit", cached,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeRaw(w, http.StatusOK, page.Films)
}

// searchFilms returns the top hits for q and the total hit count. Zero hits
// yield an empty, non-nil slice.
func (h *Handler) searchFilms(ctx context.Context, q query.Query) ([]Film, int64, error) {
	res, err := h.search(ctx, "film", query.Hits(q, h.resultSize))
	if err != nil {
		return nil, 0, err
	}
	films := make([]Film, 0, len(res.Hits.Hits))
	if res.Hits.Total.Value == 0 {
		return films, 0, nil
	}
	for _, hit := range res.Hits.Hits {
		var doc catalog.Document
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, 0, fmt.Errorf("decoding document %s: %w: %v", hit.ID, apperrors.ErrIndexResponse, err)
		}
		films = append(films, filmFromDocument(doc))
	}
	return films, res.Hits.Total.Value, nil
}

func (h *Handler) countSearch(selector, result string) {
	if h.metrics == nil {
		return
	}
	if _, ok := query.SelectorType(selector); !ok {
		selector = "other"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(selector, result).Inc()
}

func decodePage(body json.RawMessage, page *filmPage) error {
	if err := json.Unmarshal(body, page); err != nil {
		return fmt.Errorf("decoding film page: %w: %v", apperrors.ErrInternal, err)
	}
	if page.Films == nil {
		return fmt.Errorf("decoding film page: %w: no films field", apperrors.ErrInternal)
	}
	return nil
}

// countItems reports the length of a JSON array body.
func countItems(body json.RawMessage) int {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return 0
	}
	return len(items)
}
