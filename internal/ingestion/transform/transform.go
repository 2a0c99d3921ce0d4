// Package transform maps one raw CSV record of the film catalog to a
// normalized catalog.Document. Transform never fails: values that cannot be
// parsed degrade to null or to the -1 sentinel.
package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog/textnorm"
)

// CSV column names.
const (
	ColShowID      = "show_id"
	ColType        = "type"
	ColTitle       = "title"
	ColDirector    = "director"
	ColCast        = "cast"
	ColCountry     = "country"
	ColDateAdded   = "date_added"
	ColReleaseYear = "release_year"
	ColRating      = "rating"
	ColDuration    = "duration"
	ColListedIn    = "listed_in"
	ColDescription = "description"
)

// Columns is the fixed CSV header the pipeline accepts, in source order.
var Columns = []string{
	ColShowID, ColType, ColTitle, ColDirector, ColCast, ColCountry,
	ColDateAdded, ColReleaseYear, ColRating, ColDuration, ColListedIn, ColDescription,
}

const (
	sourceDateLayout = "January 2, 2006"
	storedDateLayout = "01022006"

	// Movies whose duration parses below this are assumed to be shows whose
	// type column is wrong; their duration is dropped.
	movieSeasonThreshold = 5
)

var durationSuffixes = strings.NewReplacer("min", "", "Seasons", "", "Season", "")

// RawRow is one CSV record keyed by header name.
type RawRow map[string]string

// fields is a RawRow after renaming and empty-to-null conversion.
type fields map[string]*string

// Transform converts row into the document to index and returns the row's
// show_id separately as the document key.
func Transform(row RawRow) (string, catalog.Document) {
	f := prepare(row)

	var doc catalog.Document
	doc.DateAdded = parseDate(f[ColDateAdded])
	doc.ReleaseYear = parseInt(f[ColReleaseYear])

	doc.Title = normalized(f[ColTitle], textnorm.KeepPunctuation)
	doc.Description = normalized(f[ColDescription], textnorm.KeepPunctuation)
	doc.Director = normalized(f[ColDirector], textnorm.Default)
	doc.Cast = splitNormalized(f[ColCast], textnorm.KeepPunctuation)
	doc.Genres = splitNormalized(f[catalog.FieldGenres], textnorm.Default)
	doc.Country = f[ColCountry]

	doc.Type = catalog.TypeUnknown
	if v := f[ColType]; v != nil {
		doc.Type = catalog.ParseType(*v)
	}
	doc.Rating = catalog.RatingUnknown
	if v := f[ColRating]; v != nil {
		doc.Rating = catalog.ParseRating(*v)
	}
	doc.Duration = parseDuration(f[ColDuration], doc.Type)

	var id string
	if v := f[ColShowID]; v != nil {
		id = *v
	}
	return id, doc
}

// prepare renames listed_in to genres and turns every empty value into nil.
func prepare(row RawRow) fields {
	f := make(fields, len(row))
	for k, v := range row {
		v := v
		if k == ColListedIn {
			k = catalog.FieldGenres
		}
		if v == "" {
			f[k] = nil
			continue
		}
		f[k] = &v
	}
	return f
}

func normalized(v *string, opts textnorm.Options) *string {
	if v == nil {
		return nil
	}
	s := textnorm.Normalize(*v, opts)
	return &s
}

func splitNormalized(v *string, opts textnorm.Options) []string {
	if v == nil {
		return nil
	}
	parts := strings.Split(*v, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = textnorm.Normalize(p, opts)
	}
	return out
}

func parseDate(v *string) *string {
	if v == nil {
		return nil
	}
	t, err := time.Parse(sourceDateLayout, strings.TrimSpace(*v))
	if err != nil {
		return nil
	}
	s := t.Format(storedDateLayout)
	return &s
}

func parseInt(v *string) *int {
	if v == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*v))
	if err != nil {
		return nil
	}
	return &n
}

func parseDuration(v *string, t catalog.Type) *int {
	if v == nil {
		return nil
	}
	stripped := strings.TrimSpace(durationSuffixes.Replace(*v))
	n, err := strconv.Atoi(stripped)
	if err != nil {
		return nil
	}
	if t == catalog.TypeMovie && n < movieSeasonThreshold {
		return nil
	}
	return &n
}
