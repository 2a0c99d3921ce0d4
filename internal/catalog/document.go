// Package catalog defines the film document stored in the search index, the
// integer codes used for its type and rating fields, and the index mapping.
package catalog

// Type discriminates shows from movies. It is stored as a byte in the index.
type Type int

const (
	TypeUnknown Type = -1
	TypeShow    Type = 0
	TypeMovie   Type = 1
)

// ParseType maps the CSV "type" column to its code. Anything other than the
// two known labels is TypeUnknown.
func ParseType(s string) Type {
	switch s {
	case "TV Show":
		return TypeShow
	case "Movie":
		return TypeMovie
	default:
		return TypeUnknown
	}
}

// Document is one normalized film or show. Nil pointers and nil slices are
// stored as JSON null.
type Document struct {
	Type        Type     `json:"type"`
	Title       *string  `json:"title"`
	Director    *string  `json:"director"`
	Cast        []string `json:"cast"`
	Country     *string  `json:"country"`
	DateAdded   *string  `json:"date_added"`
	ReleaseYear *int     `json:"release_year"`
	Rating      Rating   `json:"rating"`
	Duration    *int     `json:"duration"`
	Genres      []string `json:"genres"`
	Description *string  `json:"description"`
}

// Index field names referenced by queries and aggregations.
const (
	FieldType        = "type"
	FieldTitle       = "title"
	FieldDirector    = "director"
	FieldCast        = "cast"
	FieldCastRaw     = "cast.raw"
	FieldCountry     = "country"
	FieldDateAdded   = "date_added"
	FieldReleaseYear = "release_year"
	FieldRating      = "rating"
	FieldDuration    = "duration"
	FieldGenres      = "genres"
	FieldGenresRaw   = "genres.raw"
	FieldDescription = "description"
)

// DateAddedFormat is the Java date pattern the index uses for date_added.
// It matches the Go layout "01022006" produced during ingestion.
const DateAddedFormat = "MMddyyyy"
