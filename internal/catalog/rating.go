package catalog

// Rating is the small integer code stored for a content rating label.
// RatingUnknown covers both unrecognized labels and source rows whose rating
// column holds a duration.
type Rating int

const RatingUnknown Rating = -1

var ratingCodes = map[string]Rating{
	"PG-13":    0,
	"TV-MA":    1,
	"PG":       2,
	"TV-14":    3,
	"TV-PG":    4,
	"TV-Y":     5,
	"TV-Y7":    6,
	"R":        7,
	"TV-G":     8,
	"G":        9,
	"NC-17":    10,
	"NR":       11,
	"TV-Y7-FV": 12,
	"UR":       13,
}

var ratingLabels = func() map[Rating]string {
	m := make(map[Rating]string, len(ratingCodes))
	for label, code := range ratingCodes {
		m[code] = label
	}
	return m
}()

// ParseRating looks label up in the fixed rating table.
func ParseRating(label string) Rating {
	if code, ok := ratingCodes[label]; ok {
		return code
	}
	return RatingUnknown
}

// Label returns the rating's display label, or "" with ok=false for codes
// outside the table (including RatingUnknown).
func (r Rating) Label() (label string, ok bool) {
	label, ok = ratingLabels[r]
	return label, ok
}
