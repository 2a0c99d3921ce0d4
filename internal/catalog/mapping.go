package catalog

type fieldMapping map[string]any

func keywordWithText() fieldMapping {
	return fieldMapping{
		"type": "text",
		"fields": map[string]any{
			"raw": fieldMapping{"type": "keyword"},
		},
	}
}

// IndexMapping is the explicit mapping the index is created with. cast and
// genres are analyzed text with an exact-match "raw" keyword sub-field used
// for terms aggregations.
func IndexMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				FieldType:        fieldMapping{"type": "byte"},
				FieldTitle:       fieldMapping{"type": "text"},
				FieldDirector:    fieldMapping{"type": "keyword"},
				FieldCast:        keywordWithText(),
				FieldCountry:     fieldMapping{"type": "keyword"},
				FieldDateAdded:   fieldMapping{"type": "date", "format": DateAddedFormat},
				FieldReleaseYear: fieldMapping{"type": "integer"},
				FieldRating:      fieldMapping{"type": "byte"},
				FieldDuration:    fieldMapping{"type": "integer"},
				FieldGenres:      keywordWithText(),
				FieldDescription: fieldMapping{"type": "text"},
			},
		},
	}
}
