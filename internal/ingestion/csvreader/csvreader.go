// Package csvreader streams the film catalog CSV as header-keyed rows.
// A leading UTF-8 BOM is skipped and records with the wrong number of fields
// are logged and dropped.
package csvreader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Reader yields one transform.RawRow per CSV record.
type Reader struct {
	csv     *csv.Reader
	header  []string
	skipped int
	logger  *slog.Logger
}

// New reads the header line from r. It fails if the header is missing one of
// transform.Columns.
func New(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, fmt.Errorf("skipping BOM: %w", err)
		}
	}

	cr := csv.NewReader(br)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading header: empty input")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("header is missing columns %v", missing)
	}
	cr.FieldsPerRecord = len(header)

	return &Reader{
		csv:    cr,
		header: header,
		logger: slog.Default().With("component", "csvreader"),
	}, nil
}

// Next returns the next row, or io.EOF once the input is exhausted.
func (r *Reader) Next() (transform.RawRow, error) {
	for {
		record, err := r.csv.Read()
		if errors.Is(err, csv.ErrFieldCount) {
			var line int
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			r.skipped++
			r.logger.Warn("skipping malformed record",
				"line", line,
				"fields", len(record),
				"expected", len(r.header),
			)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading record: %w", err)
		}

		row := make(transform.RawRow, len(r.header))
		for i, name := range r.header {
			row[name] = record[i]
		}
		return row, nil
	}
}

// Skipped reports how many malformed records have been dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Each opens path and calls fn for every row until the file is exhausted or
// fn returns an error.
func Each(path string, fn func(transform.RawRow) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r, err := New(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Skipped(), nil
		}
		if err != nil {
			return r.Skipped(), fmt.Errorf("%s: %w", path, err)
		}
		if err := fn(row); err != nil {
			return r.Skipped(), err
		}
	}
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range transform.Columns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
