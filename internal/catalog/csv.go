// Package catalog bulk-loads strategies, products, listings and pending
// recommendations from CSV files into the store.
package catalog

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one CSV data row keyed by lower-cased header name. Row counts
// data rows from 1.
type Record struct {
	Row    int
	Fields map[string]string
}

// Get returns the trimmed value of a column, or "" when absent.
func (r Record) Get(col string) string {
	return r.Fields[col]
}

// StreamRecords reads a headed CSV and sends each data row on the returned
// channel. Both channels are closed when processing completes; at most one
// error is sent.
func StreamRecords(ctx context.Context, r io.Reader) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comment = '#'
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("csv: file is empty")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		for i, h := range header {
			header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		}

		n := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			n++

			rec := Record{Row: n, Fields: make(map[string]string, len(header))}
			for i, col := range header {
				if i < len(row) {
					rec.Fields[col] = strings.TrimSpace(row[i])
				}
			}

			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}
