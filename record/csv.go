// Package record writes sampled rows to their destinations.
package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/mklimuk/gpib/sampler"
)

// Stdout is the CSV path that selects standard output.
const Stdout = "-"

const timeColumn = "DateTime"

var _ sampler.Sink = &CSVSink{}

// CSVSink writes one CSV record per row, the start time first. The header is
// written before the first row.
type CSVSink struct {
	mx         sync.Mutex
	w          *csv.Writer
	closer     io.Closer
	columns    []string
	timeFormat string
	header     bool
}

func NewCSVSink(w io.Writer, columns []string, timeFormat string) *CSVSink {
	return &CSVSink{
		w:          csv.NewWriter(w),
		columns:    columns,
		timeFormat: timeFormat,
		header:     true,
	}
}

// OpenCSV opens the CSV destination at path. Files are appended to and only
// get a header when they are empty.
func OpenCSV(path string, columns []string, timeFormat string) (*CSVSink, error) {
	if path == Stdout {
		return NewCSVSink(os.Stdout, columns, timeFormat), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open csv output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not open csv output: %w", err)
	}
	s := NewCSVSink(f, columns, timeFormat)
	s.closer = f
	s.header = info.Size() == 0
	return s, nil
}

func (s *CSVSink) Emit(ctx context.Context, row sampler.Row) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.header {
		if err := s.w.Write(append([]string{timeColumn}, s.columns...)); err != nil {
			return fmt.Errorf("csv header: %w", err)
		}
		s.header = false
	}
	record := make([]string, 0, len(row.Values)+1)
	record = append(record, row.Start.Format(s.timeFormat))
	for _, v := range row.Values {
		record = append(record, FormatValue(v))
	}
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("csv row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.w.Flush()
	if s.closer == nil {
		return s.w.Error()
	}
	return s.closer.Close()
}

// FormatValue renders a row value the way it is written to text outputs.
func FormatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
