package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	TitleColumn      = "Titles"
	IndexColumn      = "Index"
	PreferenceColumn = "Preference"
)

// SchemaError reports a required column that is missing or unusable.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required column %q", e.Column)
	}
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}

// IsSchemaError reports whether err wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}

// Row is one record. Values holds the raw cells aligned with the owning
// dataset's Columns; Index and Title are parsed copies of their cells.
type Row struct {
	Index      int
	Title      string
	Preference *int
	Values     []string
}

func (r Row) clone() Row {
	out := Row{Index: r.Index, Title: r.Title}
	out.Values = append([]string(nil), r.Values...)
	if r.Preference != nil {
		value := *r.Preference
		out.Preference = &value
	}
	return out
}

// Dataset is an ordered set of rows sharing one column header.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New builds a dataset from a header and raw records. A missing Index column
// is synthesized from row position and placed first. Any existing Preference
// column is dropped since it is recomputed by the run.
func New(header []string, records [][]string) (*Dataset, error) {
	columns := make([]string, 0, len(header)+1)
	keep := make([]int, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == PreferenceColumn {
			continue
		}
		columns = append(columns, name)
		keep = append(keep, i)
	}

	titlePos := position(columns, TitleColumn)
	if titlePos < 0 {
		return nil, &SchemaError{Column: TitleColumn}
	}

	synthesize := position(columns, IndexColumn) < 0
	if synthesize {
		columns = append([]string{IndexColumn}, columns...)
		titlePos++
	}
	indexPos := position(columns, IndexColumn)

	rows := make([]Row, 0, len(records))
	seen := make(map[int]int, len(records))
	for i, record := range records {
		values := make([]string, 0, len(columns))
		if synthesize {
			values = append(values, strconv.Itoa(i))
		}
		for _, src := range keep {
			cell := ""
			if src < len(record) {
				cell = record[src]
			}
			values = append(values, cell)
		}

		index, err := strconv.Atoi(strings.TrimSpace(values[indexPos]))
		if err != nil {
			return nil, &SchemaError{Column: IndexColumn, Reason: fmt.Sprintf("row %d: invalid integer %q", i+1, values[indexPos])}
		}
		if first, dup := seen[index]; dup {
			return nil, &SchemaError{Column: IndexColumn, Reason: fmt.Sprintf("duplicate index %d in rows %d and %d", index, first+1, i+1)}
		}
		seen[index] = i

		rows = append(rows, Row{Index: index, Title: values[titlePos], Values: values})
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Batches partitions the first min(limit, Len()) rows into contiguous batches
// of at most size rows. A non-positive limit selects every row.
func (d *Dataset) Batches(limit, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	total := d.Len()
	if limit > 0 && limit < total {
		total = limit
	}

	batches := make([]Batch, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		batches = append(batches, Batch{
			Number:  len(batches) + 1,
			Offset:  start,
			Columns: d.Columns,
			Rows:    d.Rows[start:end],
		})
	}
	return batches, nil
}

// Concat joins batches in the given order without sorting or deduplication.
func Concat(columns []string, batches []Batch) *Dataset {
	total := 0
	for _, batch := range batches {
		total += len(batch.Rows)
	}
	rows := make([]Row, 0, total)
	for _, batch := range batches {
		rows = append(rows, batch.Rows...)
	}
	return &Dataset{Columns: columns, Rows: rows}
}

// Header returns the output header: the input columns plus Preference.
func (d *Dataset) Header() []string {
	header := make([]string, 0, len(d.Columns)+1)
	header = append(header, d.Columns...)
	return append(header, PreferenceColumn)
}

// Records returns output records aligned with Header. Unset preferences are
// rendered as empty cells.
func (d *Dataset) Records() [][]string {
	records := make([][]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		record := make([]string, 0, len(row.Values)+1)
		record = append(record, row.Values...)
		record = append(record, FormatPreference(row.Preference))
		records = append(records, record)
	}
	return records
}

// FormatPreference renders a preference cell.
func FormatPreference(value *int) string {
	if value == nil {
		return ""
	}
	return strconv.Itoa(*value)
}

// Batch is a contiguous slice of a dataset processed as one backend request.
type Batch struct {
	// Number is the 1-based batch position within the run.
	Number int
	// Offset is the position of the first row within the dataset.
	Offset  int
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the batch header carries name.
func (b Batch) HasColumn(name string) bool {
	return position(b.Columns, name) >= 0
}

// Clone returns a deep copy whose rows can be mutated independently.
func (b Batch) Clone() Batch {
	out := b
	out.Rows = make([]Row, len(b.Rows))
	for i, row := range b.Rows {
		out.Rows[i] = row.clone()
	}
	return out
}

// Titles returns row titles in order.
func (b Batch) Titles() []string {
	titles := make([]string, len(b.Rows))
	for i, row := range b.Rows {
		titles[i] = row.Title
	}
	return titles
}

// Indices returns row indices in order.
func (b Batch) Indices() []int {
	indices := make([]int, len(b.Rows))
	for i, row := range b.Rows {
		indices[i] = row.Index
	}
	return indices
}

// Unrated returns a copy of the batch with every preference cleared.
func (b Batch) Unrated() Batch {
	out := b.Clone()
	for i := range out.Rows {
		out.Rows[i].Preference = nil
	}
	return out
}

func position(columns []string, name string) int {
	for i, column := range columns {
		if column == name {
			return i
		}
	}
	return -1
}
