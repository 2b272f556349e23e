package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is a tabular file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

const defaultSheet = "Sheet1"

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", path)
	}
}

// Load reads a dataset from a CSV, TSV or XLSX file.
func Load(path string) (*Dataset, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var header []string
	var records [][]string
	switch format {
	case FormatXLSX:
		header, records, err = readExcel(path)
	default:
		file, openErr := os.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open input: %w", openErr)
		}
		defer file.Close()
		header, records, err = ReadDelimited(file, delimiter(format))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return New(header, records)
}

// Save writes the dataset with its Preference column. The file is written to
// a temporary sibling first and renamed into place.
func Save(path string, d *Dataset) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if format == FormatXLSX {
		return writeExcel(path, d)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := WriteDelimited(tmp, delimiter(format), d); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// ReadDelimited reads a header row followed by records. Short records are
// padded to the header width.
func ReadDelimited(r io.Reader, comma rune) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, errors.New("empty file")
	}

	header := all[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, padRecords(all[1:], len(header)), nil
}

// WriteDelimited writes the output header and records.
func WriteDelimited(w io.Writer, comma rune, d *Dataset) error {
	writer := csv.NewWriter(w)
	writer.Comma = comma
	if err := writer.Write(d.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writer.WriteAll(d.Records()); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

func readExcel(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("no sheets in workbook")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}
	return rows[0], padRecords(rows[1:], len(rows[0])), nil
}

func writeExcel(path string, d *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	header := d.Header()
	if err := f.SetSheetRow(defaultSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range d.Rows {
		cells := make([]interface{}, 0, len(row.Values)+1)
		for _, value := range row.Values {
			cells = append(cells, value)
		}
		if row.Preference != nil {
			cells = append(cells, *row.Preference)
		} else {
			cells = append(cells, nil)
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(defaultSheet, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func padRecords(records [][]string, width int) [][]string {
	for i, record := range records {
		for len(record) < width {
			record = append(record, "")
		}
		records[i] = record
	}
	return records
}

func delimiter(format Format) rune {
	if format == FormatTSV {
		return '\t'
	}
	return ','
}
