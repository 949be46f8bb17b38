package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Recognized header columns. Anything else in the header is ignored.
const (
	colSKU         = "sku"
	colName        = "name"
	colDescription = "description"
	colActive      = "active"
)

// ErrMissingSKUColumn is returned when the header has no recognizable sku
// column; the import cannot proceed without it.
var ErrMissingSKUColumn = errors.New("header must include an 'sku' column")

// RawRow is one structural record from a row source. Either Fields or Err is
// set: Err marks a malformed line that the pipeline should count and skip.
type RawRow struct {
	Line   int
	Fields map[string]string
	Err    error
}

// RowSource yields raw rows one at a time, bufio.Scanner style:
//
//	for src.Scan() {
//	    row := src.Row()
//	    ...
//	}
//	if err := src.Err(); err != nil { ... }
//
// Sources are forward-only; re-reading requires reopening the file.
type RowSource interface {
	Scan() bool
	Row() RawRow
	Err() error
	Close() error
}

// csvSource streams a CSV file. Tolerates variable field counts, any line
// endings and a UTF-8 BOM; a malformed line becomes a structural-error row
// instead of stopping the stream.
type csvSource struct {
	file   io.Closer
	reader *csv.Reader
	header map[string]int
	row    RawRow
	err    error
}

// NewCSVSource reads the header row and maps recognized columns to positions.
func NewCSVSource(r io.ReadCloser) (RowSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	record, err := cr.Read()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	header, err := mapHeader(record)
	if err != nil {
		r.Close()
		return nil, err
	}

	return &csvSource{
		file:   r,
		reader: cr,
		header: header,
	}, nil
}

func (s *csvSource) Scan() bool {
	for {
		record, err := s.reader.Read()
		if err == io.EOF {
			return false
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				s.row = RawRow{Line: parseErr.Line, Err: err}
				return true
			}
			// Underlying read failure, the stream is dead.
			s.err = err
			return false
		}
		// Truly empty lines never reach us (the reader skips them); a
		// whitespace-only line shows up as a single empty field and is
		// skipped too. A line of bare separators keeps its field count and
		// falls through to validation as a missing sku.
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		// FieldPos gives the physical file line, which stays accurate
		// across quoted fields spanning lines.
		line, _ := s.reader.FieldPos(0)
		s.row = RawRow{Line: line, Fields: projectRecord(s.header, record)}
		return true
	}
}

func (s *csvSource) Row() RawRow { return s.row }
func (s *csvSource) Err() error  { return s.err }

func (s *csvSource) Close() error {
	return s.file.Close()
}

// xlsxSource streams the first sheet of an Excel workbook through excelize's
// row iterator, so a large workbook is never held in memory at once.
type xlsxSource struct {
	file   *excelize.File
	rows   *excelize.Rows
	header map[string]int
	line   int
	row    RawRow
	err    error
}

// NewXLSXSource opens a workbook and positions the iterator past the header.
// The "Products" sheet is preferred when present, otherwise the first sheet.
func NewXLSXSource(path string) (RowSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("no sheets found in Excel file")
	}
	sheetName := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, "Products") {
			sheetName = name
			break
		}
	}

	rows, err := f.Rows(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("file must have a header row")
	}
	headerCells, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	header, err := mapHeader(headerCells)
	if err != nil {
		rows.Close()
		f.Close()
		return nil, err
	}

	return &xlsxSource{
		file:   f,
		rows:   rows,
		header: header,
		line:   1,
	}, nil
}

func (s *xlsxSource) Scan() bool {
	for s.rows.Next() {
		s.line++
		cells, err := s.rows.Columns()
		if err != nil {
			s.row = RawRow{Line: s.line, Err: err}
			return true
		}
		if isBlank(cells) {
			continue
		}
		s.row = RawRow{Line: s.line, Fields: projectRecord(s.header, cells)}
		return true
	}
	s.err = s.rows.Error()
	return false
}

func (s *xlsxSource) Row() RawRow { return s.row }
func (s *xlsxSource) Err() error  { return s.err }

func (s *xlsxSource) Close() error {
	s.rows.Close()
	return s.file.Close()
}

// mapHeader normalizes header names and maps recognized columns to positions.
// The first occurrence of a duplicated column wins.
func mapHeader(record []string) (map[string]int, error) {
	header := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.TrimPrefix(name, "\ufeff")
		name = strings.ToLower(strings.TrimSpace(name))
		name = strings.TrimSuffix(name, " *")
		if name == "" {
			continue
		}
		if _, ok := header[name]; !ok {
			header[name] = i
		}
	}
	if _, ok := header[colSKU]; !ok {
		return nil, ErrMissingSKUColumn
	}
	return header, nil
}

// projectRecord keeps only header-mapped cells. A row shorter than the header
// simply lacks the trailing columns; the validator decides whether that makes
// it invalid.
func projectRecord(header map[string]int, record []string) map[string]string {
	fields := make(map[string]string, len(header))
	for name, idx := range header {
		if idx < len(record) {
			fields[name] = record[idx]
		}
	}
	return fields
}

// isBlank reports a spreadsheet row with no cell content. Styled but empty
// rows come back as empty strings and still count as blank.
func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// CountCSVRows counts data lines in a CSV file with a raw byte scan, without
// parsing. The result is used as the task's total; it can overcount when a
// quoted field spans lines, which only makes the percent conservative.
func CountCSVRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var (
		count    int64
		lastByte byte
		sawData  bool
	)
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			sawData = true
			count += int64(bytes.Count(buf[:n], []byte{'\n'}))
			lastByte = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if sawData && lastByte != '\n' {
		count++
	}

	// Exclude the header row.
	if count > 0 {
		count--
	}
	return count, nil
}
