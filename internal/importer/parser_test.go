package importer

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func csvSourceFrom(t *testing.T, data string) RowSource {
	t.Helper()
	src, err := NewCSVSource(io.NopCloser(strings.NewReader(data)))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func drain(t *testing.T, src RowSource) []RawRow {
	t.Helper()
	var rows []RawRow
	for src.Scan() {
		rows = append(rows, src.Row())
	}
	require.NoError(t, src.Err())
	return rows
}

func TestCSVSourceReadsRows(t *testing.T) {
	src := csvSourceFrom(t, "sku,name,description,active\nABC-1,Widget,Cheap widget,true\nABC-2,Gadget,,\n")

	rows := drain(t, src)
	require.Len(t, rows, 2)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "ABC-1", rows[0].Fields["sku"])
	assert.Equal(t, "Widget", rows[0].Fields["name"])
	assert.Equal(t, "true", rows[0].Fields["active"])

	assert.Equal(t, 3, rows[1].Line)
	assert.Equal(t, "ABC-2", rows[1].Fields["sku"])
	assert.Equal(t, "", rows[1].Fields["active"])
}

func TestCSVSourceHeaderNormalization(t *testing.T) {
	// BOM, mixed case, template required marker and surrounding whitespace
	// all map onto the canonical column names.
	src := csvSourceFrom(t, "\ufeffSKU *, Name ,DESCRIPTION,Active\nabc-1,Thing,desc,false\n")

	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "abc-1", rows[0].Fields["sku"])
	assert.Equal(t, "Thing", rows[0].Fields["name"])
	assert.Equal(t, "desc", rows[0].Fields["description"])
	assert.Equal(t, "false", rows[0].Fields["active"])
}

func TestCSVSourceMissingSKUColumn(t *testing.T) {
	_, err := NewCSVSource(io.NopCloser(strings.NewReader("name,description\nWidget,stuff\n")))
	require.ErrorIs(t, err, ErrMissingSKUColumn)
}

func TestCSVSourceDuplicateHeaderFirstWins(t *testing.T) {
	src := csvSourceFrom(t, "sku,name,name\nABC-1,first,second\n")

	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].Fields["name"])
}

func TestCSVSourcePhysicalLineNumbers(t *testing.T) {
	// A quoted field spanning lines and a skipped blank line must not desync
	// the reported line numbers from the physical file.
	src := csvSourceFrom(t, "sku,name\nABC-1,\"Widget\nlarge\"\n\nABC-2,Gadget\n")

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "Widget\nlarge", rows[0].Fields["name"])
	assert.Equal(t, 5, rows[1].Line)
	assert.Equal(t, "ABC-2", rows[1].Fields["sku"])
}

func TestCSVSourceBareSeparatorsNotBlank(t *testing.T) {
	// A line of only commas carries its field count and must surface so the
	// validator can reject it, unlike a genuinely blank line.
	src := csvSourceFrom(t, "sku,name\n,,\nABC-1,Widget\n")

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "", rows[0].Fields["sku"])
	assert.Equal(t, "ABC-1", rows[1].Fields["sku"])
}

func TestCSVSourceSkipsBlankLines(t *testing.T) {
	src := csvSourceFrom(t, "sku,name\nABC-1,Widget\n\n   \nABC-2,Gadget\n")

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "ABC-1", rows[0].Fields["sku"])
	assert.Equal(t, "ABC-2", rows[1].Fields["sku"])
}

func TestCSVSourceShortRowLacksTrailingColumns(t *testing.T) {
	src := csvSourceFrom(t, "sku,name,description\nABC-1,Widget\n")

	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "Widget", rows[0].Fields["name"])
	_, ok := rows[0].Fields["description"]
	assert.False(t, ok)
}

func TestCSVSourceLenientQuoting(t *testing.T) {
	// Stray quotes and embedded commas must not kill the stream; messy rows
	// still surface and validation decides their fate.
	src := csvSourceFrom(t, "sku,name\nABC-1,\"Widget, large\"\nABC-2,say \"hi\"\n")

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "Widget, large", rows[0].Fields["name"])
	assert.Equal(t, "ABC-2", rows[1].Fields["sku"])
}

func TestCSVSourceCRLF(t *testing.T) {
	src := csvSourceFrom(t, "sku,name\r\nABC-1,Widget\r\nABC-2,Gadget\r\n")

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "Widget", rows[0].Fields["name"])
}

func TestCountCSVRows(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name string
		data string
		want int64
	}{
		{"trailing newline", "sku,name\na,1\nb,2\n", 2},
		{"no trailing newline", "sku,name\na,1\nb,2", 2},
		{"header only", "sku,name\n", 0},
		{"empty file", "", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".csv")
			require.NoError(t, os.WriteFile(path, []byte(tc.data), 0o644))

			got, err := CountCSVRows(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func writeXLSX(t *testing.T, sheet string, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		f.SetSheetName("Sheet1", sheet)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "import.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestXLSXSourceReadsRows(t *testing.T) {
	path := writeXLSX(t, "Products", [][]interface{}{
		{"sku", "name", "description", "active"},
		{"ABC-1", "Widget", "Cheap widget", "true"},
		{"ABC-2", "Gadget", "", ""},
	})

	src, err := NewXLSXSource(path)
	require.NoError(t, err)
	defer src.Close()

	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "ABC-1", rows[0].Fields["sku"])
	assert.Equal(t, "Widget", rows[0].Fields["name"])
	assert.Equal(t, "ABC-2", rows[1].Fields["sku"])
}

func TestXLSXSourceSkipsBlankRows(t *testing.T) {
	path := writeXLSX(t, "Products", [][]interface{}{
		{"sku", "name"},
		{"ABC-1", "Widget"},
		{"", ""},
		{"ABC-2", "Gadget"},
	})

	src, err := NewXLSXSource(path)
	require.NoError(t, err)
	defer src.Close()

	rows := drain(t, src)
	require.Len(t, rows, 2)
}

func TestXLSXSourceMissingSKUColumn(t *testing.T) {
	path := writeXLSX(t, "Products", [][]interface{}{
		{"name", "description"},
		{"Widget", "stuff"},
	})

	_, err := NewXLSXSource(path)
	require.ErrorIs(t, err, ErrMissingSKUColumn)
}

func TestXLSXSourcePrefersProductsSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	// First sheet is noise; the reader should pick "Products".
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"junk"}))
	_, err := f.NewSheet("Products")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Products", "A1", &[]interface{}{"sku", "name"}))
	require.NoError(t, f.SetSheetRow("Products", "A2", &[]interface{}{"ABC-1", "Widget"}))

	path := filepath.Join(t.TempDir(), "multi.xlsx")
	require.NoError(t, f.SaveAs(path))

	src, err := NewXLSXSource(path)
	require.NoError(t, err)
	defer src.Close()

	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "ABC-1", rows[0].Fields["sku"])
}
