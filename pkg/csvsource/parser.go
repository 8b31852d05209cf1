// Package csvsource reads the test station's multi-row-header CSV export.
//
// The layout is:
//
//	row 0   column titles
//	row 1   test numbers (blank or non-numeric for metadata columns)
//	row 2   lower limits
//	row 3   upper limits
//	row 4   units
//	row 5+  one row per device under test
package csvsource

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const headerRows = 5

// ErrTooFewRows is returned when the file cannot hold the header block plus
// at least one data row
var ErrTooFewRows = errors.New("csv file does not contain enough rows for headers and data")

// TestDefinition describes one test column
type TestDefinition struct {
	ColumnIndex int
	Name        string
	TestNumber  int64
	Unit        string
	LowerLimit  *float64
	UpperLimit  *float64
}

// Device is one data row: metadata columns by title and measurement cells
// by test number
type Device struct {
	Metadata     map[string]string
	Measurements map[int64]string
}

// Meta returns the metadata cell for key, or "" when the column is missing
func (d *Device) Meta(key string) string {
	return d.Metadata[key]
}

// Parsed is the structured content of one CSV file
type Parsed struct {
	Headers        []string
	MetadataFields []string
	Tests          []TestDefinition
	Devices        []Device
}

// ParseFile parses the CSV file at path
func ParseFile(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	parsed, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return parsed, nil
}

// Parse reads the CSV layout from r. A leading UTF-8 byte order mark is
// skipped and every cell is trimmed.
func Parse(r io.Reader) (*Parsed, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv")
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rows = append(rows, row)
	}
	if len(rows) < headerRows+1 {
		return nil, ErrTooFewRows
	}

	header := rows[0]
	numbers, lower, upper, units := rows[1], rows[2], rows[3], rows[4]

	parsed := &Parsed{Headers: header}
	var metaColumns []int
	for idx, title := range header {
		number, ok := ParseInt(cell(numbers, idx))
		if !ok {
			metaColumns = append(metaColumns, idx)
			if title != "" {
				parsed.MetadataFields = append(parsed.MetadataFields, title)
			}
			continue
		}
		name := title
		if name == "" {
			name = "TEST_" + strconv.FormatInt(number, 10)
		}
		parsed.Tests = append(parsed.Tests, TestDefinition{
			ColumnIndex: idx,
			Name:        name,
			TestNumber:  number,
			Unit:        cell(units, idx),
			LowerLimit:  floatPtr(cell(lower, idx)),
			UpperLimit:  floatPtr(cell(upper, idx)),
		})
	}

	for _, row := range rows[headerRows:] {
		if blank(row) {
			continue
		}
		dev := Device{
			Metadata:     make(map[string]string, len(metaColumns)),
			Measurements: make(map[int64]string, len(parsed.Tests)),
		}
		for _, idx := range metaColumns {
			if header[idx] != "" {
				dev.Metadata[header[idx]] = cell(row, idx)
			}
		}
		for _, td := range parsed.Tests {
			dev.Measurements[td.TestNumber] = cell(row, td.ColumnIndex)
		}
		parsed.Devices = append(parsed.Devices, dev)
	}
	return parsed, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

func isNA(s string) bool {
	return strings.EqualFold(s, "na") || strings.EqualFold(s, "nan")
}

// ParseFloat parses a numeric cell. Blank, "NA" and "NaN" cells have no value.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || isNA(s) {
		return 0, false
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(x) {
		return 0, false
	}
	return x, true
}

// ParseInt parses a cell as a float and truncates it, so "12.0" is 12.
// Range checks against a field's width are left to the encoder.
func ParseInt(s string) (int64, bool) {
	x, ok := ParseFloat(s)
	if !ok || math.IsInf(x, 0) || math.Abs(x) >= 1<<63 {
		return 0, false
	}
	return int64(math.Trunc(x)), true
}

func floatPtr(s string) *float64 {
	x, ok := ParseFloat(s)
	if !ok {
		return nil
	}
	return &x
}
