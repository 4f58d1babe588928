// Package rowfilter parses nClimGrid county files and keeps rows of selected regions.
package rowfilter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
)

// Column selects the field compared against the allow-list.
type Column int

const (
	RegionCode Column = 1
	RegionName Column = 2
)

// ParseColumn maps a config value ("region_code", "region_name") to a Column.
func ParseColumn(s string) (Column, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "region_code":
		return RegionCode, nil
	case "region_name":
		return RegionName, nil
	default:
		return 0, fmt.Errorf("unknown filter column %q", s)
	}
}

// ParseError reports malformed tabular content.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Filter keeps the rows whose Column value starts with one of Prefixes.
type Filter struct {
	Column   Column
	Prefixes []string
}

// Apply parses headerless content and returns matching rows in file order.
func (f Filter) Apply(content []byte) ([]model.Row, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = len(model.Header)
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	var rows []model.Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &ParseError{Line: line, Err: err}
		}
		if f.keep(strings.TrimSpace(record[f.Column])) {
			rows = append(rows, toRow(record))
		}
	}
}

func (f Filter) keep(value string) bool {
	for _, p := range f.Prefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

// FilterRows keeps rows whose region code starts with one of prefixes.
func FilterRows(content []byte, prefixes []string) ([]model.Row, error) {
	return Filter{Column: RegionCode, Prefixes: prefixes}.Apply(content)
}

func toRow(record []string) model.Row {
	field := func(i int) string { return strings.TrimSpace(record[i]) }
	row := model.Row{
		RegionType:   field(0),
		RegionCode:   field(1),
		RegionName:   field(2),
		Year:         field(3),
		Month:        field(4),
		VariableType: field(5),
	}
	for d := range model.DaysPerRow {
		row.Days[d] = field(6 + d)
	}
	return row
}
