package model

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

// MeasurementType identifies one nClimGrid variable.
type MeasurementType string

const (
	Precipitation      MeasurementType = "prcp"
	AverageTemperature MeasurementType = "tavg"
	MaximumTemperature MeasurementType = "tmax"
	MinimumTemperature MeasurementType = "tmin"
)

// MeasurementTypes is the fixed set of variables published per month.
var MeasurementTypes = []MeasurementType{
	Precipitation,
	AverageTemperature,
	MaximumTemperature,
	MinimumTemperature,
}

// FirstYear is the first year of the nClimGrid-daily record.
const FirstYear = 1951

// Validate checks that the measurement type is one of the known variables.
func (m MeasurementType) Validate() error {
	for _, known := range MeasurementTypes {
		if m == known {
			return nil
		}
	}
	return fmt.Errorf("unknown measurement type %q", string(m))
}

// ResourceKey identifies one remote monthly file.
type ResourceKey struct {
	Year  int
	Month int
	Type  MeasurementType
}

// Partition is the destination partition name (the year).
func (k ResourceKey) Partition() string {
	return strconv.Itoa(k.Year)
}

// FileName is e.g. "prcp-202001-cty-scaled.csv".
func (k ResourceKey) FileName() string {
	return fmt.Sprintf("%s-%d%02d-cty-scaled.csv", k.Type, k.Year, k.Month)
}

// Path is the partition segment joined with the file name.
func (k ResourceKey) Path() string {
	return k.Partition() + "/" + k.FileName()
}

// URL returns the remote location of the resource under baseURL.
func (k ResourceKey) URL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/" + k.Path()
}

func (k ResourceKey) String() string {
	return k.Path()
}

// Grid is the year × month × type space enumerated by a run.
// Keys are ordered by year, then month, then type.
type Grid struct {
	Years  []int
	Months []int
	Types  []MeasurementType
}

// DefaultGrid covers every year from FirstYear to the year of now.
func DefaultGrid(now time.Time) Grid {
	return NewGrid(FirstYear, now.Year())
}

// NewGrid covers years from..to inclusive, all months and all measurement types.
func NewGrid(from, to int) Grid {
	g := Grid{Types: append([]MeasurementType(nil), MeasurementTypes...)}
	for y := from; y <= to; y++ {
		g.Years = append(g.Years, y)
	}
	for m := 1; m <= 12; m++ {
		g.Months = append(g.Months, m)
	}
	return g
}

// Validate rejects empty dimensions, invalid months and unknown types.
func (g Grid) Validate() error {
	if len(g.Years) == 0 || len(g.Months) == 0 || len(g.Types) == 0 {
		return fmt.Errorf("grid has an empty dimension (years=%d months=%d types=%d)",
			len(g.Years), len(g.Months), len(g.Types))
	}
	for _, m := range g.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("invalid month %d", m)
		}
	}
	for _, t := range g.Types {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Len is the number of keys in the grid.
func (g Grid) Len() int {
	return len(g.Years) * len(g.Months) * len(g.Types)
}

// At returns the i-th key. It panics if i is out of range.
func (g Grid) At(i int) ResourceKey {
	if i < 0 || i >= g.Len() {
		panic(fmt.Sprintf("grid index %d out of range [0,%d)", i, g.Len()))
	}
	perYear := len(g.Months) * len(g.Types)
	y, rest := i/perYear, i%perYear
	m, t := rest/len(g.Types), rest%len(g.Types)
	return ResourceKey{Year: g.Years[y], Month: g.Months[m], Type: g.Types[t]}
}

// All yields every key with its index.
func (g Grid) All() iter.Seq2[int, ResourceKey] {
	return g.From(0)
}

// From yields keys starting at index start.
func (g Grid) From(start int) iter.Seq2[int, ResourceKey] {
	return func(yield func(int, ResourceKey) bool) {
		for i := max(start, 0); i < g.Len(); i++ {
			if !yield(i, g.At(i)) {
				return
			}
		}
	}
}
