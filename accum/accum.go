// Package accum bins selected CVEs by publication month and turns the bins
// into an accumulated time series.
package accum

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/xerrors"
)

// ErrEmptyInput is returned when there is nothing to aggregate, so no year
// range can be derived.
var ErrEmptyInput = errors.New("no records to aggregate")

// Record is the part of a selected CVE the aggregation needs.
type Record struct {
	ID        string
	Published string
}

type YearRange struct {
	Min int
	Max int
}

func (r YearRange) Years() int {
	return r.Max - r.Min + 1
}

// Grid holds monthly counts: Counts[month-1][year-Range.Min].
type Grid struct {
	Range  YearRange
	Counts [12][]int
}

// Series is the accumulated number of CVEs at the middle of every month of
// the grid's year range.
type Series struct {
	Range      YearRange
	Timestamps []float64
	Counts     []int
}

// Accumulate bins records and sweeps the bins into a Series.
func Accumulate(records []Record) (Series, error) {
	g, err := Bin(records)
	if err != nil {
		return Series{}, err
	}
	return g.Series(), nil
}

// Bin counts records per (month, year). Every published date is parsed
// before anything is counted, so a malformed date fails the whole call.
func Bin(records []Record) (Grid, error) {
	if len(records) == 0 {
		return Grid{}, ErrEmptyInput
	}

	type yearMonth struct{ year, month int }
	dates := make([]yearMonth, len(records))
	r := YearRange{Min: 9999, Max: -9999}
	for i, rec := range records {
		year, month, err := ParsePublished(rec.Published)
		if err != nil {
			return Grid{}, xerrors.Errorf("%s: %w", rec.ID, err)
		}
		dates[i] = yearMonth{year, month}
		if year < r.Min {
			r.Min = year
		}
		if year > r.Max {
			r.Max = year
		}
	}

	g := Grid{Range: r}
	for m := range g.Counts {
		g.Counts[m] = make([]int, r.Years())
	}
	for _, d := range dates {
		g.Counts[d.month-1][d.year-r.Min]++
	}
	return g, nil
}

func (g Grid) Total() int {
	var total int
	for _, row := range g.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// Series walks the grid year by year, January to December.
func (g Grid) Series() Series {
	n := 12 * g.Range.Years()
	s := Series{
		Range:      g.Range,
		Timestamps: make([]float64, 0, n),
		Counts:     make([]int, 0, n),
	}

	var total int
	for y := 0; y < g.Range.Years(); y++ {
		for m := 0; m < 12; m++ {
			total += g.Counts[m][y]
			s.Counts = append(s.Counts, total)
			s.Timestamps = append(s.Timestamps, float64(g.Range.Min+y)+(float64(m)+0.5)/12)
		}
	}
	return s
}

// String renders the grid with months as rows and years as columns.
func (g Grid) String() string {
	var sb strings.Builder
	sb.WriteString("CVEs Sorted By Month (rows) and Year (cols)\n")
	sb.WriteString("     ")
	for y := g.Range.Min; y <= g.Range.Max; y++ {
		fmt.Fprintf(&sb, " %5d", y)
	}
	sb.WriteString("\n")
	for m, row := range g.Counts {
		fmt.Fprintf(&sb, "%5d", m+1)
		for _, c := range row {
			fmt.Fprintf(&sb, " %5d", c)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (s Series) Len() int {
	return len(s.Counts)
}

// Total is the accumulated count at the end of the series.
func (s Series) Total() int {
	if len(s.Counts) == 0 {
		return 0
	}
	return s.Counts[len(s.Counts)-1]
}

// Label returns the "MM/YYYY" month of the i-th point.
func (s Series) Label(i int) string {
	return fmt.Sprintf("%02d/%d", i%12+1, s.Range.Min+i/12)
}

// WriteCSV writes a "Date, Accum_CVEs" header followed by one
// "MM/YYYY, N" line per month.
func WriteCSV(w io.Writer, s Series) error {
	if _, err := io.WriteString(w, "Date, Accum_CVEs\n"); err != nil {
		return xerrors.Errorf("failed to write header: %w", err)
	}
	for i, c := range s.Counts {
		if _, err := fmt.Fprintf(w, "%s, %d\n", s.Label(i), c); err != nil {
			return xerrors.Errorf("failed to write %s: %w", s.Label(i), err)
		}
	}
	return nil
}
