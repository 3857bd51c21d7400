// Package listing accumulates CVEs per publication day from a product
// export stored as JSON lines.
package listing

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-trend/accum"
	"github.com/aquasecurity/vuln-trend/plot"
)

const dayFormat = "2006-01-02"

var ErrEmptyListing = errors.New("listing has no rows")

// Row is one line of the export. Only Published is required.
type Row struct {
	ID        string `csv:"CVE ID"`
	Published string `csv:"Published"`
	Updated   string `csv:"Updated"`
	Score     string `csv:"Score"`
	Summary   string `csv:"Summary"`
}

var rowKeys = map[string]func(*Row, string){
	"CVE ID":    func(r *Row, v string) { r.ID = v },
	"Published": func(r *Row, v string) { r.Published = v },
	"Updated":   func(r *Row, v string) { r.Updated = v },
	"Score":     func(r *Row, v string) { r.Score = v },
	"Summary":   func(r *Row, v string) { r.Summary = v },
}

// Daily is the accumulated count at the end of each day that has at least
// one CVE, in ascending day order. Days are midnight UTC.
type Daily struct {
	Days   []time.Time
	Counts []int
}

// Read decodes one JSON object per line. Blank lines are skipped and
// non-string values keep their JSON spelling.
func Read(r io.Reader) ([]Row, error) {
	var rows []Row
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			return nil, xerrors.Errorf("line %d: %w", n, err)
		}

		var row Row
		for key, set := range rowKeys {
			if v, ok := fields[key]; ok {
				set(&row, text(v))
			}
		}
		if row.Published == "" {
			return nil, xerrors.Errorf("line %d: Published is missing", n)
		}
		rows = append(rows, row)
	}
	if err := s.Err(); err != nil {
		return nil, xerrors.Errorf("failed to read listing: %w", err)
	}
	return rows, nil
}

func text(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

func WriteCSV(w io.Writer, rows []Row) error {
	if err := gocsv.Marshal(&rows, w); err != nil {
		return xerrors.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// Accumulate counts rows per publication day and accumulates the counts.
func Accumulate(rows []Row) (Daily, error) {
	if len(rows) == 0 {
		return Daily{}, ErrEmptyListing
	}

	perDay := map[time.Time]int{}
	for _, row := range rows {
		t, err := dateparse.ParseAny(row.Published)
		if err != nil {
			return Daily{}, xerrors.Errorf("%s: %w", row.ID, &accum.MalformedDateError{
				Published: row.Published,
				Reason:    err.Error(),
			})
		}
		perDay[time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)]++
	}

	days := maps.Keys(perDay)
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })

	d := Daily{Days: days, Counts: make([]int, len(days))}
	var total int
	for i, day := range days {
		total += perDay[day]
		d.Counts[i] = total
	}
	return d, nil
}

// Chart places each day at its fractional year.
func (d Daily) Chart(title string) plot.Chart {
	c := plot.Chart{
		Title:  title,
		XLabel: "Date",
		YLabel: "Accumulated CVEs",
	}
	for i, day := range d.Days {
		daysInYear := time.Date(day.Year(), 12, 31, 0, 0, 0, 0, time.UTC).YearDay()
		c.X = append(c.X, float64(day.Year())+(float64(day.YearDay())-0.5)/float64(daysInYear))
		c.Y = append(c.Y, float64(d.Counts[i]))
	}
	return c
}

// WriteDailyCSV writes the accumulated counts as "Date, Accum_CVEs" rows.
func WriteDailyCSV(w io.Writer, d Daily) error {
	rows := make([]dailyRow, 0, len(d.Days))
	for i, day := range d.Days {
		rows = append(rows, dailyRow{Date: day.Format(dayFormat), Count: d.Counts[i]})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return xerrors.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

type dailyRow struct {
	Date  string `csv:"Date"`
	Count int    `csv:"Accum_CVEs"`
}
