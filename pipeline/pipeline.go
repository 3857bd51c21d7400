// Package pipeline chains search, accumulation and the output writers for
// one configured search.
package pipeline

import (
	"bytes"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-trend/accum"
	"github.com/aquasecurity/vuln-trend/config"
	"github.com/aquasecurity/vuln-trend/listing"
	"github.com/aquasecurity/vuln-trend/nvd"
	"github.com/aquasecurity/vuln-trend/plot"
	"github.com/aquasecurity/vuln-trend/search"
	"github.com/aquasecurity/vuln-trend/utils"
)

type Runner struct {
	conf config.Config
	fs   utils.Fs
	src  search.Source

	// Grid, when set, receives the month/year table of every search.
	Grid io.Writer
}

func NewRunner(conf config.Config, appFs afero.Fs) Runner {
	return Runner{
		conf: conf,
		fs:   utils.NewFs(appFs),
		src:  nvd.NewFileSource(appFs, conf.DataDir, conf.DataPrefix, conf.DataSuffix),
	}
}

// Search runs one search and writes every output it names.
func (r Runner) Search(s config.Search) (accum.Series, error) {
	sel, err := search.Search(r.src, r.conf.Years(), s.Text)
	if err != nil {
		return accum.Series{}, err
	}

	// nothing is written unless the whole selection bins cleanly
	g, err := accum.Bin(sel.Records())
	if err != nil {
		return accum.Series{}, xerrors.Errorf("unable to accumulate %q: %w", s.Text, err)
	}

	if path := r.conf.Output(s.JSON); path != "" {
		if err = sel.WriteFeed(r.fs, path); err != nil {
			return accum.Series{}, err
		}
	}

	if r.Grid != nil {
		if _, err = io.WriteString(r.Grid, g.String()); err != nil {
			return accum.Series{}, xerrors.Errorf("failed to print the grid: %w", err)
		}
	}
	series := g.Series()

	if path := r.conf.Output(s.CSV); path != "" {
		log.Info().Msgf("Writing File: %s", path)
		var buf bytes.Buffer
		if err = accum.WriteCSV(&buf, series); err != nil {
			return accum.Series{}, err
		}
		if err = r.fs.WriteFile(path, buf.Bytes()); err != nil {
			return accum.Series{}, xerrors.Errorf("failed to write %s: %w", path, err)
		}
	}

	if path := r.conf.Output(s.Figure); path != "" {
		if err = plot.Save(r.fs, path, plot.FromSeries(series, s.Title)); err != nil {
			return accum.Series{}, xerrors.Errorf("failed to plot %q: %w", s.Text, err)
		}
	}
	return series, nil
}

// RunAll runs the configured searches in order and stops at the first
// failure.
func (r Runner) RunAll() error {
	if len(r.conf.Searches) == 0 {
		return xerrors.New("no searches configured")
	}
	for _, s := range r.conf.Searches {
		if _, err := r.Search(s); err != nil {
			return xerrors.Errorf("search %q failed: %w", s.Text, err)
		}
	}
	return nil
}

// Listing describes a JSON-lines export and its outputs.
type Listing struct {
	Input    string
	CSV      string
	DailyCSV string
	Figure   string
	Title    string
}

func (r Runner) Listing(l Listing) (listing.Daily, error) {
	f, err := r.fs.AppFs.Open(l.Input)
	if err != nil {
		return listing.Daily{}, xerrors.Errorf("failed to open %s: %w", l.Input, err)
	}
	defer f.Close()

	rows, err := listing.Read(f)
	if err != nil {
		return listing.Daily{}, xerrors.Errorf("failed to read %s: %w", l.Input, err)
	}

	daily, err := listing.Accumulate(rows)
	if err != nil {
		return listing.Daily{}, xerrors.Errorf("unable to accumulate %s: %w", l.Input, err)
	}
	log.Info().Msgf("%d unique days, %d CVEs", len(daily.Days), len(rows))

	if path := r.conf.Output(l.CSV); path != "" {
		var buf bytes.Buffer
		if err = listing.WriteCSV(&buf, rows); err != nil {
			return listing.Daily{}, err
		}
		if err = r.fs.WriteFile(path, buf.Bytes()); err != nil {
			return listing.Daily{}, xerrors.Errorf("failed to write %s: %w", path, err)
		}
	}

	if path := r.conf.Output(l.DailyCSV); path != "" {
		var buf bytes.Buffer
		if err = listing.WriteDailyCSV(&buf, daily); err != nil {
			return listing.Daily{}, err
		}
		if err = r.fs.WriteFile(path, buf.Bytes()); err != nil {
			return listing.Daily{}, xerrors.Errorf("failed to write %s: %w", path, err)
		}
	}

	if path := r.conf.Output(l.Figure); path != "" {
		if err = plot.Save(r.fs, path, daily.Chart(l.Title)); err != nil {
			return listing.Daily{}, xerrors.Errorf("failed to plot %s: %w", l.Input, err)
		}
	}
	return daily, nil
}
