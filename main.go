package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-trend/config"
	"github.com/aquasecurity/vuln-trend/nvd"
	"github.com/aquasecurity/vuln-trend/pipeline"
)

var (
	configPath string
	debug      bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("vuln-trend failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vuln-trend",
		Short:         "Accumulate NVD CVEs matching a product over time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newDownloadCmd(),
		newSearchCmd(),
		newRunCmd(),
		newListingCmd(),
	)
	return root
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		c := config.Default()
		return c, c.Validate()
	}
	return config.Load(afero.NewOsFs(), configPath)
}

func newDownloadCmd() *cobra.Command {
	var (
		discover bool
		years    string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the annual NVD JSON 1.1 feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			yearList := conf.Years()
			switch {
			case years != "":
				if yearList, err = parseYears(years); err != nil {
					return err
				}
			case discover:
				if yearList, err = nvd.DiscoverYears(conf.IndexURL, conf.Retry); err != nil {
					return xerrors.Errorf("unable to discover feeds: %w", err)
				}
			}

			u := nvd.NewUpdater(
				nvd.WithBaseURL(conf.BaseURL),
				nvd.WithDir(conf.DataDir),
				nvd.WithRetry(conf.Retry),
				nvd.WithYears(yearList),
			)
			if err = u.Update(cmd.Context()); err != nil {
				return xerrors.Errorf("error in NVD download: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&discover, "discover", false, "download every year linked from the NVD data feeds page")
	cmd.Flags().StringVar(&years, "years", "", "comma separated years, overrides the configured range")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		s         config.Search
		printGrid bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the feeds for a text and accumulate the matches per month",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			r := pipeline.NewRunner(conf, afero.NewOsFs())
			if printGrid {
				r.Grid = os.Stdout
			}
			series, err := r.Search(s)
			if err != nil {
				return err
			}
			log.Info().Msgf("%d CVEs accumulated over %d months", series.Total(), series.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&s.Text, "text", "", "text to look for in each CVE entry")
	cmd.Flags().StringVar(&s.JSON, "json", "", "write the matching entries to this JSON file")
	cmd.Flags().StringVar(&s.CSV, "csv", "", "write the accumulated series to this CSV file")
	cmd.Flags().StringVar(&s.Figure, "plot", "", "plot the accumulated series to this .png or .pdf file")
	cmd.Flags().StringVar(&s.Title, "title", "", "plot title")
	cmd.Flags().BoolVar(&printGrid, "print-grid", false, "print the month/year table")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every search listed in the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return xerrors.New("--config is required")
			}
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return pipeline.NewRunner(conf, afero.NewOsFs()).RunAll()
		},
	}
}

func newListingCmd() *cobra.Command {
	var l pipeline.Listing
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Accumulate a JSON-lines product export per publication day",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			_, err = pipeline.NewRunner(conf, afero.NewOsFs()).Listing(l)
			return err
		},
	}
	cmd.Flags().StringVar(&l.Input, "input", "", "JSON-lines export with a Published field")
	cmd.Flags().StringVar(&l.CSV, "csv", "", "convert the export to this CSV file")
	cmd.Flags().StringVar(&l.DailyCSV, "daily-csv", "", "write the accumulated counts per day to this CSV file")
	cmd.Flags().StringVar(&l.Figure, "plot", "", "plot the accumulated counts to this .png or .pdf file")
	cmd.Flags().StringVar(&l.Title, "title", "", "plot title")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, y := range strings.Split(s, ",") {
		year, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil {
			return nil, xerrors.Errorf("invalid years: %w", err)
		}
		years = append(years, year)
	}
	return lo.Uniq(years), nil
}
