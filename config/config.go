package config

import (
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/aquasecurity/vuln-trend/utils"
)

const (
	DefaultBaseURL    = "https://nvd.nist.gov/feeds/json/cve/1.1"
	DefaultIndexURL   = "https://nvd.nist.gov/vuln/data-feeds"
	DefaultDataPrefix = "nvdcve-1.1-"
	DefaultDataSuffix = ".json"
	DefaultYearStart  = 2002
	DefaultYearStop   = 2020
	DefaultRetry      = 5

	dataDirEnvName = "VULN_TREND_DATA_DIR"
)

// Search describes one product query and where its results go. Empty output
// fields disable the corresponding output.
type Search struct {
	Text   string `yaml:"text"`
	JSON   string `yaml:"json"`
	CSV    string `yaml:"csv"`
	Title  string `yaml:"title"`
	Figure string `yaml:"figure"`
}

type Config struct {
	DataDir    string   `yaml:"dataDir"`
	DataPrefix string   `yaml:"dataPrefix"`
	DataSuffix string   `yaml:"dataSuffix"`
	YearStart  int      `yaml:"yearStart"`
	YearStop   int      `yaml:"yearStop"`
	BaseURL    string   `yaml:"baseURL"`
	IndexURL   string   `yaml:"indexURL"`
	Retry      int      `yaml:"retry"`
	OutputDir  string   `yaml:"outputDir"`
	Searches   []Search `yaml:"searches"`
}

func Default() Config {
	return Config{
		DataDir:    utils.LookupEnv(dataDirEnvName, utils.FeedDir()),
		DataPrefix: DefaultDataPrefix,
		DataSuffix: DefaultDataSuffix,
		YearStart:  DefaultYearStart,
		YearStop:   DefaultYearStop,
		BaseURL:    DefaultBaseURL,
		IndexURL:   DefaultIndexURL,
		Retry:      DefaultRetry,
		OutputDir:  ".",
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default value.
func Load(fs afero.Fs, path string) (Config, error) {
	c := Default()
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to read config %s: %w", path, err)
	}
	if err = yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, xerrors.Errorf("failed to decode config %s: %w", path, err)
	}
	if err = c.Validate(); err != nil {
		return Config{}, xerrors.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return xerrors.New("dataDir must be set")
	}
	if c.YearStart > c.YearStop {
		return xerrors.Errorf("yearStart %d is after yearStop %d", c.YearStart, c.YearStop)
	}
	if c.Retry < 0 {
		return xerrors.Errorf("retry must not be negative: %d", c.Retry)
	}
	for i, s := range c.Searches {
		if s.Text == "" {
			return xerrors.Errorf("searches[%d]: text must be set", i)
		}
	}
	return nil
}

// Years returns every year from YearStart to YearStop inclusive.
func (c Config) Years() []int {
	var years []int
	for y := c.YearStart; y <= c.YearStop; y++ {
		years = append(years, y)
	}
	return years
}

// Output resolves an output file name against OutputDir. An empty name stays
// empty so callers can skip the output.
func (c Config) Output(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}
