package nvd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-trend/utils"
)

const (
	baseURL    = "https://nvd.nist.gov/feeds/json/cve/1.1"
	feedPrefix = "nvdcve-1.1-"
	retry      = 5
)

var feedLinkRe = regexp.MustCompile(`nvdcve-1\.1-(\d{4})\.json\.zip$`)

// Meta is the content of a nvdcve-1.1-<year>.meta file published next to
// each archive. LastModifiedDate is zero when the file does not carry one.
type Meta struct {
	LastModifiedDate time.Time
	Size             int64
	SHA256           string
}

type options struct {
	baseURL string
	dir     string
	retry   int
	years   []int
	appFs   afero.Fs
}

type option func(*options)

func WithBaseURL(url string) option {
	return func(opts *options) { opts.baseURL = strings.TrimSuffix(url, "/") }
}

func WithDir(dir string) option {
	return func(opts *options) { opts.dir = dir }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

func WithYears(years []int) option {
	return func(opts *options) { opts.years = years }
}

func WithAppFs(fs afero.Fs) option {
	return func(opts *options) { opts.appFs = fs }
}

type Updater struct {
	*options
}

func NewUpdater(opts ...option) Updater {
	o := &options{
		baseURL: baseURL,
		dir:     utils.FeedDir(),
		retry:   retry,
		appFs:   afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(o)
	}
	return Updater{
		options: o,
	}
}

// Update downloads the archive of every configured year, stores the
// extracted JSON as <dir>/nvdcve-1.1-<year>.json and checks it against the
// published meta file. A year whose saved copy is newer than the meta's
// lastModifiedDate is not downloaded again. The first failing year aborts
// the update.
func (u Updater) Update(ctx context.Context) error {
	if len(u.years) == 0 {
		return xerrors.New("no years to update")
	}
	fs := utils.NewFs(u.appFs)

	log.Info().Msgf("Fetching NVD feeds for %d-%d", u.years[0], u.years[len(u.years)-1])
	bar := pb.StartNew(len(u.years))
	for _, year := range u.years {
		if err := u.update(ctx, fs, year); err != nil {
			return xerrors.Errorf("failed to update NVD feed for %d: %w", year, err)
		}
		bar.Increment()
	}
	bar.Finish()

	return nil
}

func (u Updater) update(ctx context.Context, fs utils.Fs, year int) error {
	name := fmt.Sprintf("%s%d", feedPrefix, year)
	meta, err := u.fetchMeta(name)
	if err != nil {
		return err
	}

	fresh, err := u.upToDate(fs, name, meta)
	if err != nil {
		return err
	}
	if fresh {
		log.Debug().Str("feed", name).Msg("NVD feed is up to date")
		return nil
	}

	url := fmt.Sprintf("%s/%s.json.zip", u.baseURL, name)
	log.Debug().Str("url", url).Msg("Downloading NVD feed")

	tmpDir, err := utils.DownloadToTempDir(ctx, url)
	if err != nil {
		return xerrors.Errorf("failed to download %s: %w", url, err)
	}
	defer os.RemoveAll(tmpDir)

	b, err := os.ReadFile(filepath.Join(tmpDir, name+".json"))
	if err != nil {
		return xerrors.Errorf("archive %s has no %s.json: %w", url, name, err)
	}

	if err = meta.Verify(b); err != nil {
		return xerrors.Errorf("%s.json: %w", name, err)
	}

	if err = fs.WriteFile(filepath.Join(u.dir, name+".json"), b); err != nil {
		return xerrors.Errorf("failed to save %s.json: %w", name, err)
	}
	return fs.SetLastUpdatedDate(u.dir, name, time.Now().UTC())
}

// upToDate reports whether <dir>/<name>.json exists and was saved after the
// feed was last modified upstream.
func (u Updater) upToDate(fs utils.Fs, name string, meta Meta) (bool, error) {
	if meta.LastModifiedDate.IsZero() {
		return false, nil
	}
	exists, err := afero.Exists(fs.AppFs, filepath.Join(u.dir, name+".json"))
	if err != nil || !exists {
		return false, err
	}
	lastUpdated, err := fs.GetLastUpdatedDate(u.dir, name)
	if err != nil {
		return false, xerrors.Errorf("failed to get last updated date: %w", err)
	}
	return !lastUpdated.Before(meta.LastModifiedDate), nil
}

func (u Updater) fetchMeta(name string) (Meta, error) {
	url := fmt.Sprintf("%s/%s.meta", u.baseURL, name)
	b, err := utils.FetchURL(url, "", u.retry)
	if err != nil {
		return Meta{}, xerrors.Errorf("failed to fetch %s: %w", url, err)
	}
	meta, err := ParseMeta(b)
	if err != nil {
		return Meta{}, xerrors.Errorf("failed to parse %s: %w", url, err)
	}
	return meta, nil
}

// ParseMeta reads the "key:value" lines of a meta file.
func ParseMeta(b []byte) (Meta, error) {
	var meta Meta
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "lastModifiedDate":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return Meta{}, xerrors.Errorf("invalid lastModifiedDate %q: %w", value, err)
			}
			meta.LastModifiedDate = t
		case "size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Meta{}, xerrors.Errorf("invalid size %q: %w", value, err)
			}
			meta.Size = size
		case "sha256":
			meta.SHA256 = strings.ToLower(value)
		}
	}
	if err := s.Err(); err != nil {
		return Meta{}, err
	}
	if meta.SHA256 == "" {
		return Meta{}, xerrors.New("sha256 is missing")
	}
	return meta, nil
}

func (m Meta) Verify(b []byte) error {
	if m.Size != 0 && int64(len(b)) != m.Size {
		return xerrors.Errorf("size mismatch: got %d, want %d", len(b), m.Size)
	}
	sum := sha256.Sum256(b)
	if got := hex.EncodeToString(sum[:]); got != m.SHA256 {
		return xerrors.Errorf("sha256 mismatch: got %s, want %s", got, m.SHA256)
	}
	return nil
}

// DiscoverYears lists the years that have a JSON 1.1 archive linked from the
// NVD data feeds page.
func DiscoverYears(indexURL string, retry int) ([]int, error) {
	b, err := utils.FetchURL(indexURL, "", retry)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch the feed index: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return nil, xerrors.Errorf("failed to read the feed index: %w", err)
	}

	var years []int
	doc.Find("a").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := feedLinkRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		year, _ := strconv.Atoi(m[1])
		years = append(years, year)
	})

	if len(years) == 0 {
		return nil, xerrors.New("no JSON 1.1 feeds found in the feed index")
	}
	years = lo.Uniq(years)
	slices.Sort(years)
	return years, nil
}
