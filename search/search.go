// Package search selects CVE entries from annual NVD feeds by plain text.
package search

import (
	"bytes"
	"errors"

	"github.com/cheggaaa/pb"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-trend/accum"
	"github.com/aquasecurity/vuln-trend/nvd"
	"github.com/aquasecurity/vuln-trend/utils"
)

// ErrEmptyPattern is returned for an empty search text unless WithMatchAll
// is given. An empty text would otherwise match every CVE.
var ErrEmptyPattern = errors.New("search text is empty")

// Source yields one feed per year.
type Source interface {
	Load(year int) (nvd.Feed, error)
}

// Entry is one selected CVE. Seq numbers start at 1 and follow the order in
// which entries were found.
type Entry struct {
	Seq       int
	ID        string
	Published string
}

type Selection struct {
	Entries []Entry
	feed    nvd.Feed
}

type options struct {
	matchAll bool
}

type option func(*options)

// WithMatchAll lets an empty pattern select every entry.
func WithMatchAll() option {
	return func(opts *options) { opts.matchAll = true }
}

// Search loads every year from src in order and keeps the entries whose JSON
// text contains pattern. Matching is case-sensitive and not restricted to a
// field, so "apple:mac_os_x" hits CPE URIs and descriptions alike. A year
// that fails to load aborts the search.
func Search(src Source, years []int, pattern string, opts ...option) (Selection, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if pattern == "" && !o.matchAll {
		return Selection{}, ErrEmptyPattern
	}

	var (
		sel     Selection
		matched []nvd.Item
		last    nvd.Feed
	)
	needle := []byte(pattern)

	bar := pb.StartNew(len(years))
	for _, year := range years {
		feed, err := src.Load(year)
		if err != nil {
			return Selection{}, xerrors.Errorf("search for %q aborted: %w", pattern, err)
		}
		for _, item := range feed.Items {
			if !bytes.Contains(item.Raw, needle) {
				continue
			}
			sel.Entries = append(sel.Entries, Entry{
				Seq:       len(sel.Entries) + 1,
				ID:        item.ID,
				Published: item.Published,
			})
			matched = append(matched, item)
		}
		last = feed
		bar.Increment()
	}
	bar.Finish()

	sel.feed = last.WithItems(matched)
	log.Info().Str("text", pattern).Msgf("Total Found: %d", len(sel.Entries))
	return sel, nil
}

func (s Selection) Len() int {
	return len(s.Entries)
}

// Records converts the selection for accum.
func (s Selection) Records() []accum.Record {
	recs := make([]accum.Record, 0, len(s.Entries))
	for _, e := range s.Entries {
		recs = append(recs, accum.Record{ID: e.ID, Published: e.Published})
	}
	return recs
}

// Feed returns the matched items as a feed document. Top-level metadata is
// taken from the last searched year.
func (s Selection) Feed() nvd.Feed {
	return s.feed
}

// WriteFeed saves Feed as JSON.
func (s Selection) WriteFeed(fs utils.Fs, path string) error {
	log.Info().Msgf("Writing JSON file: %s", path)
	if err := fs.WriteJSON(path, s.Feed()); err != nil {
		return xerrors.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
