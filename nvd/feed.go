package nvd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/facebookincubator/nvdtools/cvefeed/nvd/schema"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

const (
	itemsKey = "CVE_Items"
	countKey = "CVE_data_numberOfCVEs"
)

// Item is a single entry of CVE_Items. Raw holds the compacted JSON of the
// entry and is what text searches run against.
type Item struct {
	ID        string
	Published string
	Raw       json.RawMessage
}

// Feed is one annual NVD JSON 1.1 document. Meta keeps every top-level key
// except CVE_Items, untouched.
type Feed struct {
	Year  int
	Meta  map[string]json.RawMessage
	Items []Item
}

// DataSourceError reports a feed that is missing or cannot be parsed.
type DataSourceError struct {
	Year int
	Path string
	Err  error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("NVD feed for %d (%s): %v", e.Year, e.Path, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// FileSource loads annual feeds stored as <dir>/<prefix><year><suffix>.
// A suffix ending in ".gz" is decompressed while reading.
type FileSource struct {
	fs     afero.Fs
	dir    string
	prefix string
	suffix string
}

func NewFileSource(fs afero.Fs, dir, prefix, suffix string) FileSource {
	return FileSource{
		fs:     fs,
		dir:    dir,
		prefix: prefix,
		suffix: suffix,
	}
}

func (s FileSource) Path(year int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", s.prefix, year, s.suffix))
}

func (s FileSource) Load(year int) (Feed, error) {
	path := s.Path(year)
	f, err := s.fs.Open(path)
	if err != nil {
		return Feed{}, &DataSourceError{Year: year, Path: path, Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(s.suffix, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return Feed{}, &DataSourceError{Year: year, Path: path, Err: xerrors.Errorf("failed to decompress: %w", err)}
		}
		defer gr.Close()
		r = gr
	}

	feed, err := Decode(r)
	if err != nil {
		return Feed{}, &DataSourceError{Year: year, Path: path, Err: err}
	}
	feed.Year = year
	return feed, nil
}

// Decode parses an NVD JSON 1.1 feed document.
func Decode(r io.Reader) (Feed, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Feed{}, xerrors.Errorf("failed to decode feed: %w", err)
	}

	rawItems, ok := doc[itemsKey]
	if !ok {
		return Feed{}, xerrors.Errorf("%s is missing", itemsKey)
	}
	delete(doc, itemsKey)

	var raws []json.RawMessage
	if err := json.Unmarshal(rawItems, &raws); err != nil {
		return Feed{}, xerrors.Errorf("failed to decode %s: %w", itemsKey, err)
	}

	feed := Feed{Meta: doc}
	for i, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			return Feed{}, xerrors.Errorf("%s[%d]: %w", itemsKey, i, err)
		}
		feed.Items = append(feed.Items, item)
	}
	return feed, nil
}

func decodeItem(raw json.RawMessage) (Item, error) {
	var def schema.NVDCVEFeedJSON10DefCVEItem
	if err := json.Unmarshal(raw, &def); err != nil {
		return Item{}, xerrors.Errorf("failed to decode item: %w", err)
	}
	if def.CVE == nil || def.CVE.CVEDataMeta == nil || def.CVE.CVEDataMeta.ID == "" {
		return Item{}, xerrors.New("cve.CVE_data_meta.ID is missing")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Item{}, xerrors.Errorf("failed to compact item: %w", err)
	}

	return Item{
		ID:        def.CVE.CVEDataMeta.ID,
		Published: def.PublishedDate,
		Raw:       buf.Bytes(),
	}, nil
}

// WithItems returns a copy of f whose CVE_Items are replaced by items and
// whose CVE_data_numberOfCVEs is the new item count.
func (f Feed) WithItems(items []Item) Feed {
	meta := make(map[string]json.RawMessage, len(f.Meta))
	for k, v := range f.Meta {
		meta[k] = v
	}
	// NVD publishes the count as a string; keep whichever form the source used.
	if v, ok := meta[countKey]; ok {
		count := strconv.Itoa(len(items))
		if bytes.HasPrefix(bytes.TrimSpace(v), []byte(`"`)) {
			count = strconv.Quote(count)
		}
		meta[countKey] = json.RawMessage(count)
	}
	return Feed{Year: f.Year, Meta: meta, Items: items}
}

func (f Feed) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(f.Meta)+1)
	for k, v := range f.Meta {
		doc[k] = v
	}
	raws := make([]json.RawMessage, 0, len(f.Items))
	for _, item := range f.Items {
		raws = append(raws, item.Raw)
	}
	b, err := json.Marshal(raws)
	if err != nil {
		return nil, err
	}
	doc[itemsKey] = b
	return json.Marshal(doc)
}
