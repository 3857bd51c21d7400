package utils

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

const (
	lastUpdatedFile = "last_updated.json"
)

// LastUpdated maps a feed name (e.g. "nvdcve-1.1-2019") to the time it was
// last downloaded.
type LastUpdated map[string]time.Time

func (fs Fs) GetLastUpdatedDate(dir, feed string) (time.Time, error) {
	lastUpdated, err := fs.getLastUpdatedDate(dir)
	if err != nil {
		return time.Time{}, err
	}

	t, ok := lastUpdated[feed]
	if !ok {
		return time.Unix(0, 0), nil
	}

	return t, nil
}

func (fs Fs) getLastUpdatedDate(dir string) (LastUpdated, error) {
	lastUpdated := LastUpdated{}
	path := filepath.Join(dir, lastUpdatedFile)
	exists, err := afero.Exists(fs.AppFs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return lastUpdated, nil
	}

	b, err := afero.ReadFile(fs.AppFs, path)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(b, &lastUpdated); err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %w", path, err)
	}

	return lastUpdated, nil
}

func (fs Fs) SetLastUpdatedDate(dir, feed string, lastUpdatedDate time.Time) error {
	lastUpdated, err := fs.getLastUpdatedDate(dir)
	if err != nil {
		return xerrors.Errorf("failed to get last updated date: %w", err)
	}
	lastUpdated[feed] = lastUpdatedDate

	if err = fs.WriteJSON(filepath.Join(dir, lastUpdatedFile), lastUpdated); err != nil {
		return xerrors.Errorf("failed to write last updated date: %w", err)
	}

	return nil
}
