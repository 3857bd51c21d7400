package nvd_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-trend/nvd"
)

func TestUpdater_Update(t *testing.T) {
	feed, err := os.ReadFile("testdata/nvdcve-1.1-2010.json")
	require.NoError(t, err)
	sum := sha256.Sum256(feed)
	goodMeta := fmt.Sprintf("lastModifiedDate:2020-09-29T03:03:25-04:00\r\nsize:%d\r\nzipSize:1\r\ngzSize:1\r\nsha256:%s\r\n",
		len(feed), strings.ToUpper(hex.EncodeToString(sum[:])))

	tests := []struct {
		name    string
		years   []int
		meta    string
		wantErr string
	}{
		{
			name:  "happy path",
			years: []int{2010},
			meta:  goodMeta,
		},
		{
			name:    "sad path, checksum mismatch",
			years:   []int{2010},
			meta:    "size:0\nsha256:0000\n",
			wantErr: "sha256 mismatch",
		},
		{
			name:    "sad path, missing archive",
			years:   []int{2010, 2009},
			meta:    goodMeta,
			wantErr: "failed to update NVD feed for 2009",
		},
		{
			name:    "sad path, no years",
			wantErr: "no years to update",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/feeds/nvdcve-1.1-2010.json.zip":
					_, _ = w.Write(zipBytes(t, "nvdcve-1.1-2010.json", feed))
				case "/feeds/nvdcve-1.1-2010.meta":
					_, _ = w.Write([]byte(tt.meta))
				default:
					http.NotFound(w, r)
				}
			}))
			defer ts.Close()

			fs := afero.NewMemMapFs()
			u := nvd.NewUpdater(
				nvd.WithBaseURL(ts.URL+"/feeds/"),
				nvd.WithDir("/data"),
				nvd.WithRetry(0),
				nvd.WithYears(tt.years),
				nvd.WithAppFs(fs),
			)
			err := u.Update(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			got, err := afero.ReadFile(fs, "/data/nvdcve-1.1-2010.json")
			require.NoError(t, err)
			assert.Equal(t, feed, got)

			lastUpdated, err := afero.ReadFile(fs, "/data/last_updated.json")
			require.NoError(t, err)
			assert.Contains(t, string(lastUpdated), "nvdcve-1.1-2010")
		})
	}
}

func TestUpdater_UpdateSkipsUnchangedFeed(t *testing.T) {
	feed, err := os.ReadFile("testdata/nvdcve-1.1-2010.json")
	require.NoError(t, err)
	sum := sha256.Sum256(feed)
	var lastModified atomic.Value
	lastModified.Store("2020-09-29T03:03:25-04:00")

	var zipHits, metaHits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/nvdcve-1.1-2010.json.zip":
			zipHits.Add(1)
			_, _ = w.Write(zipBytes(t, "nvdcve-1.1-2010.json", feed))
		case "/feeds/nvdcve-1.1-2010.meta":
			metaHits.Add(1)
			_, _ = fmt.Fprintf(w, "lastModifiedDate:%s\r\nsize:%d\r\nsha256:%x\r\n", lastModified.Load(), len(feed), sum)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	u := nvd.NewUpdater(
		nvd.WithBaseURL(ts.URL+"/feeds"),
		nvd.WithDir("/data"),
		nvd.WithRetry(0),
		nvd.WithYears([]int{2010}),
		nvd.WithAppFs(fs),
	)

	require.NoError(t, u.Update(context.Background()))
	assert.EqualValues(t, 1, zipHits.Load())

	// unchanged upstream
	require.NoError(t, u.Update(context.Background()))
	assert.EqualValues(t, 1, zipHits.Load())
	assert.EqualValues(t, 2, metaHits.Load())

	// saved copy removed
	require.NoError(t, fs.Remove("/data/nvdcve-1.1-2010.json"))
	require.NoError(t, u.Update(context.Background()))
	assert.EqualValues(t, 2, zipHits.Load())

	// modified upstream after the last download
	lastModified.Store(time.Now().Add(time.Hour).Format(time.RFC3339))
	require.NoError(t, u.Update(context.Background()))
	assert.EqualValues(t, 3, zipHits.Load())

	got, err := afero.ReadFile(fs, "/data/nvdcve-1.1-2010.json")
	require.NoError(t, err)
	assert.Equal(t, feed, got)
}

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    nvd.Meta
		wantErr string
	}{
		{
			name:  "happy path",
			input: "lastModifiedDate:2020-09-29T03:03:25-04:00\r\nsize:70380424\r\nzipSize:4208785\r\ngzSize:4208649\r\nsha256:E1F2AB\r\n",
			want: nvd.Meta{
				LastModifiedDate: time.Date(2020, 9, 29, 7, 3, 25, 0, time.UTC),
				Size:             70380424,
				SHA256:           "e1f2ab",
			},
		},
		{
			name:  "happy path, no lastModifiedDate",
			input: "size:1\nsha256:00\n",
			want:  nvd.Meta{Size: 1, SHA256: "00"},
		},
		{
			name:    "sad path, invalid lastModifiedDate",
			input:   "lastModifiedDate:yesterday\nsha256:00\n",
			wantErr: `invalid lastModifiedDate "yesterday"`,
		},
		{
			name:    "sad path, invalid size",
			input:   "size:big\nsha256:00\n",
			wantErr: `invalid size "big"`,
		},
		{
			name:    "sad path, no checksum",
			input:   "size:1\n",
			wantErr: "sha256 is missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nvd.ParseMeta([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.LastModifiedDate.Equal(got.LastModifiedDate), got.LastModifiedDate)
			tt.want.LastModifiedDate, got.LastModifiedDate = time.Time{}, time.Time{}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscoverYears(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		want    []int
		wantErr string
	}{
		{
			name: "happy path",
			page: "testdata/feeds.html",
			want: []int{2002, 2003, 2004},
		},
		{
			name:    "sad path, no feeds",
			page:    "testdata/empty.html",
			wantErr: "no JSON 1.1 feeds found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.ServeFile(w, r, tt.page)
			}))
			defer ts.Close()

			got, err := nvd.DiscoverYears(ts.URL+"/vuln/data-feeds", 0)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func zipBytes(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
