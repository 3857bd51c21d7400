package utils_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-trend/utils"
)

func zipArchive(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDownloadToTempDir(t *testing.T) {
	archive := zipArchive(t, "nvdcve-1.1-2010.json", `{"CVE_Items":[]}`)

	tests := []struct {
		name         string
		filePath     string
		wantFileName string
		want         string
		wantErr      string
	}{
		{
			name:         "happy path",
			filePath:     "/feeds/nvdcve-1.1-2010.json.zip",
			wantFileName: "nvdcve-1.1-2010.json",
			want:         `{"CVE_Items":[]}`,
		},
		{
			name:     "sad path",
			filePath: "/feeds/nvdcve-1.1-1999.json.zip",
			wantErr:  "bad response code: 404",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/feeds/nvdcve-1.1-2010.json.zip" {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write(archive)
			}))
			defer ts.Close()

			tmpDir, err := utils.DownloadToTempDir(context.Background(), ts.URL+tt.filePath)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer os.RemoveAll(tmpDir)

			got, err := os.ReadFile(filepath.Join(tmpDir, tt.wantFileName))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
