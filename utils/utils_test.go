package utils_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-trend/utils"
)

func TestFetchURL(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		apiKey     string
		want       string
		wantErr    string
		wantHeader string
	}{
		{
			name:       "happy path",
			path:       "/nvdcve-1.1-2010.meta",
			apiKey:     "secret",
			want:       "sha256:abc\n",
			wantHeader: "secret",
		},
		{
			name:    "sad path",
			path:    "/missing",
			wantErr: "status code: 404",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/missing" {
					http.NotFound(w, r)
					return
				}
				assert.Equal(t, tt.wantHeader, r.Header.Get("apiKey"))
				_, _ = w.Write([]byte("sha256:abc\n"))
			}))
			defer ts.Close()

			got, err := utils.FetchURL(ts.URL+tt.path, tt.apiKey, 0)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("VULN_TREND_TEST_KEY", "set")
	assert.Equal(t, "set", utils.LookupEnv("VULN_TREND_TEST_KEY", "default"))
	assert.Equal(t, "default", utils.LookupEnv("VULN_TREND_TEST_MISSING", "default"))
}
