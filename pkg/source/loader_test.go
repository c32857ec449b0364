package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folioworks/asset-sync/pkg/config"
	"github.com/folioworks/asset-sync/pkg/fetch"
	"github.com/folioworks/asset-sync/pkg/utils"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	stateDir := t.TempDir()
	cfg := &config.AppConfig{
		SourceMaxRetries:  1,
		InitialRetryDelay: 5 * time.Millisecond,
		MaxRetryDelay:     10 * time.Millisecond,
	}
	fetcher := fetch.NewFetcher(&http.Client{Timeout: 5 * time.Second}, cfg, testLogger())
	return NewLoader(fetcher, stateDir, "asset-sync-test", testLogger()), stateDir
}

const sampleRecords = `[
  {"name": "Sample", "thumbnailImage": "https://drive.example/file/d/FILEID123/view"},
  {"name": "Other", "heroVideo": ""}
]`

func TestLoad_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "asset-sync-test", r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, sampleRecords)
	}))
	t.Cleanup(server.Close)
	loader, _ := newTestLoader(t)

	res, err := loader.Load(context.Background(), "projects", config.CollectionConfig{SourceURL: server.URL})

	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	require.Len(t, res.Records, 2)
	assert.Equal(t, []string{"name", "thumbnailImage"}, res.Records[0].Keys())

	saved, err := os.ReadFile(loader.FallbackPath("projects"))
	require.NoError(t, err)
	assert.Equal(t, sampleRecords, string(saved))
}

func TestLoad_FallbackAfterOutage(t *testing.T) {
	var down atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, sampleRecords)
	}))
	t.Cleanup(server.Close)
	loader, _ := newTestLoader(t)
	col := config.CollectionConfig{SourceURL: server.URL}

	_, err := loader.Load(context.Background(), "projects", col)
	require.NoError(t, err)

	down.Store(true)
	res, err := loader.Load(context.Background(), "projects", col)

	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, loader.FallbackPath("projects"), res.FallbackPath)
	assert.Len(t, res.Records, 2)
}

func TestLoad_UnavailableWithoutFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	loader, _ := newTestLoader(t)

	_, err := loader.Load(context.Background(), "projects", config.CollectionConfig{SourceURL: server.URL})

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSourceUnavailable))
	assert.Equal(t, "Source_Unavailable", utils.CategorizeError(err))
}

func TestLoad_UnparseableUsesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>maintenance</html>")
	}))
	t.Cleanup(server.Close)
	loader, _ := newTestLoader(t)
	require.NoError(t, os.WriteFile(loader.FallbackPath("projects"), []byte(sampleRecords), 0644))

	res, err := loader.Load(context.Background(), "projects", config.CollectionConfig{SourceURL: server.URL})

	require.NoError(t, err)
	assert.True(t, res.UsedFallback)

	// The bad body must not replace the good copy
	saved, err := os.ReadFile(loader.FallbackPath("projects"))
	require.NoError(t, err)
	assert.Equal(t, sampleRecords, string(saved))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"array", `[{"name":"a"},{"name":"b"}]`, 2, false},
		{"empty array", `[]`, 0, false},
		{"data wrapper", `{"data":[{"name":"a"}]}`, 1, false},
		{"records wrapper", `{"records":[{"name":"a"}]}`, 1, false},
		{"object without rows", `{"rows":[]}`, 0, true},
		{"null element", `[{"name":"a"}, null]`, 0, true},
		{"scalar element", `[1]`, 0, true},
		{"empty", ``, 0, true},
		{"html", `<html></html>`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, utils.ErrParsing))
				return
			}
			require.NoError(t, err)
			assert.Len(t, recs, tt.want)
		})
	}
}
