package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/packd/pkg/dash"
	"github.com/jmylchreest/packd/pkg/hls"
)

func newTestRouter(t *testing.T, fs afero.Fs, baseURL string) *chi.Mux {
	t.Helper()
	router := chi.NewRouter()
	NewManifestHandler(fs, baseURL, nil).Register(router)
	return router
}

func get(t *testing.T, router *chi.Mux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestManifestHandler_ServePlaylist(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "job/media.m3u8",
		[]byte("#EXTM3U\n#EXTINF:4.0,\nvideo_1.m4s"), 0o644))

	t.Run("rewrites against base url", func(t *testing.T) {
		router := newTestRouter(t, fs, "https://cdn.example/media")
		rec := get(t, router, "/hls/job/media.m3u8")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, hls.ContentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "https://cdn.example/media/video_1.m4s")
	})

	t.Run("passthrough without base url", func(t *testing.T) {
		router := newTestRouter(t, fs, "")
		rec := get(t, router, "/hls/job/media.m3u8")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "\nvideo_1.m4s")
	})

	t.Run("missing playlist is 404", func(t *testing.T) {
		router := newTestRouter(t, fs, "")
		rec := get(t, router, "/hls/job/missing.m3u8")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestManifestHandler_ServeManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "job/manifest.mpd",
		[]byte(`<MPD><BaseURL>segments/</BaseURL></MPD>`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "job/broken.mpd",
		[]byte(`<MPD><unclosed`), 0o644))

	t.Run("rewrites against base url", func(t *testing.T) {
		router := newTestRouter(t, fs, "https://cdn.example/media")
		rec := get(t, router, "/dash/job/manifest.mpd")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, dash.ContentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "https://cdn.example/media/segments/")
	})

	t.Run("missing manifest is 404", func(t *testing.T) {
		router := newTestRouter(t, fs, "")
		rec := get(t, router, "/dash/job/missing.mpd")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed manifest is 500", func(t *testing.T) {
		router := newTestRouter(t, fs, "")
		rec := get(t, router, "/dash/job/broken.mpd")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHealthHandler(t *testing.T) {
	router := chi.NewRouter()
	NewHealthHandler("1.2.3").Register(router)

	rec := get(t, router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}
