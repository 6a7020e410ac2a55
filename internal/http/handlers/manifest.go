// Package handlers provides HTTP handlers for the packd server.
package handlers

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"

	"github.com/jmylchreest/packd/pkg/dash"
	"github.com/jmylchreest/packd/pkg/hls"
)

// ManifestHandler serves rewritten playlists and manifests. When a base
// URL is configured, segment, key, and sub-playlist references are
// prefixed with it; otherwise references pass through unchanged.
type ManifestHandler struct {
	fs      afero.Fs
	baseURL string
	logger  *slog.Logger
}

// NewManifestHandler creates a manifest handler reading from fs.
func NewManifestHandler(fs afero.Fs, baseURL string, logger *slog.Logger) *ManifestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestHandler{
		fs:      fs,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Register mounts the manifest routes.
func (h *ManifestHandler) Register(router chi.Router) {
	router.Get("/hls/*", h.ServePlaylist)
	router.Get("/dash/*", h.ServeManifest)
}

// ServePlaylist serves an HLS playlist with rewritten references.
func (h *ManifestHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	rewriter := hls.NewRewriter(h.fs).Open(path)
	if resolver := h.resolver(); resolver != nil {
		rewriter.
			SetKeyResolver(resolver).
			SetMediaResolver(resolver).
			SetPlaylistResolver(resolver)
	}

	content, err := rewriter.Get()
	if err != nil {
		h.serveError(w, path, err)
		return
	}

	w.Header().Set("Content-Type", hls.ContentType)
	_, _ = w.Write([]byte(content))
}

// ServeManifest serves a DASH manifest with expanded segment lists and
// rewritten references.
func (h *ManifestHandler) ServeManifest(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	rewriter := dash.NewRewriter(h.fs).Open(path)
	if resolver := h.resolver(); resolver != nil {
		rewriter.
			SetMediaResolver(resolver).
			SetInitResolver(resolver)
	}

	content, err := rewriter.Get()
	if err != nil {
		h.serveError(w, path, err)
		return
	}

	w.Header().Set("Content-Type", dash.ContentType)
	_, _ = w.Write([]byte(content))
}

// resolver returns the base-URL resolver, or nil for passthrough.
func (h *ManifestHandler) resolver() func(string) string {
	if h.baseURL == "" {
		return nil
	}
	base := h.baseURL
	return func(reference string) string {
		return base + "/" + strings.TrimPrefix(reference, "/")
	}
}

func (h *ManifestHandler) serveError(w http.ResponseWriter, path string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.logger.Error("manifest rewrite failed", "path", path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
