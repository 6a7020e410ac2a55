// Package hls rewrites HLS (.m3u8) playlists at serve time.
//
// A Rewriter maps segment, key, and sub-playlist references onto
// caller-supplied URLs line by line. Everything outside the rewritten
// references is preserved byte for byte.
package hls

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// Resolver maps a reference found in a playlist to the URL that should
// replace it. Resolvers are supplied by the caller; an unset resolver
// leaves matching references unchanged.
type Resolver func(string) string

// ContentType is the media type for HLS playlists.
const ContentType = "application/vnd.apple.mpegurl"

// mediaExtensions are the reference extensions recognized on direct
// (non-tag) lines.
var mediaExtensions = []string{".m3u8", ".ts", ".m4s", ".mp4", ".m4a", ".m4v", ".aac", ".vtt"}

var (
	keyTagPattern  = regexp.MustCompile(`#EXT-X-KEY:METHOD=[^,]+,URI="([^"]+)"`)
	uriAttrPattern = regexp.MustCompile(`URI="([^"]+)"`)
)

// Playlist pairs a playlist path with its rewritten content.
type Playlist struct {
	Path    string
	Content string
}

// Rewriter rewrites playlist references through resolver callbacks.
// Resolved URLs are cached per input for the lifetime of the current
// Open call.
type Rewriter struct {
	fs   afero.Fs
	path string

	keyResolver      Resolver
	mediaResolver    Resolver
	playlistResolver Resolver

	keyCache      map[string]string
	mediaCache    map[string]string
	playlistCache map[string]string
}

// NewRewriter creates a Rewriter reading playlists from the given
// filesystem.
func NewRewriter(fs afero.Fs) *Rewriter {
	r := &Rewriter{fs: fs}
	r.clearCaches()
	return r
}

// Open selects the playlist to process and invalidates all caches.
func (r *Rewriter) Open(path string) *Rewriter {
	r.path = path
	r.clearCaches()
	return r
}

// SetKeyResolver sets the resolver for #EXT-X-KEY URIs.
func (r *Rewriter) SetKeyResolver(resolver Resolver) *Rewriter {
	r.keyResolver = resolver
	r.keyCache = make(map[string]string)
	return r
}

// SetMediaResolver sets the resolver for segment and #EXT-X-MAP
// references.
func (r *Rewriter) SetMediaResolver(resolver Resolver) *Rewriter {
	r.mediaResolver = resolver
	r.mediaCache = make(map[string]string)
	return r
}

// SetPlaylistResolver sets the resolver for .m3u8 and #EXT-X-MEDIA
// references.
func (r *Rewriter) SetPlaylistResolver(resolver Resolver) *Rewriter {
	r.playlistResolver = resolver
	r.playlistCache = make(map[string]string)
	return r
}

func (r *Rewriter) clearCaches() {
	r.keyCache = make(map[string]string)
	r.mediaCache = make(map[string]string)
	r.playlistCache = make(map[string]string)
}

// Get returns the fully rewritten text of the opened playlist.
func (r *Rewriter) Get() (string, error) {
	if r.path == "" {
		return "", fmt.Errorf("no playlist opened")
	}
	return r.process(r.path)
}

// All returns the rewritten opened playlist plus every .m3u8 sub-playlist
// it references, in discovery order without duplicates. References found
// inside sub-playlists are not followed further.
func (r *Rewriter) All() ([]Playlist, error) {
	if r.path == "" {
		return nil, fmt.Errorf("no playlist opened")
	}

	content, err := r.read(r.path)
	if err != nil {
		return nil, err
	}

	paths := []string{r.path}
	seen := map[string]bool{r.path: true}
	for _, line := range splitLines(content) {
		if isDirectReference(line) && strings.HasSuffix(line, ".m3u8") && !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	playlists := make([]Playlist, 0, len(paths))
	for _, path := range paths {
		processed, err := r.process(path)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, Playlist{Path: path, Content: processed})
	}
	return playlists, nil
}

// process reads and rewrites a single playlist.
func (r *Rewriter) process(path string) (string, error) {
	content, err := r.read(path)
	if err != nil {
		return "", err
	}

	lines := splitLines(content)
	for i, line := range lines {
		lines[i] = r.rewriteLine(line)
	}
	return strings.Join(lines, "\n"), nil
}

// rewriteLine classifies one playlist line and rewrites its reference.
// Order matters: direct references first, then the tag forms.
func (r *Rewriter) rewriteLine(line string) string {
	if isDirectReference(line) {
		if strings.HasSuffix(line, ".m3u8") {
			return r.resolvePlaylist(line)
		}
		return r.resolveMedia(line)
	}

	if matches := keyTagPattern.FindStringSubmatch(line); matches != nil {
		resolved := r.resolveKey(matches[1])
		return strings.Replace(line, `URI="`+matches[1]+`"`, `URI="`+resolved+`"`, 1)
	}

	if strings.HasPrefix(line, "#EXT-X-MEDIA:") {
		if matches := uriAttrPattern.FindStringSubmatch(line); matches != nil {
			resolved := r.resolvePlaylist(matches[1])
			return strings.Replace(line, `URI="`+matches[1]+`"`, `URI="`+resolved+`"`, 1)
		}
	}

	if strings.HasPrefix(line, "#EXT-X-MAP:") {
		if matches := uriAttrPattern.FindStringSubmatch(line); matches != nil {
			resolved := r.resolveMedia(matches[1])
			return strings.Replace(line, `URI="`+matches[1]+`"`, `URI="`+resolved+`"`, 1)
		}
	}

	return line
}

func (r *Rewriter) resolveKey(key string) string {
	if r.keyResolver == nil {
		return key
	}
	if cached, ok := r.keyCache[key]; ok {
		return cached
	}
	resolved := r.keyResolver(key)
	r.keyCache[key] = resolved
	return resolved
}

func (r *Rewriter) resolveMedia(filename string) string {
	if r.mediaResolver == nil {
		return filename
	}
	if cached, ok := r.mediaCache[filename]; ok {
		return cached
	}
	resolved := r.mediaResolver(filename)
	r.mediaCache[filename] = resolved
	return resolved
}

func (r *Rewriter) resolvePlaylist(filename string) string {
	if r.playlistResolver == nil {
		return filename
	}
	if cached, ok := r.playlistCache[filename]; ok {
		return cached
	}
	resolved := r.playlistResolver(filename)
	r.playlistCache[filename] = resolved
	return resolved
}

func (r *Rewriter) read(path string) (string, error) {
	content, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return "", fmt.Errorf("reading playlist %s: %w", path, err)
	}
	return string(content), nil
}

// isDirectReference reports whether the line is a plain media or
// playlist reference. Comments, tags, empty lines, and lines that are
// already absolute http(s) URLs never match; those URLs are never handed
// to a resolver.
func isDirectReference(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		return false
	}
	for _, ext := range mediaExtensions {
		if strings.HasSuffix(line, ext) {
			return true
		}
	}
	return false
}

// splitLines splits playlist text on \n, \r\n, or \r line endings.
func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.Split(content, "\n")
}
