package hls

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlaylist(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func prefixResolver(prefix string) Resolver {
	return func(reference string) string {
		return prefix + reference
	}
}

func TestRewriter_Get(t *testing.T) {
	t.Run("requires an opened playlist", func(t *testing.T) {
		_, err := NewRewriter(afero.NewMemMapFs()).Get()
		assert.Error(t, err)
	})

	t.Run("missing playlist surfaces read error", func(t *testing.T) {
		_, err := NewRewriter(afero.NewMemMapFs()).Open("missing.m3u8").Get()
		assert.Error(t, err)
	})

	t.Run("no resolvers passes content through", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := "#EXTM3U\n#EXTINF:4.0,\nvideo_1.m4s\n"
		writePlaylist(t, fs, "media.m3u8", content)

		got, err := NewRewriter(fs).Open("media.m3u8").Get()
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("rewrites segment lines", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writePlaylist(t, fs, "media.m3u8", strings.Join([]string{
			"#EXTM3U",
			"#EXT-X-VERSION:6",
			"#EXTINF:4.0,",
			"video_1.m4s",
			"#EXTINF:4.0,",
			"video_2.m4s",
			"#EXT-X-ENDLIST",
		}, "\n"))

		got, err := NewRewriter(fs).
			Open("media.m3u8").
			SetMediaResolver(prefixResolver("https://cdn.example/v/")).
			Get()
		require.NoError(t, err)

		assert.Contains(t, got, "https://cdn.example/v/video_1.m4s")
		assert.Contains(t, got, "https://cdn.example/v/video_2.m4s")
		// Tags stay untouched.
		assert.Contains(t, got, "#EXT-X-VERSION:6")
	})

	t.Run("rewrites key URI leaving method untouched", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writePlaylist(t, fs, "media.m3u8", strings.Join([]string{
			"#EXTM3U",
			`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="key_0",IV=0x1234`,
			"#EXTINF:4.0,",
			"video_1.m4s",
		}, "\n"))

		got, err := NewRewriter(fs).
			Open("media.m3u8").
			SetKeyResolver(prefixResolver("https://keys.example/")).
			Get()
		require.NoError(t, err)

		assert.Contains(t, got, `#EXT-X-KEY:METHOD=SAMPLE-AES,URI="https://keys.example/key_0",IV=0x1234`)
	})

	t.Run("rewrites EXT-X-MEDIA via playlist resolver", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writePlaylist(t, fs, "master.m3u8", strings.Join([]string{
			"#EXTM3U",
			`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",URI="audio.m3u8"`,
			"#EXT-X-STREAM-INF:BANDWIDTH=800000",
			"video.m3u8",
		}, "\n"))

		got, err := NewRewriter(fs).
			Open("master.m3u8").
			SetPlaylistResolver(prefixResolver("https://cdn.example/")).
			Get()
		require.NoError(t, err)

		assert.Contains(t, got, `URI="https://cdn.example/audio.m3u8"`)
		assert.Contains(t, got, "\nhttps://cdn.example/video.m3u8")
	})

	t.Run("rewrites EXT-X-MAP via media resolver", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writePlaylist(t, fs, "media.m3u8", `#EXT-X-MAP:URI="init.mp4"`)

		got, err := NewRewriter(fs).
			Open("media.m3u8").
			SetMediaResolver(prefixResolver("https://cdn.example/")).
			Get()
		require.NoError(t, err)

		assert.Equal(t, `#EXT-X-MAP:URI="https://cdn.example/init.mp4"`, got)
	})

	t.Run("absolute URLs are never resolved", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writePlaylist(t, fs, "media.m3u8", strings.Join([]string{
			"https://already.example/video_1.m4s",
			"video_2.m4s",
		}, "\n"))

		got, err := NewRewriter(fs).
			Open("media.m3u8").
			SetMediaResolver(prefixResolver("https://cdn.example/")).
			Get()
		require.NoError(t, err)

		assert.Contains(t, got, "https://already.example/video_1.m4s")
		assert.NotContains(t, got, "https://cdn.example/https://already.example")
	})

	t.Run("normalizes CRLF line endings", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writePlaylist(t, fs, "media.m3u8", "#EXTM3U\r\nvideo_1.m4s\r\n")

		got, err := NewRewriter(fs).
			Open("media.m3u8").
			SetMediaResolver(prefixResolver("x/")).
			Get()
		require.NoError(t, err)

		assert.Equal(t, "#EXTM3U\nx/video_1.m4s\n", got)
	})
}

func TestRewriter_ResolverCaching(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePlaylist(t, fs, "media.m3u8", strings.Join([]string{
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="key_0"`,
		"video_1.m4s",
		`#EXT-X-KEY:METHOD=SAMPLE-AES,URI="key_0"`,
		"video_1.m4s",
	}, "\n"))

	keyCalls := map[string]int{}
	mediaCalls := map[string]int{}

	rewriter := NewRewriter(fs).
		Open("media.m3u8").
		SetKeyResolver(func(reference string) string {
			keyCalls[reference]++
			return "k/" + reference
		}).
		SetMediaResolver(func(reference string) string {
			mediaCalls[reference]++
			return "m/" + reference
		})

	_, err := rewriter.Get()
	require.NoError(t, err)

	// A repeated reference resolves once per Open.
	assert.Equal(t, 1, keyCalls["key_0"])
	assert.Equal(t, 1, mediaCalls["video_1.m4s"])

	// Re-opening invalidates the caches.
	_, err = rewriter.Open("media.m3u8").Get()
	require.NoError(t, err)
	assert.Equal(t, 2, keyCalls["key_0"])
}

func TestRewriter_All(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePlaylist(t, fs, "master.m3u8", strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"video.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=96000",
		"audio.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"video.m3u8",
	}, "\n"))
	writePlaylist(t, fs, "video.m3u8", strings.Join([]string{
		"#EXTM3U",
		"video_1.m4s",
		"nested.m3u8",
	}, "\n"))
	writePlaylist(t, fs, "audio.m3u8", "#EXTM3U\naudio_1.m4a")

	t.Run("returns opened playlist then distinct references", func(t *testing.T) {
		playlists, err := NewRewriter(fs).
			Open("master.m3u8").
			SetMediaResolver(prefixResolver("https://cdn.example/")).
			All()
		require.NoError(t, err)

		require.Len(t, playlists, 3)
		assert.Equal(t, "master.m3u8", playlists[0].Path)
		assert.Equal(t, "video.m3u8", playlists[1].Path)
		assert.Equal(t, "audio.m3u8", playlists[2].Path)

		// References inside sub-playlists are rewritten but not followed.
		assert.Contains(t, playlists[1].Content, "https://cdn.example/video_1.m4s")
		for _, playlist := range playlists {
			assert.NotEqual(t, "nested.m3u8", playlist.Path)
		}
	})

	t.Run("missing sub-playlist fails the whole call", func(t *testing.T) {
		writePlaylist(t, fs, "broken-master.m3u8", "#EXTM3U\nmissing.m3u8")
		_, err := NewRewriter(fs).Open("broken-master.m3u8").All()
		assert.Error(t, err)
	})
}
