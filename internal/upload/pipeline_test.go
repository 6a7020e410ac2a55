package upload

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestNewPipeline(t *testing.T) {
	t.Run("requires a target", func(t *testing.T) {
		_, err := NewPipeline(nil, Options{})
		assert.Error(t, err)
	})

	t.Run("applies worker default", func(t *testing.T) {
		p, err := NewPipeline(afero.NewMemMapFs(), Options{})
		require.NoError(t, err)
		assert.Equal(t, DefaultWorkers, p.opts.Workers)
	})
}

func TestPipeline_Save(t *testing.T) {
	t.Run("transfers segments manifests and keys", func(t *testing.T) {
		tempDir := t.TempDir()
		cacheDir := t.TempDir()

		writeArtifact(t, tempDir, "video_1080.m4s", []byte("segment-bytes"))
		writeArtifact(t, tempDir, "master.m3u8", []byte("#EXTM3U"))
		writeArtifact(t, cacheDir, "key_0", []byte{0x00, 0x11, 0x22, 0x33})
		writeArtifact(t, cacheDir, "key_1", []byte{0x44, 0x55, 0x66, 0x77})

		target := afero.NewMemMapFs()
		p, err := NewPipeline(target, Options{TargetPrefix: "media/job1"})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir, cacheDir)
		require.NoError(t, err)

		assert.Equal(t, 4, summary.CopiedCount())
		assert.Zero(t, summary.FailedCount())
		assert.Equal(t, int64(13+7+4+4), summary.TotalBytes)

		// Prefix gets exactly one trailing slash.
		content, err := afero.ReadFile(target, "media/job1/master.m3u8")
		require.NoError(t, err)
		assert.Equal(t, "#EXTM3U", string(content))

		segment, err := afero.ReadFile(target, "media/job1/video_1080.m4s")
		require.NoError(t, err)
		assert.Equal(t, "segment-bytes", string(segment))

		// Key material is aggregated hex-encoded.
		require.Len(t, summary.Keys, 2)
		byName := map[string]UploadedKey{}
		for _, key := range summary.Keys {
			byName[key.Filename] = key
		}
		assert.Equal(t, hex.EncodeToString([]byte{0x00, 0x11, 0x22, 0x33}), byName["key_0"].Content)
		assert.Equal(t, "media/job1/key_1", byName["key_1"].Path)
	})

	t.Run("requires at least one source directory", func(t *testing.T) {
		p, err := NewPipeline(afero.NewMemMapFs(), Options{})
		require.NoError(t, err)

		_, err = p.Save(context.Background())
		assert.Error(t, err)

		_, err = p.Save(context.Background(), "", "")
		assert.Error(t, err)
	})

	t.Run("missing source directory is skipped", func(t *testing.T) {
		tempDir := t.TempDir()
		writeArtifact(t, tempDir, "video.mp4", []byte("data"))

		p, err := NewPipeline(afero.NewMemMapFs(), Options{})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir, filepath.Join(tempDir, "missing"))
		require.NoError(t, err)
		assert.Equal(t, 1, summary.CopiedCount())
	})

	t.Run("one failure never aborts siblings", func(t *testing.T) {
		tempDir := t.TempDir()
		writeArtifact(t, tempDir, "good.m4s", []byte("data"))
		writeArtifact(t, tempDir, "master.m3u8", []byte("#EXTM3U"))
		// A dangling symlink fails on read but survives collection.
		require.NoError(t, os.Symlink(filepath.Join(tempDir, "gone"), filepath.Join(tempDir, "broken.m4s")))

		p, err := NewPipeline(afero.NewMemMapFs(), Options{Workers: 1})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir)
		require.NoError(t, err)

		assert.Equal(t, 2, summary.CopiedCount())
		require.Equal(t, 1, summary.FailedCount())
		assert.Equal(t, "broken.m4s", filepath.Base(summary.Failed[0].LocalPath))
		assert.NotEmpty(t, summary.Failed[0].Error)
	})

	t.Run("many files fan out across workers", func(t *testing.T) {
		tempDir := t.TempDir()
		for i := 0; i < 23; i++ {
			writeArtifact(t, tempDir, fmt.Sprintf("seg_%d.m4s", i), []byte("x"))
		}

		target := afero.NewMemMapFs()
		p, err := NewPipeline(target, Options{Workers: 10})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir)
		require.NoError(t, err)
		assert.Equal(t, 23, summary.CopiedCount())
		assert.Zero(t, summary.FailedCount())
	})

	t.Run("cancelled context records per-file failures", func(t *testing.T) {
		tempDir := t.TempDir()
		writeArtifact(t, tempDir, "video.mp4", []byte("data"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p, err := NewPipeline(afero.NewMemMapFs(), Options{})
		require.NoError(t, err)

		summary, err := p.Save(ctx, tempDir)
		require.NoError(t, err)
		assert.Zero(t, summary.CopiedCount())
		assert.Equal(t, 1, summary.FailedCount())
	})
}

func TestPipeline_Cleanup(t *testing.T) {
	t.Run("removes copied files and drained directories", func(t *testing.T) {
		root := t.TempDir()
		tempDir := filepath.Join(root, "packd-scratch")
		require.NoError(t, os.Mkdir(tempDir, 0o750))
		writeArtifact(t, tempDir, "video.mp4", []byte("data"))
		writeArtifact(t, tempDir, "master.m3u8", []byte("#EXTM3U"))

		p, err := NewPipeline(afero.NewMemMapFs(), Options{Cleanup: true})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.CopiedCount())
		assert.NoDirExists(t, tempDir)
	})

	t.Run("directory with failed files stays behind", func(t *testing.T) {
		root := t.TempDir()
		tempDir := filepath.Join(root, "packd-scratch")
		require.NoError(t, os.Mkdir(tempDir, 0o750))
		writeArtifact(t, tempDir, "good.mp4", []byte("data"))
		require.NoError(t, os.Symlink(filepath.Join(tempDir, "gone"), filepath.Join(tempDir, "broken.m4s")))

		p, err := NewPipeline(afero.NewMemMapFs(), Options{Cleanup: true})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.FailedCount())
		assert.DirExists(t, tempDir)
		assert.NoFileExists(t, filepath.Join(tempDir, "good.mp4"))
	})

	t.Run("keys are read before cleanup removes them", func(t *testing.T) {
		tempDir := t.TempDir()
		writeArtifact(t, tempDir, "key_0", []byte{0xab, 0xcd})

		p, err := NewPipeline(afero.NewMemMapFs(), Options{Cleanup: true})
		require.NoError(t, err)

		summary, err := p.Save(context.Background(), tempDir)
		require.NoError(t, err)
		require.Len(t, summary.Keys, 1)
		assert.Equal(t, "abcd", summary.Keys[0].Content)
		assert.NoFileExists(t, filepath.Join(tempDir, "key_0"))
	})
}

func TestExtractKeys(t *testing.T) {
	tempDir := t.TempDir()
	cacheDir := t.TempDir()
	writeArtifact(t, tempDir, "video.mp4", []byte("data"))
	writeArtifact(t, cacheDir, "key_0", []byte{0x01, 0x02})
	writeArtifact(t, cacheDir, "key_1", []byte{0x03, 0x04})

	keys, err := ExtractKeys(tempDir, cacheDir, "")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "0102", keys[0].Content)
	assert.Equal(t, "key_1", keys[1].Filename)
}

func TestCollectArtifacts(t *testing.T) {
	tempDir := t.TempDir()
	writeArtifact(t, tempDir, "master.m3u8", []byte("#EXTM3U"))
	require.NoError(t, os.Mkdir(filepath.Join(tempDir, "nested"), 0o750))

	t.Run("skips subdirectories", func(t *testing.T) {
		artifacts, err := CollectArtifacts("out", tempDir)
		require.NoError(t, err)
		require.Len(t, artifacts, 1)
		assert.Equal(t, "out/master.m3u8", artifacts[0].TargetPath)
		assert.Equal(t, ClassManifest, artifacts[0].Class)
		assert.Equal(t, int64(7), artifacts[0].Size)
	})

	t.Run("collapses repeated trailing slashes", func(t *testing.T) {
		artifacts, err := CollectArtifacts("out///", tempDir)
		require.NoError(t, err)
		require.Len(t, artifacts, 1)
		assert.Equal(t, "out/master.m3u8", artifacts[0].TargetPath)
	})
}
