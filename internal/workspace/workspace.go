// Package workspace manages per-job temporary directories.
//
// Each packaging job receives its own scratch directory under a common
// root. A second, optional cache tier (typically a RAM disk such as
// /dev/shm) holds small secret files like raw encryption keys so they
// never touch slow or persistent storage.
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirPrefix is the prefix used for packd scratch directories.
const DirPrefix = "packd-"

// Workspace allocates and tears down scratch directories. A Workspace is
// owned by a single job at a time; no process-wide registry exists.
type Workspace struct {
	root      string
	cacheRoot string

	directories []string
}

// New creates a Workspace rooted at root, with an optional cache tier.
// Pass an empty cacheRoot to fall back to the regular root for cache
// directories.
func New(root, cacheRoot string) *Workspace {
	return &Workspace{
		root:      strings.TrimRight(root, string(os.PathSeparator)),
		cacheRoot: strings.TrimRight(cacheRoot, string(os.PathSeparator)),
	}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// HasCacheStorage reports whether a separate cache tier is configured.
func (w *Workspace) HasCacheStorage() bool {
	return w.cacheRoot != ""
}

// Create allocates a fresh scratch directory under the root.
func (w *Workspace) Create() (string, error) {
	return w.createIn(w.root)
}

// CreateCache allocates a fresh directory in the cache tier, falling back
// to the regular root when no cache tier is configured.
func (w *Workspace) CreateCache() (string, error) {
	root := w.cacheRoot
	if root == "" {
		root = w.root
	}
	return w.createIn(root)
}

func (w *Workspace) createIn(root string) (string, error) {
	dir := filepath.Join(root, DirPrefix+randomSuffix())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	w.directories = append(w.directories, dir)
	return dir, nil
}

// RemoveAll deletes every directory this workspace allocated.
func (w *Workspace) RemoveAll() error {
	var firstErr error
	for _, dir := range w.directories {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing scratch directory %s: %w", dir, err)
		}
	}
	w.directories = nil
	return firstErr
}

// Directories returns the directories allocated so far.
func (w *Workspace) Directories() []string {
	out := make([]string, len(w.directories))
	copy(out, w.directories)
	return out
}

func randomSuffix() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

// SweepOrphans removes scratch directories under baseDir older than
// maxAge. It looks for directories matching the packd prefix, typically
// left behind by a crashed job. Returns the number of directories removed.
func SweepOrphans(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("workspace root does not exist, skipping sweep", "path", baseDir)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat scratch directory", "path", dirPath, "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Error("failed to remove orphaned scratch directory", "path", dirPath, "error", err)
			continue
		}
		logger.Info("removed orphaned scratch directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}
