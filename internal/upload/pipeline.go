package upload

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/packd/internal/observability"
)

// Outcome records the transfer result for a single artifact.
type Outcome struct {
	// LocalPath is the artifact's source path.
	LocalPath string
	// TargetPath is where the artifact was written on the backend.
	TargetPath string
	// Class is the artifact's classification.
	Class Class
	// Size in bytes.
	Size int64
	// Copied reports transfer success.
	Copied bool
	// Error holds the failure message when Copied is false.
	Error string
}

// UploadedKey is key material that reached the target backend, ready for
// the caller to persist without re-reading the filesystem.
type UploadedKey struct {
	// Filename is the key file's base name.
	Filename string
	// Path is the key's location on the target backend.
	Path string
	// Content is the hex-encoded raw key.
	Content string
}

// Summary aggregates a pipeline run. Failures are recorded, never
// thrown: a run with failed files still returns a Summary.
type Summary struct {
	Copied     []Outcome
	Failed     []Outcome
	TotalBytes int64
	Keys       []UploadedKey
}

// CopiedCount returns the number of successfully transferred files.
func (s *Summary) CopiedCount() int { return len(s.Copied) }

// FailedCount returns the number of failed transfers.
func (s *Summary) FailedCount() int { return len(s.Failed) }

// Options configures a Pipeline.
type Options struct {
	// TargetPrefix is prepended to each artifact's base name on the
	// backend. A trailing slash is added when missing.
	TargetPrefix string
	// Workers bounds the number of concurrently transferring chunks.
	// Defaults to 10.
	Workers int
	// ChunkTimeout bounds a single chunk's transfer time. Zero means
	// unbounded.
	ChunkTimeout time.Duration
	// Cleanup removes transferred source files and emptied scratch
	// directories.
	Cleanup bool
	// Logger receives transfer progress. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultWorkers is the chunk fan-out used when Options.Workers is unset.
const DefaultWorkers = 10

// Pipeline transfers packaging artifacts to a target backend. Artifacts
// are partitioned into at most Workers chunks which transfer
// independently; one file's failure never aborts its siblings.
type Pipeline struct {
	target afero.Fs
	opts   Options
	logger *slog.Logger
}

// NewPipeline creates a Pipeline writing to the given backend.
func NewPipeline(target afero.Fs, opts Options) (*Pipeline, error) {
	if target == nil {
		return nil, errors.New("upload target not set")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		target: target,
		opts:   opts,
		logger: observability.WithComponent(opts.Logger, "upload"),
	}, nil
}

// Save scans the given scratch directories and transfers every file to
// the target backend. Per-file failures are recorded in the summary;
// only structural problems (no source directories, unreadable scratch
// space) return an error.
func (p *Pipeline) Save(ctx context.Context, sourceDirs ...string) (*Summary, error) {
	var dirs []string
	for _, dir := range sourceDirs {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil, errors.New("no source directories configured")
	}

	artifacts, err := CollectArtifacts(p.opts.TargetPrefix, dirs...)
	if err != nil {
		return nil, err
	}

	p.logger.Info("starting artifact upload",
		"files", len(artifacts),
		"workers", p.opts.Workers,
		"target_prefix", p.opts.TargetPrefix,
	)

	outcomes := p.transferAll(ctx, artifacts)

	summary := &Summary{}
	for i, outcome := range outcomes {
		if outcome.Copied {
			summary.Copied = append(summary.Copied, outcome)
			summary.TotalBytes += outcome.Size
			if outcome.Class == ClassKey {
				content, readErr := os.ReadFile(artifacts[i].LocalPath)
				if readErr == nil {
					summary.Keys = append(summary.Keys, UploadedKey{
						Filename: filepath.Base(outcome.LocalPath),
						Path:     outcome.TargetPath,
						Content:  hex.EncodeToString(content),
					})
				}
			}
		} else {
			summary.Failed = append(summary.Failed, outcome)
		}
	}

	if p.opts.Cleanup {
		p.cleanup(summary.Copied, dirs)
	}

	p.logger.Info("artifact upload finished",
		"copied", summary.CopiedCount(),
		"failed", summary.FailedCount(),
		"bytes", summary.TotalBytes,
	)
	return summary, nil
}

// transferAll partitions artifacts into at most Workers chunks of
// ceil(total/Workers) files and runs each chunk concurrently. Outcome
// slots are disjoint per chunk, so no locking is needed.
func (p *Pipeline) transferAll(ctx context.Context, artifacts []Artifact) []Outcome {
	outcomes := make([]Outcome, len(artifacts))
	if len(artifacts) == 0 {
		return outcomes
	}

	chunkSize := (len(artifacts) + p.opts.Workers - 1) / p.opts.Workers

	var g errgroup.Group
	for start := 0; start < len(artifacts); start += chunkSize {
		start := start
		end := min(start+chunkSize, len(artifacts))
		g.Go(func() error {
			p.transferChunk(ctx, artifacts[start:end], outcomes[start:end])
			return nil
		})
	}
	// Chunk goroutines never return errors; failures are per-file.
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) transferChunk(ctx context.Context, artifacts []Artifact, outcomes []Outcome) {
	if p.opts.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ChunkTimeout)
		defer cancel()
	}

	for i, artifact := range artifacts {
		outcome := Outcome{
			LocalPath:  artifact.LocalPath,
			TargetPath: artifact.TargetPath,
			Class:      artifact.Class,
			Size:       artifact.Size,
		}

		if err := ctx.Err(); err != nil {
			outcome.Error = fmt.Sprintf("chunk cancelled: %v", err)
			outcomes[i] = outcome
			continue
		}

		if err := p.transferOne(artifact); err != nil {
			outcome.Error = err.Error()
			p.logger.Warn("artifact transfer failed",
				"path", artifact.LocalPath,
				"target", artifact.TargetPath,
				"error", err,
			)
		} else {
			outcome.Copied = true
		}
		outcomes[i] = outcome
	}
}

// transferOne writes a single artifact to the backend. Keys and
// manifests are small; they are read fully and written in one call for
// reliability. Segments are streamed to avoid buffering large binaries.
func (p *Pipeline) transferOne(artifact Artifact) error {
	switch artifact.Class {
	case ClassKey, ClassManifest:
		content, err := os.ReadFile(artifact.LocalPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", artifact.LocalPath, err)
		}
		if err := afero.WriteFile(p.target, artifact.TargetPath, content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", artifact.TargetPath, err)
		}
		return nil
	default:
		src, err := os.Open(artifact.LocalPath)
		if err != nil {
			return fmt.Errorf("opening %s: %w", artifact.LocalPath, err)
		}
		defer src.Close()

		dst, err := p.target.Create(artifact.TargetPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", artifact.TargetPath, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return fmt.Errorf("streaming %s: %w", artifact.TargetPath, err)
		}
		if err := dst.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", artifact.TargetPath, err)
		}
		return nil
	}
}

// cleanup removes transferred source files, then any scratch directory
// the removals emptied.
func (p *Pipeline) cleanup(copied []Outcome, dirs []string) {
	for _, outcome := range copied {
		if err := os.Remove(outcome.LocalPath); err != nil {
			p.logger.Warn("failed to remove transferred file",
				"path", outcome.LocalPath,
				"error", err,
			)
		}
	}
	for _, dir := range dirs {
		// Remove succeeds only on empty directories, which is exactly
		// the contract: directories with failed files stay behind.
		if err := os.Remove(dir); err == nil {
			p.logger.Debug("removed drained scratch directory", "path", dir)
		}
	}
}

// ExtractKeys scans scratch directories for encryption key files and
// returns their metadata without transferring anything. Useful with key
// rotation to collect generated keys before or instead of an upload.
func ExtractKeys(dirs ...string) ([]UploadedKey, error) {
	var keys []UploadedKey
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scanning key directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsKeyFile(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading key file %s: %w", path, err)
			}
			keys = append(keys, UploadedKey{
				Filename: entry.Name(),
				Path:     path,
				Content:  hex.EncodeToString(content),
			})
		}
	}
	return keys, nil
}
