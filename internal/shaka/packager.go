package shaka

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmylchreest/packd/internal/observability"
	"github.com/jmylchreest/packd/internal/workspace"
)

// Result is the immutable outcome of one packaging job. The upload
// pipeline consumes TempDir and CacheDir to redistribute the produced
// artifacts.
type Result struct {
	// JobID identifies this packaging run in logs and results.
	JobID string
	// Output is the packager's captured stdout.
	Output string
	// TempDir holds segments and manifests produced by the run.
	TempDir string
	// CacheDir holds raw encryption keys, when encryption was enabled.
	CacheDir string
	// Keys is the key material generated for this job.
	Keys []KeyData
}

// Packager orchestrates a single packaging job: it resolves stream inputs
// and outputs, builds the command, and executes the binary into a scratch
// workspace. Create one per job; it is not safe for concurrent use.
type Packager struct {
	runner  *Runner
	builder *CommandBuilder
	ws      *workspace.Workspace
	logger  *slog.Logger

	// forceGenericInput copies or symlinks inputs to a generic name
	// (input.<ext>) before handing them to the binary.
	forceGenericInput bool

	inputs       []string
	inputAliases map[string]string
	tempDir      string
	cacheDir     string
	keys         []KeyData
}

// NewPackager creates a Packager using the given runner and workspace.
func NewPackager(runner *Runner, ws *workspace.Workspace, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{
		runner:       runner,
		builder:      NewCommandBuilder(),
		ws:           ws,
		logger:       observability.WithComponent(logger, "packager"),
		inputAliases: make(map[string]string),
	}
}

// WithForceGenericInput toggles generic input aliasing for this job.
func (p *Packager) WithForceGenericInput(force bool) *Packager {
	p.forceGenericInput = force
	return p
}

// Open registers the job's input media paths. An empty collection is a
// configuration error.
func (p *Packager) Open(inputs ...string) error {
	if len(inputs) == 0 {
		return &InvalidArgumentError{Reason: "media collection cannot be empty"}
	}
	p.inputs = inputs
	p.builder = NewCommandBuilder()
	p.logger.Debug("opened media collection", "count", len(inputs))
	return nil
}

// Builder exposes the underlying command builder for passthrough options.
func (p *Packager) Builder() *CommandBuilder {
	return p.builder
}

// AddVideoStream adds a video stream, resolving the input against the
// media collection and the output into the job's scratch directory.
func (p *Packager) AddVideoStream(input, output string, options ...Field) error {
	return p.addStream(input, StreamVideo, output, options)
}

// AddAudioStream adds an audio stream.
func (p *Packager) AddAudioStream(input, output string, options ...Field) error {
	return p.addStream(input, StreamAudio, output, options)
}

// AddTextStream adds a text (subtitle) stream.
func (p *Packager) AddTextStream(input, output string, options ...Field) error {
	return p.addStream(input, StreamText, output, options)
}

func (p *Packager) addStream(input, streamType, output string, options []Field) error {
	inputPath, err := p.resolveInputPath(input)
	if err != nil {
		return err
	}
	outputPath, err := p.resolveOutputPath(output)
	if err != nil {
		return err
	}
	stream := NewStream(inputPath, streamType, outputPath)
	for _, f := range options {
		stream.With(f.Key, f.Value)
	}
	p.builder.AddStream(stream)
	return nil
}

// WithMpdOutput writes the DASH manifest into the job's scratch directory.
func (p *Packager) WithMpdOutput(filename string) error {
	path, err := p.resolveOutputPath(filename)
	if err != nil {
		return err
	}
	p.builder.WithMpdOutput(path)
	return nil
}

// WithHlsMasterPlaylist writes the HLS master playlist into the job's
// scratch directory.
func (p *Packager) WithHlsMasterPlaylist(filename string) error {
	path, err := p.resolveOutputPath(filename)
	if err != nil {
		return err
	}
	p.builder.WithHlsMasterPlaylist(path)
	return nil
}

// WithSegmentDuration sets the segment duration in seconds.
func (p *Packager) WithSegmentDuration(seconds int) *Packager {
	p.builder.WithSegmentDuration(seconds)
	return p
}

// WithEncryption merges raw-key encryption options.
func (p *Packager) WithEncryption(config map[string]string) *Packager {
	p.builder.WithEncryption(config)
	return p
}

// WithAESEncryption generates an AES-128 key, writes the raw key bytes to
// the cache workspace tier under keyFilename, and configures the builder
// for raw-key encryption. When key rotation is enabled the filename
// becomes a base name (key -> key_0, key_1, ...) managed by the binary.
//
// Protection schemes: "cenc" (AES-CTR, supports rotation), "cbcs"
// (AES-CBC, FairPlay), "cbc1" (legacy), or empty for SAMPLE-AES (no
// rotation support).
func (p *Packager) WithAESEncryption(keyFilename, protectionScheme, label string) (KeyData, error) {
	if keyFilename == "" {
		keyFilename = "key"
	}

	keyData := GenerateKeyData()

	cacheDir, err := p.getCacheDirectory()
	if err != nil {
		return KeyData{}, err
	}

	raw, err := keyData.RawKeyBytes()
	if err != nil {
		return KeyData{}, err
	}
	keyData.FilePath = filepath.Join(cacheDir, keyFilename)
	if err := os.WriteFile(keyData.FilePath, raw, 0600); err != nil {
		return KeyData{}, fmt.Errorf("writing key file: %w", err)
	}

	config := map[string]string{
		"keys":        FormatKeysOption(keyData.KeyID, keyData.Key, label),
		"hls_key_uri": keyFilename,
		"clear_lead":  "0",
	}
	if protectionScheme != "" {
		config["protection_scheme"] = protectionScheme
	}
	p.builder.WithEncryption(config)

	p.keys = append(p.keys, keyData)
	return keyData, nil
}

// WithKeyRotationDuration rotates encryption keys every given number of
// seconds. Call after WithAESEncryption.
func (p *Packager) WithKeyRotationDuration(seconds int) *Packager {
	p.builder.WithKeyRotationDuration(seconds)
	return p
}

// WithOption adds a passthrough global option.
func (p *Packager) WithOption(key, value string) *Packager {
	p.builder.WithOption(key, value)
	return p
}

// WithFlag adds a passthrough boolean option.
func (p *Packager) WithFlag(key string, enabled bool) *Packager {
	p.builder.WithFlag(key, enabled)
	return p
}

// Command returns the final command as a display string, useful for
// debugging. Secrets are redacted.
func (p *Packager) Command() (string, error) {
	if len(p.builder.Streams()) == 0 {
		return "", &InvalidArgumentError{Reason: "no streams configured"}
	}
	command, err := p.builder.Build()
	if err != nil {
		return "", err
	}
	return observability.RedactCommandLine(command), nil
}

// Export runs the packaging job and returns its result. Structural
// errors (no streams, invalid descriptors) surface before the binary is
// invoked; a failed run surfaces as ProcessError.
func (p *Packager) Export(ctx context.Context) (*Result, error) {
	if len(p.builder.Streams()) == 0 {
		return nil, &InvalidArgumentError{Reason: "no streams configured"}
	}

	args, err := p.builder.BuildArgs()
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	logger := observability.WithJobID(p.logger, jobID)
	logger.Info("starting packaging operation",
		"streams", len(p.builder.Streams()),
	)

	outcome, err := p.runner.Run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("packaging job %s: %w", jobID, err)
	}

	logger.Info("packaging operation completed", "exit_code", outcome.ExitCode)

	return &Result{
		JobID:    jobID,
		Output:   outcome.Stdout,
		TempDir:  p.tempDir,
		CacheDir: p.cacheDir,
		Keys:     p.keys,
	}, nil
}

// resolveInputPath maps a configured input to the path handed to the
// binary, creating a generic alias when forceGenericInput is set.
func (p *Packager) resolveInputPath(input string) (string, error) {
	resolved := input
	for _, known := range p.inputs {
		if known == input || filepath.Base(known) == input {
			resolved = known
			break
		}
	}

	if !p.forceGenericInput {
		return resolved, nil
	}

	if alias, ok := p.inputAliases[resolved]; ok {
		return alias, nil
	}

	tempDir, err := p.getTemporaryDirectory()
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(resolved)
	if ext == "" {
		ext = ".tmp"
	}
	alias := filepath.Join(tempDir, "input"+ext)
	if len(p.inputAliases) > 0 {
		alias = filepath.Join(tempDir, fmt.Sprintf("input_%d%s", len(p.inputAliases), ext))
	}

	// Symlink is cheap for local files; fall back to a copy when the
	// filesystem refuses links.
	if err := os.Symlink(resolved, alias); err != nil {
		if copyErr := copyFile(resolved, alias); copyErr != nil {
			return "", fmt.Errorf("aliasing input %s: %w", resolved, copyErr)
		}
	}

	p.inputAliases[resolved] = alias
	return alias, nil
}

// resolveOutputPath places an output filename inside the job's scratch
// directory.
func (p *Packager) resolveOutputPath(output string) (string, error) {
	tempDir, err := p.getTemporaryDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(tempDir, output), nil
}

func (p *Packager) getTemporaryDirectory() (string, error) {
	if p.tempDir != "" {
		return p.tempDir, nil
	}
	dir, err := p.ws.Create()
	if err != nil {
		return "", err
	}
	p.tempDir = dir
	return dir, nil
}

func (p *Packager) getCacheDirectory() (string, error) {
	if p.cacheDir != "" {
		return p.cacheDir, nil
	}
	dir, err := p.ws.CreateCache()
	if err != nil {
		return "", err
	}
	p.cacheDir = dir
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
