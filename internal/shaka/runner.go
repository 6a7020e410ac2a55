package shaka

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/packd/internal/observability"
)

// versionPattern extracts the version token from the --version banner.
var versionPattern = regexp.MustCompile(`(?i)packager version (.+)`)

// Outcome is the captured result of one packager invocation.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes the packager binary. The zero value is not usable;
// construct with NewRunner, which verifies the binary up front.
type Runner struct {
	binaryPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRunner creates a Runner for the given binary path. Returns
// ExecutableNotFoundError when the path does not point at an executable
// file.
func NewRunner(binaryPath string, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if !isExecutable(binaryPath) {
		return nil, &ExecutableNotFoundError{Path: binaryPath}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		binaryPath: binaryPath,
		timeout:    timeout,
		logger:     observability.WithComponent(logger, "shaka-runner"),
	}, nil
}

// BinaryPath returns the verified packager binary path.
func (r *Runner) BinaryPath() string {
	return r.binaryPath
}

// Timeout returns the configured per-invocation timeout.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Version invokes the binary with --version and parses the version token.
func (r *Runner) Version(ctx context.Context) (string, error) {
	outcome, err := r.Run(ctx, []string{"--version"})
	if err != nil {
		return "", err
	}
	// Some builds print the banner on stderr.
	banner := outcome.Stdout
	if strings.TrimSpace(banner) == "" {
		banner = outcome.Stderr
	}
	matches := versionPattern.FindStringSubmatch(banner)
	if matches == nil {
		return "", &ParseError{What: "version", Output: strings.TrimSpace(banner)}
	}
	return strings.TrimSpace(matches[1]), nil
}

// Run executes the binary with the given argument vector. The vector is
// passed directly to the subprocess; no shell is ever involved. A non-zero
// exit or timeout returns a ProcessError carrying the redacted command.
func (r *Runner) Run(ctx context.Context, args []string) (*Outcome, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	redacted := strings.Join(observability.RedactArgs(args), " ")
	r.logger.DebugContext(ctx, "executing packager command", "command", redacted)
	start := time.Now()

	cmd := exec.CommandContext(ctx, r.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	outcome := &Outcome{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		procErr := &ProcessError{
			Command:  redacted,
			ExitCode: outcome.ExitCode,
			Stderr:   strings.TrimSpace(outcome.Stderr),
			TimedOut: timedOut,
		}
		r.logger.ErrorContext(ctx, "packager command failed",
			"command", redacted,
			"exit_code", outcome.ExitCode,
			"timed_out", timedOut,
			"duration", time.Since(start),
		)
		return outcome, procErr
	}

	r.logger.DebugContext(ctx, "packager command completed",
		"duration", time.Since(start),
	)
	return outcome, nil
}

// VerifyBinary checks that a packager binary exists and is executable
// without constructing a Runner.
func VerifyBinary(path string) error {
	if !isExecutable(path) {
		return &ExecutableNotFoundError{Path: path}
	}
	return nil
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// FindBinary searches for the packager executable. Search order:
//  1. explicit path (if non-empty)
//  2. PACKD_PACKAGER_BINARY environment variable
//  3. "packager" on PATH
func FindBinary(explicit string) (string, error) {
	if explicit != "" {
		if isExecutable(explicit) {
			return explicit, nil
		}
		return "", &ExecutableNotFoundError{Path: explicit}
	}
	if envPath := os.Getenv("PACKD_PACKAGER_BINARY"); envPath != "" {
		if isExecutable(envPath) {
			return envPath, nil
		}
	}
	if path, err := exec.LookPath("packager"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("packager binary not found on PATH")
}
