package shaka

import "fmt"

// InvalidArgumentError reports a malformed builder input, such as an
// invalid option key or a non-positive segment duration.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// ExecutableNotFoundError reports that the packager binary is missing or
// not executable. It is fatal and never retried.
type ExecutableNotFoundError struct {
	Path string
}

func (e *ExecutableNotFoundError) Error() string {
	return "packager binary not found or not executable: " + e.Path
}

// ProcessError reports a packager invocation that exited non-zero or was
// killed by its timeout. Command always holds the redacted form.
type ProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
}

func (e *ProcessError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("packager command timed out: %s", e.Command)
	}
	return fmt.Sprintf("packager command failed (exit %d): %s", e.ExitCode, e.Stderr)
}

// ParseError reports unparseable packager output, such as an unexpected
// --version banner.
type ParseError struct {
	What   string
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s from packager output: %q", e.What, e.Output)
}
