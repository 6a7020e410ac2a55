// Package shaka builds and executes Shaka Packager invocations.
//
// The packager's stream-descriptor grammar is line-oriented and fragile:
// descriptors are comma-separated key=value pairs, so values must never
// contain an unescaped comma, and a value starting with a dash would be
// mistaken for an option flag. All sanitization rules live here.
package shaka

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Stream types accepted by the packager.
const (
	StreamVideo = "video"
	StreamAudio = "audio"
	StreamText  = "text"
)

// descriptor keys set by the convenience constructors. Extra options may
// not override these.
const (
	fieldIn     = "in"
	fieldStream = "stream"
	fieldOutput = "output"
)

// keyPattern restricts descriptor and option keys.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// unsafePathPattern rejects shell metacharacters in stream paths. The
// argument vector never passes through a shell, but the packager's own
// descriptor parser chokes on these as well.
var unsafePathPattern = regexp.MustCompile("[;&|`]")

// Field is a single ordered key/value entry of a stream descriptor.
type Field struct {
	Key   string
	Value string
}

// Stream is an ordered stream descriptor. The zero value is not usable;
// construct with NewStream or the builder's AddVideoStream/AddAudioStream/
// AddTextStream helpers.
type Stream struct {
	fields []Field
}

// NewStream creates a stream descriptor with the three fixed fields.
func NewStream(input, streamType, output string) *Stream {
	return &Stream{fields: []Field{
		{fieldIn, input},
		{fieldStream, streamType},
		{fieldOutput, output},
	}}
}

// With appends or replaces an extra descriptor field. The fixed fields
// (in, stream, output) are never overridden.
func (s *Stream) With(key, value string) *Stream {
	if key == fieldIn || key == fieldStream || key == fieldOutput {
		return s
	}
	for i, f := range s.fields {
		if f.Key == key {
			s.fields[i].Value = value
			return s
		}
	}
	s.fields = append(s.fields, Field{key, value})
	return s
}

// Fields returns a copy of the descriptor's ordered fields.
func (s *Stream) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Lookup returns the value for a descriptor key.
func (s *Stream) Lookup(key string) (string, bool) {
	for _, f := range s.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// option is a single global packager option. A flag option renders as a
// bare --key with no value.
type option struct {
	key   string
	value string
	flag  bool
}

// CommandBuilder assembles packager command arguments from stream
// descriptors and global options. Methods are chainable; validation
// happens in Build and BuildArgs.
type CommandBuilder struct {
	streams []*Stream
	options []option
	err     error
}

// NewCommandBuilder creates an empty command builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// AddStream appends a stream descriptor. No validation happens here.
func (b *CommandBuilder) AddStream(stream *Stream) *CommandBuilder {
	b.streams = append(b.streams, stream)
	return b
}

// AddVideoStream appends a video stream descriptor with extra options.
func (b *CommandBuilder) AddVideoStream(input, output string, options ...Field) *CommandBuilder {
	return b.addTypedStream(input, StreamVideo, output, options)
}

// AddAudioStream appends an audio stream descriptor with extra options.
func (b *CommandBuilder) AddAudioStream(input, output string, options ...Field) *CommandBuilder {
	return b.addTypedStream(input, StreamAudio, output, options)
}

// AddTextStream appends a text (subtitle) stream descriptor with extra options.
func (b *CommandBuilder) AddTextStream(input, output string, options ...Field) *CommandBuilder {
	return b.addTypedStream(input, StreamText, output, options)
}

func (b *CommandBuilder) addTypedStream(input, streamType, output string, options []Field) *CommandBuilder {
	stream := NewStream(input, streamType, output)
	for _, f := range options {
		stream.With(f.Key, f.Value)
	}
	return b.AddStream(stream)
}

// WithMpdOutput sets the DASH manifest output path.
func (b *CommandBuilder) WithMpdOutput(path string) *CommandBuilder {
	return b.WithOption("mpd_output", path)
}

// WithHlsMasterPlaylist sets the HLS master playlist output path.
func (b *CommandBuilder) WithHlsMasterPlaylist(path string) *CommandBuilder {
	return b.WithOption("hls_master_playlist_output", path)
}

// WithSegmentDuration sets the segment duration in seconds. Durations
// below one second are rejected at build time.
func (b *CommandBuilder) WithSegmentDuration(seconds int) *CommandBuilder {
	if seconds < 1 {
		b.setErr(&InvalidArgumentError{Reason: "segment duration must be at least 1 second"})
		return b
	}
	return b.WithOption("segment_duration", strconv.Itoa(seconds))
}

// WithEncryption merges encryption options and enables raw key encryption.
func (b *CommandBuilder) WithEncryption(config map[string]string) *CommandBuilder {
	b.WithFlag("enable_raw_key_encryption", true)
	return b.WithOptions(config)
}

// WithKeyRotationDuration rotates encryption keys every given number of
// seconds. Requires protection scheme cenc or cbcs; SAMPLE-AES does not
// support rotation.
func (b *CommandBuilder) WithKeyRotationDuration(seconds int) *CommandBuilder {
	if seconds < 1 {
		b.setErr(&InvalidArgumentError{Reason: "key rotation duration must be at least 1 second"})
		return b
	}
	return b.WithOption("crypto_period_duration", strconv.Itoa(seconds))
}

// WithOption sets a global --key=value option. An existing key keeps its
// position and gets the new value. Empty values emit nothing.
func (b *CommandBuilder) WithOption(key, value string) *CommandBuilder {
	b.setOption(option{key: key, value: value})
	return b
}

// WithOptions sets multiple global options, applied in sorted key order
// so map iteration never leaks into the command.
func (b *CommandBuilder) WithOptions(options map[string]string) *CommandBuilder {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WithOption(key, options[key])
	}
	return b
}

// WithFlag sets a boolean option: true emits a bare --key, false removes it.
func (b *CommandBuilder) WithFlag(key string, enabled bool) *CommandBuilder {
	if !enabled {
		b.removeOption(key)
		return b
	}
	b.setOption(option{key: key, flag: true})
	return b
}

// Streams returns the configured stream descriptors.
func (b *CommandBuilder) Streams() []*Stream {
	return b.streams
}

// Options returns the configured global options in order. Flag options
// carry an empty value.
func (b *CommandBuilder) Options() []Field {
	out := make([]Field, 0, len(b.options))
	for _, opt := range b.options {
		out = append(out, Field{opt.key, opt.value})
	}
	return out
}

// Reset clears all streams and options.
func (b *CommandBuilder) Reset() *CommandBuilder {
	b.streams = nil
	b.options = nil
	b.err = nil
	return b
}

func (b *CommandBuilder) setOption(opt option) {
	for i, existing := range b.options {
		if existing.key == opt.key {
			b.options[i] = opt
			return
		}
	}
	b.options = append(b.options, opt)
}

func (b *CommandBuilder) removeOption(key string) {
	for i, existing := range b.options {
		if existing.key == key {
			b.options = append(b.options[:i], b.options[i+1:]...)
			return
		}
	}
}

func (b *CommandBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build renders the command as a single display string. Values are shell
// quoted for safe copy/paste; the string is never handed to a shell by
// this package.
func (b *CommandBuilder) Build() (string, error) {
	args, err := b.buildTokens(true)
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}

// BuildArgs renders the command as an argument vector for direct
// subprocess execution. Logical content is identical to Build; only the
// shell quoting differs.
func (b *CommandBuilder) BuildArgs() ([]string, error) {
	return b.buildTokens(false)
}

func (b *CommandBuilder) buildTokens(quoted bool) ([]string, error) {
	if b.err != nil {
		return nil, b.err
	}

	var tokens []string

	for _, stream := range b.streams {
		if err := validateStream(stream); err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(stream.fields))
		for _, f := range stream.fields {
			if !keyPattern.MatchString(f.Key) {
				return nil, &InvalidArgumentError{Reason: fmt.Sprintf("invalid descriptor key %q", f.Key)}
			}
			value := SanitizeValue(f.Value)
			if quoted {
				value = shellQuote(value)
			}
			parts = append(parts, f.Key+"="+value)
		}
		tokens = append(tokens, strings.Join(parts, ","))
	}

	for _, opt := range b.options {
		if !keyPattern.MatchString(opt.key) {
			return nil, &InvalidArgumentError{Reason: fmt.Sprintf("invalid option key %q", opt.key)}
		}
		switch {
		case opt.flag:
			tokens = append(tokens, "--"+opt.key)
		case opt.value == "":
			// Absent or empty values emit nothing.
		case quoted:
			tokens = append(tokens, "--"+opt.key+"="+shellQuote(opt.value))
		default:
			tokens = append(tokens, "--"+opt.key, opt.value)
		}
	}

	return tokens, nil
}

func validateStream(stream *Stream) error {
	for _, required := range []string{fieldIn, fieldStream, fieldOutput} {
		value, ok := stream.Lookup(required)
		if !ok || value == "" {
			return &InvalidArgumentError{Reason: "stream descriptor missing required field: " + required}
		}
	}
	streamType, _ := stream.Lookup(fieldStream)
	if streamType != StreamVideo && streamType != StreamAudio && streamType != StreamText {
		return &InvalidArgumentError{Reason: fmt.Sprintf("invalid stream type %q", streamType)}
	}
	for _, key := range []string{fieldIn, fieldOutput} {
		value, _ := stream.Lookup(key)
		if unsafePathPattern.MatchString(value) {
			return &InvalidArgumentError{Reason: fmt.Sprintf("%s path contains unsafe characters", key)}
		}
	}
	return nil
}

// smartQuoteReplacer normalizes typographic quotes to their ASCII
// equivalents before further sanitization.
var smartQuoteReplacer = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"‚", "'",
	"‛", "'",
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"‟", `"`,
)

// SanitizeValue rewrites a descriptor value so the packager's descriptor
// parser cannot misread it:
//  1. typographic quotes become ASCII quotes
//  2. commas (the field separator) become hyphens
//  3. leading/trailing quote characters are stripped
//  4. a leading dash gets a ./ prefix so the value is not taken for a flag
func SanitizeValue(value string) string {
	value = smartQuoteReplacer.Replace(value)
	value = strings.ReplaceAll(value, ",", "-")
	value = strings.Trim(value, `"'`)
	if strings.HasPrefix(value, "-") {
		value = "./" + value
	}
	return value
}

// safeToken matches values that need no shell quoting in display form.
var safeToken = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

// shellQuote quotes a value for display using POSIX single-quote rules.
func shellQuote(value string) string {
	if value != "" && safeToken.MatchString(value) {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
