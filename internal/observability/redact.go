package observability

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces sensitive values in logs and error messages.
const RedactedPlaceholder = "[REDACTED]"

// sensitiveOptions are packager option names whose values carry key
// material and must never appear in logs.
var sensitiveOptions = []string{
	"keys",
	"key",
	"key_id",
	"pssh",
	"protection_systems",
	"raw_key",
	"iv",
}

// assignedPatterns match the --opt=value form for each sensitive option.
var assignedPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(sensitiveOptions))
	for _, opt := range sensitiveOptions {
		patterns[opt] = regexp.MustCompile(`--` + regexp.QuoteMeta(opt) + `=\S+`)
	}
	return patterns
}()

// RedactCommandLine masks the values of sensitive packager options in a
// command-line string. Both --opt=value and --opt value forms are handled.
func RedactCommandLine(commandLine string) string {
	redacted := commandLine
	for opt, pattern := range assignedPatterns {
		redacted = pattern.ReplaceAllString(redacted, "--"+opt+"="+RedactedPlaceholder)
	}
	// Handle the two-token form by scanning fields: a sensitive flag
	// followed by a non-flag token has its value replaced.
	fields := strings.Fields(redacted)
	for i := 0; i < len(fields)-1; i++ {
		if !strings.HasPrefix(fields[i], "--") {
			continue
		}
		name := strings.TrimPrefix(fields[i], "--")
		if isSensitiveKey(name) && !strings.HasPrefix(fields[i+1], "--") {
			fields[i+1] = RedactedPlaceholder
		}
	}
	return strings.Join(fields, " ")
}

// RedactArgs masks the values of sensitive packager options in an argument
// vector, returning a copy safe for logging.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i, arg := range out {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name, _, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !isSensitiveKey(name) {
			continue
		}
		if hasValue {
			out[i] = "--" + name + "=" + RedactedPlaceholder
		} else if i+1 < len(out) && !strings.HasPrefix(out[i+1], "--") {
			out[i+1] = RedactedPlaceholder
		}
	}
	return out
}

// isSensitiveKey reports whether the given option or attribute name is on
// the sensitive list.
func isSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, opt := range sensitiveOptions {
		if lower == opt {
			return true
		}
	}
	return false
}
