// Package upload redistributes packaging artifacts from local scratch
// space to a target storage backend.
package upload

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Class tags an artifact by its transfer treatment.
type Class int

const (
	// ClassSegment is a media segment, streamed chunk-by-chunk.
	ClassSegment Class = iota
	// ClassManifest is an HLS playlist or DASH manifest, written buffered.
	ClassManifest
	// ClassKey is raw encryption key material, written buffered and
	// aggregated into the result for the caller to persist.
	ClassKey
)

// String returns the classification name.
func (c Class) String() string {
	switch c {
	case ClassManifest:
		return "manifest"
	case ClassKey:
		return "key"
	default:
		return "segment"
	}
}

// Key detection is anchored to a small allow-list of key-related base
// names. Rotation keys carry a numeric suffix (key_0, encryption_1, ...);
// static keys are a bare allow-list name without extension. Segment-style
// names such as video_1080 or init_0 must never classify as keys.
var (
	rotationKeyPattern = regexp.MustCompile(`(?i)^(key|encryption|drm|secret|aes)_\d+$`)
	staticKeyPattern   = regexp.MustCompile(`(?i)^(key|encryption|drm|secret|aes)$`)
)

// Classify tags a produced file by its base name and extension.
func Classify(filename string) Class {
	name := filepath.Base(filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	if rotationKeyPattern.MatchString(stem) {
		return ClassKey
	}
	if ext == "" && staticKeyPattern.MatchString(name) {
		return ClassKey
	}

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "m3u8", "mpd":
		return ClassManifest
	}
	return ClassSegment
}

// IsKeyFile reports whether the filename classifies as encryption key
// material.
func IsKeyFile(filename string) bool {
	return Classify(filename) == ClassKey
}
