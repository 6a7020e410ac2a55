package upload

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifact is a single produced file scheduled for transfer.
type Artifact struct {
	// LocalPath is the absolute path in scratch space.
	LocalPath string
	// TargetPath is the path on the target backend.
	TargetPath string
	// Class drives the transfer strategy.
	Class Class
	// Size in bytes.
	Size int64
}

// CollectArtifacts scans the given scratch directories (non-recursive)
// and returns the files found, classified and mapped to target paths
// under targetPrefix. Missing directories are skipped.
func CollectArtifacts(targetPrefix string, dirs ...string) ([]Artifact, error) {
	prefix := normalizePrefix(targetPrefix)

	var artifacts []Artifact
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scanning artifact directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("inspecting artifact %s: %w", entry.Name(), err)
			}
			artifacts = append(artifacts, Artifact{
				LocalPath:  filepath.Join(dir, entry.Name()),
				TargetPath: prefix + entry.Name(),
				Class:      Classify(entry.Name()),
				Size:       info.Size(),
			})
		}
	}
	return artifacts, nil
}

// normalizePrefix ensures a non-empty prefix ends in exactly one slash.
func normalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + "/"
}
