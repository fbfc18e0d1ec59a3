// Package manifest loads the precache manifest that pins a build version to
// the resources fetched at install.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"sigs.k8s.io/yaml"
)

// OfflinePath is the document served to navigations that cannot reach the network.
const OfflinePath = "/offline.html"

// Manifest is one build's precache definition.
type Manifest struct {
	Version  int      `json:"version"`
	Precache []string `json:"precache"`
}

// Default is used when no manifest file is configured.
func Default() Manifest {
	return Manifest{
		Version: 1,
		Precache: []string{
			"/",
			OfflinePath,
			"/manifest.json",
			"/icons/icon-192x192.png",
			"/icons/icon-512x512.png",
		},
	}
}

// Parse decodes YAML or JSON manifest bytes and normalizes the result.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInvalidManifest, "decode manifest", err)
	}
	return m.Normalize()
}

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Normalize validates paths and removes duplicates, preserving order.
func (m Manifest) Normalize() (Manifest, error) {
	if m.Version <= 0 {
		return Manifest{}, apperrors.New(apperrors.CodeInvalidManifest, "manifest version must be positive")
	}
	seen := make(map[string]struct{}, len(m.Precache))
	paths := make([]string, 0, len(m.Precache))
	var problems []error
	for _, raw := range m.Precache {
		path := strings.TrimSpace(raw)
		if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
			problems = append(problems, fmt.Errorf("path %q must be an absolute in-app path", raw))
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	if err := errors.Join(problems...); err != nil {
		return Manifest{}, apperrors.Wrap(apperrors.CodeInvalidManifest, "invalid manifest", err)
	}
	return Manifest{Version: m.Version, Precache: paths}, nil
}
