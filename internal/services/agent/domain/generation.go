// Package domain holds the agent's core types: cache generations and entries,
// queued location records, decoded push notifications, client links and
// control commands.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultCachePrefix names every generation the agent creates.
const DefaultCachePrefix = "titan-fleet"

const runtimeInfix = "-runtime"

// GenerationKind distinguishes the fixed precache from the lazily filled runtime cache.
type GenerationKind string

const (
	// KindPrecache is populated from the manifest at install.
	KindPrecache GenerationKind = "precache"
	// KindRuntime is populated as requests are observed.
	KindRuntime GenerationKind = "runtime"
)

// Generation is a named, versioned storage bucket.
type Generation struct {
	Name      string
	Kind      GenerationKind
	Version   int
	CreatedAt time.Time
}

// GenerationNames pairs the precache and runtime generations of one build.
type GenerationNames struct {
	Precache string `json:"precache"`
	Runtime  string `json:"runtime"`
}

// PrecacheName returns "<prefix>-v<version>".
func PrecacheName(prefix string, version int) string {
	return fmt.Sprintf("%s-v%d", normalizePrefix(prefix), version)
}

// RuntimeName returns "<prefix>-runtime-v<version>".
func RuntimeName(prefix string, version int) string {
	return fmt.Sprintf("%s%s-v%d", normalizePrefix(prefix), runtimeInfix, version)
}

// NamesFor returns both generation names for a build version.
func NamesFor(prefix string, version int) GenerationNames {
	return GenerationNames{
		Precache: PrecacheName(prefix, version),
		Runtime:  RuntimeName(prefix, version),
	}
}

// Contains reports whether name is one of the pair.
func (n GenerationNames) Contains(name string) bool {
	return name != "" && (name == n.Precache || name == n.Runtime)
}

// IsZero reports whether no names are set.
func (n GenerationNames) IsZero() bool {
	return n.Precache == "" && n.Runtime == ""
}

// PrecacheGeneration describes the precache bucket of a version.
func PrecacheGeneration(prefix string, version int) Generation {
	return Generation{Name: PrecacheName(prefix, version), Kind: KindPrecache, Version: version}
}

// RuntimeGeneration describes the runtime bucket of a version.
func RuntimeGeneration(prefix string, version int) Generation {
	return Generation{Name: RuntimeName(prefix, version), Kind: KindRuntime, Version: version}
}

// ParseGenerationName recovers kind and version from a name built with prefix.
func ParseGenerationName(prefix, name string) (Generation, bool) {
	prefix = normalizePrefix(prefix)
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return Generation{}, false
	}
	kind := KindPrecache
	if after, isRuntime := strings.CutPrefix(rest, runtimeInfix); isRuntime {
		kind = KindRuntime
		rest = after
	}
	digits, ok := strings.CutPrefix(rest, "-v")
	if !ok || digits == "" {
		return Generation{}, false
	}
	version, err := strconv.Atoi(digits)
	if err != nil || version <= 0 {
		return Generation{}, false
	}
	return Generation{Name: name, Kind: kind, Version: version}, true
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return DefaultCachePrefix
	}
	return prefix
}
