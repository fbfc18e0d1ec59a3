package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gobwas/glob"
)

// Class is the strategy a request is routed through.
type Class string

const (
	ClassPassthrough Class = "passthrough"
	ClassNavigation  Class = "navigation"
	ClassAPI         Class = "network-first"
	ClassStatic      Class = "static"
	ClassCacheFirst  Class = "cache-first"
)

// Default classifier rules.
var (
	DefaultAPIPrefixes    = []string{"/api/"}
	DefaultStaticPatterns = []string{"**.js", "**.css", "**.html"}
)

// Classifier maps requests to strategies. It holds no mutable state, so the
// same request always yields the same class.
type Classifier struct {
	apiPrefixes []string
	static      []glob.Glob
}

// NewClassifier compiles the static-asset patterns. Empty arguments select
// the defaults.
func NewClassifier(apiPrefixes, staticPatterns []string) (*Classifier, error) {
	if len(apiPrefixes) == 0 {
		apiPrefixes = DefaultAPIPrefixes
	}
	if len(staticPatterns) == 0 {
		staticPatterns = DefaultStaticPatterns
	}
	c := &Classifier{}
	for _, prefix := range apiPrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		c.apiPrefixes = append(c.apiPrefixes, prefix)
	}
	for _, pattern := range staticPatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile static pattern %q: %w", pattern, err)
		}
		c.static = append(c.static, compiled)
	}
	return c, nil
}

// Classify picks the strategy for r. Only GET requests over http(s) are
// intercepted.
func (c *Classifier) Classify(r *http.Request) Class {
	if r == nil || r.URL == nil || r.Method != http.MethodGet {
		return ClassPassthrough
	}
	if scheme := strings.ToLower(r.URL.Scheme); scheme != "" && scheme != "http" && scheme != "https" {
		return ClassPassthrough
	}
	if isNavigation(r) {
		return ClassNavigation
	}
	path := r.URL.Path
	for _, prefix := range c.apiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ClassAPI
		}
	}
	for _, pattern := range c.static {
		if pattern.Match(path) {
			return ClassStatic
		}
	}
	return ClassCacheFirst
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(strings.ToLower(accept), "text/html") {
			return true
		}
	}
	return false
}
