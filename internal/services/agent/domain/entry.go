package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestKey identifies a cached response: "GET " followed by path and query.
type RequestKey string

// NewRequestKey builds the cache key for a request target. Only GET requests
// can be cached.
func NewRequestKey(method string, target *url.URL) (RequestKey, error) {
	if !strings.EqualFold(strings.TrimSpace(method), http.MethodGet) {
		return "", fmt.Errorf("only GET requests are cacheable, got %q", method)
	}
	if target == nil {
		return "", fmt.Errorf("request url is required")
	}
	return RequestKey(http.MethodGet + " " + target.RequestURI()), nil
}

// KeyForPath builds the GET key for an in-app path such as "/offline.html".
func KeyForPath(path string) RequestKey {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return RequestKey(http.MethodGet + " " + path)
}

// Path returns the path-and-query part of the key.
func (k RequestKey) Path() string {
	_, path, _ := strings.Cut(string(k), " ")
	return path
}

// Snapshot is a point-in-time copy of a response.
type Snapshot struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy so stored snapshots are never shared with callers.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Status: s.Status, Header: s.Header.Clone()}
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out
}

// OK reports a 2xx status.
func (s Snapshot) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// CacheEntry is one stored request/response pair.
type CacheEntry struct {
	Generation string
	Key        RequestKey
	Response   Snapshot
	StoredAt   time.Time
}
