package router

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"golang.org/x/net/http2"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
	"github.com/titanfleet/fleet-agent/internal/platform/timeouts"
	"github.com/titanfleet/fleet-agent/internal/services/agent/domain"
)

var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Conditional and range headers would let the origin answer with partial or
// empty bodies that cannot be stored as whole entries.
var revalidationHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
	"Accept-Encoding",
}

// NewTransport returns the HTTP transport used toward the origin. HTTP/2 is
// negotiated over TLS when the origin supports it.
func NewTransport() (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: timeouts.TransportDial,
		}).DialContext,
		TLSHandshakeTimeout: timeouts.TransportTLSHandshake,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return transport, nil
}

// Upstream forwards requests to the origin the agent fronts.
type Upstream struct {
	base   *url.URL
	client *http.Client
}

// NewUpstream builds an Upstream for baseURL. A nil client uses NewTransport.
func NewUpstream(baseURL string, client *http.Client) (*Upstream, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("upstream url %q has no host", baseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	if client == nil {
		transport, err := NewTransport()
		if err != nil {
			return nil, err
		}
		client = &http.Client{Transport: transport}
	}
	// Redirects reach the client unchanged; the caller's client is not modified.
	copied := *client
	copied.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Upstream{base: base, client: &copied}, nil
}

// BaseURL returns the origin URL.
func (u *Upstream) BaseURL() *url.URL {
	copied := *u.base
	return &copied
}

// Client returns the HTTP client shared by all upstream calls.
func (u *Upstream) Client() *http.Client {
	return u.client
}

func (u *Upstream) resolve(requestURI string) (*url.URL, error) {
	ref, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("parse request target %q: %w", requestURI, err)
	}
	target := *u.base
	target.Path = u.base.Path + ref.Path
	target.RawPath = ""
	target.RawQuery = ref.RawQuery
	return &target, nil
}

// Fetch forwards a GET request and snapshots the full response. Any HTTP
// status is a response; transport errors and cancellation are network
// failures.
func (u *Upstream) Fetch(ctx context.Context, r *http.Request) (domain.Snapshot, error) {
	target, err := u.resolve(r.URL.RequestURI())
	if err != nil {
		return domain.Snapshot{}, err
	}
	header := r.Header.Clone()
	stripHeaders(header)
	return u.do(ctx, http.MethodGet, target, header)
}

// FetchPath performs a plain GET for an in-app path.
func (u *Upstream) FetchPath(ctx context.Context, path string) (domain.Snapshot, error) {
	target, err := u.resolve(path)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return u.do(ctx, http.MethodGet, target, http.Header{})
}

// Probe reports whether the origin answers at all.
func (u *Upstream) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.base.String()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkUnavailable, "upstream unreachable", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

func (u *Upstream) do(ctx context.Context, method string, target *url.URL, header http.Header) (domain.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	resp, err := u.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, apperrors.Wrap(apperrors.CodeNetworkUnavailable, "upstream request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Snapshot{}, apperrors.Wrap(apperrors.CodeNetworkUnavailable, "read upstream body", err)
	}
	respHeader := resp.Header.Clone()
	stripHopByHop(respHeader)
	respHeader.Del("Content-Length")
	return domain.Snapshot{Status: resp.StatusCode, Header: respHeader, Body: body}, nil
}

// Proxy returns a reverse proxy for requests the router does not intercept.
func (u *Upstream) Proxy(logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	base := u.BaseURL()
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(base)
			pr.SetXForwarded()
			pr.Out.Host = base.Host
		},
		Transport: u.client.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Printf("passthrough failed method=%s path=%s err=%v", r.Method, r.URL.Path, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return proxy
}

func stripHeaders(header http.Header) {
	stripHopByHop(header)
	for _, name := range revalidationHeaders {
		header.Del(name)
	}
}

func stripHopByHop(header http.Header) {
	for _, value := range header.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}
