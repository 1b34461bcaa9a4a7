package mdcache

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// DefaultMaxBodyBytes bounds the body an HTTPFetcher will read.
const DefaultMaxBodyBytes = 10 << 20

var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// HTTPFetcher is the live Fetcher used by NewHTTPCached.
type HTTPFetcher struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64 // 0 => DefaultMaxBodyBytes
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a fetcher on a private clone of the shared transport.
// Timeouts are left to the caller's context.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Transport: defaultTransport.Clone()},
		UserAgent: userAgent,
	}
}

// Fetch GETs url. A non-2xx status is returned as *HTTPError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mdcache: build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	statusText := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &HTTPError{URL: url, Status: resp.StatusCode, StatusText: statusText}
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("mdcache: read body of %s: %w", url, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("mdcache: body of %s exceeds %d bytes", url, limit)
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		Status:     resp.StatusCode,
		StatusText: statusText,
		Header:     endToEnd(resp.Header),
		Body:       body,
	}, nil
}

var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
	"Set-Cookie":          {},
}

// endToEnd copies the headers worth replaying from a cache.
func endToEnd(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		if _, skip := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]; skip {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
	return dst
}
