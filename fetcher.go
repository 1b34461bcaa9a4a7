package mdcache

import (
	"context"
	"net/http"
)

// Fetcher performs one live request. accept is sent as the Accept header.
type Fetcher interface {
	Fetch(ctx context.Context, url, accept string) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url, accept string) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, url, accept string) (*Response, error) {
	return f(ctx, url, accept)
}

const (
	// CacheHeader marks responses served from the cache.
	CacheHeader   = "X-Cache"
	CacheHitValue = "HIT"
)

// Response is a fully read HTTP response.
type Response struct {
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	StatusText string      `json:"statusText,omitempty"`
	Header     http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body"`
}

// Cached reports whether r was served from the cache.
func (r *Response) Cached() bool {
	return r != nil && r.Header.Get(CacheHeader) == CacheHitValue
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

func (r *Response) asHit() *Response {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Header.Set(CacheHeader, CacheHitValue)
	return &out
}
