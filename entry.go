package mdcache

import "time"

// FetchEntry is what the fetch wrapper stores for one fingerprint.
// Exactly one of Data and Error is set, matching Type.
type FetchEntry struct {
	Type      string        `json:"type"`
	Data      *Response     `json:"data,omitempty"`
	Error     *FetchFailure `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"` // ms
}

// Entry types.
const (
	EntrySuccess = "success"
	EntryFailure = "failure"
)

// FetchFailure is the replayable part of a failed fetch.
type FetchFailure struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	URL        string `json:"url,omitempty"`
}

func (e FetchEntry) valid() bool {
	switch e.Type {
	case EntrySuccess:
		return e.Data != nil
	case EntryFailure:
		return e.Error != nil
	}
	return false
}

func (e FetchEntry) at() time.Time { return time.UnixMilli(e.Timestamp) }

// Fingerprint is the storage key for a request.
func Fingerprint(url, accept, userAgent string) string {
	if userAgent == "" {
		userAgent = "default"
	}
	return "fetch:" + url + ":" + accept + ":" + userAgent
}
