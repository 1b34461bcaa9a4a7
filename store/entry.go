package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrCorrupt marks a stored record that cannot be decoded.
var ErrCorrupt = errors.New("store: corrupt entry")

// Entry is the serialized unit of cached data.
// Timestamp is always assigned by the store at write time.
type Entry struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`     // ms since epoch
	TTL       *int64 `json:"ttl,omitempty"` // ms; nil => never expires
}

// NewEntry stamps value with now and the TTL carried by so.
func NewEntry(value string, now time.Time, so SetOptions) Entry {
	e := Entry{Data: value, Timestamp: now.UnixMilli()}
	if so.HasTTL {
		// round up: a positive TTL must never become the zero "already expired" TTL
		ms := int64((so.TTL + time.Millisecond - 1) / time.Millisecond)
		e.TTL = &ms
	}
	return e
}

// Expired reports whether e is dead at now. A zero TTL is always expired.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL == nil {
		return false
	}
	return now.UnixMilli()-e.Timestamp >= *e.TTL
}

// Marshal encodes e as JSON.
func (e Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntry decodes b. Any malformed input, including a negative TTL,
// yields ErrCorrupt.
func UnmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, errors.Join(ErrCorrupt, err)
	}
	if e.TTL != nil && *e.TTL < 0 {
		return Entry{}, ErrCorrupt
	}
	return e, nil
}
