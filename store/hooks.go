package store

// Hook reasons passed to SelfHeal.
const (
	ReasonExpired = "expired"
	ReasonCorrupt = "corrupt"
)

// Hooks are lightweight callbacks for storage events.
// Implementations MUST be cheap and non-blocking. Stores call them after
// releasing their lock, so a hook may call back into the same store.
type Hooks interface {
	// A record was deleted on read or during Size.
	// reason ∈ {"expired", "corrupt"}
	// key is the caller's key, except for the filesystem store's Size pass,
	// which only knows the hashed filename stem (see filesystem.Store.Size).
	SelfHeal(namespace, key, reason string)

	// Set hit a quota limit; expired entries were swept and the write retried.
	// retryErr is nil when the retry succeeded.
	QuotaSweep(namespace string, reaped int, retryErr error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string, string) {}
func (NopHooks) QuotaSweep(string, int, error)   {}

// HooksOrNop returns h, or NopHooks when h is nil.
func HooksOrNop(h Hooks) Hooks {
	if h == nil {
		return NopHooks{}
	}
	return h
}

// ClockOrNow returns c, or time.Now when c is nil.
func ClockOrNow(c Clock) Clock {
	if c == nil {
		return timeNow
	}
	return c
}
