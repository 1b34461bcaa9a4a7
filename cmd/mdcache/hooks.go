package main

import (
	"github.com/sirupsen/logrus"

	"github.com/mdpipe/mdcache"
	"github.com/mdpipe/mdcache/internal/util"
)

// logHooks reports cache events through the CLI logger. Keys are redacted.
type logHooks struct {
	log *logrus.Logger
}

var _ mdcache.Hooks = logHooks{}

func (h logHooks) SelfHeal(namespace, key, reason string) {
	h.log.WithFields(logrus.Fields{
		"action": "self_heal",
		"ns":     namespace,
		"key":    util.Redact(key),
		"reason": reason,
	}).Debug("dropped stale cache entry")
}

func (h logHooks) QuotaSweep(namespace string, reaped int, retryErr error) {
	e := h.log.WithFields(logrus.Fields{"action": "quota_sweep", "ns": namespace, "reaped": reaped})
	if retryErr != nil {
		e.WithError(retryErr).Error("store still full after sweep")
		return
	}
	e.Warn("store full, swept expired entries")
}

func (h logHooks) FetchCacheHit(fingerprint string, negative bool) {
	h.log.WithFields(logrus.Fields{
		"action":   "fetch_hit",
		"key":      util.Redact(fingerprint),
		"negative": negative,
	}).Debug("served from cache")
}

func (h logHooks) FetchCacheError(fingerprint, op string, err error) {
	h.log.WithFields(logrus.Fields{
		"action": "fetch_cache_error",
		"key":    util.Redact(fingerprint),
		"op":     op,
	}).WithError(err).Warn("cache unavailable, using network")
}
