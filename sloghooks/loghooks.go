package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/mdpipe/mdcache"
	"github.com/mdpipe/mdcache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	HitEvery      uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	hitCtr      atomic.Uint64
}

var _ mdcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Redact(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(namespace, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("mdcache.self_heal",
		"ns", namespace,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) QuotaSweep(namespace string, reaped int, retryErr error) {
	if h.l == nil {
		return
	}
	if retryErr != nil {
		h.l.Error("mdcache.quota_sweep_failed",
			"ns", namespace,
			"reaped", reaped,
			"err", retryErr)
		return
	}
	h.l.Warn("mdcache.quota_sweep",
		"ns", namespace,
		"reaped", reaped)
}

func (h *Hooks) FetchCacheHit(fingerprint string, negative bool) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("mdcache.fetch_hit",
		"key", h.redact(fingerprint),
		"negative", negative)
}

func (h *Hooks) FetchCacheError(fingerprint, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("mdcache.fetch_cache_error",
		"key", h.redact(fingerprint),
		"op", op,
		"err", err)
}
