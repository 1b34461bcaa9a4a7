package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mdpipe/mdcache/internal/util"
)

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKeysAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{})
	h.FetchCacheError("fetch:https://secret.example/token=abc:text/html:default", "set", errors.New("disk full"))

	out := buf.String()
	if strings.Contains(out, "secret.example") {
		t.Fatalf("raw key leaked: %s", out)
	}
	if !strings.Contains(out, util.Redact("fetch:https://secret.example/token=abc:text/html:default")) ||
		!strings.Contains(out, "op=set") || !strings.Contains(out, `err="disk full"`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestSampling(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{SelfHealEvery: 3, Redact: func(s string) string { return s }})
	for i := 0; i < 9; i++ {
		h.SelfHeal("memory", "k", "expired")
	}
	if n := strings.Count(buf.String(), "mdcache.self_heal"); n != 3 {
		t.Fatalf("logged %d self-heals, want 3", n)
	}
}

func TestQuotaSweepLevels(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{})
	h.QuotaSweep("mdcache:", 4, nil)
	h.QuotaSweep("mdcache:", 0, errors.New("still full"))
	out := buf.String()
	if !strings.Contains(out, "level=WARN msg=mdcache.quota_sweep ") || !strings.Contains(out, "level=ERROR msg=mdcache.quota_sweep_failed") {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.SelfHeal("a", "b", "c")
	h.QuotaSweep("a", 1, nil)
	h.FetchCacheHit("a", true)
	h.FetchCacheError("a", "get", errors.New("x"))
}
