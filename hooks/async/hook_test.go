package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/mdpipe/mdcache"
)

type recorder struct {
	mdcache.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) SelfHeal(ns, k, reason string)       { r.add("heal:" + ns + ":" + k + ":" + reason) }
func (r *recorder) QuotaSweep(ns string, _ int, _ error) { r.add("sweep:" + ns) }
func (r *recorder) FetchCacheHit(fp string, neg bool) {
	if neg {
		r.add("neg:" + fp)
		return
	}
	r.add("hit:" + fp)
}
func (r *recorder) FetchCacheError(fp, op string, _ error) { r.add("err:" + op) }

func TestDeliversInOrderWithOneWorker(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 16)
	h.SelfHeal("memory", "k", "expired")
	h.QuotaSweep("mdcache:", 2, nil)
	h.FetchCacheHit("f", false)
	h.FetchCacheHit("f", true)
	h.FetchCacheError("f", "set", errors.New("x"))
	h.Close()

	want := []string{"heal:memory:k:expired", "sweep:mdcache:", "hit:f", "neg:f", "err:set"}
	if len(rec.events) != len(want) {
		t.Fatalf("events=%v want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events=%v want %v", rec.events, want)
		}
	}
}

func TestDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)
	// the worker takes at most one event and blocks; the queue holds one more
	for i := 0; i < 10; i++ {
		h.FetchCacheHit("f", false)
	}
	if h.Dropped() < 8 {
		t.Fatalf("dropped=%d want >= 8", h.Dropped())
	}
	close(rec.block)
	h.Close()
	h.FetchCacheHit("late", false)
	if got := len(rec.events); got < 1 || got > 2 {
		t.Fatalf("delivered=%d want 1 or 2", got)
	}
}
