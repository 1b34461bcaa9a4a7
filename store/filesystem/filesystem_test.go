package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/klauspost/compress/gzip"

	"github.com/mdpipe/mdcache/internal/util"
	"github.com/mdpipe/mdcache/store"
	"github.com/mdpipe/mdcache/store/storetest"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = filepath.Join(t.TempDir(), "cache")
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestConformanceOS(t *testing.T) {
	root := t.TempDir()
	n := 0
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) store.Storage {
		n++
		return newTestStore(t, Options{Dir: filepath.Join(root, fmt.Sprintf("ns%d", n)), Clock: clock.Now})
	})
}

func TestConformanceMemFS(t *testing.T) {
	mfs := memfs.New()
	n := 0
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) store.Storage {
		n++
		return newTestStore(t, Options{FS: mfs, Dir: fmt.Sprintf("/cache/ns%d", n), Clock: clock.Now})
	})
}

func TestOnDiskLayout(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := newTestStore(t, Options{Clock: clock.Now})
	if err := s.Set(ctx, "a", `{"x":1}`, store.WithTTL(2*time.Second)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	want := filepath.Join(s.Dir(), util.HashKey("a")+".json.gz")
	if s.Path("a") != want {
		t.Fatalf("Path=%s want %s", s.Path("a"), want)
	}
	raw, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(plain, &got); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if got["data"] != `{"x":1}` || got["ttl"] != float64(2000) || got["timestamp"] != float64(clock.Now().UnixMilli()) {
		t.Fatalf("unexpected entry %v", got)
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Fatalf("dir has %d files, want only the entry (no temp leftovers)", len(entries))
	}
}

func TestCorruptFileSelfHeals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"garbage":   []byte("definitely not gzip"),
		"empty":     {},
		"gzip-junk": gz(t, []byte("{not json")),
		"truncated": gz(t, []byte(`{"data":"v","timestamp":1}`))[:12],
	}
	for key, body := range cases {
		p := s.Path(key)
		if err := os.WriteFile(p, body, 0o644); err != nil {
			t.Fatal(err)
		}
		if v, ok, err := s.Get(ctx, key); err != nil || ok {
			t.Fatalf("%s: Get=%q ok=%v err=%v want miss", key, v, ok, err)
		}
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s: corrupt file not removed (stat err=%v)", key, err)
		}
	}
}

func TestSizeReapsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	if err := s.Set(ctx, "good", "v"); err != nil {
		t.Fatal(err)
	}
	bad := s.Path("bad")
	if err := os.WriteFile(bad, []byte("xx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Size(ctx); err != nil || n != 1 {
		t.Fatalf("Size=%d err=%v want 1", n, err)
	}
	if _, err := os.Stat(bad); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("corrupt file survived Size")
	}
}

func TestHookMayReenterStore(t *testing.T) {
	storetest.RunHookReentry(t, func(clock *storetest.Clock, hooks store.Hooks) store.Storage {
		return newTestStore(t, Options{FS: memfs.New(), Dir: "/cache", Clock: clock.Now, Hooks: hooks})
	})
}

type healKeys struct {
	store.NopHooks
	keys []string
}

func (h *healKeys) SelfHeal(_, key, _ string) { h.keys = append(h.keys, key) }

func TestSelfHealKeyFromGetAndSize(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	h := &healKeys{}
	s := newTestStore(t, Options{Clock: clock.Now, Hooks: h})
	for _, k := range []string{"via-get", "via-size"} {
		if err := s.Set(ctx, k, "v", store.WithTTL(time.Second)); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	clock.Advance(2 * time.Second)
	if _, ok, err := s.Get(ctx, "via-get"); err != nil || ok {
		t.Fatalf("Get expired ok=%v err=%v", ok, err)
	}
	if n, err := s.Size(ctx); err != nil || n != 0 {
		t.Fatalf("Size=%d err=%v want 0", n, err)
	}
	want := []string{"via-get", util.HashKey("via-size")}
	if len(h.keys) != 2 || h.keys[0] != want[0] || h.keys[1] != want[1] {
		t.Fatalf("SelfHeal keys=%v want %v", h.keys, want)
	}
}

func TestDirCreatedLazily(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	s := newTestStore(t, Options{Dir: dir})

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get on missing dir ok=%v err=%v", ok, err)
	}
	if n, err := s.Size(ctx); err != nil || n != 0 {
		t.Fatalf("Size on missing dir=%d err=%v", n, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete on missing dir: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear on missing dir: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read paths must not create the dir")
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("Set did not create dir: %v", err)
	}
	// dir removed behind our back is recreated on the next write
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set after dir removal: %v", err)
	}
}

func TestClearRemovesAbandonedTempFilesOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	tmp := filepath.Join(s.Dir(), tempName(util.HashKey("k")+Ext))
	if err := os.WriteFile(tmp, []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}
	foreign := filepath.Join(s.Dir(), "README.txt")
	if err := os.WriteFile(foreign, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Size(ctx); err != nil || n != 1 {
		t.Fatalf("Size=%d err=%v; temp files must not count", n, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 || entries[0].Name() != "README.txt" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("after Clear dir holds %v, want only README.txt", names)
	}
}

// noReplaceFS refuses to rename onto an existing file, like some platforms do.
type noReplaceFS struct {
	billy.Filesystem
	renames int
}

func (f *noReplaceFS) Rename(from, to string) error {
	f.renames++
	if _, err := f.Stat(to); err == nil {
		return &os.LinkError{Op: "rename", Old: from, New: to, Err: os.ErrExist}
	}
	return f.Filesystem.Rename(from, to)
}

func TestRenameFallbackReplacesExisting(t *testing.T) {
	ctx := context.Background()
	nfs := &noReplaceFS{Filesystem: memfs.New()}
	s := newTestStore(t, Options{FS: nfs, Dir: "/c"})

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set v1: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set v2: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "v2" {
		t.Fatalf("Get=%q ok=%v want v2", v, ok)
	}
	if nfs.renames != 3 {
		t.Fatalf("renames=%d want 3 (one plain, one failed, one retried)", nfs.renames)
	}
	assertNoTemp(t, nfs, "/c")
}

// brokenRenameFS fails every rename.
type brokenRenameFS struct{ billy.Filesystem }

var errRename = errors.New("rename refused")

func (brokenRenameFS) Rename(string, string) error { return errRename }

func TestWriteFailureCleansTempAndKeepsOld(t *testing.T) {
	ctx := context.Background()
	mfs := memfs.New()
	good := newTestStore(t, Options{FS: mfs, Dir: "/c"})
	if err := good.Set(ctx, "k", "old"); err != nil {
		t.Fatal(err)
	}

	broken := newTestStore(t, Options{FS: brokenRenameFS{mfs}, Dir: "/c"})
	err := broken.Set(ctx, "other", "new")
	if !errors.Is(err, errRename) {
		t.Fatalf("Set err=%v want wrapped rename error", err)
	}
	if !strings.Contains(err.Error(), "filesystem store") {
		t.Fatalf("error lacks context: %v", err)
	}
	assertNoTemp(t, mfs, "/c")
	if _, ok, _ := good.Get(ctx, "other"); ok {
		t.Fatalf("failed write must not be visible")
	}
	if v, ok, _ := good.Get(ctx, "k"); !ok || v != "old" {
		t.Fatalf("existing entry damaged: %q ok=%v", v, ok)
	}
}

func TestTwoInstancesSameDirLastWriterWins(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "shared")
	a := newTestStore(t, Options{Dir: dir})
	b := newTestStore(t, Options{Dir: dir})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) { defer wg.Done(); _ = a.Set(ctx, "k", fmt.Sprintf("a%d", i)) }(i)
		go func(i int) { defer wg.Done(); _ = b.Set(ctx, "k", fmt.Sprintf("b%d", i)) }(i)
	}
	wg.Wait()

	v, ok, err := a.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get after racing writers ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(v, "a") && !strings.HasPrefix(v, "b") {
		t.Fatalf("torn value %q", v)
	}
	if n, _ := b.Size(ctx); n != 1 {
		t.Fatalf("Size=%d want 1", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("%d files left, want 1", len(entries))
	}
}

func TestRealClockScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	if err := s.Set(ctx, "a", `{"x":1}`, store.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s.Get(ctx, "a"); !ok || v != `{"x":1}` {
		t.Fatalf("Get at t=0: %q ok=%v", v, ok)
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("Get after 100ms should miss")
	}
	if _, err := os.Stat(s.Path("a")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expired file not reaped by Get")
	}
	if n, _ := s.Size(ctx); n != 0 {
		t.Fatalf("Size=%d want 0", n)
	}
}

func TestUnavailable(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("New without dir err=%v", err)
	}
	ctx := context.Background()
	var s Store
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Get err=%v", err)
	}
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Set err=%v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Delete err=%v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Clear err=%v", err)
	}
	if _, err := s.Size(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Size err=%v", err)
	}
}

func gz(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func assertNoTemp(t *testing.T, bfs billy.Filesystem, dir string) {
	t.Helper()
	infos, err := bfs.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, fi := range infos {
		if isTempName(fi.Name()) {
			t.Fatalf("temp file %s left behind", fi.Name())
		}
	}
}
