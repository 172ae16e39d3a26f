package tiles

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sudorandom/meshtel-viewer/pkg/clock"
	"github.com/sudorandom/meshtel-viewer/pkg/utils"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	img.Set(1, 1, color.RGBA{R: 59, G: 130, B: 246, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

type tileServer struct {
	*httptest.Server
	hits    atomic.Int32
	mu      sync.Mutex
	fail    bool
	payload []byte
}

func newTileServer(t *testing.T) *tileServer {
	ts := &tileServer{payload: pngBytes(t)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if ts.fail {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(ts.payload)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tileServer) setFail(fail bool) {
	ts.mu.Lock()
	ts.fail = fail
	ts.mu.Unlock()
}

func newTestCache(t *testing.T, root, baseURL string) *Cache {
	c := NewCache(root, baseURL, utils.NewHTTPFetcher(5*time.Second, nil), nil)
	t.Cleanup(c.Close)
	return c
}

func TestCacheGetFetchesOnce(t *testing.T) {
	ts := newTileServer(t)
	root := t.TempDir()
	c := newTestCache(t, root, ts.URL)
	k := Key{Z: 10, X: 619, Y: 320}

	tile, err := c.Get(context.Background(), k)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tile.Width != TileSize || tile.Height != TileSize {
		t.Errorf("tile size = %dx%d, want %dx%d", tile.Width, tile.Height, TileSize, TileSize)
	}
	if _, err := os.Stat(filepath.Join(root, "10", "619", "320.png")); err != nil {
		t.Errorf("tile not persisted at the expected path: %v", err)
	}

	again, err := c.Get(context.Background(), k)
	if err != nil || again != tile {
		t.Errorf("second Get = (%p, %v), want the resident tile %p", again, err, tile)
	}
	if n := ts.hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}

	// A fresh cache over the same root reads the file instead of fetching.
	c2 := newTestCache(t, root, ts.URL)
	if _, err := c2.Get(context.Background(), k); err != nil {
		t.Fatalf("Get from disk failed: %v", err)
	}
	if n := ts.hits.Load(); n != 1 {
		t.Errorf("server hit %d times after disk load, want 1", n)
	}
}

func TestCacheMissIsRetried(t *testing.T) {
	ts := newTileServer(t)
	ts.setFail(true)
	root := t.TempDir()
	c := newTestCache(t, root, ts.URL)
	k := Key{Z: 3, X: 1, Y: 2}

	if _, err := c.Get(context.Background(), k); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get error = %v, want ErrMiss", err)
	}
	if utils.Exists(c.Path(k)) {
		t.Error("failed fetch left a file behind")
	}

	ts.setFail(false)
	if _, err := c.Get(context.Background(), k); err != nil {
		t.Fatalf("retry Get failed: %v", err)
	}
	if n := ts.hits.Load(); n != 2 {
		t.Errorf("server hit %d times, want 2", n)
	}
}

func TestCacheRemovesCorruptFile(t *testing.T) {
	ts := newTileServer(t)
	root := t.TempDir()
	c := newTestCache(t, root, ts.URL)
	k := Key{Z: 5, X: 4, Y: 3}

	if err := utils.WriteFileAtomic(c.Path(k), []byte("not an image")); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if _, err := c.Get(context.Background(), k); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on corrupt file error = %v, want ErrMiss", err)
	}
	if utils.Exists(c.Path(k)) {
		t.Fatal("corrupt file was not removed")
	}
	if _, err := c.Get(context.Background(), k); err != nil {
		t.Fatalf("Get after removal failed: %v", err)
	}
}

func TestCacheLookupLoadsInBackground(t *testing.T) {
	ts := newTileServer(t)
	c := newTestCache(t, t.TempDir(), ts.URL)
	k := Key{Z: 2, X: 1, Y: 1}

	if _, ok := c.Lookup(k); ok {
		t.Fatal("Lookup reported a tile before any load")
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if tile, ok := c.Lookup(k); ok {
			if tile.Key != k {
				t.Errorf("Lookup returned key %v, want %v", tile.Key, k)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Lookup never produced the tile")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := ts.hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheLookupThrottlesFailures(t *testing.T) {
	ts := newTileServer(t)
	ts.setFail(true)
	c := newTestCache(t, t.TempDir(), ts.URL)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.SetClock(clk)
	k := Key{Z: 4, X: 2, Y: 2}

	c.Lookup(k)
	deadline := time.Now().Add(5 * time.Second)
	for ts.hits.Load() == 0 || c.inflight(k) {
		if time.Now().After(deadline) {
			t.Fatal("background load did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Lookup(k)
	if c.inflight(k) {
		t.Error("Lookup retried inside the retry delay")
	}
	clk.Advance(DefaultRetryDelay)
	c.Lookup(k)
	if !c.inflight(k) && ts.hits.Load() < 2 {
		t.Error("Lookup did not retry after the retry delay")
	}
}

func TestCacheConcurrentLoadsShareOneFetch(t *testing.T) {
	ts := newTileServer(t)
	c := NewCache(t.TempDir(), ts.URL, utils.NewHTTPFetcher(5*time.Second, nil), nil)
	keys := []Key{{Z: 3, X: 0, Y: 0}, {Z: 3, X: 1, Y: 0}, {Z: 3, X: 0, Y: 1}, {Z: 3, X: 1, Y: 1}}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			c.Lookup(k)
			if _, err := c.Get(context.Background(), k); err != nil {
				t.Errorf("Get(%v) failed: %v", k, err)
			}
			if _, ok := c.Lookup(k); !ok {
				t.Errorf("Lookup(%v) after Get found nothing", k)
			}
		}(keys[i%len(keys)])
	}
	wg.Wait()

	if n := c.Len(); n != len(keys) {
		t.Errorf("Len = %d, want %d", n, len(keys))
	}
	if n := ts.hits.Load(); n != int32(len(keys)) {
		t.Errorf("server hit %d times, want %d", n, len(keys))
	}

	c.Close()
	if _, ok := c.Lookup(keys[0]); ok {
		t.Error("Lookup after Close returned a tile")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len after Close = %d, want 0", n)
	}
}

func TestCacheCloseReleasesEntries(t *testing.T) {
	ts := newTileServer(t)
	c := NewCache(t.TempDir(), ts.URL, utils.NewHTTPFetcher(5*time.Second, nil), nil)
	if _, err := c.Get(context.Background(), Key{Z: 1, X: 0, Y: 0}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	c.Close()
	if c.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", c.Len())
	}
	if _, ok := c.Lookup(Key{Z: 1, X: 1, Y: 0}); ok {
		t.Error("Lookup after Close returned a tile")
	}
	c.Close()
}

func (c *Cache) inflight(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	return ok && e.inflight
}
