package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sudorandom/meshtel-viewer/pkg/clock"
	"github.com/sudorandom/meshtel-viewer/pkg/utils"
)

// ErrMiss is returned when a tile could not be produced on this attempt.
var ErrMiss = errors.New("tile miss")

// DefaultRetryDelay throttles background reloads of a key that just failed.
const DefaultRetryDelay = 5 * time.Second

// Key identifies one map tile.
type Key struct {
	Z, X, Y int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Tile is decoded image data held for the lifetime of the cache.
type Tile struct {
	Key    Key
	Image  image.Image
	Width  int
	Height int
}

type cacheEntry struct {
	tile     atomic.Pointer[Tile]
	inflight bool
	failedAt time.Time
}

// Cache maps tile keys to images, persisted under Root as {z}/{x}/{y}.png
// and fetched from BaseURL on a miss.
type Cache struct {
	Root       string
	BaseURL    string
	RetryDelay time.Duration

	fetcher utils.Fetcher
	logger  *log.Logger
	clock   clock.Clock

	loads   singleflight.Group
	mu      sync.Mutex
	entries map[Key]*cacheEntry
	closed  bool

	ctx        context.Context
	cancel     context.CancelFunc
	background errgroup.Group
}

func NewCache(root, baseURL string, fetcher utils.Fetcher, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		Root:       root,
		BaseURL:    baseURL,
		RetryDelay: DefaultRetryDelay,
		fetcher:    fetcher,
		logger:     logger,
		clock:      clock.Real(),
		entries:    make(map[Key]*cacheEntry),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetClock replaces the clock used for retry throttling.
func (c *Cache) SetClock(clk clock.Clock) {
	c.clock = clk
}

func (c *Cache) Path(k Key) string {
	return filepath.Join(c.Root, strconv.Itoa(k.Z), strconv.Itoa(k.X), strconv.Itoa(k.Y)+".png")
}

func (c *Cache) URL(k Key) string {
	return fmt.Sprintf("%s/%d/%d/%d.png", c.BaseURL, k.Z, k.X, k.Y)
}

func (c *Cache) entry(k Key) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		e = &cacheEntry{}
		c.entries[k] = e
	}
	return e
}

// Get returns the tile for k, loading it from disk or the network on the
// first request. Only one load per key runs at a time.
func (c *Cache) Get(ctx context.Context, k Key) (*Tile, error) {
	e := c.entry(k)
	if t := e.tile.Load(); t != nil {
		return t, nil
	}

	v, err, _ := c.loads.Do(k.String(), func() (any, error) {
		if t := e.tile.Load(); t != nil {
			return t, nil
		}
		t, err := c.load(ctx, k)
		if err != nil {
			return nil, err
		}
		e.tile.Store(t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile), nil
}

func (c *Cache) load(ctx context.Context, k Key) (*Tile, error) {
	path := c.Path(k)
	if !utils.Exists(path) {
		data, err := c.fetcher.Fetch(ctx, c.URL(k))
		if err != nil {
			return nil, fmt.Errorf("%w: fetching %s: %v", ErrMiss, k, err)
		}
		if err := utils.WriteFileAtomic(path, data); err != nil {
			return nil, fmt.Errorf("%w: writing %s: %v", ErrMiss, path, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMiss, path, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Printf("Error removing corrupt tile %s: %v", path, rmErr)
		}
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrMiss, path, err)
	}
	b := img.Bounds()
	return &Tile{Key: k, Image: img, Width: b.Dx(), Height: b.Dy()}, nil
}

// Lookup returns the tile for k if it is resident. Otherwise it schedules a
// background load and reports false; the render loop never blocks on it.
func (c *Cache) Lookup(k Key) (*Tile, bool) {
	e := c.entry(k)
	if t := e.tile.Load(); t != nil {
		return t, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || e.inflight {
		return nil, false
	}
	if !e.failedAt.IsZero() && c.clock.Now().Sub(e.failedAt) < c.RetryDelay {
		return nil, false
	}
	e.inflight = true
	c.background.Go(func() error {
		_, err := c.Get(c.ctx, k)

		c.mu.Lock()
		defer c.mu.Unlock()
		e.inflight = false
		if err != nil {
			e.failedAt = c.clock.Now()
			if !errors.Is(c.ctx.Err(), context.Canceled) {
				c.logger.Printf("Tile %s unavailable: %v", k, err)
			}
			return nil
		}
		e.failedAt = time.Time{}
		return nil
	})
	return nil, false
}

// Len reports the number of resident tiles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.tile.Load() != nil {
			n++
		}
	}
	return n
}

// Close cancels background loads, waits for them and releases every entry.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	_ = c.background.Wait()

	c.mu.Lock()
	c.entries = make(map[Key]*cacheEntry)
	c.mu.Unlock()
}
