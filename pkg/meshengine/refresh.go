package meshengine

import (
	"context"
	"log"
	"time"

	"github.com/sudorandom/meshtel-viewer/pkg/clock"
	"github.com/sudorandom/meshtel-viewer/pkg/utils"
)

const (
	RefreshInterval = 30 * time.Second
	// SnapshotKey is where the last good adverts body is stored.
	SnapshotKey = "adverts/latest"
)

// SnapshotStore persists the last good node list.
type SnapshotStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Refresher periodically refetches the node list and replaces the
// engine's directory.
type Refresher struct {
	URL      string
	Fetcher  utils.Fetcher
	Engine   *Engine
	Store    SnapshotStore
	Interval time.Duration
	Clock    clock.Clock
	Logger   *log.Logger
}

func NewRefresher(url string, fetcher utils.Fetcher, engine *Engine, clk clock.Clock, logger *log.Logger) *Refresher {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Refresher{
		URL:      url,
		Fetcher:  fetcher,
		Engine:   engine,
		Interval: RefreshInterval,
		Clock:    clk,
		Logger:   logger,
	}
}

// Warm loads the stored snapshot, if any, into the engine. An unusable
// snapshot is deleted so later starts skip it.
func (r *Refresher) Warm() bool {
	if r.Store == nil {
		return false
	}
	body, err := r.Store.Get(SnapshotKey)
	if err != nil {
		r.Logger.Printf("Error reading node snapshot: %v", err)
		return false
	}
	if body == nil {
		return false
	}
	nodes, err := ParseNodes(body)
	if err != nil || len(nodes) == 0 {
		r.Logger.Printf("Discarding unusable node snapshot (%d nodes): %v", len(nodes), err)
		if err := r.Store.Delete(SnapshotKey); err != nil {
			r.Logger.Printf("Error deleting node snapshot: %v", err)
		}
		return false
	}
	r.Engine.RestoreNodes(nodes)
	r.Logger.Printf("Loaded %d nodes from snapshot", len(nodes))
	return true
}

// Refresh performs one fetch and reports whether the directory was replaced.
func (r *Refresher) Refresh(ctx context.Context) bool {
	body, err := r.Fetcher.Fetch(ctx, r.URL)
	if err != nil {
		if ctx.Err() == nil {
			r.Logger.Printf("Nodes fetch failed: %v", err)
		}
		return false
	}
	if len(body) == 0 {
		r.Logger.Printf("Nodes fetch returned empty response")
		return false
	}
	nodes, err := ParseNodes(body)
	if err != nil {
		r.Logger.Printf("Error parsing nodes: %v", err)
		return false
	}
	if len(nodes) == 0 {
		r.Logger.Printf("Nodes fetch returned no nodes")
		return false
	}

	r.Engine.ReplaceNodes(nodes)
	r.Logger.Printf("Nodes updated: %d", len(nodes))

	if r.Store != nil {
		if err := r.Store.Put(SnapshotKey, body); err != nil {
			r.Logger.Printf("Error saving node snapshot: %v", err)
		}
	}
	return true
}

// Run refreshes once immediately and then every Interval until ctx is
// cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = RefreshInterval
	}
	for {
		r.Refresh(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.Clock.After(interval):
		}
	}
}
