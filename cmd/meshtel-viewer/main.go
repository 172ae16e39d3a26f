package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"
	"golang.org/x/sync/errgroup"

	"github.com/sudorandom/meshtel-viewer/pkg/clock"
	"github.com/sudorandom/meshtel-viewer/pkg/meshengine"
	"github.com/sudorandom/meshtel-viewer/pkg/tiles"
	"github.com/sudorandom/meshtel-viewer/pkg/utils"
	"github.com/sudorandom/meshtel-viewer/pkg/viewer"
)

const shutdownGrace = 5 * time.Second

type Globals struct {
	ServerURL    string        `help:"Base URL of the MeshCoreTel server." default:"http://localhost:3000" env:"MESHCORETEL_SERVER_URL"`
	LogFile      string        `help:"Also append log output to this file." type:"path"`
	FetchTimeout time.Duration `help:"Timeout for node list and tile requests." default:"15s"`
}

type CLI struct {
	Globals

	View  ViewCmd  `cmd:"" default:"withargs" help:"Open the live map window."`
	Nodes NodesCmd `cmd:"" help:"Fetch the node list once and print it as GeoJSON."`
}

type ViewCmd struct {
	FontPath  string  `help:"TrueType font for the panels." default:"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf" env:"MESHCORETEL_FONT_PATH"`
	TileHost  string  `help:"Host serving {z}/{x}/{y}.png map tiles." default:"a.tile.openstreetmap.org" env:"MESHCORETEL_TILE_HOST"`
	CacheDir  string  `help:"Directory for cached map tiles." default:"cache" type:"path" env:"MESHCORETEL_CACHE_DIR"`
	StateDir  string  `help:"Directory for the node snapshot database. Empty disables it." type:"path" env:"MESHCORETEL_STATE_DIR"`
	DumpFile  string  `help:"GeoJSON file written when G is pressed." default:"meshtel-snapshot.geojson" type:"path"`
	Transport string  `help:"Event stream transport." enum:"sse,ws" default:"sse"`
	StreamURL string  `help:"Override the event stream URL."`
	Width     int     `help:"Initial window width." default:"1280"`
	Height    int     `help:"Initial window height." default:"720"`
	Lat       float64 `help:"Initial map center latitude." default:"55.7558"`
	Lon       float64 `help:"Initial map center longitude." default:"37.6176"`
	Zoom      int     `help:"Initial zoom level." default:"10"`
	TPS       int     `help:"Ticks per second." default:"60"`
}

type NodesCmd struct {
	Output string `short:"o" help:"Write GeoJSON here instead of stdout." type:"path"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("meshtel-viewer"),
		kong.Description("Live map of a MeshCore radio mesh."),
		kong.UsageOnError(),
	)

	logger, closeLog, err := newLogger(cli.LogFile)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeLog()

	ctx.FatalIfErrorf(ctx.Run(&cli.Globals, logger))
}

func newLogger(path string) (*log.Logger, func(), error) {
	flags := log.LstdFlags | log.Lmicroseconds
	if path == "" {
		return log.New(os.Stderr, "", flags), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
		}
	}
	return log.New(io.MultiWriter(os.Stderr, f), "", flags), closeFn, nil
}

func (c *NodesCmd) Run(g *Globals, logger *log.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fetcher := utils.NewHTTPFetcher(g.FetchTimeout, logger)
	body, err := fetcher.Fetch(ctx, advertsURL(g.ServerURL))
	if err != nil {
		return fmt.Errorf("fetching nodes: %w", err)
	}
	nodes, err := meshengine.ParseNodes(body)
	if err != nil {
		return fmt.Errorf("parsing nodes: %w", err)
	}
	data, err := meshengine.NodesFeatureCollection(nodes).MarshalJSON()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if c.Output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := utils.WriteFileAtomic(c.Output, data); err != nil {
		return err
	}
	logger.Printf("Wrote %d nodes to %s", len(nodes), c.Output)
	return nil
}

func (c *ViewCmd) Run(g *Globals, logger *log.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clk := clock.Real()
	engine := meshengine.NewEngine(clk, logger)
	fetcher := utils.NewHTTPFetcher(g.FetchTimeout, logger)

	cache := tiles.NewCache(c.CacheDir, "https://"+c.TileHost, fetcher, logger)
	defer cache.Close()

	refresher := meshengine.NewRefresher(advertsURL(g.ServerURL), fetcher, engine, clk, logger)
	if c.StateDir != "" {
		store, err := utils.OpenSnapshotStore(c.StateDir)
		if err != nil {
			logger.Printf("Node snapshot disabled: %v", err)
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					logger.Printf("Error closing snapshot store: %v", err)
				}
			}()
			refresher.Store = store
			refresher.Warm()
		}
	}

	streamer := meshengine.NewStreamer(c.opener(g.ServerURL), engine, clk, logger)

	tasks, gctx := startTasks(ctx, streamer.Run, refresher.Run)

	v := viewer.New(gctx, engine, cache, viewer.Config{
		Width:        c.Width,
		Height:       c.Height,
		CenterLat:    c.Lat,
		CenterLon:    c.Lon,
		Zoom:         c.Zoom,
		FontPath:     c.FontPath,
		SnapshotPath: c.DumpFile,
	}, logger)
	defer v.Close()

	ebiten.SetTPS(c.TPS)
	ebiten.SetWindowSize(c.Width, c.Height)
	ebiten.SetWindowTitle("MeshCoreTel Network")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	logger.Printf("Starting viewer against %s", g.ServerURL)
	runErr := ebiten.RunGame(v)
	cancel()

	waitTasks(tasks, shutdownGrace, logger)
	logger.Printf("Client shutting down")
	return runErr
}

// startTasks runs each task on a shared group. The returned context is
// cancelled when ctx ends or any task fails.
func startTasks(ctx context.Context, tasks ...func(context.Context) error) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}
	return g, gctx
}

// waitTasks waits up to grace for the group and reports whether it finished.
func waitTasks(g *errgroup.Group, grace time.Duration, logger *log.Logger) bool {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("Background task stopped: %v", err)
		}
		return true
	case <-time.After(grace):
		logger.Printf("Background tasks did not stop within %v", grace)
		return false
	}
}

func (c *ViewCmd) opener(serverURL string) meshengine.StreamOpener {
	url := c.StreamURL
	switch c.Transport {
	case "ws":
		if url == "" {
			url = websocketURL(serverURL)
		}
		return meshengine.NewWebSocketOpener(url)
	default:
		if url == "" {
			url = strings.TrimRight(serverURL, "/") + "/sse"
		}
		return meshengine.NewSSEOpener(url)
	}
}

func advertsURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/") + "/api/adverts"
}

func websocketURL(serverURL string) string {
	base := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
