// Package viewer draws the live mesh state with ebiten: map tiles, node
// markers, packet pulses, propagation paths and the info panels.
package viewer

import (
	"bytes"
	"context"
	"image/color"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/meshtel-viewer/pkg/meshengine"
	"github.com/sudorandom/meshtel-viewer/pkg/tiles"
)

const (
	nodeRadius  = 6
	pulseRadius = 4
	panStep     = 12.0
	fontSize    = 14.0
	lineHeight  = 18.0
)

var (
	colorPulse      = color.RGBA{0, 255, 234, 200}
	colorShade      = color.RGBA{0, 0, 0, 120}
	colorPanel      = color.RGBA{0, 0, 0, 170}
	colorPanelEdge  = color.RGBA{36, 42, 53, 255}
	colorTextMuted  = color.RGBA{148, 163, 184, 255}
	colorBackground = color.RGBA{0, 0, 0, 255}
)

type Config struct {
	Width, Height        int
	CenterLat, CenterLon float64
	Zoom                 int
	FontPath             string
	// SnapshotPath receives a GeoJSON dump when G is pressed.
	SnapshotPath         string
}

// Viewer implements ebiten.Game over an engine and a tile cache.
type Viewer struct {
	ctx      context.Context
	engine   *meshengine.Engine
	cache    *tiles.Cache
	logger   *log.Logger
	viewport tiles.Viewport
	home     tiles.Viewport
	dumpPath string

	tileImages map[tiles.Key]*ebiten.Image
	fontSource *text.GoTextFaceSource
}

func New(ctx context.Context, engine *meshengine.Engine, cache *tiles.Cache, cfg Config, logger *log.Logger) *Viewer {
	if logger == nil {
		logger = log.Default()
	}
	vp := tiles.Viewport{
		CenterLat: cfg.CenterLat,
		CenterLon: cfg.CenterLon,
		Zoom:      cfg.Zoom,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}
	vp.SetZoom(cfg.Zoom)
	return &Viewer{
		ctx:        ctx,
		engine:     engine,
		cache:      cache,
		logger:     logger,
		viewport:   vp,
		home:       vp,
		dumpPath:   cfg.SnapshotPath,
		tileImages: make(map[tiles.Key]*ebiten.Image),
		fontSource: loadFont(cfg.FontPath, logger),
	}
}

// loadFont reads a TrueType font from path, falling back to Go Regular.
func loadFont(path string, logger *log.Logger) *text.GoTextFaceSource {
	if path != "" {
		s, err := readFont(path)
		if err == nil {
			return s
		}
		logger.Printf("Font %s unavailable, using built-in font: %v", path, err)
	}
	s, err := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	if err != nil {
		logger.Printf("Error loading built-in font: %v", err)
		return nil
	}
	return s
}

func readFont(path string) (*text.GoTextFaceSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return text.NewGoTextFaceSource(bytes.NewReader(data))
}

func (v *Viewer) Viewport() tiles.Viewport { return v.viewport }

func (v *Viewer) Update() error {
	if v.ctx.Err() != nil {
		return ebiten.Termination
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		v.viewport.CenterLat, v.viewport.CenterLon = v.home.CenterLat, v.home.CenterLon
		v.viewport.SetZoom(v.home.Zoom)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyA) {
		enabled := v.engine.ToggleAnimations()
		v.logger.Printf("Animations enabled: %v", enabled)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		v.engine.ClearSelection()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyG) && v.dumpPath != "" {
		if err := writeSnapshot(v.dumpPath, v.engine.Snapshot()); err != nil {
			v.logger.Printf("Error writing snapshot: %v", err)
		} else {
			v.logger.Printf("Wrote snapshot to %s", v.dumpPath)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd) {
		v.viewport.SetZoom(v.viewport.Zoom + 1)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract) {
		v.viewport.SetZoom(v.viewport.Zoom - 1)
	}
	if _, wy := ebiten.Wheel(); wy > 0 {
		v.viewport.SetZoom(v.viewport.Zoom + 1)
	} else if wy < 0 {
		v.viewport.SetZoom(v.viewport.Zoom - 1)
	}

	var dx, dy float64
	if ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		dx -= panStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		dx += panStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		dy -= panStep
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		dy += panStep
	}
	if dx != 0 || dy != 0 {
		v.viewport.Pan(dx, dy)
	}

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		mx, my := ebiten.CursorPosition()
		v.engine.SelectAt(v.viewport, float64(mx), float64(my))
	}
	return nil
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(colorBackground)
	v.drawTiles(screen)
	vector.DrawFilledRect(screen, 0, 0, float32(v.viewport.Width), float32(v.viewport.Height), colorShade, false)

	snap := v.engine.Snapshot()
	v.drawNodes(screen, snap)
	if snap.AnimationsEnabled {
		v.drawPulses(screen, snap)
		v.drawPaths(screen, snap)
	}
	v.drawPanels(screen, snap)
}

func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	v.viewport.Width, v.viewport.Height = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}

func (v *Viewer) tileImage(k tiles.Key) *ebiten.Image {
	if img, ok := v.tileImages[k]; ok {
		return img
	}
	t, ok := v.cache.Lookup(k)
	if !ok {
		return nil
	}
	img := ebiten.NewImageFromImage(t.Image)
	v.tileImages[k] = img
	return img
}

func (v *Viewer) drawTiles(screen *ebiten.Image) {
	op := &ebiten.DrawImageOptions{}
	for _, vt := range v.viewport.VisibleTiles() {
		img := v.tileImage(vt.Key)
		if img == nil {
			continue
		}
		b := img.Bounds()
		op.GeoM.Reset()
		op.GeoM.Scale(float64(tiles.TileSize)/float64(b.Dx()), float64(tiles.TileSize)/float64(b.Dy()))
		op.GeoM.Translate(vt.ScreenX, vt.ScreenY)
		screen.DrawImage(img, op)
	}
}

func (v *Viewer) drawNodes(screen *ebiten.Image, snap meshengine.Snapshot) {
	for i, n := range snap.Nodes {
		if !n.HasPosition {
			continue
		}
		x, y := v.viewport.LatLonToScreen(n.Lat, n.Lon)
		if i == snap.Selected {
			vector.StrokeCircle(screen, float32(x), float32(y), nodeRadius+3, 2, color.White, true)
		}
		vector.DrawFilledCircle(screen, float32(x), float32(y), nodeRadius, n.Color(), true)
	}
}

func (v *Viewer) drawPulses(screen *ebiten.Image, snap meshengine.Snapshot) {
	for _, p := range snap.Pulses {
		t := p.Progress(snap.Now)
		if t < 0 || t > 1 {
			continue
		}
		pos := p.Position(snap.Now)
		x, y := v.viewport.ReferenceToScreen(pos.X, pos.Y)
		vector.DrawFilledCircle(screen, float32(x), float32(y), pulseRadius, colorPulse, true)
	}
}

func (v *Viewer) drawPaths(screen *ebiten.Image, snap meshengine.Snapshot) {
	for _, p := range snap.Paths {
		alpha := p.Alpha(snap.Now)
		if alpha <= 0 {
			continue
		}
		layers := []struct {
			extra   float64
			opacity float64
		}{
			{4, 40},
			{2, 90},
			{0, 220},
		}
		for _, l := range layers {
			c := p.Color
			c.A = uint8(l.opacity * alpha)
			// color.RGBA is alpha-premultiplied.
			c.R = uint8(uint16(c.R) * uint16(c.A) / 255)
			c.G = uint8(uint16(c.G) * uint16(c.A) / 255)
			c.B = uint8(uint16(c.B) * uint16(c.A) / 255)
			for i := 1; i < len(p.Points); i++ {
				x1, y1 := v.viewport.ReferenceToScreen(p.Points[i-1].X, p.Points[i-1].Y)
				x2, y2 := v.viewport.ReferenceToScreen(p.Points[i].X, p.Points[i].Y)
				vector.StrokeLine(screen, float32(x1), float32(y1), float32(x2), float32(y2), float32(p.Width+l.extra), c, true)
			}
		}
	}
}

func (v *Viewer) drawPanels(screen *ebiten.Image, snap meshengine.Snapshot) {
	if v.fontSource == nil {
		return
	}
	w, h := float64(v.viewport.Width), float64(v.viewport.Height)
	v.drawPanel(screen, headerPanel(snap), 20, 20, 260)
	v.drawPanel(screen, nodeInfoPanel(snap), 20, h-150, 340)
	v.drawPanel(screen, packetPanel(snap), w-360, 20, 340)
	v.drawPanel(screen, statusPanel(snap), w-360, h-110, 340)
}

func (v *Viewer) drawPanel(screen *ebiten.Image, p panel, x, y, width float64) {
	height := 20 + lineHeight*float64(len(p.lines)+1)
	vector.DrawFilledRect(screen, float32(x), float32(y), float32(width), float32(height), colorPanel, false)
	vector.StrokeRect(screen, float32(x), float32(y), float32(width), float32(height), 1, colorPanelEdge, false)

	face := &text.GoTextFace{Source: v.fontSource, Size: fontSize}
	op := &text.DrawOptions{}
	op.GeoM.Translate(x+10, y+8)
	text.Draw(screen, p.title, face, op)

	for i, line := range p.lines {
		op := &text.DrawOptions{}
		op.GeoM.Translate(x+10, y+8+lineHeight*float64(i+1))
		op.ColorScale.ScaleWithColor(colorTextMuted)
		text.Draw(screen, line, face, op)
	}
}

// Close releases GPU images held for tiles.
func (v *Viewer) Close() {
	for k, img := range v.tileImages {
		img.Deallocate()
		delete(v.tileImages, k)
	}
}
