package tiles

import "math"

// Viewport is the visible window onto the world map, centered on a
// lat/lon at an integer zoom.
type Viewport struct {
	CenterLat, CenterLon float64
	Zoom                 int
	Width, Height        int
}

// VisibleTile is a tile key together with where its top-left corner lands
// on screen.
type VisibleTile struct {
	Key              Key
	ScreenX, ScreenY float64
}

// TopLeft returns the world pixel at the top-left corner of the screen.
func (v Viewport) TopLeft() (x, y float64) {
	cx, cy := LatLonToWorldPixel(v.CenterLat, v.CenterLon, v.Zoom)
	return cx - float64(v.Width)/2, cy - float64(v.Height)/2
}

// WorldToScreen maps a world pixel at the viewport's zoom to the screen.
func (v Viewport) WorldToScreen(x, y float64) (float64, float64) {
	tlx, tly := v.TopLeft()
	return x - tlx, y - tly
}

// ReferenceToScreen maps a world pixel stored at ReferenceZoom to the screen.
func (v Viewport) ReferenceToScreen(x, y float64) (float64, float64) {
	return v.WorldToScreen(ScaleFromReference(x, v.Zoom), ScaleFromReference(y, v.Zoom))
}

// LatLonToScreen projects lat/lon straight to screen coordinates.
func (v Viewport) LatLonToScreen(lat, lon float64) (float64, float64) {
	return v.WorldToScreen(LatLonToWorldPixel(lat, lon, v.Zoom))
}

// VisibleTiles lists the tiles covering the screen. Columns wrap around the
// antimeridian; rows outside the world are omitted.
func (v Viewport) VisibleTiles() []VisibleTile {
	tlx, tly := v.TopLeft()
	n := 1 << v.Zoom
	x0 := int(math.Floor(tlx / TileSize))
	y0 := int(math.Floor(tly / TileSize))
	x1 := int(math.Floor((tlx + float64(v.Width)) / TileSize))
	y1 := int(math.Floor((tly + float64(v.Height)) / TileSize))

	var out []VisibleTile
	for ty := y0; ty <= y1; ty++ {
		if ty < 0 || ty >= n {
			continue
		}
		for tx := x0; tx <= x1; tx++ {
			wx := ((tx % n) + n) % n
			out = append(out, VisibleTile{
				Key:     Key{Z: v.Zoom, X: wx, Y: ty},
				ScreenX: float64(tx*TileSize) - tlx,
				ScreenY: float64(ty*TileSize) - tly,
			})
		}
	}
	return out
}

// Pan moves the center by dx, dy screen pixels.
func (v *Viewport) Pan(dx, dy float64) {
	cx, cy := LatLonToWorldPixel(v.CenterLat, v.CenterLon, v.Zoom)
	lat, lon := WorldPixelToLatLon(cx+dx, cy+dy, v.Zoom)
	if lon < -180 {
		lon += 360
	} else if lon > 180 {
		lon -= 360
	}
	v.CenterLat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	v.CenterLon = lon
}

// SetZoom clamps z to [MinZoom, MaxZoom] and keeps the center fixed.
func (v *Viewport) SetZoom(z int) {
	v.Zoom = max(MinZoom, min(MaxZoom, z))
}
