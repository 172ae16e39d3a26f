// Package tiles implements the Web-Mercator projection shared by every
// overlay, viewport math, and a disk-backed cache of OpenStreetMap tiles.
package tiles

import "math"

const (
	TileSize = 256
	// ReferenceZoom is the zoom level at which overlay geometry is stored.
	ReferenceZoom = 10
	MinZoom       = 2
	MaxZoom       = 18
	// MaxLatitude is the edge of the square Mercator world.
	MaxLatitude = 85.05112878
)

// LatLonToTile returns fractional tile coordinates for lat/lon at zoom.
func LatLonToTile(lat, lon float64, zoom int) (x, y float64) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	x = (lon + 180) / 360 * n
	y = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n
	return x, y
}

// LatLonToWorldPixel is LatLonToTile scaled by the tile size.
func LatLonToWorldPixel(lat, lon float64, zoom int) (x, y float64) {
	tx, ty := LatLonToTile(lat, lon, zoom)
	return tx * TileSize, ty * TileSize
}

// WorldPixelToLatLon inverts LatLonToWorldPixel.
func WorldPixelToLatLon(x, y float64, zoom int) (lat, lon float64) {
	n := math.Exp2(float64(zoom)) * TileSize
	lon = x/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
	return lat, lon
}

// ScaleFromReference converts a coordinate stored at ReferenceZoom to zoom.
func ScaleFromReference(v float64, zoom int) float64 {
	return v * math.Exp2(float64(zoom-ReferenceZoom))
}
