package meshengine

import (
	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/meshtel-viewer/pkg/tiles"
)

// NodesFeatureCollection renders positioned nodes as GeoJSON points.
func NodesFeatureCollection(nodes []Node) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range nodes {
		if !n.HasPosition {
			continue
		}
		f := geojson.NewPointFeature([]float64{n.Lon, n.Lat})
		f.ID = n.ID
		f.SetProperty("name", n.Name)
		f.SetProperty("node_hash", n.Hash)
		f.SetProperty("public_key_hex", n.PublicKeyHex)
		f.SetProperty("role", n.Role())
		f.SetProperty("is_room_server", n.IsRoomServer)
		f.SetProperty("is_repeater", n.IsRepeater)
		f.SetProperty("is_chat_node", n.IsChatNode)
		f.SetProperty("is_sensor", n.IsSensor)
		fc.AddFeature(f)
	}
	return fc
}

// PathsFeatureCollection renders live propagation paths as line strings.
func PathsFeatureCollection(paths []PathAnimation) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range paths {
		coords := make([][]float64, 0, len(p.Points))
		for _, pt := range p.Points {
			lat, lon := tiles.WorldPixelToLatLon(pt.X, pt.Y, tiles.ReferenceZoom)
			coords = append(coords, []float64{lon, lat})
		}
		f := geojson.NewLineStringFeature(coords)
		f.SetProperty("hops", len(p.Points))
		f.SetProperty("duration_ms", p.Duration.Milliseconds())
		fc.AddFeature(f)
	}
	return fc
}

// SnapshotFeatureCollection combines the positioned nodes and the paths
// still animating in s.
func SnapshotFeatureCollection(s Snapshot) *geojson.FeatureCollection {
	fc := NodesFeatureCollection(s.Nodes)
	for _, f := range PathsFeatureCollection(s.Paths).Features {
		fc.AddFeature(f)
	}
	return fc
}
