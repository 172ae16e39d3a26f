package viewer

import (
	"os"
	"path/filepath"
	"testing"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/meshtel-viewer/pkg/meshengine")

func TestWriteSnapshot(t *testing.T) {
	start := meshengine.Node{ID: 1, Lat: 45.0, Lon: -93.0, HasPosition: true}
	end := meshengine.Node{ID: 2, Lat: 44.9, Lon: -93.2, HasPosition: true}
	snap := meshengine.Snapshot{
		Nodes: []meshengine.Node{start, end, {ID: 3}},
		Paths: []meshengine.PathAnimation{{
			Points: []meshengine.Point{start.WorldPixel(), end.WorldPixel()},
		}},
	}

	path := filepath.Join(t.TempDir(), "dumps", "snapshot.geojson")
	if err := writeSnapshot(path, snap); err != nil {
		t.Fatalf("writeSnapshot failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("UnmarshalFeatureCollection failed: %v", err)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("got %d features, want 2 nodes and 1 path", len(fc.Features))
	}
	if !fc.Features[2].Geometry.IsLineString() {
		t.Errorf("last feature is %s, want a LineString", fc.Features[2].Geometry.Type)
	}
}
