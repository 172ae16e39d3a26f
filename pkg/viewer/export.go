package viewer

import (
	"fmt"

	"github.com/sudorandom/meshtel-viewer/pkg/meshengine"
	"github.com/sudorandom/meshtel-viewer/pkg/utils"
)

// writeSnapshot saves the nodes and live paths of snap as GeoJSON.
func writeSnapshot(path string, snap meshengine.Snapshot) error {
	data, err := meshengine.SnapshotFeatureCollection(snap).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return utils.WriteFileAtomic(path, append(data, '\n'))
}
