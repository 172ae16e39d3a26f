package meshengine

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/sudorandom/meshtel-viewer/pkg/jsontok"
	"github.com/sudorandom/meshtel-viewer/pkg/tiles"
)

// ErrUnexpectedRoot is returned by ParseNodes when the document is not an array.
var ErrUnexpectedRoot = errors.New("unexpected JSON root")

var (
	ColorRoomServer = color.RGBA{250, 204, 21, 255} // Yellow
	ColorRepeater   = color.RGBA{59, 130, 246, 255} // Blue
	ColorChatNode   = color.RGBA{16, 185, 129, 255} // Green
	ColorSensor     = color.RGBA{239, 68, 68, 255}  // Red
	ColorNode       = color.RGBA{0, 255, 234, 255}  // Cyan
)

// Node is one advert from /api/adverts.
type Node struct {
	ID           int
	Hash         int // 0 when the advert carries none
	Lat, Lon     float64
	HasPosition  bool
	IsRoomServer bool
	IsRepeater   bool
	IsChatNode   bool
	IsSensor     bool
	Name         string
	PublicKeyHex string
}

// Color returns the marker color for the node's most specific role.
func (n Node) Color() color.RGBA {
	switch {
	case n.IsRoomServer:
		return ColorRoomServer
	case n.IsRepeater:
		return ColorRepeater
	case n.IsChatNode:
		return ColorChatNode
	case n.IsSensor:
		return ColorSensor
	}
	return ColorNode
}

// Role is a short label for the node's most specific role.
func (n Node) Role() string {
	switch {
	case n.IsRoomServer:
		return "room server"
	case n.IsRepeater:
		return "repeater"
	case n.IsChatNode:
		return "chat"
	case n.IsSensor:
		return "sensor"
	}
	return "node"
}

// WorldPixel projects the node at the reference zoom.
func (n Node) WorldPixel() Point {
	x, y := tiles.LatLonToWorldPixel(n.Lat, n.Lon, tiles.ReferenceZoom)
	return Point{X: x, Y: y}
}

// ValidPosition rejects missing coordinates, out-of-range values and the
// 0,0 that upstream writes when a position is null.
func ValidPosition(lat, lon float64, hasLat, hasLon bool) bool {
	return hasLat && hasLon &&
		!(lat == 0 && lon == 0) &&
		math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}

// ParseNodes decodes the /api/adverts body. Entries that are not objects are
// skipped; missing fields take their zero value.
func ParseNodes(data []byte) ([]Node, error) {
	doc, err := jsontok.ParseDoc(data)
	if err != nil {
		return nil, err
	}
	if doc.Kind(doc.Root()) != jsontok.Array {
		return nil, ErrUnexpectedRoot
	}

	entries := doc.Elements(0)
	nodes := make([]Node, 0, len(entries))
	for _, obj := range entries {
		if doc.Kind(obj) != jsontok.Object {
			continue
		}
		var n Node
		n.ID, _ = doc.IntField(obj, "id")
		n.Hash, _ = doc.IntField(obj, "node_hash")
		n.Name, _ = doc.StringField(obj, "name")
		n.PublicKeyHex, _ = doc.StringField(obj, "public_key_hex")
		n.IsRoomServer, _ = doc.BoolField(obj, "is_room_server")
		n.IsRepeater, _ = doc.BoolField(obj, "is_repeater")
		n.IsChatNode, _ = doc.BoolField(obj, "is_chat_node")
		n.IsSensor, _ = doc.BoolField(obj, "is_sensor")

		var hasLat, hasLon bool
		n.Lat, hasLat = doc.FloatField(obj, "lat")
		n.Lon, hasLon = doc.FloatField(obj, "lon")
		if !hasLon {
			n.Lon, hasLon = doc.FloatField(obj, "lng")
		}
		n.HasPosition = ValidPosition(n.Lat, n.Lon, hasLat, hasLon)
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Directory is the current node list plus a hash index. It is replaced
// wholesale and never patched; callers serialize access.
type Directory struct {
	nodes  []Node
	byHash map[int]int
}

func NewDirectory() *Directory {
	return &Directory{byHash: make(map[int]int)}
}

// Replace swaps in nodes and rebuilds the hash index. When two nodes share a
// hash the later one wins.
func (d *Directory) Replace(nodes []Node) {
	index := make(map[int]int, len(nodes))
	for i, n := range nodes {
		if n.Hash != 0 {
			index[n.Hash] = i
		}
	}
	d.nodes = nodes
	d.byHash = index
}

// Nodes returns the current sequence. It must not be modified.
func (d *Directory) Nodes() []Node { return d.nodes }

func (d *Directory) Len() int { return len(d.nodes) }

func (d *Directory) At(i int) (Node, bool) {
	if i < 0 || i >= len(d.nodes) {
		return Node{}, false
	}
	return d.nodes[i], true
}

func (d *Directory) ByHash(h int) (Node, bool) {
	if h == 0 {
		return Node{}, false
	}
	i, ok := d.byHash[h]
	if !ok {
		return Node{}, false
	}
	return d.nodes[i], true
}

// ByKeyPrefix returns the first node whose public key starts with prefix,
// ignoring case.
func (d *Directory) ByKeyPrefix(prefix string) (Node, bool) {
	if prefix == "" {
		return Node{}, false
	}
	needle := strings.ToUpper(prefix)
	for _, n := range d.nodes {
		if n.PublicKeyHex != "" && strings.HasPrefix(strings.ToUpper(n.PublicKeyHex), needle) {
			return n, true
		}
	}
	return Node{}, false
}

// ByToken resolves a propagation hop given as text: a prefix of the public
// key, or of the node hash rendered as uppercase hex.
func (d *Directory) ByToken(token string) (Node, bool) {
	if token == "" {
		return Node{}, false
	}
	needle := strings.ToUpper(token)
	for _, n := range d.nodes {
		if n.PublicKeyHex != "" && strings.HasPrefix(strings.ToUpper(n.PublicKeyHex), needle) {
			return n, true
		}
		if n.Hash != 0 && strings.HasPrefix(fmt.Sprintf("%X", uint32(n.Hash)), needle) {
			return n, true
		}
	}
	return Node{}, false
}
