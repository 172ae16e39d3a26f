package viewer

import (
	"fmt"
	"strconv"

	"github.com/sudorandom/meshtel-viewer/pkg/meshengine"
)

const (
	titleText        = "MeshCoreTel Network"
	nodeInfoTitle    = "Node Information"
	nodeInfoEmpty    = "Select a node for details"
	packetInfoTitle  = "Packet Info"
	packetInfoEmpty  = "No packets yet..."
	statusTitle      = "Status"
	unnamedNode      = "Unnamed"
	animationsOffTag = "Animations paused (A)"
)

// panel is a titled box of text lines.
type panel struct {
	title string
	lines []string
}

func headerPanel(s meshengine.Snapshot) panel {
	p := panel{title: titleText, lines: []string{"Nodes: " + strconv.Itoa(len(s.Nodes))}}
	if !s.AnimationsEnabled {
		p.lines = append(p.lines, animationsOffTag)
	}
	return p
}

func nodeInfoPanel(s meshengine.Snapshot) panel {
	n, ok := s.SelectedNode()
	if !ok {
		return panel{title: nodeInfoTitle, lines: []string{nodeInfoEmpty}}
	}
	name := n.Name
	if name == "" {
		name = unnamedNode
	}
	lines := []string{
		name,
		fmt.Sprintf("ID: %d  Lat: %.6g  Lon: %.6g", n.ID, n.Lat, n.Lon),
		"Role: " + n.Role(),
	}
	if n.PublicKeyHex != "" {
		key := n.PublicKeyHex
		if len(key) > 16 {
			key = key[:16] + "..."
		}
		lines = append(lines, "Key: "+key)
	}
	return panel{title: nodeInfoTitle, lines: lines}
}

func packetPanel(s meshengine.Snapshot) panel {
	if len(s.Messages) == 0 {
		return panel{title: packetInfoTitle, lines: []string{packetInfoEmpty}}
	}
	lines := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		lines = append(lines, m.Text)
	}
	return panel{title: packetInfoTitle, lines: lines}
}

func statusPanel(s meshengine.Snapshot) panel {
	return panel{title: statusTitle, lines: []string{
		s.ConnectionStatus,
		"Last update: " + s.LastUpdate,
		"Stream: " + s.Stream.String(),
	}}
}
