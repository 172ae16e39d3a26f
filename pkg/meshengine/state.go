// Package meshengine ingests the MeshCore live event stream and maintains
// the state the viewer renders: the node directory, recent packets and
// pulse and path animations.
package meshengine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sudorandom/meshtel-viewer/pkg/clock"
	"github.com/sudorandom/meshtel-viewer/pkg/tiles"
)

const (
	MaxPacketMessages = 5
	DefaultStatus     = "Initializing..."
	NeverUpdated      = "Never"
	// SelectRadius is the click distance, in screen pixels, that selects a node.
	SelectRadius = 10
)

type StreamState int

const (
	StateConnecting StreamState = iota
	StateStreaming
	StateDisconnected
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type PacketMessage struct {
	Text      string
	Timestamp time.Time
}

// Snapshot is a consistent copy of the live state for one frame.
type Snapshot struct {
	Now               time.Time
	Nodes             []Node
	Messages          []PacketMessage
	Pulses            []Pulse
	Paths             []PathAnimation
	ConnectionStatus  string
	LastUpdate        string
	Selected          int
	AnimationsEnabled bool
	Stream            StreamState
}

func (s Snapshot) SelectedNode() (Node, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Nodes) {
		return Node{}, false
	}
	return s.Nodes[s.Selected], true
}

// Engine owns the live state. Every mutation and every snapshot takes the
// same lock, and no network or disk I/O happens while it is held.
type Engine struct {
	mu          sync.Mutex
	dir         *Directory
	messages    []PacketMessage
	ledger      Ledger
	status      string
	lastUpdate  string
	selected    int
	animations  bool
	streamState StreamState
	palette     palette

	propagationSeen atomic.Int64

	clock    clock.Clock
	logger   *log.Logger
	location *time.Location
}

func NewEngine(clk clock.Clock, logger *log.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		dir:        NewDirectory(),
		status:     DefaultStatus,
		lastUpdate: NeverUpdated,
		selected:   -1,
		animations: true,
		clock:      clk,
		logger:     logger,
		location:   time.Local,
	}
}

// SetLocation sets the zone used for HH:MM:SS timestamps.
func (e *Engine) SetLocation(loc *time.Location) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.location = loc
}

func (e *Engine) formatTime(t time.Time) string {
	return t.In(e.location).Format("15:04:05")
}

// ReplaceNodes swaps in a freshly fetched node list. A selected node stays
// selected if it is still present.
func (e *Engine) ReplaceNodes(nodes []Node) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceNodes(nodes)
	e.lastUpdate = e.formatTime(now)
}

// RestoreNodes installs a previously saved node list. Unlike ReplaceNodes it
// leaves the last update time alone, since the data is not fresh.
func (e *Engine) RestoreNodes(nodes []Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceNodes(nodes)
}

func (e *Engine) replaceNodes(nodes []Node) {
	prev, hadSelection := e.dir.At(e.selected)
	e.dir.Replace(nodes)
	e.selected = -1
	if hadSelection {
		for i, n := range nodes {
			if n.ID == prev.ID && n.PublicKeyHex == prev.PublicKeyHex {
				e.selected = i
				break
			}
		}
	}
}

func (e *Engine) NodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Len()
}

func (e *Engine) Nodes() []Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Nodes()
}

func (e *Engine) setStreamState(s StreamState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamState = s
}

func (e *Engine) StreamState() StreamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamState
}

// pushMessage must be called with e.mu held.
func (e *Engine) pushMessage(text string, now time.Time) {
	e.messages = append(e.messages, PacketMessage{})
	copy(e.messages[1:], e.messages)
	e.messages[0] = PacketMessage{Text: text, Timestamp: now}
	if len(e.messages) > MaxPacketMessages {
		e.messages = e.messages[:MaxPacketMessages]
	}
}

// Snapshot prunes expired animations and copies the state.
func (e *Engine) Snapshot() Snapshot {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.Prune(now)
	return Snapshot{
		Now:               now,
		Nodes:             e.dir.Nodes(),
		Messages:          append([]PacketMessage(nil), e.messages...),
		Pulses:            append([]Pulse(nil), e.ledger.Pulses()...),
		Paths:             append([]PathAnimation(nil), e.ledger.Paths()...),
		ConnectionStatus:  e.status,
		LastUpdate:        e.lastUpdate,
		Selected:          e.selected,
		AnimationsEnabled: e.animations,
		Stream:            e.streamState,
	}
}

// ToggleAnimations flips the animation flag and returns the new value.
func (e *Engine) ToggleAnimations() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.animations = !e.animations
	return e.animations
}

// SelectAt selects the first positioned node drawn within SelectRadius of
// the screen point, or clears the selection. It returns the new index.
func (e *Engine) SelectAt(v tiles.Viewport, x, y float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.selected = -1
	mx, my := int(x), int(y)
	for i, n := range e.dir.Nodes() {
		if !n.HasPosition {
			continue
		}
		sx, sy := v.LatLonToScreen(n.Lat, n.Lon)
		dx, dy := int(sx)-mx, int(sy)-my
		if dx*dx+dy*dy <= SelectRadius*SelectRadius {
			e.selected = i
			break
		}
	}
	return e.selected
}

func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = -1
}
