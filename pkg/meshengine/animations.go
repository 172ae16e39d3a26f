package meshengine

import (
	"image/color"
	"math"
	"time"
)

const (
	PulseDuration   = 1200 * time.Millisecond
	PulseGrace      = 500 * time.Millisecond
	PathGrace       = 1500 * time.Millisecond
	MinPathDuration = 800 * time.Millisecond
	PathHopDuration = 250 * time.Millisecond
	PathWidth       = 3.5
	// PathFadeEnd is the progress at which a path has fully faded.
	PathFadeEnd = 2.5
)

var PathPalette = []color.RGBA{
	{59, 130, 246, 255}, // blue
	{250, 204, 21, 255}, // yellow
	{16, 185, 129, 255}, // green
	{239, 68, 68, 255},  // red
	{139, 92, 246, 255}, // purple
	{6, 182, 212, 255},  // cyan
	{249, 115, 22, 255}, // orange
}

// Point is a world pixel at tiles.ReferenceZoom.
type Point struct {
	X, Y float64
}

// Pulse is one packet in flight between two nodes.
type Pulse struct {
	Start, End Point
	StartTime  time.Time
	Duration   time.Duration
}

// Progress is the elapsed fraction of the pulse's travel, unclamped.
func (p Pulse) Progress(now time.Time) float64 {
	return progress(now, p.StartTime, p.Duration)
}

// Position interpolates along the segment, clamped to its endpoints.
func (p Pulse) Position(now time.Time) Point {
	t := math.Max(0, math.Min(1, p.Progress(now)))
	return Point{
		X: p.Start.X + (p.End.X-p.Start.X)*t,
		Y: p.Start.Y + (p.End.Y-p.Start.Y)*t,
	}
}

func (p Pulse) Expired(now time.Time) bool {
	return now.Sub(p.StartTime) > p.Duration+PulseGrace
}

// PathAnimation is one multi-hop propagation trace.
type PathAnimation struct {
	Points    []Point
	StartTime time.Time
	Duration  time.Duration
	Color     color.RGBA
	Width     float64
}

func (p PathAnimation) Progress(now time.Time) float64 {
	return progress(now, p.StartTime, p.Duration)
}

// Alpha is 1 until the trace completes, then fades linearly to 0 by
// PathFadeEnd.
func (p PathAnimation) Alpha(now time.Time) float64 {
	t := p.Progress(now)
	switch {
	case t < 0 || t > PathFadeEnd:
		return 0
	case t <= 1:
		return 1
	}
	return math.Max(0, 1-(t-1))
}

func (p PathAnimation) Expired(now time.Time) bool {
	return now.Sub(p.StartTime) > p.Duration+PathGrace
}

// PathDuration scales with the number of hops reported by the event.
func PathDuration(hops int) time.Duration {
	return max(MinPathDuration, time.Duration(hops)*PathHopDuration)
}

func progress(now, start time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	return float64(now.Sub(start)) / float64(d)
}

// Ledger holds live animations. Entries are appended on creation and only
// removed by Prune; callers serialize access.
type Ledger struct {
	pulses []Pulse
	paths  []PathAnimation
}

func (l *Ledger) AddPulse(p Pulse) {
	l.pulses = append(l.pulses, p)
}

func (l *Ledger) AddPath(p PathAnimation) {
	l.paths = append(l.paths, p)
}

// Prune drops every animation that expired at now.
func (l *Ledger) Prune(now time.Time) {
	pulses := l.pulses[:0]
	for _, p := range l.pulses {
		if !p.Expired(now) {
			pulses = append(pulses, p)
		}
	}
	clear(l.pulses[len(pulses):])
	l.pulses = pulses

	paths := l.paths[:0]
	for _, p := range l.paths {
		if !p.Expired(now) {
			paths = append(paths, p)
		}
	}
	clear(l.paths[len(paths):])
	l.paths = paths
}

func (l *Ledger) Pulses() []Pulse { return l.pulses }

func (l *Ledger) Paths() []PathAnimation { return l.paths }

// palette hands out path colors from a linear congruential sequence that
// is seeded once, on first use, from the clock.
type palette struct {
	seed   uint32
	seeded bool
}

func (p *palette) next(now time.Time) color.RGBA {
	if !p.seeded {
		p.seed = uint32(now.UnixMilli())
		p.seeded = true
	}
	p.seed = p.seed*1664525 + 1013904223
	return PathPalette[p.seed%uint32(len(PathPalette))]
}
