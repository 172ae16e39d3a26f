package meshengine

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestPulsePruneWindow(t *testing.T) {
	tests := []struct {
		at   time.Duration
		want int
	}{
		{0, 1},
		{1200 * time.Millisecond, 1},
		{1600 * time.Millisecond, 1},
		{1700 * time.Millisecond, 1},
		{1701 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		var l Ledger
		l.AddPulse(Pulse{StartTime: t0, Duration: 1200 * time.Millisecond})
		l.Prune(t0.Add(tt.at))
		if got := len(l.Pulses()); got != tt.want {
			t.Errorf("pulses at +%v = %d, want %d", tt.at, got, tt.want)
		}
	}
}

func TestPathPruneWindow(t *testing.T) {
	var l Ledger
	l.AddPath(PathAnimation{StartTime: t0, Duration: time.Second})
	l.AddPath(PathAnimation{StartTime: t0.Add(time.Second), Duration: time.Second})

	l.Prune(t0.Add(2500 * time.Millisecond))
	if got := len(l.Paths()); got != 2 {
		t.Fatalf("paths at +2.5s = %d, want 2", got)
	}
	l.Prune(t0.Add(2501 * time.Millisecond))
	if got := len(l.Paths()); got != 1 {
		t.Fatalf("paths at +2.501s = %d, want 1", got)
	}
	if !l.Paths()[0].StartTime.Equal(t0.Add(time.Second)) {
		t.Error("Prune removed the wrong path")
	}
}

func TestPulsePosition(t *testing.T) {
	p := Pulse{Start: Point{0, 0}, End: Point{100, 50}, StartTime: t0, Duration: time.Second}

	tests := []struct {
		at   time.Duration
		want Point
	}{
		{-time.Second, Point{0, 0}},
		{0, Point{0, 0}},
		{500 * time.Millisecond, Point{50, 25}},
		{time.Second, Point{100, 50}},
		{2 * time.Second, Point{100, 50}},
	}
	for _, tt := range tests {
		got := p.Position(t0.Add(tt.at))
		if math.Abs(got.X-tt.want.X) > 1e-9 || math.Abs(got.Y-tt.want.Y) > 1e-9 {
			t.Errorf("Position(+%v) = %+v, want %+v", tt.at, got, tt.want)
		}
	}
}

func TestPathAlpha(t *testing.T) {
	p := PathAnimation{StartTime: t0, Duration: time.Second}
	tests := []struct {
		at   time.Duration
		want float64
	}{
		{-time.Millisecond, 0},
		{0, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 0.5},
		{2 * time.Second, 0},
		{2600 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		if got := p.Alpha(t0.Add(tt.at)); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Alpha(+%v) = %f, want %f", tt.at, got, tt.want)
		}
	}
}

func TestPathDuration(t *testing.T) {
	tests := []struct {
		hops int
		want time.Duration
	}{
		{2, 800 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, 2500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := PathDuration(tt.hops); got != tt.want {
			t.Errorf("PathDuration(%d) = %v, want %v", tt.hops, got, tt.want)
		}
	}
}

func TestPaletteSequence(t *testing.T) {
	var p palette
	now := time.UnixMilli(1000)

	seed := uint32(1000)
	for i := 0; i < 20; i++ {
		seed = seed*1664525 + 1013904223
		want := PathPalette[seed%uint32(len(PathPalette))]
		if got := p.next(now.Add(time.Duration(i) * time.Hour)); got != want {
			t.Fatalf("color %d = %v, want %v", i, got, want)
		}
	}
}
