package meshengine

import (
	"bytes"
	"reflect"
	"testing"
)

func collect(f *Framer, chunks ...string) []string {
	var out []string
	for _, c := range chunks {
		f.Feed([]byte(c), func(p []byte) { out = append(out, string(p)) })
	}
	return out
}

func TestFramerSplitsLines(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single line", []string{"data: {\"a\":1}\n"}, []string{`{"a":1}`}},
		{"split across chunks", []string{"da", "ta: {\"a\"", ":1}\n"}, []string{`{"a":1}`}},
		{"several per chunk", []string{"data: 1\ndata: 2\ndata: 3\n"}, []string{"1", "2", "3"}},
		{"crlf", []string{"data: x\r\n\r\n"}, []string{"x"}},
		{"non data lines dropped", []string{"event: ping\n: comment\nid: 7\ndata: y\n"}, []string{"y"}},
		{"prefix needs the space", []string{"data:z\n"}, nil},
		{"incomplete line held", []string{"data: pending"}, nil},
		{"empty payload", []string{"data: \n"}, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Framer
			got := collect(&f, tt.chunks...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("frames = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFramerKeepsPartialLine(t *testing.T) {
	var f Framer
	if got := collect(&f, "data: a\ndata: b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("frames = %q", got)
	}
	if f.Buffered() != len("data: b") {
		t.Errorf("Buffered = %d, want %d", f.Buffered(), len("data: b"))
	}
	if got := collect(&f, "c\n"); !reflect.DeepEqual(got, []string{"bc"}) {
		t.Errorf("frames = %q, want [bc]", got)
	}

	collect(&f, "data: stale")
	f.Reset()
	if got := collect(&f, "data: fresh\n"); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("frames after Reset = %q, want [fresh]", got)
	}
}

func TestFramerDropsOversizedLine(t *testing.T) {
	var f Framer
	huge := "data: " + string(bytes.Repeat([]byte("x"), MaxLineSize))
	got := collect(&f, huge, "more of the same line", "\ndata: after\n")
	if !reflect.DeepEqual(got, []string{"after"}) {
		t.Errorf("frames = %d items, want only [after]", len(got))
	}
	if f.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", f.Dropped())
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered = %d, want 0", f.Buffered())
	}
}
