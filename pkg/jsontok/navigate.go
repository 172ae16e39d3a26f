package jsontok

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Skip returns the index just past the subtree rooted at token i. A size
// that would run past the buffer is treated as end of input.
func (d *Doc) Skip(i int) int {
	n := len(d.Tokens)
	if i < 0 || i >= n {
		return n
	}
	pending := 1
	for pending > 0 {
		if i >= n {
			return n
		}
		t := d.Tokens[i]
		pending--
		switch t.Kind {
		case Object:
			pending += 2 * t.Size
		case Array:
			pending += t.Size
		}
		i++
	}
	return i
}

// FindKey returns the index of the value stored under key in the object at
// obj, or -1. Only direct members are searched and the first match wins.
func (d *Doc) FindKey(obj int, key string) int {
	if d.Kind(obj) != Object {
		return -1
	}
	n := len(d.Tokens)
	i := obj + 1
	for pair := 0; pair < d.Tokens[obj].Size; pair++ {
		if i+1 >= n {
			return -1
		}
		if d.Tokens[i].Kind == String && bytes.Equal(d.Raw(i), []byte(key)) {
			return i + 1
		}
		i = d.Skip(i + 1)
	}
	return -1
}

// Elements returns the indexes of the direct children of the array at arr.
func (d *Doc) Elements(arr int) []int {
	if d.Kind(arr) != Array {
		return nil
	}
	out := make([]int, 0, d.Tokens[arr].Size)
	i := arr + 1
	for e := 0; e < d.Tokens[arr].Size && i < len(d.Tokens); e++ {
		out = append(out, i)
		i = d.Skip(i)
	}
	return out
}

// String decodes a string token.
func (d *Doc) String(i int) (string, bool) {
	if d.Kind(i) != String {
		return "", false
	}
	return Unescape(d.Raw(i))
}

// Bool decodes a true/false primitive.
func (d *Doc) Bool(i int) (bool, bool) {
	if d.Kind(i) != Primitive {
		return false, false
	}
	switch string(d.Raw(i)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// Float decodes a numeric primitive.
func (d *Doc) Float(i int) (float64, bool) {
	if d.Kind(i) != Primitive {
		return 0, false
	}
	raw := d.Raw(i)
	if len(raw) == 0 || !(raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int decodes a numeric primitive, truncating any fraction.
func (d *Doc) Int(i int) (int, bool) {
	if d.Kind(i) != Primitive {
		return 0, false
	}
	if v, err := strconv.ParseInt(string(d.Raw(i)), 10, 64); err == nil {
		return int(v), true
	}
	f, ok := d.Float(i)
	if !ok || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int(f), true
}

func (d *Doc) StringField(obj int, key string) (string, bool) {
	return d.String(d.FindKey(obj, key))
}

func (d *Doc) BoolField(obj int, key string) (bool, bool) {
	return d.Bool(d.FindKey(obj, key))
}

func (d *Doc) FloatField(obj int, key string) (float64, bool) {
	return d.Float(d.FindKey(obj, key))
}

func (d *Doc) IntField(obj int, key string) (int, bool) {
	return d.Int(d.FindKey(obj, key))
}

// Unescape decodes the body of a JSON string literal (without quotes).
func Unescape(raw []byte) (string, bool) {
	if bytes.IndexByte(raw, '\\') < 0 {
		return string(raw), true
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(raw) {
			return "", false
		}
		switch raw[i] {
		case '"', '\\', '/':
			b.WriteByte(raw[i])
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u':
			r, ok := hex4(raw, i+1)
			if !ok {
				return "", false
			}
			i += 4
			if utf16.IsSurrogate(r) {
				if i+6 < len(raw) && raw[i+1] == '\\' && raw[i+2] == 'u' {
					if r2, ok := hex4(raw, i+3); ok {
						if pair := utf16.DecodeRune(r, r2); pair != utf8.RuneError {
							b.WriteRune(pair)
							i += 6
							continue
						}
					}
				}
				r = utf8.RuneError
			}
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	return b.String(), true
}

func hex4(raw []byte, at int) (rune, bool) {
	if at+4 > len(raw) {
		return 0, false
	}
	v, err := strconv.ParseUint(string(raw[at:at+4]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
