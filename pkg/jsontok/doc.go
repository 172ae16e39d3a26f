package jsontok

import (
	"errors"
	"fmt"
)

const (
	DefaultCapacity = 256
	MaxCapacity     = 1 << 21
)

// Doc is a tokenized buffer. Tokens index into Data.
type Doc struct {
	Data   []byte
	Tokens []Token
}

// ParseGrow tokenizes data into a growable arena: it starts with capacity
// tokens and doubles on ErrInsufficientCapacity until ceiling is reached.
func ParseGrow(data []byte, capacity, ceiling int) (*Doc, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ceiling < capacity {
		ceiling = capacity
	}
	for {
		tokens := make([]Token, capacity)
		n, err := Parse(data, tokens)
		if err == nil {
			return &Doc{Data: data, Tokens: tokens[:n]}, nil
		}
		if !errors.Is(err, ErrInsufficientCapacity) {
			return nil, err
		}
		if capacity >= ceiling {
			return nil, fmt.Errorf("%w: input needs more than %d tokens", ErrInsufficientCapacity, ceiling)
		}
		capacity *= 2
		if capacity > ceiling {
			capacity = ceiling
		}
	}
}

// ParseDoc is ParseGrow with the package defaults.
func ParseDoc(data []byte) (*Doc, error) {
	return ParseGrow(data, DefaultCapacity, MaxCapacity)
}

// Root returns the index of the first token, or -1 for an empty document.
func (d *Doc) Root() int {
	if len(d.Tokens) == 0 {
		return -1
	}
	return 0
}

// Kind reports the kind of token i, Undefined when i is out of range.
func (d *Doc) Kind(i int) Kind {
	if i < 0 || i >= len(d.Tokens) {
		return Undefined
	}
	return d.Tokens[i].Kind
}

// Raw returns the literal bytes of token i. Strings are returned without
// their quotes and with escapes intact.
func (d *Doc) Raw(i int) []byte {
	if i < 0 || i >= len(d.Tokens) {
		return nil
	}
	t := d.Tokens[i]
	if t.Start < 0 || t.End < t.Start || t.End > len(d.Data) {
		return nil
	}
	return d.Data[t.Start:t.End]
}
