// Package jsontok is a minimal streaming JSON tokenizer. It turns a byte
// buffer into a flat slice of tokens with parent links and child counts
// instead of building a parse tree.
package jsontok

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Undefined Kind = iota
	Object
	Array
	String
	Primitive
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Array:
		return "array"
	case String:
		return "string"
	case Primitive:
		return "primitive"
	}
	return "undefined"
}

// Token is one JSON value. Start and End are byte offsets into the parsed
// buffer; for strings they exclude the quotes. Size is the number of
// key/value pairs of an object or the number of elements of an array.
// Parent is the index of the enclosing container, or -1 at the root.
type Token struct {
	Kind   Kind
	Start  int
	End    int
	Size   int
	Parent int
}

var (
	ErrInsufficientCapacity = errors.New("jsontok: not enough tokens")
	ErrSyntax               = errors.New("jsontok: syntax error")
)

type openContainer struct {
	index    int
	children int
}

// Parse tokenizes data into tokens and returns the number of tokens used.
// It never allocates more than len(tokens) tokens; when the input needs
// more it returns ErrInsufficientCapacity and the caller may retry with a
// larger slice.
func Parse(data []byte, tokens []Token) (int, error) {
	var (
		n     int
		stack []openContainer
	)

	alloc := func(kind Kind, start, end int) (int, error) {
		if n >= len(tokens) {
			return -1, ErrInsufficientCapacity
		}
		parent := -1
		if len(stack) > 0 {
			top := &stack[len(stack)-1]
			parent = top.index
			top.children++
		}
		tokens[n] = Token{Kind: kind, Start: start, End: end, Parent: parent}
		n++
		return n - 1, nil
	}

	for pos := 0; pos < len(data); pos++ {
		c := data[pos]
		switch c {
		case '{', '[':
			kind := Object
			if c == '[' {
				kind = Array
			}
			idx, err := alloc(kind, pos, -1)
			if err != nil {
				return n, err
			}
			stack = append(stack, openContainer{index: idx})

		case '}', ']':
			want := Object
			if c == ']' {
				want = Array
			}
			if len(stack) == 0 {
				return n, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, c, pos)
			}
			top := stack[len(stack)-1]
			tok := &tokens[top.index]
			if tok.Kind != want {
				return n, fmt.Errorf("%w: %q closes %s opened at offset %d", ErrSyntax, c, tok.Kind, tok.Start)
			}
			if want == Object {
				if top.children%2 != 0 {
					return n, fmt.Errorf("%w: object at offset %d has a key without a value", ErrSyntax, tok.Start)
				}
				tok.Size = top.children / 2
			} else {
				tok.Size = top.children
			}
			tok.End = pos + 1
			stack = stack[:len(stack)-1]

		case '"':
			end, err := scanString(data, pos)
			if err != nil {
				return n, err
			}
			if _, err := alloc(String, pos+1, end); err != nil {
				return n, err
			}
			pos = end

		case '\t', '\r', '\n', ' ', ':', ',':

		default:
			end, err := scanPrimitive(data, pos)
			if err != nil {
				return n, err
			}
			if _, err := alloc(Primitive, pos, end); err != nil {
				return n, err
			}
			pos = end - 1
		}
	}

	if len(stack) > 0 {
		tok := tokens[stack[len(stack)-1].index]
		return n, fmt.Errorf("%w: %s opened at offset %d is never closed", ErrSyntax, tok.Kind, tok.Start)
	}
	return n, nil
}

// scanString returns the offset of the closing quote of the string whose
// opening quote is at data[start].
func scanString(data []byte, start int) (int, error) {
	for pos := start + 1; pos < len(data); pos++ {
		switch data[pos] {
		case '"':
			return pos, nil
		case '\\':
			if pos+1 >= len(data) {
				break
			}
			pos++
			switch data[pos] {
			case '"', '/', '\\', 'b', 'f', 'r', 'n', 't':
			case 'u':
				// The code point is not decoded here, only skipped.
				pos += 4
			default:
				return -1, fmt.Errorf("%w: bad escape %q at offset %d", ErrSyntax, data[pos], pos)
			}
		}
	}
	return -1, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
}

// scanPrimitive returns the offset one past the last byte of the primitive
// starting at data[start].
func scanPrimitive(data []byte, start int) (int, error) {
	pos := start
	for ; pos < len(data); pos++ {
		c := data[pos]
		switch c {
		case '\t', '\r', '\n', ' ', ',', ']', '}':
			return pos, nil
		}
		if c < 32 || c >= 127 {
			return -1, fmt.Errorf("%w: byte 0x%02x in primitive at offset %d", ErrSyntax, c, pos)
		}
	}
	return pos, nil
}
