package outputdesc

import (
	"fmt"
	"strconv"
	"strings"

	"docs4usync/internal/types"
)

const escapeChar = '\\'

// pack appends value followed by delim, escaping delim and the escape character.
func pack(sb *strings.Builder, value string, delim byte) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == escapeChar || c == delim {
			sb.WriteByte(escapeChar)
		}
		sb.WriteByte(c)
	}
	sb.WriteByte(delim)
}

// packList writes the element count, then every element, all with the same delimiter.
func packList(sb *strings.Builder, values []string, delim byte) {
	pack(sb, strconv.Itoa(len(values)), delim)
	for _, v := range values {
		pack(sb, v, delim)
	}
}

// packFixed writes a fixed number of elements whose count both sides agree on.
func packFixed(sb *strings.Builder, values []string, delim byte) {
	for _, v := range values {
		pack(sb, v, delim)
	}
}

// unpack reads one value terminated by an unescaped delim starting at pos and returns
// the value and the position just past the delimiter.
func unpack(s string, pos int, delim byte) (string, int, error) {
	var sb strings.Builder
	for pos < len(s) {
		c := s[pos]
		pos++
		switch c {
		case escapeChar:
			if pos >= len(s) {
				return "", pos, fmt.Errorf("%w: dangling escape at offset %d", types.ErrMalformedDescription, pos-1)
			}
			sb.WriteByte(s[pos])
			pos++
		case delim:
			return sb.String(), pos, nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", pos, fmt.Errorf("%w: missing %q terminator", types.ErrMalformedDescription, delim)
}

func unpackList(s string, pos int, delim byte) ([]string, int, error) {
	countStr, pos, err := unpack(s, pos, delim)
	if err != nil {
		return nil, pos, err
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		return nil, pos, fmt.Errorf("%w: bad list count %q", types.ErrMalformedDescription, countStr)
	}
	// Every element costs at least its delimiter.
	if count > len(s)-pos {
		return nil, pos, fmt.Errorf("%w: list count %d exceeds remaining input", types.ErrMalformedDescription, count)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var v string
		v, pos, err = unpack(s, pos, delim)
		if err != nil {
			return nil, pos, err
		}
		out = append(out, v)
	}
	return out, pos, nil
}

// unpackFixed reads exactly n elements and requires them to consume all of s.
func unpackFixed(s string, n int, delim byte) ([]string, error) {
	out := make([]string, 0, n)
	pos := 0
	for i := 0; i < n; i++ {
		var v string
		var err error
		v, pos, err = unpack(s, pos, delim)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if pos != len(s) {
		return nil, fmt.Errorf("%w: %d trailing bytes in fixed list", types.ErrMalformedDescription, len(s)-pos)
	}
	return out, nil
}
