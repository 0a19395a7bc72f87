// Package scores extracts score objects from upstream payloads without
// building a parse tree.
//
// Objects are located by brace depth: a top-level object spans a 0->1->0
// depth transition. While the depth is exactly one, the bytes of the object
// are searched for an "id" key whose value is an ASCII digit run. A repeated
// top-level "id" resolves to the first one in either scan direction. The raw
// object bytes are re-emitted verbatim.
//
// Braces inside JSON strings are not special-cased; the upstream score
// objects never carry them.
package scores

import (
	"bytes"
)

var idKey = []byte(`"id"`)

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	return i
}

// findKey returns the index right after `"key":` (whitespace before the
// colon tolerated), or -1.
func findKey(b []byte, quotedKey []byte) int {
	off := 0
	for {
		i := bytes.Index(b[off:], quotedKey)
		if i < 0 {
			return -1
		}
		j := skipSpace(b, off+i+len(quotedKey))
		if j < len(b) && b[j] == ':' {
			return j + 1
		}
		off += i + len(quotedKey)
	}
}

// parseDigits parses the ASCII digit run at the start of b.
// Overflow wraps silently.
func parseDigits(b []byte) (uint64, int) {
	var n uint64
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		n = n*10 + uint64(b[i]-'0')
		i++
	}
	return n, i
}

// findID looks for `"id": <digits>` in span.
func findID(span []byte) (uint64, bool) {
	i := findKey(span, idKey)
	if i < 0 {
		return 0, false
	}
	i = skipSpace(span, i)
	id, n := parseDigits(span[i:])
	if n == 0 {
		return 0, false
	}
	return id, true
}

func nextBrace(b []byte, from, to int) int {
	i := bytes.IndexAny(b[from:to], "{}")
	if i < 0 {
		return -1
	}
	return from + i
}

func prevBrace(b []byte, from, to int) int {
	i := bytes.LastIndexAny(b[from:to], "{}")
	if i < 0 {
		return -1
	}
	return from + i
}

// objectForward reads the object opening at b[start], considering braces
// before end only. It returns the object and the index right after it.
func objectForward(b []byte, start, end int) (Object, int, bool) {
	var obj Object

	depth := 1
	seg := start
	for i := start + 1; ; {
		j := nextBrace(b, i, end)
		if j < 0 {
			return Object{}, end, false
		}

		if depth == 1 && !obj.HasID {
			obj.ID, obj.HasID = findID(b[seg:j])
		}

		if b[j] == '{' {
			depth++
		} else {
			depth--
		}

		switch depth {
		case 1:
			seg = j
		case 0:
			obj.Raw = b[start : j+1 : j+1]
			return obj, j + 1, true
		}
		i = j + 1
	}
}

// objectBackward reads the object closing at b[end], considering braces at
// or after start only. It returns the object and the index of its opening brace.
func objectBackward(b []byte, start, end int) (Object, int, bool) {
	var obj Object

	depth := 1
	seg := end
	for hi := end; ; {
		j := prevBrace(b, start, hi)
		if j < 0 {
			return Object{}, start, false
		}

		// Segments arrive last to first. A later hit is earlier in the
		// object, so it replaces the previous one and both directions agree
		// on the first top-level id.
		if depth == 1 {
			if id, ok := findID(b[j:seg]); ok {
				obj.ID, obj.HasID = id, true
			}
		}

		if b[j] == '}' {
			depth++
		} else {
			depth--
		}

		switch depth {
		case 1:
			seg = j
		case 0:
			obj.Raw = b[j : end+1 : end+1]
			return obj, j, true
		}
		hi = j
	}
}
