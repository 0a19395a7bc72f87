package scores

import (
	"errors"
	"fmt"
)

var (
	ErrMissingScores  = errors.New("scores: missing \"scores\" key")
	ErrMissingArray   = errors.New("scores: expected opening bracket")
	ErrMalformed      = errors.New("scores: malformed array")
	ErrMissingID      = errors.New("scores: missing id")
	ErrMissingToken   = errors.New("scores: missing \"access_token\"")
	ErrMalformedToken = errors.New("scores: malformed access token")
)

var (
	scoresKey = []byte(`"scores"`)
	tokenKey  = []byte(`"access_token"`)
)

// ScanScores extracts the objects of the `"scores": [...]` array of an
// upstream response into set.
//
// The response is expected to look like
//
//	{"scores": [{"id": 1, ...}, ...], "cursor": {...}, "cursor_string": "..."}
//
// Only the scores array is inspected. Every element must be an object with a
// top-level id. On error nothing is inserted into set.
func ScanScores(body []byte, set *RecordSet) error {
	i := findKey(body, scoresKey)
	if i < 0 {
		return ErrMissingScores
	}

	i = skipSpace(body, i)
	if i >= len(body) || body[i] != '[' {
		return ErrMissingArray
	}

	i = skipSpace(body, i+1)
	if i < len(body) && body[i] == ']' {
		return nil
	}

	var batch []Record
	for {
		if i >= len(body) || body[i] != '{' {
			return fmt.Errorf("%w: expected object at offset %d", ErrMalformed, i)
		}

		obj, next, ok := objectForward(body, i, len(body))
		if !ok {
			return fmt.Errorf("%w: unterminated object at offset %d", ErrMalformed, i)
		}

		rec, ok := obj.Record()
		if !ok {
			return fmt.Errorf("%w: object at offset %d: %s", ErrMissingID, i, abbreviate(obj.Raw))
		}
		batch = append(batch, rec)

		i = skipSpace(body, next)
		if i >= len(body) {
			return fmt.Errorf("%w: unterminated array", ErrMalformed)
		}

		switch body[i] {
		case ',':
			i = skipSpace(body, i+1)
		case ']':
			set.Insert(batch...)
			return nil
		default:
			return fmt.Errorf("%w: expected comma or closing bracket at offset %d", ErrMalformed, i)
		}
	}
}

// ScanAccessToken returns the string value of the top-level "access_token"
// key of a token response.
func ScanAccessToken(body []byte) (string, error) {
	i := findKey(body, tokenKey)
	if i < 0 {
		return "", ErrMissingToken
	}

	i = skipSpace(body, i)
	if i >= len(body) || body[i] != '"' {
		return "", fmt.Errorf("%w: expected opening quote", ErrMalformedToken)
	}

	start := i + 1
	for j := start; j < len(body); j++ {
		if body[j] == '"' {
			if j == start {
				return "", fmt.Errorf("%w: empty token", ErrMalformedToken)
			}
			return string(body[start:j]), nil
		}
	}
	return "", fmt.Errorf("%w: missing closing quote", ErrMalformedToken)
}

func abbreviate(b []byte) string {
	const limit = 128
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
