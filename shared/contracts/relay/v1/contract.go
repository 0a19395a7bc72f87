// Package v1 holds the wire contract of the score relay WebSocket protocol.
//
// The protocol is frame oriented and carries no envelope:
//   - client -> server, first frame: Connect or a decimal score id to resume after
//   - server -> client: one text frame per score, raw upstream JSON bytes
//   - client -> server, any time: Disconnect
//   - server -> client, once after Disconnect: decimal id of the newest known score
package v1

import "strconv"

const (
	Connect    = "connect"
	Disconnect = "disconnect"

	// ErrHandshakeRequired is sent when no initial frame arrives in time.
	ErrHandshakeRequired = `require initial message containing either "connect" or a score id to resume from`

	// ErrHandshakeInvalid is sent when the initial frame is neither form.
	ErrHandshakeInvalid = `message must be either "connect" or a score id to resume from`

	// ErrHandshakeFrameType is sent when the initial frame is not a data frame.
	ErrHandshakeFrameType = "message must contain text data"
)

// FormatResumeID renders the disconnect reply.
func FormatResumeID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseResumeID parses a resume id. ASCII spaces anywhere in the payload are
// ignored, any other non-digit byte, an empty digit run or an overflow is rejected.
func ParseResumeID(b []byte) (uint64, bool) {
	var (
		id     uint64
		digits int
	)

	for _, c := range b {
		switch {
		case c == ' ':
			continue
		case c >= '0' && c <= '9':
			d := uint64(c - '0')
			if id > (^uint64(0)-d)/10 {
				return 0, false
			}
			id = id*10 + d
			digits++
		default:
			return 0, false
		}
	}

	if digits == 0 {
		return 0, false
	}
	return id, true
}
