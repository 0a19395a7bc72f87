package realtime

import (
	"bytes"

	v1 "scoresws/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

type sessionMode uint8

const (
	modeConnect sessionMode = iota + 1
	modeResume
)

func (m sessionMode) String() string {
	switch m {
	case modeConnect:
		return "connect"
	case modeResume:
		return "resume"
	default:
		return "rejected"
	}
}

// handshake is the decoded first client message.
type handshake struct {
	mode   sessionMode
	resume uint64
}

// resumeID returns the id to replay after, nil for a fresh connect.
func (h handshake) resumeID() *uint64 {
	if h.mode != modeResume {
		return nil
	}
	id := h.resume
	return &id
}

// parseHandshake decodes the first frame. On failure it returns the text of
// the error frame to send back.
func parseHandshake(mt websocket.MessageType, data []byte) (handshake, string, bool) {
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return handshake{}, v1.ErrHandshakeFrameType, false
	}

	if bytes.Equal(data, []byte(v1.Connect)) {
		return handshake{mode: modeConnect}, "", true
	}
	if id, ok := v1.ParseResumeID(data); ok {
		return handshake{mode: modeResume, resume: id}, "", true
	}
	return handshake{}, v1.ErrHandshakeInvalid, false
}
