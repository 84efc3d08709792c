package chat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ashureev/questline/internal/domain"
)

// ConnectedNotice is the text frame the server sends after accepting a connection.
const ConnectedNotice = "You are connected."

type frame struct {
	notice  bool
	message domain.Message
}

// parseFrame classifies an incoming frame. Message frames are validated
// before they are returned.
func parseFrame(data []byte) (frame, error) {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == ConnectedNotice {
		return frame{notice: true}, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return frame{}, ErrInvalidFrame
	}

	var p domain.MessagePayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	msg, err := p.Message()
	if err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return frame{message: msg}, nil
}
