package hub

import (
	"github.com/lanikai/rtsprelay/internal/media"
)

const (
	TypeFrame = "frame"
	TypeError = "error"
)

// Message is what subscribers of a stream receive, serialized as JSON:
//
//	{"type": "frame", "frame_data": "<base64 jpeg>", "stream_id": "7"}
//	{"type": "error", "message": "...", "stream_id": "7"}
type Message struct {
	Type      string `json:"type"`
	FrameData string `json:"frame_data,omitempty"`
	Message   string `json:"message,omitempty"`
	StreamID  string `json:"stream_id"`
}

func FrameMessage(f media.EncodedFrame) Message {
	return Message{Type: TypeFrame, FrameData: f.Data, StreamID: f.StreamID}
}

func ErrorMessage(streamID, text string) Message {
	return Message{Type: TypeError, Message: text, StreamID: streamID}
}

// GroupKey is the group a stream's messages are published to.
func GroupKey(streamID string) string {
	return "stream_" + streamID
}
