package ws

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"neurolens/internal/stream"
)

// frameMessage is the inbound envelope: {"event":"frame","data":{...}}
type frameMessage struct {
	Event string            `json:"event" msgpack:"event"`
	Data  stream.FrameEvent `json:"data" msgpack:"data"`
}

// emotionMessage is the outbound envelope
type emotionMessage struct {
	Event string              `json:"event" msgpack:"event"`
	Data  stream.EmotionEvent `json:"data" msgpack:"data"`
}

// decodeFrame reads an inbound envelope. Text messages carry JSON, binary
// messages carry MessagePack.
func decodeFrame(messageType int, payload []byte) (*frameMessage, error) {
	var msg frameMessage
	var err error
	switch messageType {
	case websocket.TextMessage:
		err = json.Unmarshal(payload, &msg)
	case websocket.BinaryMessage:
		err = msgpack.Unmarshal(payload, &msg)
	default:
		return nil, fmt.Errorf("unsupported message type %d", messageType)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &msg, nil
}

// encodeEmotion writes the reply in the encoding of the request
func encodeEmotion(messageType int, ev stream.EmotionEvent) ([]byte, error) {
	msg := emotionMessage{Event: stream.EventEmotion, Data: ev}
	if messageType == websocket.BinaryMessage {
		return msgpack.Marshal(&msg)
	}
	return json.Marshal(&msg)
}
