package realtime

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrEmptyEvent   = errors.New("realtime: event name is required")
)

// Frame is the JSON envelope of every websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// RoomID decodes the payload of join/leave frames, a bare JSON string.
func RoomID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("realtime: room id is required")
	}
	return id, nil
}
