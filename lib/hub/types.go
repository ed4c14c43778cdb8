package hub

import (
	"encoding/json"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
)

// --- Client -> Server messages ---

// ClientMessage is a request sent by a UI client. Channel is one of the
// coordinator's UI channels, e.g. "sync:start".
type ClientMessage struct {
	ID      string          `json:"id,omitempty"`
	Channel bus.Channel     `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Server -> Client messages ---

// ServerMessage answers a ClientMessage with the same ID, or pushes an event
// with no ID.
type ServerMessage struct {
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Pushed channels
const (
	ChannelStatus = "status"
	ChannelNotice = "notice"
	ChannelError  = "error"
)

func resultMsg(id string, ch bus.Channel, result any) ServerMessage {
	return ServerMessage{ID: id, Channel: string(ch), Result: result}
}

func errorMsg(id string, ch string, err string) ServerMessage {
	return ServerMessage{ID: id, Channel: ch, Error: err}
}
