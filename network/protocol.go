package network

import "encoding/json"

const (
	MsgTypeHeartbeat   = 1
	MsgTypeSubscribe   = 101
	MsgTypeUnsubscribe = 102
	MsgTypeSnapshot    = 301
	MsgTypeError       = 399
)

// SubscribeRequest asks for live snapshots of one document.
type SubscribeRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// SnapshotMessage carries the full document after a change.
type SnapshotMessage struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data,omitempty"`
	Deleted    bool            `json:"deleted,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
