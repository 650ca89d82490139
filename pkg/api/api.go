// Package api defines the wire contract between clients and the server: the
// request/response payloads for the three server operations and the
// transport-agnostic envelope used to multiplex many in-flight requests
// over one connection.
package api

import (
	"encoding/json"

	"github.com/larder/larder/pkg/event"
)

// Message type discriminators.
const (
	TypeAddEvents  = "addEvents"
	TypeSyncEvents = "syncEvents"
	TypePing       = "ping"
)

// PongData is the ping response payload.
const PongData = "pong"

// Request is the client-to-server envelope. RequestID is client-generated
// and echoed on every response so responses can be demultiplexed by id.
type Request struct {
	RequestID int64           `json:"requestId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response is the server-to-client envelope: either a success payload or an
// error string, never both.
type Response struct {
	RequestID int64           `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Greeting is sent by the server as the first frame on a new connection so
// the client knows the socket survived the upgrade and auth checks.
type Greeting struct {
	SocketIsOpen bool `json:"SOCKET_IS_OPEN"`
}

// AddEventsRequest submits a batch of events targeting one entity. This is
// the only server write path.
type AddEventsRequest struct {
	EntityID string        `json:"id"`
	Events   []event.Event `json:"events"`
}

// FailedEvent reports one rejected event with a human-readable reason.
type FailedEvent struct {
	EventID string `json:"eventId"`
	Error   string `json:"error"`
}

// AddEventsResponse lists the per-event failures; accepted events are not
// echoed here, they arrive through the sync feed like everyone else's.
type AddEventsResponse struct {
	Failed []FailedEvent `json:"failed"`
}

// SyncEventsRequest opens the catch-up/live feed. An absent cursor requests
// the full history.
type SyncEventsRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// SyncEventsResponse is one batch of the feed. Cursor is the max timestamp
// among the returned events; clients persist it and replay it on the next
// syncEvents call.
type SyncEventsResponse struct {
	Cursor string        `json:"cursor"`
	Events []event.Event `json:"events"`
}
