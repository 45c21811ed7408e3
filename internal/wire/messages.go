// Package wire defines the WebSocket protocol for form editing sessions.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/canalworks/internal/workflow"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "event", "submit", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// Event kinds carried by "event" messages.
const (
	KindFieldChanged    = "field_changed"
	KindAncestorCleared = "ancestor_cleared"
	KindRowAdded        = "row_added"
	KindRowRemoved      = "row_removed"
	KindReset           = "reset"
)

// EventData is the payload for "event" messages.
type EventData struct {
	Kind    string `json:"kind"`
	Section string `json:"section,omitempty"`
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "state", "step", "result", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// SessionData carries session information.
type SessionData struct {
	SessionID string `json:"session_id"`
	Actor     string `json:"actor"`
	Resumed   bool   `json:"resumed"`
}

// StateData carries a full form snapshot.
type StateData struct {
	State workflow.State `json:"state"`
}

// StepData reports submission progress.
type StepData struct {
	Phase  workflow.Phase `json:"phase"`
	WorkID int64          `json:"work_id,omitempty"`
}

// ResultData reports a settled submission.
type ResultData struct {
	Phase   workflow.Phase    `json:"phase"`
	WorkID  int64             `json:"work_id,omitempty"`
	Banner  string            `json:"banner,omitempty"`
	Code    string            `json:"code,omitempty"`
	Failure *workflow.Failure `json:"failure,omitempty"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
