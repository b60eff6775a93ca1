// Package v1 defines the Carelink realtime protocol contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeConnected acknowledges a successfully authenticated connection (server -> client).
	TypeConnected = "connected"

	// TypeNotification pushes a newly dispatched notification (server -> client).
	TypeNotification = "notification"

	// TypePing is a client liveness probe (client -> server).
	TypePing = "ping"
	// TypePong acknowledges a liveness probe (server -> client).
	TypePong = "pong"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Close codes in the private 4000-4999 range.
//
// CloseSuperseded lets a client tell "you signed in elsewhere" apart from a
// network drop or an idle disconnect.
const (
	// CloseSuperseded means a newer connection for the same identity replaced this one.
	CloseSuperseded = 4001
	// CloseIdle means the server closed the connection after missed liveness pings.
	CloseIdle = 4002
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeConnected,
		TypeNotification,
		TypePing,
		TypePong,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// ConnectedPayload is sent once after the handshake is accepted and presence is registered.
type ConnectedPayload struct {
	IdentityID  string    `json:"identity_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	ServerTS    time.Time `json:"server_ts"`
}

// PingPayload carries an optional client-chosen sequence number echoed back in the pong.
type PingPayload struct {
	Seq int64 `json:"seq,omitempty"`
}

// PongPayload acknowledges a ping.
type PongPayload struct {
	Seq      int64     `json:"seq,omitempty"`
	ServerTS time.Time `json:"server_ts"`
}

// NotificationPayload mirrors the persisted notification record pushed to its recipient.
type NotificationPayload struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Body           string    `json:"body,omitempty"`
	EntityKind     string    `json:"entity_kind,omitempty"`
	EntityID       string    `json:"entity_id,omitempty"`
	Priority       string    `json:"priority"`
	VisualPriority string    `json:"visual_priority"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
