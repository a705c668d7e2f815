// Package v1 defines the tally realtime protocol v1 contract.
//
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

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "tally.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeJoinTransactionRoom subscribes the connection to a group channel (client -> server).
	TypeJoinTransactionRoom = "joinTransactionRoom"
	// TypeJoinedTransactionRoom acknowledges a join (server -> client).
	TypeJoinedTransactionRoom = "joinedTransactionRoom"
	// TypeLeaveTransactionRoom unsubscribes from a group channel (client -> server).
	TypeLeaveTransactionRoom = "leaveTransactionRoom"
	// TypeLeftTransactionRoom acknowledges a leave (server -> client).
	TypeLeftTransactionRoom = "leftTransactionRoom"

	// Ledger change notifications (server -> channel members). Payload is the full transaction.
	TypeTransactionCreated = "transaction_created"
	TypeTransactionUpdated = "transaction_updated"
	TypeTransactionDeleted = "transaction_deleted"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
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
	case TypeHello,
		TypeHelloAck,
		TypeJoinTransactionRoom,
		TypeJoinedTransactionRoom,
		TypeLeaveTransactionRoom,
		TypeLeftTransactionRoom,
		TypeTransactionCreated,
		TypeTransactionUpdated,
		TypeTransactionDeleted,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// IsClientType reports whether clients may send t.
func IsClientType(t string) bool {
	switch t {
	case TypeHello, TypeJoinTransactionRoom, TypeLeaveTransactionRoom:
		return true
	default:
		return false
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload identifies the connection and, when authenticated, its user.
type HelloAckPayload struct {
	ConnectionID string   `json:"connection_id"`
	UserID       string   `json:"user_id,omitempty"`
	Groups       []string `json:"groups"`
}

// RoomPayload names a group channel. It is used by join/leave requests and their acks.
type RoomPayload struct {
	GroupID string `json:"group_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorPayload.Code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnsupported  = "unsupported"
)
