package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl      MessageType = "client_control"
	TypeRetrospectEvent    MessageType = "retrospect_event"
	TypeRetrospectSnapshot MessageType = "retrospect_snapshot"
	TypeErrorEvent         MessageType = "error_event"
)

const (
	ActionPing     = "ping"
	ActionSnapshot = "snapshot"
	// ActionPong is only sent by the server, in answer to ping.
	ActionPong = "pong"
)

// CodeInvalidClientMessage is sent back for any payload the server cannot act on.
const CodeInvalidClientMessage = "invalid_client_message"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type RetrospectEvent struct {
	Type         MessageType           `json:"type"`
	Event        retrospect.EventType  `json:"event"`
	UserID       string                `json:"user_id"`
	RetrospectID string                `json:"retrospect_id"`
	Retrospect   retrospect.Retrospect `json:"retrospect"`
	At           time.Time             `json:"at"`
}

type RetrospectSnapshot struct {
	Type        MessageType             `json:"type"`
	UserID      string                  `json:"user_id"`
	Retrospects []retrospect.Retrospect `json:"retrospects"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewRetrospectEvent(evt retrospect.Event) RetrospectEvent {
	return RetrospectEvent{
		Type:         TypeRetrospectEvent,
		Event:        evt.Type,
		UserID:       evt.UserID,
		RetrospectID: evt.RetrospectID,
		Retrospect:   evt.Retrospect,
		At:           evt.At,
	}
}

func NewRetrospectSnapshot(userID string, records []retrospect.Retrospect) RetrospectSnapshot {
	if records == nil {
		records = []retrospect.Retrospect{}
	}
	return RetrospectSnapshot{
		Type:        TypeRetrospectSnapshot,
		UserID:      userID,
		Retrospects: records,
	}
}

func NewErrorEvent(code, source, detail string, retryable bool) ErrorEvent {
	return ErrorEvent{
		Type:      TypeErrorEvent,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

// ParseClientMessage decodes one inbound frame. Only client_control with a
// known action is accepted.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionPing, ActionSnapshot:
			return msg, nil
		case "":
			return nil, errors.New("invalid client_control: missing action")
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of an outbound payload.
func TypeOf(v any) (MessageType, bool) {
	switch v.(type) {
	case ClientControl:
		return TypeClientControl, true
	case RetrospectEvent:
		return TypeRetrospectEvent, true
	case RetrospectSnapshot:
		return TypeRetrospectSnapshot, true
	case ErrorEvent:
		return TypeErrorEvent, true
	default:
		return "", false
	}
}
