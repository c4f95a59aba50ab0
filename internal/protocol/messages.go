package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTurnRequest    MessageType = "turn_request"
	TypeClientControl  MessageType = "client_control"
	TypeAssistantText  MessageType = "assistant_text"
	TypeAssistantAudio MessageType = "assistant_audio"
	TypeTurnEnd        MessageType = "turn_end"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

const (
	ActionPing = "ping"
	ActionEnd  = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TurnRequest asks the server to run one turn for EntityID. Practice carries
// the dialogue state returned by the previous turn_end, if any.
type TurnRequest struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	EntityID  string          `json:"entity_id"`
	Name      string          `json:"name,omitempty"`
	Age       int             `json:"age,omitempty"`
	Interests []string        `json:"interests,omitempty"`
	Trigger   string          `json:"trigger"`
	Text      string          `json:"text,omitempty"`
	AudioRef  string          `json:"audio_ref,omitempty"`
	Practice  json.RawMessage `json:"practice,omitempty"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	EntityID string      `json:"entity_id,omitempty"`
	Action   string      `json:"action"`
}

type AssistantText struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	EntityID  string      `json:"entity_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type AssistantAudio struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	EntityID  string      `json:"entity_id"`
	TurnID    string      `json:"turn_id"`
	Voice     string      `json:"voice"`
	AudioRef  string      `json:"audio_ref"`
}

// TurnEnd closes a turn. Result is the full turn result as served by the
// HTTP turn endpoint.
type TurnEnd struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	EntityID  string      `json:"entity_id"`
	TurnID    string      `json:"turn_id"`
	Branch    string      `json:"branch"`
	Result    any         `json:"result"`
}

type SystemEvent struct {
	Type     MessageType `json:"type"`
	EntityID string      `json:"entity_id,omitempty"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	EntityID  string      `json:"entity_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTurnRequest:
		var msg TurnRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.EntityID = strings.TrimSpace(msg.EntityID)
		if msg.EntityID == "" {
			return nil, errors.New("invalid turn_request: entity_id is required")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionPing, ActionEnd:
		default:
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
