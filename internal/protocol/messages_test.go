package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageTurnRequest(t *testing.T) {
	raw := []byte(`{"type":"turn_request","request_id":"r1","entity_id":" kid-1 ","age":8,"trigger":"conversation","text":"hi","practice":{"stage":"question"}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	req, ok := msg.(TurnRequest)
	if !ok {
		t.Fatalf("message type = %T, want TurnRequest", msg)
	}
	if req.EntityID != "kid-1" || req.Age != 8 || req.Trigger != "conversation" {
		t.Fatalf("unexpected turn request: %+v", req)
	}
	if string(req.Practice) != `{"stage":"question"}` {
		t.Fatalf("Practice = %s, want raw dialogue state", req.Practice)
	}
}

func TestParseClientMessageRejectsTurnWithoutEntity(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"turn_request","entity_id":"  ","text":"hi"}`))
	if err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"ping"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionPing {
		t.Fatalf("Action = %q, want %q", control.Action, ActionPing)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"dance"}`)); err == nil {
		t.Fatalf("ParseClientMessage(unknown action) error = nil, want error")
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}
