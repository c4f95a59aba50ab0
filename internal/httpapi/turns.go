package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/buddy/internal/companion"
	"github.com/ent0n29/buddy/internal/dialogue"
	"github.com/ent0n29/buddy/internal/protocol"
	"github.com/ent0n29/buddy/internal/router"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsQueueSize    = 64
)

type classifyRequest struct {
	Text string `json:"text"`
}

type routeRequest struct {
	Trigger  string `json:"trigger"`
	EntityID string `json:"entity_id"`
}

type routeResponse struct {
	Trigger       router.Trigger `json:"trigger"`
	Branch        router.Branch  `json:"branch"`
	NeedsReminder bool           `json:"needs_reminder"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Classifier.Classify(req.Text))
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	trigger := router.ParseTrigger(req.Trigger)
	needsReminder := false
	if id := strings.TrimSpace(req.EntityID); id != "" {
		needsReminder = s.svc.Tasks.NeedsReminder(id)
	}
	respondJSON(w, http.StatusOK, routeResponse{
		Trigger:       trigger,
		Branch:        router.Route(trigger, needsReminder),
		NeedsReminder: needsReminder,
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.svc.Engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn engine not configured")
		return
	}
	var req companion.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.svc.Engine.HandleTurn(r.Context(), req)
	if err != nil {
		status, code := turnErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, companion.ErrMissingEntity):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, dialogue.ErrUnknownStage):
		return http.StatusBadRequest, "invalid_practice_state"
	default:
		return http.StatusInternalServerError, "turn_failed"
	}
}

// handleTurnWS runs turns over a websocket. Turns on one connection execute in
// arrival order; every turn ends with exactly one turn_end or error_event.
func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	if s.svc.Engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn engine not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.TurnRequest, wsQueueSize)
	outbound := make(chan any, wsQueueSize*4)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runTurns(ctx, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					if s.metrics != nil {
						s.metrics.WSWriteErrors.Inc()
					}
					cancel()
					return
				}
				s.observeWS("outbound", msg, "sent")
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		s.observeWS("inbound", parsed, "received")

		switch msg := parsed.(type) {
		case protocol.ClientControl:
			if msg.Action == protocol.ActionEnd {
				break readLoop
			}
			s.enqueue(outbound, protocol.SystemEvent{
				Type:     protocol.TypeSystemEvent,
				EntityID: msg.EntityID,
				Code:     "pong",
			})
		case protocol.TurnRequest:
			select {
			case <-ctx.Done():
				break readLoop
			case inbound <- msg:
			}
		}
	}

	close(inbound)
	<-runDone
	// Let the writer flush what the runner produced before tearing down.
	close(outbound)
	<-writerDone
	cancel()
}

func (s *Server) runTurns(ctx context.Context, inbound <-chan protocol.TurnRequest, outbound chan<- any) {
	for msg := range inbound {
		if ctx.Err() != nil {
			continue
		}
		req, err := turnRequestFromMessage(msg)
		if err != nil {
			s.deliver(ctx, outbound, turnError(msg, "invalid_practice_state", err))
			continue
		}
		res, err := s.svc.Engine.HandleTurn(ctx, req)
		if err != nil {
			_, code := turnErrorStatus(err)
			s.log.Warn("websocket turn failed", "entity_id", msg.EntityID, "error", err)
			s.deliver(ctx, outbound, turnError(msg, code, err))
			continue
		}

		s.enqueue(outbound, protocol.AssistantText{
			Type:      protocol.TypeAssistantText,
			RequestID: msg.RequestID,
			EntityID:  msg.EntityID,
			TurnID:    res.TurnID,
			Text:      res.Response,
		})
		if res.Audio != "" {
			s.enqueue(outbound, protocol.AssistantAudio{
				Type:      protocol.TypeAssistantAudio,
				RequestID: msg.RequestID,
				EntityID:  msg.EntityID,
				TurnID:    res.TurnID,
				Voice:     res.Voice,
				AudioRef:  res.Audio,
			})
		}
		s.deliver(ctx, outbound, protocol.TurnEnd{
			Type:      protocol.TypeTurnEnd,
			RequestID: msg.RequestID,
			EntityID:  msg.EntityID,
			TurnID:    res.TurnID,
			Branch:    string(res.Branch),
			Result:    res,
		})
	}
}

func turnRequestFromMessage(msg protocol.TurnRequest) (companion.TurnRequest, error) {
	req := companion.TurnRequest{
		EntityID:  msg.EntityID,
		Name:      msg.Name,
		Age:       msg.Age,
		Interests: msg.Interests,
		Trigger:   router.ParseTrigger(msg.Trigger),
		Text:      msg.Text,
		AudioRef:  msg.AudioRef,
	}
	if len(msg.Practice) > 0 && string(msg.Practice) != "null" {
		var st dialogue.State
		if err := json.Unmarshal(msg.Practice, &st); err != nil {
			return companion.TurnRequest{}, err
		}
		req.Practice = &st
	}
	return req, nil
}

func turnError(msg protocol.TurnRequest, code string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		RequestID: msg.RequestID,
		EntityID:  msg.EntityID,
		Code:      code,
		Source:    "engine",
		Retryable: code == "turn_failed",
		Detail:    err.Error(),
	}
}

// enqueue never blocks the caller; a saturated queue drops the message.
func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		s.observeWS("outbound", msg, "drop_full")
	}
}

// deliver waits for queue space so a turn's closing event is never dropped.
// It gives up only when the connection is torn down.
func (s *Server) deliver(ctx context.Context, outbound chan<- any, msg any) bool {
	select {
	case outbound <- msg:
		return true
	case <-ctx.Done():
		s.observeWS("outbound", msg, "drop_closed")
		return false
	}
}

func (s *Server) observeWS(direction string, msg any, outcome string) {
	if s.metrics == nil {
		return
	}
	t, ok := messageTypeOf(msg)
	if !ok {
		return
	}
	s.metrics.ObserveWSMessage(direction, string(t), outcome)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.TurnRequest:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantText:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.TurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
